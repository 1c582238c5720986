// Package normalize derives structured material and gemstone-weight values
// from free-text product names, and rewrites image URLs to their high
// resolution variants. All extractions are best-effort annotations: absence
// yields the single sentinel NotAvailable and never blocks record creation.
package normalize

import (
	"net/url"
	"regexp"
	"strings"
)

// NotAvailable is the one sentinel for "field could not be determined".
const NotAvailable = "N/A"

// Ordered metal vocabulary. First match wins.
var materialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{1,2}\s*(?:K|ct)\.?\s*(?:White|Yellow|Rose)?\s*Gold\b`),
	regexp.MustCompile(`(?i)\b(?:White|Yellow|Rose)\s+Gold\b`),
	regexp.MustCompile(`(?i)\bPlatinum\b`),
	regexp.MustCompile(`(?i)\bSterling\s+Silver\b`),
	regexp.MustCompile(`(?i)\bSilver\b`),
	regexp.MustCompile(`(?i)\bTitanium\b`),
	regexp.MustCompile(`(?i)\bStainless\s+Steel\b`),
	regexp.MustCompile(`(?i)\bCubic\s+Zirconia\b`),
	regexp.MustCompile(`(?i)\bGold\b`),
}

var caratPattern = regexp.MustCompile(`(?i)\b\d+(?:[./]\d+)?(?:\s*[-/]\s*\d+(?:\.\d+)?)?\s*(?:ct|carat|tcw)\b\.?(?:\s*t\.?w\.?)?`)

// Material extracts the metal/karat descriptor from a product name.
func Material(text string) string {
	for _, pattern := range materialPatterns {
		if m := pattern.FindString(text); m != "" {
			return strings.Join(strings.Fields(m), " ")
		}
	}
	return NotAvailable
}

// CaratWeight extracts every gemstone-weight mention, joined with ", ".
func CaratWeight(text string) string {
	matches := caratPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return NotAvailable
	}
	for i, m := range matches {
		matches[i] = strings.TrimSpace(m)
	}
	return strings.Join(matches, ", ")
}

// Upscaler rewrites an image URL to its high resolution variant. Every
// rule must be idempotent: applying it to an already rewritten URL is a
// no-op.
type Upscaler func(rawURL string) string

// NoUpscale leaves the URL unchanged.
func NoUpscale(rawURL string) string { return rawURL }

var suffixPattern = regexp.MustCompile(`(_\d+x\d+)(_crop_center)?(\.\w+)$`)

// SuffixUpscaler rewrites Shopify-style low-res suffixes such as _600x600
// or _600x600_crop_center before the file extension to the given target,
// e.g. "1220x1220_crop_center". Query parameters are preserved.
func SuffixUpscaler(target string) Upscaler {
	return func(rawURL string) string {
		if rawURL == "" || rawURL == NotAvailable {
			return rawURL
		}

		base, query := rawURL, ""
		if i := strings.Index(rawURL, "?"); i >= 0 {
			base, query = rawURL[:i], rawURL[i:]
		}

		base = suffixPattern.ReplaceAllString(base, "_"+target+"$3")
		return base + query
	}
}

// QueryUpscaler sets width/height style query parameters, e.g.
// sw=800&sh=800&sm=fit, replacing any existing values.
func QueryUpscaler(params map[string]string) Upscaler {
	return func(rawURL string) string {
		if rawURL == "" || rawURL == NotAvailable {
			return rawURL
		}

		parsed, err := url.Parse(rawURL)
		if err != nil {
			return rawURL
		}

		q := parsed.Query()
		for key, value := range params {
			q.Set(key, value)
		}
		parsed.RawQuery = q.Encode()
		return parsed.String()
	}
}

// ImageURL makes a scraped image src absolute and non-empty. Scheme
// relative "//cdn..." sources come back from several storefronts.
func ImageURL(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return NotAvailable
	}
	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}
	return src
}
