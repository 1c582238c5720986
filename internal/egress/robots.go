package egress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/temoto/robotstxt"
)

// CrawlPolicy wraps the Disallow rules a target publishes for anonymous
// agents. A nil group means no rules, everything allowed.
type CrawlPolicy struct {
	group *robotstxt.Group
}

// FetchCrawlPolicy retrieves <scheme>://<host>/robots.txt over the plain
// HTTP client. The fetch is best-effort: any error, non-200 status or
// unparsable body yields an empty rule set rather than a failure.
func FetchCrawlPolicy(ctx context.Context, client *http.Client, target *url.URL, logger *slog.Logger) *CrawlPolicy {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", target.Scheme, target.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &CrawlPolicy{}
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("could not fetch robots.txt", "url", robotsURL, "error", err)
		return &CrawlPolicy{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &CrawlPolicy{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		logger.Warn("could not read robots.txt", "url", robotsURL, "error", err)
		return &CrawlPolicy{}
	}

	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		logger.Warn("could not parse robots.txt", "url", robotsURL, "error", err)
		return &CrawlPolicy{}
	}

	return &CrawlPolicy{group: robots.FindGroup("*")}
}

// Disallowed reports whether the target URL (path plus query) matches any
// Disallow rule.
func (p *CrawlPolicy) Disallowed(target *url.URL) bool {
	if p == nil || p.group == nil {
		return false
	}
	path := target.Path
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return !p.group.Test(path)
}
