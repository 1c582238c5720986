// Package adapters holds the site-specific extraction rules. Each adapter
// claims its hosts with the registry; everything generic stays in scrape.
package adapters

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/webstudy/jewel-scraper/internal/normalize"
	"github.com/webstudy/jewel-scraper/internal/scrape"
)

// Grahams scrapes grahams.com.au listing pages. The site renders one long
// page and reveals further items behind a load-more button, so pagination
// is progressive reveal rather than distinct page URLs.
type Grahams struct{}

func (Grahams) Name() string { return "Grahams" }

func (Grahams) Hosts() []string { return []string{"grahams.com.au"} }

func (Grahams) ReadySelector() string { return ".ProductGridContainer" }

func (Grahams) EmptySelector() string { return ".ss__no-results" }

func (Grahams) ItemSelector() string { return "li.column.ss__result.ss__result--item" }

func (Grahams) Pagination() scrape.Pagination {
	return scrape.Pagination{
		Kind:             scrape.PaginateProgressive,
		LoadMoreSelector: "button.load-more",
	}
}

func (Grahams) Extract(tile *goquery.Selection) scrape.RawProduct {
	name := strings.TrimSpace(tile.Find("a.product-card-title").First().Text())
	price := strings.TrimSpace(tile.Find("span.price").First().Text())

	// Primary image first; some tiles only carry the hover rendition.
	img, ok := tile.Find(".product-primary-image").First().Attr("src")
	if !ok || img == "" {
		img, _ = tile.Find(".product-secondary-image").First().Attr("src")
	}

	productURL, _ := tile.Find("a.product-card-title").First().Attr("href")

	return scrape.RawProduct{
		Name:        name,
		PriceText:   price,
		Description: name,
		ImageURL:    img,
		ProductURL:  productURL,
	}
}

func (Grahams) Upscaler() normalize.Upscaler {
	return normalize.SuffixUpscaler("1220x1220_crop_center")
}
