package adapters

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/webstudy/jewel-scraper/internal/normalize"
	"github.com/webstudy/jewel-scraper/internal/scrape"
)

// Helzberg scrapes helzberg.com listings. The storefront serves distinct
// pages behind an item-offset parameter, and its CDN accepts explicit
// width and height parameters for a high-res rendition.
type Helzberg struct{}

func (Helzberg) Name() string { return "Helzberg" }

func (Helzberg) Hosts() []string { return []string{"helzberg.com"} }

func (Helzberg) ReadySelector() string { return "div.row.product-grid" }

func (Helzberg) EmptySelector() string { return "div.no-results" }

func (Helzberg) ItemSelector() string { return "div.row.product-grid div.col-6.col-sm-4" }

func (Helzberg) Pagination() scrape.Pagination {
	return scrape.Pagination{
		Kind:  scrape.PaginateURLParam,
		Param: "start",
		Step:  24,
	}
}

func (Helzberg) Extract(tile *goquery.Selection) scrape.RawProduct {
	name := strings.TrimSpace(tile.Find("a.prodname-container__link").First().Text())
	price := strings.TrimSpace(tile.Find("span.value").First().Text())

	// First img with a src wins; later ones are hover and badge assets.
	var img string
	tile.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if src, ok := s.Attr("src"); ok && src != "" {
			img = src
			return false
		}
		return true
	})

	productURL, _ := tile.Find("a.prodname-container__link").First().Attr("href")

	return scrape.RawProduct{
		Name:        name,
		PriceText:   price,
		Description: name,
		ImageURL:    img,
		ProductURL:  productURL,
	}
}

func (Helzberg) Upscaler() normalize.Upscaler {
	return normalize.QueryUpscaler(map[string]string{
		"sw": "800",
		"sh": "800",
		"sm": "fit",
	})
}
