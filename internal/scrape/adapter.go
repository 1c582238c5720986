// Package scrape drives a whole job: route selection, pagination,
// per-item extraction, normalization and persistence. Site-specific
// knowledge lives behind the Adapter interface; everything else is shared.
package scrape

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/webstudy/jewel-scraper/internal/normalize"
)

// ErrUnknownWebsite is returned when no adapter claims the target host.
// The API maps it to a 200 response with an error body rather than a 4xx.
var ErrUnknownWebsite = errors.New("Unknown website")

// RawProduct is what an adapter pulls straight out of one listing tile,
// before normalization. Empty fields become the sentinel downstream.
type RawProduct struct {
	Header      string
	Name        string
	PriceText   string
	Description string
	ImageURL    string
	ProductURL  string
}

// PaginationKind selects the traversal strategy for a site.
type PaginationKind int

const (
	// PaginateURLParam walks distinct listing pages by rewriting a query
	// parameter (page number or item offset).
	PaginateURLParam PaginationKind = iota
	// PaginateProgressive stays on one page and reveals more items by
	// scrolling and clicking a load-more control.
	PaginateProgressive
)

// Pagination describes how an adapter's listing pages are traversed.
type Pagination struct {
	Kind PaginationKind

	// Param and Step apply to PaginateURLParam. Step 0 means the param is
	// a 1-based page number; a positive Step means it is an item offset
	// advanced by Step per page.
	Param string
	Step  int

	// LoadMoreSelector applies to PaginateProgressive.
	LoadMoreSelector string
}

// Adapter holds everything site-specific: selectors, pagination shape,
// per-item field extraction and the image upscale rule.
type Adapter interface {
	// Name labels artifacts and log lines for this site.
	Name() string
	// Hosts lists the hostnames this adapter claims, without a www prefix.
	Hosts() []string

	// ReadySelector matches when a listing page has rendered products.
	// EmptySelector matches when the page rendered but holds no results.
	ReadySelector() string
	EmptySelector() string

	// ItemSelector matches one product tile within a rendered listing.
	ItemSelector() string

	Pagination() Pagination

	// Extract reads the fields of a single tile. It must not panic on
	// missing nodes; absent fields stay empty.
	Extract(tile *goquery.Selection) RawProduct

	// Upscaler rewrites thumbnail URLs to a larger rendition.
	Upscaler() normalize.Upscaler
}

// Registry resolves a target URL to the adapter claiming its host.
type Registry struct {
	mu       sync.RWMutex
	byHost   map[string]Adapter
	adapters []Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byHost: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, host := range a.Hosts() {
		r.byHost[strings.ToLower(host)] = a
	}
	r.adapters = append(r.adapters, a)
}

// Lookup resolves the adapter for a target URL. A host nobody claims
// yields ErrUnknownWebsite.
func (r *Registry) Lookup(rawURL string) (Adapter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.byHost[host]; ok {
		return a, nil
	}
	return nil, ErrUnknownWebsite
}

// Adapters returns every registered adapter, for listing endpoints.
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}
