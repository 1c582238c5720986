package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/webstudy/jewel-scraper/internal/browser"
)

// Paginator yields the product tiles new to each cycle. Tiles already
// returned in an earlier cycle are never handed out again.
type Paginator interface {
	Next(ctx context.Context) (tiles []*goquery.Selection, done bool, err error)
}

type collectFunc func() ([]*goquery.Selection, error)

// newPaginator builds the traversal matching the adapter's pagination
// shape, driving an already-navigated session.
func newPaginator(sess *browser.Session, a Adapter, targetURL string, maxPages, navRetries int) Paginator {
	collect := func() ([]*goquery.Selection, error) {
		return collectTiles(sess, a.ItemSelector())
	}

	p := a.Pagination()
	switch p.Kind {
	case PaginateProgressive:
		return &progressivePaginator{
			collect:  collect,
			reveal:   func(ctx context.Context) error { return revealMore(sess, p.LoadMoreSelector) },
			maxPages: maxPages,
		}
	default:
		return &urlPaginator{
			collect: collect,
			navigate: func(ctx context.Context, pageURL string) error {
				return sess.GotoAndWaitReady(ctx, pageURL, a.ReadySelector(), a.EmptySelector(), navRetries)
			},
			baseURL:  targetURL,
			param:    p.Param,
			step:     p.Step,
			maxPages: maxPages,
		}
	}
}

// collectTiles snapshots the rendered page and parses every tile matching
// the selector. Parsing a snapshot keeps extraction off the browser
// round-trip path.
func collectTiles(sess *browser.Session, itemSelector string) ([]*goquery.Selection, error) {
	content, err := sess.Page().Content()
	if err != nil {
		return nil, fmt.Errorf("read page content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse page content: %w", err)
	}

	var tiles []*goquery.Selection
	doc.Find(itemSelector).Each(func(_ int, s *goquery.Selection) {
		tiles = append(tiles, s)
	})
	return tiles, nil
}

// revealMore scrolls to the bottom and clicks the load-more control when
// one is present. A missing or stale control is not an error; the next
// collect cycle decides whether anything new appeared.
func revealMore(sess *browser.Session, loadMoreSelector string) error {
	if err := sess.ScrollToBottom(); err != nil {
		return err
	}

	if loadMoreSelector != "" {
		loc := sess.Page().Locator(loadMoreSelector).First()
		visible, err := loc.IsVisible()
		if err == nil && visible {
			_ = loc.Click(playwright.LocatorClickOptions{
				Timeout: playwright.Float(5000),
			})
		}
	}

	// Give the site time to render the revealed batch.
	sess.Page().WaitForTimeout(2500)
	return nil
}

// urlPaginator walks distinct listing pages by rewriting one query
// parameter. The first cycle reads the page the session already sits on.
type urlPaginator struct {
	collect  collectFunc
	navigate func(ctx context.Context, pageURL string) error
	baseURL  string
	param    string
	step     int
	maxPages int

	page int
}

func (p *urlPaginator) Next(ctx context.Context) ([]*goquery.Selection, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if p.maxPages > 0 && p.page >= p.maxPages {
		return nil, true, nil
	}
	p.page++

	if p.page > 1 {
		pageURL, err := pageParamURL(p.baseURL, p.param, p.step, p.page)
		if err != nil {
			return nil, false, err
		}
		if err := p.navigate(ctx, pageURL); err != nil {
			if errors.Is(err, browser.ErrEmptyResults) {
				return nil, true, nil
			}
			return nil, false, err
		}
	}

	tiles, err := p.collect()
	if err != nil {
		return nil, false, err
	}
	if len(tiles) == 0 {
		return nil, true, nil
	}
	return tiles, false, nil
}

// pageParamURL rewrites the paging parameter on the base listing URL.
// Step 0 writes a 1-based page number; otherwise the value is an item
// offset advanced by step per page.
func pageParamURL(base, param string, step, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	q := u.Query()
	if step > 0 {
		q.Set(param, strconv.Itoa((page-1)*step))
	} else {
		q.Set(param, strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// progressivePaginator stays on one page and reveals further items in
// place. Each cycle hands out only the tiles past the previous count, so
// a tile is extracted exactly once however many reveal rounds it survives.
type progressivePaginator struct {
	collect  collectFunc
	reveal   func(ctx context.Context) error
	maxPages int

	cycles int
	seen   int
}

func (p *progressivePaginator) Next(ctx context.Context) ([]*goquery.Selection, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if p.maxPages > 0 && p.cycles >= p.maxPages {
		return nil, true, nil
	}

	if p.cycles > 0 {
		if err := p.reveal(ctx); err != nil {
			return nil, false, err
		}
	}

	all, err := p.collect()
	if err != nil {
		return nil, false, err
	}
	// No growth means the site ran out of items to reveal.
	if len(all) <= p.seen {
		return nil, true, nil
	}

	fresh := all[p.seen:]
	p.seen = len(all)
	p.cycles++
	return fresh, false, nil
}
