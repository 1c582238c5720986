package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webstudy/jewel-scraper/internal/browser"
	"github.com/webstudy/jewel-scraper/internal/egress"
	"github.com/webstudy/jewel-scraper/internal/events"
	"github.com/webstudy/jewel-scraper/internal/images"
	"github.com/webstudy/jewel-scraper/internal/models"
	"github.com/webstudy/jewel-scraper/internal/normalize"
)

type fakeAdapter struct{}

func (fakeAdapter) Name() string           { return "FakeShop" }
func (fakeAdapter) Hosts() []string        { return []string{"shop.test"} }
func (fakeAdapter) ReadySelector() string  { return ".grid" }
func (fakeAdapter) EmptySelector() string  { return ".empty" }
func (fakeAdapter) ItemSelector() string   { return ".tile" }
func (fakeAdapter) Pagination() Pagination { return Pagination{Kind: PaginateProgressive} }

func (fakeAdapter) Extract(tile *goquery.Selection) RawProduct {
	name, _ := tile.Attr("data-name")
	return RawProduct{
		Name:      name,
		PriceText: "$10",
		ImageURL:  "//img.test/" + name + "_600x600.jpg",
	}
}

func (fakeAdapter) Upscaler() normalize.Upscaler {
	return normalize.SuffixUpscaler("1200x1200")
}

type fakeGuard struct {
	allowed     bool
	checkErr    error
	incremented int
}

func (g *fakeGuard) CheckAndReserve(context.Context) (bool, error) {
	return g.allowed, g.checkErr
}

func (g *fakeGuard) Increment(_ context.Context, n int) error {
	g.incremented += n
	return nil
}

type fakeStore struct {
	inserted []*models.ProductRecord
	err      error
}

func (s *fakeStore) InsertBatch(_ context.Context, records []*models.ProductRecord) error {
	s.inserted = append(s.inserted, records...)
	return s.err
}

type fakeFetcher struct {
	calls int
}

func (f *fakeFetcher) FetchAll(_ context.Context, tasks []images.Task, _ string) map[string]string {
	f.calls++
	out := make(map[string]string, len(tasks))
	for _, task := range tasks {
		out[task.RecordID] = normalize.NotAvailable
	}
	return out
}

type noopLimiter struct{}

func (noopLimiter) Wait(context.Context) error { return nil }

type fakeStream struct {
	entries []*redis.XAddArgs
}

func (f *fakeStream) XAdd(_ context.Context, args *redis.XAddArgs) *redis.StringCmd {
	f.entries = append(f.entries, args)
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeStream) Close() error { return nil }

// scriptedPaginator replays prepared batches, optionally failing after
// the prepared ones are exhausted.
type scriptedPaginator struct {
	batches [][]*goquery.Selection
	failure error
	i       int
}

func (p *scriptedPaginator) Next(context.Context) ([]*goquery.Selection, bool, error) {
	if p.i >= len(p.batches) {
		if p.failure != nil {
			return nil, false, p.failure
		}
		return nil, true, nil
	}
	batch := p.batches[p.i]
	p.i++
	return batch, false, nil
}

func newTestOrchestrator(t *testing.T, guard *fakeGuard, store *fakeStore, fetcher *fakeFetcher, pag Paginator, routeErr error) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := NewOrchestrator(
		NewRegistry(fakeAdapter{}),
		nil,
		guard,
		store,
		fetcher,
		noopLimiter{},
		nil,
		nil,
		Options{ExcelDir: t.TempDir(), ImageDir: t.TempDir()},
		logger,
	)
	o.selectRoute = func(context.Context, string, string, string) (*browser.Session, *egress.Route, error) {
		if routeErr != nil {
			return nil, nil, routeErr
		}
		return nil, &egress.Route{Kind: egress.RouteRelay, Permitted: true}, nil
	}
	o.paginate = func(*browser.Session, Adapter, string, int, int) Paginator { return pag }
	return o
}

func TestRunRejectsWhenQuotaExhausted(t *testing.T) {
	guard := &fakeGuard{allowed: false}
	o := newTestOrchestrator(t, guard, &fakeStore{}, &fakeFetcher{}, &scriptedPaginator{}, nil)

	_, err := o.Run(context.Background(), models.NewScrapeJob("https://shop.test/rings", 5, ""))
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestRunRejectsUnknownWebsite(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGuard{allowed: true}, &fakeStore{}, &fakeFetcher{}, &scriptedPaginator{}, nil)

	_, err := o.Run(context.Background(), models.NewScrapeJob("https://stranger.example.com/shop", 5, ""))
	assert.ErrorIs(t, err, ErrUnknownWebsite)
}

func TestRunProducesArtifact(t *testing.T) {
	guard := &fakeGuard{allowed: true}
	store := &fakeStore{}
	fetcher := &fakeFetcher{}
	pag := &scriptedPaginator{batches: [][]*goquery.Selection{
		fakeTiles(t, 3),
		fakeTiles(t, 2),
	}}
	o := newTestOrchestrator(t, guard, store, fetcher, pag, nil)

	result, err := o.Run(context.Background(), models.NewScrapeJob("https://shop.test/rings", 5, ""))
	require.NoError(t, err)

	assert.Equal(t, 5, result.Records)
	assert.NotEmpty(t, result.File, "artifact is returned base64 encoded")
	assert.Contains(t, result.Filename, "FakeShop_")
	assert.FileExists(t, result.Filepath)

	assert.Len(t, store.inserted, 5)
	assert.Equal(t, 5, guard.incremented, "quota usage matches scraped records")
	assert.Equal(t, 2, fetcher.calls, "images are fetched once per page")
}

func TestRunNormalizesRecords(t *testing.T) {
	store := &fakeStore{}
	pag := &scriptedPaginator{batches: [][]*goquery.Selection{fakeTiles(t, 1)}}
	o := newTestOrchestrator(t, &fakeGuard{allowed: true}, store, &fakeFetcher{}, pag, nil)

	_, err := o.Run(context.Background(), models.NewScrapeJob("https://shop.test/rings", 1, ""))
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	rec := store.inserted[0]
	assert.NotEmpty(t, rec.UniqueID)
	assert.Equal(t, "tile-0", rec.ProductName)
	assert.Equal(t, "$10", rec.Price)
	assert.Equal(t, "https://img.test/tile-0_1200x1200.jpg", rec.ImageURL, "scheme-relative source is upscaled and absolute")
	assert.Equal(t, normalize.NotAvailable, rec.ImagePath, "failed downloads leave the sentinel")
}

func TestRunKeepsEarlierPagesOnPageFailure(t *testing.T) {
	guard := &fakeGuard{allowed: true}
	store := &fakeStore{}
	pag := &scriptedPaginator{
		batches: [][]*goquery.Selection{fakeTiles(t, 4)},
		failure: errors.New("navigation timed out"),
	}
	o := newTestOrchestrator(t, guard, store, &fakeFetcher{}, pag, nil)

	result, err := o.Run(context.Background(), models.NewScrapeJob("https://shop.test/rings", 5, ""))
	require.NoError(t, err, "a partial job still returns its artifact")
	assert.Equal(t, 4, result.Records)
	assert.Equal(t, 4, guard.incremented)
}

func TestRunNoDataIsAnError(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGuard{allowed: true}, &fakeStore{}, &fakeFetcher{}, &scriptedPaginator{}, nil)

	_, err := o.Run(context.Background(), models.NewScrapeJob("https://shop.test/rings", 5, ""))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRunEmptyResultsPageIsNoData(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGuard{allowed: true}, &fakeStore{}, &fakeFetcher{}, &scriptedPaginator{}, browser.ErrEmptyResults)

	_, err := o.Run(context.Background(), models.NewScrapeJob("https://shop.test/rings", 5, ""))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRunInsertFailureDoesNotFailJob(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	pag := &scriptedPaginator{batches: [][]*goquery.Selection{fakeTiles(t, 2)}}
	o := newTestOrchestrator(t, &fakeGuard{allowed: true}, store, &fakeFetcher{}, pag, nil)

	result, err := o.Run(context.Background(), models.NewScrapeJob("https://shop.test/rings", 5, ""))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Records)
}

func TestRunStampsRouteOnCompletedEvent(t *testing.T) {
	stream := &fakeStream{}
	pag := &scriptedPaginator{batches: [][]*goquery.Selection{fakeTiles(t, 2)}}
	o := newTestOrchestrator(t, &fakeGuard{allowed: true}, &fakeStore{}, &fakeFetcher{}, pag, nil)
	o.events = events.NewPublisher(stream, "scrape-events", slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := o.Run(context.Background(), models.NewScrapeJob("https://shop.test/rings", 5, ""))
	require.NoError(t, err)

	require.Len(t, stream.entries, 2, "one started and one completed entry")
	values := stream.entries[1].Values.(map[string]interface{})
	assert.Equal(t, events.TypeJobCompleted, values["event_type"])

	var ev events.JobEvent
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &ev))
	assert.Equal(t, string(egress.RouteRelay), ev.Route, "completed event names the route that served the job")
	assert.Equal(t, 2, ev.Products)
}

func TestRunRouteFailurePropagates(t *testing.T) {
	routeErr := errors.New("all routes failed")
	o := newTestOrchestrator(t, &fakeGuard{allowed: true}, &fakeStore{}, &fakeFetcher{}, &scriptedPaginator{}, routeErr)

	_, err := o.Run(context.Background(), models.NewScrapeJob("https://shop.test/rings", 5, ""))
	assert.ErrorIs(t, err, routeErr)
}
