package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/webstudy/jewel-scraper/internal/browser"
	"github.com/webstudy/jewel-scraper/internal/egress"
	"github.com/webstudy/jewel-scraper/internal/events"
	"github.com/webstudy/jewel-scraper/internal/images"
	"github.com/webstudy/jewel-scraper/internal/metrics"
	"github.com/webstudy/jewel-scraper/internal/models"
	"github.com/webstudy/jewel-scraper/internal/normalize"
	"github.com/webstudy/jewel-scraper/internal/ratelimit"
	"github.com/webstudy/jewel-scraper/internal/sink"
)

var (
	// ErrQuotaExhausted rejects a job before any page is fetched.
	ErrQuotaExhausted = errors.New("daily product quota exhausted")
	// ErrNoData means the job finished without a single product record,
	// so there is no artifact worth returning.
	ErrNoData = errors.New("no products scraped")
)

// QuotaGuard gates job admission against the daily product budget.
type QuotaGuard interface {
	CheckAndReserve(ctx context.Context) (bool, error)
	Increment(ctx context.Context, n int) error
}

// ProductStore persists finished records. Persistence failures do not
// fail the job; the workbook is the primary artifact.
type ProductStore interface {
	InsertBatch(ctx context.Context, records []*models.ProductRecord) error
}

// ImageFetcher resolves image tasks to local file paths.
type ImageFetcher interface {
	FetchAll(ctx context.Context, tasks []images.Task, dir string) map[string]string
}

// Options carries the per-deployment paths and knobs a job needs.
type Options struct {
	ExcelDir   string
	ImageDir   string
	NavRetries int
}

// Orchestrator runs one scrape job end to end: admission, route
// selection, pagination, extraction, image acquisition and the final
// artifact. Jobs are synchronous; the HTTP handler blocks on Run.
type Orchestrator struct {
	registry *Registry
	guard    QuotaGuard
	store    ProductStore
	fetcher  ImageFetcher
	limiter  ratelimit.Limiter
	events   *events.Publisher
	metrics  *metrics.Metrics
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	// Seams over the browser-bound collaborators.
	selectRoute func(ctx context.Context, targetURL, ready, empty string) (*browser.Session, *egress.Route, error)
	paginate    func(sess *browser.Session, a Adapter, targetURL string, maxPages, navRetries int) Paginator
}

func NewOrchestrator(
	registry *Registry,
	router *egress.Router,
	guard QuotaGuard,
	store ProductStore,
	fetcher ImageFetcher,
	limiter ratelimit.Limiter,
	publisher *events.Publisher,
	m *metrics.Metrics,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		guard:    guard,
		store:    store,
		fetcher:  fetcher,
		limiter:  limiter,
		events:   publisher,
		metrics:  m,
		opts:     opts,
		logger:   logger.With("component", "orchestrator"),
		now:      time.Now,
		paginate: newPaginator,
	}
	if router != nil {
		o.selectRoute = router.SelectRoute
	}
	return o
}

// Run executes one job and returns the packaged artifact. A page-level
// failure ends the walk but keeps everything scraped before it; only a
// job that produced nothing at all is an error.
func (o *Orchestrator) Run(ctx context.Context, job *models.ScrapeJob) (*models.JobResult, error) {
	allowed, err := o.guard.CheckAndReserve(ctx)
	if err != nil {
		return nil, fmt.Errorf("quota check: %w", err)
	}
	if !allowed {
		o.metrics.IncQuotaRejection()
		return nil, ErrQuotaExhausted
	}

	adapter, err := o.registry.Lookup(job.URL)
	if err != nil {
		return nil, err
	}
	job.Adapter = adapter.Name()

	start := o.now()
	logger := o.logger.With("job_id", job.ID, "adapter", adapter.Name(), "url", job.URL)
	logger.Info("job started", "max_pages", job.MaxPages)
	o.events.JobStarted(ctx, events.JobEvent{JobID: job.ID, Adapter: adapter.Name(), TargetURL: job.URL})

	result, route, err := o.run(ctx, job, adapter, start, logger)
	took := o.now().Sub(start)
	if err != nil {
		o.events.JobFailed(ctx, events.JobEvent{
			JobID: job.ID, Adapter: adapter.Name(), TargetURL: job.URL,
			Route: route, Error: err.Error(),
		})
		o.metrics.JobFinished(adapter.Name(), "failure", took)
		logger.Error("job failed", "error", err, "took", took)
		return nil, err
	}

	o.events.JobCompleted(ctx, events.JobEvent{
		JobID: job.ID, Adapter: adapter.Name(), TargetURL: job.URL,
		Route: route, Products: result.Records, Artifact: result.Filename,
	})
	o.metrics.JobFinished(adapter.Name(), "success", took)
	logger.Info("job completed", "products", result.Records, "artifact", result.Filename, "took", took)
	return result, nil
}

// run executes the browser-bound part of a job. The returned route name
// is empty until route selection has succeeded.
func (o *Orchestrator) run(ctx context.Context, job *models.ScrapeJob, adapter Adapter, start time.Time, logger *slog.Logger) (*models.JobResult, string, error) {
	sess, route, err := o.selectRoute(ctx, job.URL, adapter.ReadySelector(), adapter.EmptySelector())
	if err != nil {
		if errors.Is(err, browser.ErrEmptyResults) {
			if sess != nil {
				o.closeSession(sess, logger)
			}
			return nil, "", ErrNoData
		}
		return nil, "", err
	}
	defer o.closeSession(sess, logger)

	routeName := string(route.Kind)
	o.metrics.IncRouteSelection(routeName)

	wb, err := sink.NewWorkbook(o.opts.ExcelDir, adapter.Name(), start, o.logger)
	if err != nil {
		return nil, routeName, err
	}
	defer wb.Close()

	header := o.pageHeader(sess)
	imageDir := filepath.Join(o.opts.ImageDir, start.Format("20060102_150405"))
	paginator := o.paginate(sess, adapter, job.URL, job.MaxPages, o.opts.NavRetries)

	var all []*models.ProductRecord
	page := 0
	for {
		tiles, done, err := paginator.Next(ctx)
		if err != nil {
			// Later pages must not cost what earlier pages earned.
			logger.Error("page failed, keeping earlier pages", "page", page+1, "error", err)
			break
		}
		if done {
			break
		}
		page++

		records := o.processPage(ctx, adapter, wb, tiles, imageDir, header, start, logger.With("page", page))
		all = append(all, records...)

		if err := wb.Save(); err != nil {
			logger.Error("failed to save workbook after page", "page", page, "error", err)
		}
		o.metrics.IncPage()
		o.metrics.AddProducts(adapter.Name(), len(records))

		if err := o.limiter.Wait(ctx); err != nil {
			logger.Warn("job interrupted between pages", "error", err)
			break
		}
	}

	if len(all) == 0 {
		return nil, routeName, ErrNoData
	}

	if err := o.store.InsertBatch(ctx, all); err != nil {
		logger.Error("failed to persist records, artifact is still returned", "error", err)
	}
	if err := o.guard.Increment(ctx, len(all)); err != nil {
		logger.Error("failed to record quota usage", "error", err)
	}

	if err := wb.Save(); err != nil {
		return nil, routeName, fmt.Errorf("finalize workbook: %w", err)
	}
	encoded, err := sink.EncodeArtifact(wb.Path())
	if err != nil {
		return nil, routeName, fmt.Errorf("package artifact: %w", err)
	}

	return &models.JobResult{
		File:     encoded,
		Filename: wb.Filename(),
		Filepath: wb.Path(),
		Records:  len(all),
	}, routeName, nil
}

// processPage turns one cycle's tiles into appended rows with resolved
// images. A bad tile is skipped; it never ends the page.
func (o *Orchestrator) processPage(ctx context.Context, adapter Adapter, wb *sink.Workbook, tiles []*goquery.Selection, imageDir, header string, start time.Time, logger *slog.Logger) []*models.ProductRecord {
	var (
		records []*models.ProductRecord
		tasks   []images.Task
		byID    = make(map[string]*models.ProductRecord)
		rows    = make(map[string]int)
	)

	for _, tile := range tiles {
		rec, task := o.buildRecord(adapter, tile, header, start)
		if rec == nil {
			logger.Warn("skipping tile without a product name")
			continue
		}

		row, err := wb.AppendRecord(rec)
		if err != nil {
			logger.Error("failed to append record, skipping", "product", rec.ProductName, "error", err)
			continue
		}

		records = append(records, rec)
		byID[rec.UniqueID] = rec
		rows[rec.UniqueID] = row
		if task != nil {
			tasks = append(tasks, *task)
		}
	}

	paths := o.fetcher.FetchAll(ctx, tasks, imageDir)
	for id, path := range paths {
		rec := byID[id]
		rec.ImagePath = path
		if path == normalize.NotAvailable {
			o.metrics.IncImageFailure()
			continue
		}
		if err := wb.SetImage(rows[id], path); err != nil {
			logger.Error("failed to embed image", "product", rec.ProductName, "error", err)
		}
	}

	return records
}

// buildRecord normalizes one extracted tile. A tile without a product
// name is noise and yields nil.
func (o *Orchestrator) buildRecord(adapter Adapter, tile *goquery.Selection, pageHeader string, start time.Time) (*models.ProductRecord, *images.Task) {
	raw := adapter.Extract(tile)
	if raw.Name == "" {
		return nil, nil
	}

	imageURL := normalize.ImageURL(raw.ImageURL)
	upscaled := adapter.Upscaler()(imageURL)

	price := raw.PriceText
	if price == "" {
		price = normalize.NotAvailable
	}
	header := raw.Header
	if header == "" {
		header = pageHeader
	}
	if header == "" {
		header = normalize.NotAvailable
	}

	rec := &models.ProductRecord{
		UniqueID:    uuid.New().String(),
		CurrentDate: start.Format("2006-01-02"),
		Header:      header,
		ProductName: raw.Name,
		ImagePath:   normalize.NotAvailable,
		ImageURL:    upscaled,
		Material:    normalize.Material(raw.Name),
		Price:       price,
		DiamondWt:   normalize.CaratWeight(raw.Name),
		Time:        start,
	}

	if imageURL == normalize.NotAvailable {
		return rec, nil
	}
	return rec, &images.Task{RecordID: rec.UniqueID, URL: upscaled, FallbackURL: imageURL}
}

// pageHeader reads the document title for the artifact's header column.
func (o *Orchestrator) pageHeader(sess *browser.Session) string {
	if sess == nil {
		return normalize.NotAvailable
	}
	title, err := sess.Page().Title()
	if err != nil || title == "" {
		return normalize.NotAvailable
	}
	return title
}

func (o *Orchestrator) closeSession(sess *browser.Session, logger *slog.Logger) {
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		logger.Warn("failed to close browser session", "error", err)
	}
}
