// Package metrics bundles the Prometheus collectors for the scraping
// service on a dedicated registry. All helpers are nil-safe so callers
// can run without metrics wired, as tests do.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry *prometheus.Registry

	JobsTotal            *prometheus.CounterVec
	JobDuration          *prometheus.HistogramVec
	PagesScrapedTotal    prometheus.Counter
	ProductsScrapedTotal *prometheus.CounterVec
	ImageFailuresTotal   prometheus.Counter
	RouteSelectionsTotal *prometheus.CounterVec
	QuotaRejectionsTotal prometheus.Counter
}

// New constructs and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_jobs_total",
			Help: "Total scrape jobs by adapter and outcome.",
		},
		[]string{"adapter", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_job_duration_seconds",
			Help:    "Wall-clock duration of whole scrape jobs.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"adapter"},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_scraped_total",
			Help: "Total listing pages or reveal cycles processed.",
		},
	)
	products := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_products_scraped_total",
			Help: "Total product records extracted, by adapter.",
		},
		[]string{"adapter"},
	)
	imageFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_image_failures_total",
			Help: "Image downloads that exhausted the fallback and retries.",
		},
	)
	routes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_route_selections_total",
			Help: "Egress routes that won selection, by route kind.",
		},
		[]string{"route"},
	)
	quotaRejections := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_quota_rejections_total",
			Help: "Jobs rejected because the daily product quota was exhausted.",
		},
	)

	registry.MustRegister(jobs, jobDuration, pages, products, imageFailures, routes, quotaRejections)

	return &Metrics{
		Registry:             registry,
		JobsTotal:            jobs,
		JobDuration:          jobDuration,
		PagesScrapedTotal:    pages,
		ProductsScrapedTotal: products,
		ImageFailuresTotal:   imageFailures,
		RouteSelectionsTotal: routes,
		QuotaRejectionsTotal: quotaRejections,
	}
}

func (m *Metrics) JobFinished(adapter, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(adapter, status).Inc()
	m.JobDuration.WithLabelValues(adapter).Observe(took.Seconds())
}

func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesScrapedTotal.Inc()
}

func (m *Metrics) AddProducts(adapter string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProductsScrapedTotal.WithLabelValues(adapter).Add(float64(n))
}

func (m *Metrics) IncImageFailure() {
	if m == nil {
		return
	}
	m.ImageFailuresTotal.Inc()
}

func (m *Metrics) IncRouteSelection(route string) {
	if m == nil {
		return
	}
	m.RouteSelectionsTotal.WithLabelValues(route).Inc()
}

func (m *Metrics) IncQuotaRejection() {
	if m == nil {
		return
	}
	m.QuotaRejectionsTotal.Inc()
}
