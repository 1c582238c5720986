// Package api exposes the scraping service over HTTP. Jobs run
// synchronously inside the request; the artifact travels back base64
// encoded in the response body.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webstudy/jewel-scraper/internal/egress"
	"github.com/webstudy/jewel-scraper/internal/metrics"
	"github.com/webstudy/jewel-scraper/internal/models"
	"github.com/webstudy/jewel-scraper/internal/scrape"
)

// JobRunner executes one scrape job end to end.
type JobRunner interface {
	Run(ctx context.Context, job *models.ScrapeJob) (*models.JobResult, error)
}

// QuotaManager exposes the admin surface of the daily quota.
type QuotaManager interface {
	Reset(ctx context.Context) error
	Settings(ctx context.Context) (*models.QuotaSettings, error)
}

// ProductLister reads back persisted records.
type ProductLister interface {
	ListRecent(ctx context.Context, limit int) ([]*models.ProductRecord, error)
}

// RouteProber checks reachability of the configured egress routes.
type RouteProber interface {
	Probe(ctx context.Context, probeURL string) map[egress.RouteKind]error
}

type Handlers struct {
	runner   JobRunner
	quota    QuotaManager
	products ProductLister
	prober   RouteProber
	metrics  *metrics.Metrics
	probeURL string
	logger   *slog.Logger
}

func NewHandlers(runner JobRunner, quota QuotaManager, products ProductLister, prober RouteProber, m *metrics.Metrics, probeURL string, logger *slog.Logger) *Handlers {
	return &Handlers{
		runner:   runner,
		quota:    quota,
		products: products,
		prober:   prober,
		metrics:  m,
		probeURL: probeURL,
		logger:   logger.With("component", "api"),
	}
}

// Router assembles the chi router with the full middleware stack.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Post("/fetch", h.Fetch)
	r.Get("/reset-limit", h.ResetLimit)
	r.Get("/get_data", h.GetData)
	r.Get("/get_products", h.GetProducts)
	r.Get("/proxy-health", h.ProxyHealth)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

// FetchRequest asks for one listing URL to be scraped.
type FetchRequest struct {
	URL      string `json:"url"`
	MaxPages int    `json:"max_pages"`
}

// FetchResponse carries the finished artifact.
type FetchResponse struct {
	File     string `json:"file"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
}

// Fetch runs a whole scrape job and returns the workbook. An exhausted
// quota is a 400; an unrecognized host is a 200 with an error body so
// callers can distinguish it from infrastructure failures.
func (h *Handlers) Fetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.MaxPages <= 0 {
		req.MaxPages = 1
	}

	job := models.NewScrapeJob(req.URL, req.MaxPages, "")
	result, err := h.runner.Run(r.Context(), job)
	switch {
	case err == nil:
	case errors.Is(err, scrape.ErrQuotaExhausted):
		h.respondError(w, http.StatusBadRequest, "Daily limit reached. Scraping is disabled.")
		return
	case errors.Is(err, scrape.ErrUnknownWebsite):
		h.respondJSON(w, http.StatusOK, map[string]string{"error": "Unknown website"})
		return
	default:
		h.logger.Error("fetch failed", "job_id", job.ID, "url", req.URL, "error", err)
		h.respondError(w, http.StatusInternalServerError, "File generation failed")
		return
	}

	h.respondJSON(w, http.StatusOK, FetchResponse{
		File:     result.File,
		Filename: result.Filename,
		Filepath: result.Filepath,
	})
}

// ResetLimit zeroes today's quota usage and re-enables scraping.
func (h *Handlers) ResetLimit(w http.ResponseWriter, r *http.Request) {
	if err := h.quota.Reset(r.Context()); err != nil {
		h.logger.Error("failed to reset limit", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to reset limit")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Limit reset successful"})
}

// GetData reports the quota settings row.
func (h *Handlers) GetData(w http.ResponseWriter, r *http.Request) {
	settings, err := h.quota.Settings(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	h.respondJSON(w, http.StatusOK, settings)
}

// GetProducts lists recently persisted records, newest first.
func (h *Handlers) GetProducts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := h.products.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if records == nil {
		records = []*models.ProductRecord{}
	}
	h.respondJSON(w, http.StatusOK, records)
}

// ProxyHealth opens a throwaway session over each configured route
// against a known-good URL and reports per-route status.
func (h *Handlers) ProxyHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	results := h.prober.Probe(ctx, h.probeURL)
	status := make(map[string]string, len(results))
	healthy := true
	for kind, err := range results {
		if err != nil {
			status[string(kind)] = err.Error()
			healthy = false
			continue
		}
		status[string(kind)] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	h.respondJSON(w, code, status)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
