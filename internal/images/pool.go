// Package images fetches product images concurrently. The browser session
// is never involved: these are plain HTTP fetches against the image CDN,
// fanned out with bounded parallelism while the job's single browser
// worker moves on.
package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webstudy/jewel-scraper/internal/normalize"
	"github.com/webstudy/jewel-scraper/internal/retry"
)

// Task is one image to acquire for a record.
type Task struct {
	RecordID string
	// URL is the upscaled image URL, tried first.
	URL string
	// FallbackURL is the original pre-upscale URL, tried once when the
	// upscaled form is exhausted.
	FallbackURL string
}

type Options struct {
	Concurrency  int
	FetchTimeout time.Duration
	Retries      int
	RetryDelay   time.Duration
}

type Pool struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
}

func NewPool(opts Options, logger *slog.Logger) *Pool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 60 * time.Second
	}
	if opts.Retries < 1 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	return &Pool{
		client: &http.Client{Timeout: opts.FetchTimeout},
		opts:   opts,
		logger: logger.With("component", "images"),
	}
}

// FetchAll downloads every task into dir and returns recordID -> local
// path. A failed fetch maps to the "N/A" sentinel; failures are logged,
// never raised, and never block sibling fetches.
func (p *Pool) FetchAll(ctx context.Context, tasks []Task, dir string) map[string]string {
	results := make(map[string]string, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	// The per-job image dir does not exist on the first page.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.logger.Error("failed to create image dir", "dir", dir, "error", err)
		for _, task := range tasks {
			results[task.RecordID] = normalize.NotAvailable
		}
		return results
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	timestamp := time.Now().Format("20060102_150405")

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			path := p.fetchOne(gctx, task, dir, timestamp)
			mu.Lock()
			results[task.RecordID] = path
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; Wait only observes ctx cancellation.
	g.Wait()

	return results
}

func (p *Pool) fetchOne(ctx context.Context, task Task, dir, timestamp string) string {
	if task.URL == "" || task.URL == normalize.NotAvailable {
		return normalize.NotAvailable
	}

	dest := filepath.Join(dir, fmt.Sprintf("%s_%s.jpg", task.RecordID, timestamp))

	policy := retry.Policy{
		Attempts:  p.opts.Retries,
		BaseDelay: p.opts.RetryDelay,
		Linear:    true,
	}

	err := retry.Do(ctx, policy, func() error {
		return p.download(ctx, task.URL, dest)
	})
	if err == nil {
		return dest
	}

	// Upscaled URL exhausted; one shot at the original.
	if task.FallbackURL != "" && task.FallbackURL != task.URL {
		p.logger.Info("upscaled image failed, trying original",
			"record", task.RecordID, "error", err)
		if fbErr := p.download(ctx, task.FallbackURL, dest); fbErr == nil {
			return dest
		}
	}

	p.logger.Warn("image fetch failed", "record", task.RecordID, "url", task.URL, "error", err)
	return normalize.NotAvailable
}

func (p *Pool) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	data, err := ensureJPEG(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("normalize image: %w", err)
	}

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// ensureJPEG re-encodes PNG/GIF payloads to JPEG, which is the only format
// the workbook embedder is given. JPEG passes through untouched.
func ensureJPEG(data []byte, contentType string) ([]byte, error) {
	if isJPEG(data, contentType) {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func isJPEG(data []byte, contentType string) bool {
	if strings.Contains(contentType, "jpeg") || strings.Contains(contentType, "jpg") {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8
}
