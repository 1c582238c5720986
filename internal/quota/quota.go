// Package quota gatekeeps whether any scrape may run today. State lives in
// a singleton database row; the daily rollover happens lazily on the first
// check of a new day rather than via a background timer.
package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/webstudy/jewel-scraper/internal/models"
)

// Store is the persistence surface the guard needs. Implemented by
// database.SettingsRepository.
type Store interface {
	Load(ctx context.Context) (*models.QuotaSettings, error)
	ResetForDay(ctx context.Context, day time.Time) error
	SetDisabled(ctx context.Context, disabled bool) error
	Increment(ctx context.Context, n int) error
}

type Guard struct {
	store  Store
	logger *slog.Logger

	// Serializes check and increment. Jobs can still overshoot the daily
	// limit between a check and the matching increment; that is a known
	// soft property of the contract, not a bug in callers.
	mu sync.Mutex

	now func() time.Time
}

func NewGuard(store Store, logger *slog.Logger) *Guard {
	return &Guard{
		store:  store,
		logger: logger.With("component", "quota"),
		now:    time.Now,
	}
}

// CheckAndReserve reports whether a scrape may start. A store error fails
// closed: the job is rejected.
func (g *Guard) CheckAndReserve(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	settings, err := g.store.Load(ctx)
	if err != nil {
		g.logger.Error("quota check failed, refusing job", "error", err)
		return false, err
	}

	today := dateOnly(g.now())
	if !dateOnly(settings.LastReset).Equal(today) {
		if err := g.store.ResetForDay(ctx, today); err != nil {
			g.logger.Error("daily rollover failed, refusing job", "error", err)
			return false, err
		}
		settings.FetchedToday = 0
		settings.Disabled = false
		g.logger.Info("daily quota reset", "date", today.Format("2006-01-02"))
	}

	if settings.FetchedToday >= settings.DailyLimit {
		if !settings.Disabled {
			if err := g.store.SetDisabled(ctx, true); err != nil {
				g.logger.Error("failed to flag quota as disabled", "error", err)
			}
		}
		g.logger.Warn("daily limit reached, scraping disabled",
			"fetched", settings.FetchedToday, "limit", settings.DailyLimit)
		return false, nil
	}

	return true, nil
}

// Increment records n fetched products. Callers invoke it with the count
// actually obtained; it is not re-validated against the limit.
func (g *Guard) Increment(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Increment(ctx, n); err != nil {
		g.logger.Error("failed to update product count", "count", n, "error", err)
		return err
	}
	g.logger.Info("product count updated", "count", n)
	return nil
}

// Reset zeroes the counter and re-enables scraping, keeping last_reset at
// today so the lazy rollover does not immediately fire again.
func (g *Guard) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.store.ResetForDay(ctx, dateOnly(g.now()))
}

// Settings returns the current quota state for the settings endpoint.
func (g *Guard) Settings(ctx context.Context) (*models.QuotaSettings, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.store.Load(ctx)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
