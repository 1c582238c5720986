package database

import (
	"context"
	"fmt"
	"time"

	"github.com/webstudy/jewel-scraper/internal/models"
)

// SettingsRepository reads and mutates the singleton scraping_settings row.
type SettingsRepository struct {
	db *DB
}

func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

const settingName = "daily_product_limit"

func (r *SettingsRepository) Load(ctx context.Context) (*models.QuotaSettings, error) {
	query := `
		SELECT daily_limit, fetched_today, last_reset, is_disabled
		FROM scraping_settings
		WHERE setting_name = $1
	`

	s := &models.QuotaSettings{}
	err := r.db.QueryRow(ctx, query, settingName).Scan(
		&s.DailyLimit, &s.FetchedToday, &s.LastReset, &s.Disabled,
	)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// ResetForDay zeroes the counter and re-enables scraping for the given day.
func (r *SettingsRepository) ResetForDay(ctx context.Context, day time.Time) error {
	query := `
		UPDATE scraping_settings
		SET fetched_today = 0, is_disabled = FALSE, last_reset = $1
		WHERE setting_name = $2
	`
	if _, err := r.db.Exec(ctx, query, day, settingName); err != nil {
		return fmt.Errorf("reset settings: %w", err)
	}
	return nil
}

func (r *SettingsRepository) SetDisabled(ctx context.Context, disabled bool) error {
	query := `UPDATE scraping_settings SET is_disabled = $1 WHERE setting_name = $2`
	if _, err := r.db.Exec(ctx, query, disabled, settingName); err != nil {
		return fmt.Errorf("set disabled: %w", err)
	}
	return nil
}

// Increment adds n to the daily counter in one statement so concurrent
// writers cannot lose updates.
func (r *SettingsRepository) Increment(ctx context.Context, n int) error {
	query := `
		UPDATE scraping_settings
		SET fetched_today = fetched_today + $1
		WHERE setting_name = $2
	`
	if _, err := r.db.Exec(ctx, query, n, settingName); err != nil {
		return fmt.Errorf("increment fetched count: %w", err)
	}
	return nil
}
