package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/webstudy/jewel-scraper/internal/models"
)

const createProductsTable = `
CREATE TABLE IF NOT EXISTS products (
	unique_id    TEXT PRIMARY KEY,
	scrape_date DATE NOT NULL,
	header       TEXT,
	product_name TEXT,
	image_path   TEXT,
	material     TEXT,
	price        TEXT,
	diamond_wt   TEXT,
	scraped_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	additional   TEXT
)`

const createSettingsTable = `
CREATE TABLE IF NOT EXISTS scraping_settings (
	setting_name  TEXT PRIMARY KEY,
	daily_limit   INT NOT NULL,
	fetched_today INT NOT NULL DEFAULT 0,
	last_reset    DATE NOT NULL DEFAULT CURRENT_DATE,
	is_disabled   BOOLEAN NOT NULL DEFAULT FALSE
)`

const seedSettingsRow = `
INSERT INTO scraping_settings (setting_name, daily_limit)
VALUES ('daily_product_limit', 2000)
ON CONFLICT (setting_name) DO NOTHING`

// ProductRepository persists scraped product rows.
type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Migrate ensures the products and settings tables exist.
func (r *ProductRepository) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createProductsTable, createSettingsTable, seedSettingsRow} {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// InsertBatch inserts all records from one job in a single batch inside
// one transaction, so a failed job insert leaves no partial rows. Records
// carry freshly generated ids, so a conflict only happens on a re-run of the
// same artifact; the insert is an id-keyed upsert for that reason.
func (r *ProductRepository) InsertBatch(ctx context.Context, records []*models.ProductRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO products
		(unique_id, scrape_date, header, product_name, image_path, material, price, diamond_wt, scraped_at, additional)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (unique_id) DO UPDATE SET
			image_path = EXCLUDED.image_path,
			price      = EXCLUDED.price
	`
	for _, rec := range records {
		batch.Queue(query,
			rec.UniqueID, rec.CurrentDate, rec.Header, rec.ProductName,
			rec.ImagePath, rec.Material, rec.Price, rec.DiamondWt,
			rec.Time, rec.Additional)
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range records {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("batch insert: %w", err)
			}
		}
		return results.Close()
	})
}

// ListRecent returns up to limit most recently scraped products.
func (r *ProductRepository) ListRecent(ctx context.Context, limit int) ([]*models.ProductRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT unique_id, scrape_date::text, COALESCE(header, ''), COALESCE(product_name, ''),
		       COALESCE(image_path, ''), COALESCE(material, ''), COALESCE(price, ''),
		       COALESCE(diamond_wt, ''), scraped_at, COALESCE(additional, '')
		FROM products
		ORDER BY scraped_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var records []*models.ProductRecord
	for rows.Next() {
		rec := &models.ProductRecord{}
		err := rows.Scan(
			&rec.UniqueID, &rec.CurrentDate, &rec.Header, &rec.ProductName,
			&rec.ImagePath, &rec.Material, &rec.Price, &rec.DiamondWt,
			&rec.Time, &rec.Additional,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
