package models

import (
	"time"

	"github.com/google/uuid"
)

// ScrapeJob describes one inbound scrape request. Immutable after creation.
type ScrapeJob struct {
	ID       string
	URL      string
	MaxPages int
	Adapter  string
}

func NewScrapeJob(url string, maxPages int, adapter string) *ScrapeJob {
	if maxPages < 1 {
		maxPages = 1
	}
	return &ScrapeJob{
		ID:       uuid.New().String(),
		URL:      url,
		MaxPages: maxPages,
		Adapter:  adapter,
	}
}

// ProductRecord is one extracted listing row. ImagePath is back-filled once
// when the async image fetch resolves; every other field is set at
// extraction time and never mutated.
type ProductRecord struct {
	UniqueID    string    `json:"unique_id"`
	CurrentDate string    `json:"date"`
	Header      string    `json:"header"`
	ProductName string    `json:"product_name"`
	ImagePath   string    `json:"image_path"`
	ImageURL    string    `json:"image_url"`
	Material    string    `json:"material"`
	Price       string    `json:"price"`
	DiamondWt   string    `json:"diamond_weight"`
	Time        time.Time `json:"time"`
	Additional  string    `json:"additional_info,omitempty"`
}

// QuotaSettings mirrors the singleton scraping_settings row.
type QuotaSettings struct {
	DailyLimit   int       `json:"daily_limit"`
	FetchedToday int       `json:"fetched_today"`
	LastReset    time.Time `json:"last_reset"`
	Disabled     bool      `json:"disabled"`
}

// JobResult is the artifact returned to the caller on success.
type JobResult struct {
	File     string `json:"file"` // base64-encoded workbook
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
	Records  int    `json:"-"`
}
