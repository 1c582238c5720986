// Package sink persists scrape results: an xlsx workbook with embedded
// thumbnails that is re-saved after every page so a mid-job crash still
// leaves a usable partial artifact, plus the base64 packaging returned to
// the caller.
package sink

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/webstudy/jewel-scraper/internal/models"
	"github.com/webstudy/jewel-scraper/internal/normalize"
)

const sheetName = "Products"

var headerRow = []interface{}{
	"Date", "Header", "Product Name", "Image", "Kt", "Price", "Total Dia wt", "Time", "ImagePath",
}

// imageColumn is the fixed cell offset for the embedded thumbnail,
// patched in place after the async fetch resolves.
const imageColumn = "D"

// Workbook is the append-only spreadsheet for one job. Rows are appended
// in extraction order; Save flushes the whole file to the same path.
type Workbook struct {
	file     *excelize.File
	path     string
	filename string
	nextRow  int
	logger   *slog.Logger
}

// NewWorkbook creates the artifact file for one job, named
// <adapter>_<date>_<H.M>.xlsx under dir.
func NewWorkbook(dir, adapter string, now time.Time, logger *slog.Logger) (*Workbook, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create excel dir: %w", err)
	}

	filename := fmt.Sprintf("%s_%s_%s.xlsx", adapter, now.Format("2006-01-02"), now.Format("15.04"))

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	// Room for the 100x100 thumbnails.
	if err := f.SetColWidth(sheetName, imageColumn, imageColumn, 18); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	return &Workbook{
		file:     f,
		path:     filepath.Join(dir, filename),
		filename: filename,
		nextRow:  2,
		logger:   logger.With("component", "workbook"),
	}, nil
}

// AppendRecord writes one row and returns its row number, so the image
// column can be patched later. The ImagePath column initially carries the
// source image URL; SetImage replaces it with the local path.
func (w *Workbook) AppendRecord(rec *models.ProductRecord) (int, error) {
	row := w.nextRow
	values := []interface{}{
		rec.CurrentDate,
		rec.Header,
		rec.ProductName,
		nil, // thumbnail placeholder
		rec.Material,
		rec.Price,
		rec.DiamondWt,
		rec.Time.Format("15.04"),
		rec.ImageURL,
	}
	if err := w.file.SetSheetRow(sheetName, fmt.Sprintf("A%d", row), &values); err != nil {
		return 0, fmt.Errorf("append row %d: %w", row, err)
	}

	w.nextRow++
	return row, nil
}

// SetImage embeds the downloaded thumbnail at the image column of a row
// already appended, and records the local path. A sentinel path is a no-op.
func (w *Workbook) SetImage(row int, localPath string) error {
	if localPath == "" || localPath == normalize.NotAvailable {
		return nil
	}

	cell := fmt.Sprintf("%s%d", imageColumn, row)
	err := w.file.AddPicture(sheetName, cell, localPath, &excelize.GraphicOptions{
		AutoFit: true,
	})
	if err != nil {
		return fmt.Errorf("embed image at %s: %w", cell, err)
	}

	if err := w.file.SetRowHeight(sheetName, row, 76); err != nil {
		w.logger.Warn("failed to set row height", "row", row, "error", err)
	}

	if err := w.file.SetCellValue(sheetName, fmt.Sprintf("I%d", row), localPath); err != nil {
		return fmt.Errorf("set image path cell: %w", err)
	}
	return nil
}

// Save flushes the entire workbook to its path. Called after every page,
// not just at job end.
func (w *Workbook) Save() error {
	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

func (w *Workbook) Path() string     { return w.path }
func (w *Workbook) Filename() string { return w.filename }

// Rows reports the number of data rows appended so far.
func (w *Workbook) Rows() int { return w.nextRow - 2 }

// EncodeArtifact reads the saved workbook and base64-encodes it for
// transport back to the caller.
func EncodeArtifact(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
