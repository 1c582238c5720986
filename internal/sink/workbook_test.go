package sink

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/webstudy/jewel-scraper/internal/models"
	"github.com/webstudy/jewel-scraper/internal/normalize"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord(name string) *models.ProductRecord {
	return &models.ProductRecord{
		UniqueID:    "id-" + name,
		CurrentDate: "2025-03-14",
		Header:      "Rings",
		ProductName: name,
		ImageURL:    "https://cdn.example.com/" + name + ".jpg",
		Material:    "14K White Gold",
		Price:       "$1,299.00",
		DiamondWt:   "0.50 ct",
		Time:        time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC),
	}
}

func writeTestJPEG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	path := filepath.Join(dir, "thumb.jpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestNewWorkbookFilename(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 14, 9, 5, 0, 0, time.UTC)

	wb, err := NewWorkbook(dir, "Grahams", now, testLogger())
	require.NoError(t, err)
	defer wb.Close()

	assert.Equal(t, "Grahams_2025-03-14_09.05.xlsx", wb.Filename())
	assert.Equal(t, filepath.Join(dir, wb.Filename()), wb.Path())
}

func TestAppendPreservesOrder(t *testing.T) {
	wb, err := NewWorkbook(t.TempDir(), "Grahams", time.Now(), testLogger())
	require.NoError(t, err)
	defer wb.Close()

	names := []string{"Solitaire Ring", "Tennis Bracelet", "Pearl Pendant"}
	for i, name := range names {
		row, err := wb.AppendRecord(testRecord(name))
		require.NoError(t, err)
		assert.Equal(t, i+2, row, "rows are appended in extraction order after the header")
	}
	assert.Equal(t, 3, wb.Rows())

	require.NoError(t, wb.Save())

	f, err := excelize.OpenFile(wb.Path())
	require.NoError(t, err)
	defer f.Close()

	for i, name := range names {
		cell, err := f.GetCellValue(sheetName, fmt.Sprintf("C%d", i+2))
		require.NoError(t, err)
		assert.Equal(t, name, cell)
	}

	header, err := f.GetCellValue(sheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Date", header)
}

func TestSetImagePatchesRow(t *testing.T) {
	dir := t.TempDir()
	wb, err := NewWorkbook(dir, "Helzberg", time.Now(), testLogger())
	require.NoError(t, err)
	defer wb.Close()

	row, err := wb.AppendRecord(testRecord("Hoop Earrings"))
	require.NoError(t, err)

	thumb := writeTestJPEG(t, dir)
	require.NoError(t, wb.SetImage(row, thumb))
	require.NoError(t, wb.Save())

	f, err := excelize.OpenFile(wb.Path())
	require.NoError(t, err)
	defer f.Close()

	pics, err := f.GetPictures(sheetName, fmt.Sprintf("D%d", row))
	require.NoError(t, err)
	assert.NotEmpty(t, pics, "thumbnail is embedded at the image column")

	pathCell, err := f.GetCellValue(sheetName, fmt.Sprintf("I%d", row))
	require.NoError(t, err)
	assert.Equal(t, thumb, pathCell, "image path column is patched to the local file")
}

func TestSetImageSentinelIsNoOp(t *testing.T) {
	wb, err := NewWorkbook(t.TempDir(), "Helzberg", time.Now(), testLogger())
	require.NoError(t, err)
	defer wb.Close()

	row, err := wb.AppendRecord(testRecord("Cufflinks"))
	require.NoError(t, err)

	assert.NoError(t, wb.SetImage(row, normalize.NotAvailable))
	assert.NoError(t, wb.SetImage(row, ""))
}

func TestSaveAfterEveryPageLeavesPartial(t *testing.T) {
	wb, err := NewWorkbook(t.TempDir(), "Grahams", time.Now(), testLogger())
	require.NoError(t, err)
	defer wb.Close()

	_, err = wb.AppendRecord(testRecord("Page One Item"))
	require.NoError(t, err)
	require.NoError(t, wb.Save())

	// The partial on disk is already a valid workbook.
	f, err := excelize.OpenFile(wb.Path())
	require.NoError(t, err)
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Len(t, rows, 2)

	_, err = wb.AppendRecord(testRecord("Page Two Item"))
	require.NoError(t, err)
	require.NoError(t, wb.Save())

	f, err = excelize.OpenFile(wb.Path())
	require.NoError(t, err)
	rows, err = f.GetRows(sheetName)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Len(t, rows, 3)
}

func TestEncodeArtifactRoundTrips(t *testing.T) {
	wb, err := NewWorkbook(t.TempDir(), "Grahams", time.Now(), testLogger())
	require.NoError(t, err)
	defer wb.Close()

	_, err = wb.AppendRecord(testRecord("Bangle"))
	require.NoError(t, err)
	require.NoError(t, wb.Save())

	encoded, err := EncodeArtifact(wb.Path())
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	onDisk, err := os.ReadFile(wb.Path())
	require.NoError(t, err)
	assert.Equal(t, onDisk, raw)
}

func TestEncodeArtifactMissingFile(t *testing.T) {
	_, err := EncodeArtifact(filepath.Join(t.TempDir(), "nope.xlsx"))
	assert.Error(t, err)
}

