package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"bds-warehouse/models"
)

// ErrBatchFileMissing is returned when a tracked batch file is not on disk.
var ErrBatchFileMissing = errors.New("storage: batch file missing")

var csvHeader = []string{
	"listing_key", "url", "name", "price", "area", "bedrooms", "floors",
	"street_width", "description", "old_address", "street", "ward", "district",
	"city", "property_type", "posting_date", "crawl_date",
}

// CSVWriter writes raw (uncleaned) listings to a batch CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	path   string
	tmp    string
}

// NewCSVWriter prepares a batch file at the given path and writes the header
// row. Rows go to a temporary sibling that replaces path on Close, so readers
// never see a half-written batch. Intermediate directories are created
// automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}

	return &CSVWriter{file: f, writer: w, path: path, tmp: tmp}, nil
}

// WriteRaw appends listings to the batch file.
func (c *CSVWriter) WriteRaw(listings []models.RawListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		row := []string{
			l.Key, l.URL, l.Name, l.Price, l.Area, l.Bedrooms, l.Floors,
			l.StreetWidth, l.Description, l.OldAddress, l.Street, l.Ward, l.District,
			l.City, l.PropertyType, l.PostingDate, l.CrawlDate,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes the temporary file and moves it into place.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		_ = c.file.Close()
		return fmt.Errorf("csv: flush: %w", err)
	}
	if err := c.file.Close(); err != nil {
		return fmt.Errorf("csv: close: %w", err)
	}
	if err := os.Rename(c.tmp, c.path); err != nil {
		return fmt.Errorf("csv: rename %q: %w", c.tmp, err)
	}
	return nil
}

// WriteBatch writes listings as a complete batch file at path.
func WriteBatch(path string, listings []models.RawListing) error {
	w, err := NewCSVWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteRaw(listings); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.tmp)
		return err
	}
	return w.Close()
}

// ReadBatch loads the listings of a batch file. A file that does not exist
// yields ErrBatchFileMissing.
func ReadBatch(path string) ([]models.RawListing, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("csv: %q: %w", path, ErrBatchFileMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header of %q: %w", path, err)
	}
	if header[0] != csvHeader[0] {
		return nil, fmt.Errorf("csv: %q: unexpected header %v", path, header)
	}

	var out []models.RawListing
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read %q: %w", path, err)
		}
		out = append(out, models.RawListing{
			Key: rec[0], URL: rec[1], Name: rec[2], Price: rec[3], Area: rec[4],
			Bedrooms: rec[5], Floors: rec[6], StreetWidth: rec[7], Description: rec[8],
			OldAddress: rec[9], Street: rec[10], Ward: rec[11], District: rec[12],
			City: rec[13], PropertyType: rec[14], PostingDate: rec[15], CrawlDate: rec[16],
		})
	}
	return out, nil
}

// Checksum returns the xxhash64 of the file content as 16 hex digits.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("csv: %q: %w", path, ErrBatchFileMissing)
	}
	if err != nil {
		return "", fmt.Errorf("csv: open %q: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("csv: hash %q: %w", path, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
