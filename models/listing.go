package models

import "time"

// RawListing holds unprocessed scraped data exactly as it came off the page.
// Every field is text; it is written to the batch CSV file and to staging
// before any cleaning or transformation.
type RawListing struct {
	Key          string
	URL          string
	Name         string
	Price        string
	Area         string
	Bedrooms     string
	Floors       string
	StreetWidth  string
	Description  string
	OldAddress   string
	Street       string
	Ward         string
	District     string
	City         string
	PropertyType string
	PostingDate  string
	CrawlDate    string
}

// StagedListing is the cleaned, typed record ready for the warehouse loader.
// A zero PostingDate or CreateDate means the source did not provide one.
type StagedListing struct {
	ID           int64
	FileID       int64
	Key          string
	URL          string
	Name         string
	Price        float64
	Area         float64
	Bedrooms     int
	Floors       int
	StreetWidth  string
	Description  string
	PropertyType string
	OldAddress   string
	Street       string
	Ward         string
	District     string
	City         string
	PostingDate  time.Time
	CreateDate   time.Time
}

// DateOnly truncates t to midnight UTC of its calendar day. The zero time
// stays zero.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
