package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"bds-warehouse/models"
	"bds-warehouse/utils"
)

var (
	// numberRegexp captures the first decimal number once commas became dots
	numberRegexp = regexp.MustCompile(`\d+\.?\d*`)
	// intRegexp captures the first run of digits
	intRegexp = regexp.MustCompile(`\d+`)
)

const (
	million = 1_000_000
	billion = 1_000_000_000
)

// dateLayouts are tried in order by ParseDate.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"02-01-2006",
}

// Cleaner transforms RawListings into typed StagedListings.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean normalizes the raw rows of one batch. Rows without a key are dropped;
// when a key repeats, the later row wins but keeps the position of the first.
func (c *Cleaner) Clean(fileID int64, raw []models.RawListing) []models.StagedListing {
	index := make(map[string]int, len(raw))
	result := make([]models.StagedListing, 0, len(raw))

	for _, r := range raw {
		key := CleanText(r.Key)
		if key == "" {
			c.logger.Warn("[cleaner] Dropping listing with empty key: %s", r.Name)
			continue
		}

		listing := models.StagedListing{
			FileID:       fileID,
			Key:          key,
			URL:          CleanText(r.URL),
			Name:         CleanText(r.Name),
			Price:        ParsePrice(r.Price),
			Area:         ParseArea(r.Area),
			Bedrooms:     ParseIntField(r.Bedrooms),
			Floors:       ParseIntField(r.Floors),
			StreetWidth:  CleanText(r.StreetWidth),
			Description:  CleanText(r.Description),
			PropertyType: CleanText(r.PropertyType),
			OldAddress:   CleanText(r.OldAddress),
			Street:       CleanText(r.Street),
			Ward:         CleanText(r.Ward),
			District:     CleanText(r.District),
			City:         CleanText(r.City),
			PostingDate:  ParseDate(r.PostingDate),
			CreateDate:   ParseDate(r.CrawlDate),
		}

		if i, dup := index[key]; dup {
			c.logger.Debug("[cleaner] Duplicate key %s, keeping the later row", key)
			result[i] = listing
			continue
		}
		index[key] = len(result)
		result = append(result, listing)
	}

	c.logger.Info("[cleaner] Cleaned %d → %d listings (dropped %d)",
		len(raw), len(result), len(raw)-len(result))
	return result
}

// ParsePrice converts Vietnamese price text to a number of VND.
// Examples:
//
//	"3,5 tỷ"      → 3 500 000 000
//	"850 triệu"   → 850 000 000
//	"7,9 tỷ/m²"   → 7 900 000 000
//	"Thỏa thuận"  → 0
func ParsePrice(raw string) float64 {
	s := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(raw), ",", "."))
	if s == "" {
		return 0
	}

	switch {
	case strings.Contains(s, "triệu"):
		return firstNumber(s) * million
	case strings.Contains(s, "tỷ"):
		return firstNumber(s) * billion
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' {
			return r
		}
		return -1
	}, s)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseArea extracts the first number of an area text such as "85,5 m²".
func ParseArea(raw string) float64 {
	s := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(raw), ",", "."))
	return firstNumber(s)
}

// ParseIntField extracts the first integer of a count text such as "3 PN".
func ParseIntField(raw string) int {
	match := intRegexp.FindString(raw)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return n
}

// ParseDate parses the date formats produced by the crawler. Unparsable or
// missing values yield the zero time.
func ParseDate(raw string) time.Time {
	s := CleanText(raw)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.DateOnly(t)
		}
	}
	return time.Time{}
}

// CleanText strips leading/trailing whitespace, collapses internal whitespace
// and maps the "N/A" and "nan" placeholders to the empty string.
func CleanText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	s = strings.Join(fields, " ")
	switch strings.ToLower(s) {
	case "n/a", "nan":
		return ""
	}
	return s
}

func firstNumber(s string) float64 {
	match := numberRegexp.FindString(s)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(match, "."), 64)
	if err != nil {
		return 0
	}
	return v
}
