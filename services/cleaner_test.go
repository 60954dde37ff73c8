package services

import (
	"testing"
	"time"

	"bds-warehouse/models"
	"bds-warehouse/utils"
)

func newTestLogger() *utils.Logger { return utils.NewNopLogger() }

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"3,5 tỷ", 3_500_000_000},
		{"850 triệu", 850_000_000},
		{"7,9 tỷ/m²", 7_900_000_000},
		{"12 Tỷ", 12_000_000_000},
		{"1500000", 1_500_000},
		{"Thỏa thuận", 0},
		{"", 0},
		{"N/A", 0},
	}

	for _, tt := range tests {
		got := ParsePrice(tt.raw)
		if got != tt.want {
			t.Errorf("ParsePrice(%q) = %.2f; want %.2f", tt.raw, got, tt.want)
		}
	}
}

func TestParseArea(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"85,5 m²", 85.5},
		{"120 m2", 120},
		{"4 x 20", 4},
		{"", 0},
		{"N/A", 0},
	}

	for _, tt := range tests {
		got := ParseArea(tt.raw)
		if got != tt.want {
			t.Errorf("ParseArea(%q) = %.2f; want %.2f", tt.raw, got, tt.want)
		}
	}
}

func TestParseIntField(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"3", 3},
		{"4 phòng ngủ", 4},
		{"Tầng 2", 2},
		{"", 0},
		{"N/A", 0},
	}

	for _, tt := range tests {
		if got := ParseIntField(tt.raw); got != tt.want {
			t.Errorf("ParseIntField(%q) = %d; want %d", tt.raw, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	for _, raw := range []string{"2024-03-15", "15/03/2024", "2024-03-15T08:30:00Z", " 2024-03-15 10:11:12 "} {
		if got := ParseDate(raw); !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v; want %v", raw, got, want)
		}
	}
	for _, raw := range []string{"", "N/A", "hôm nay"} {
		if got := ParseDate(raw); !got.IsZero() {
			t.Errorf("ParseDate(%q) = %v; want zero time", raw, got)
		}
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  Nhà   phố  ", "Nhà phố"},
		{"N/A", ""},
		{"nan", ""},
		{"NaN", ""},
		{"\tQuận 1\n", "Quận 1"},
	}

	for _, tt := range tests {
		if got := CleanText(tt.raw); got != tt.want {
			t.Errorf("CleanText(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCleanerDropsEmptyKey(t *testing.T) {
	c := NewCleaner(newTestLogger())
	raw := []models.RawListing{
		{Key: "", Name: "No key", Price: "3 tỷ"},
		{Key: "123", Name: "Has key", Price: "2 tỷ"},
	}

	cleaned := c.Clean(1, raw)
	if len(cleaned) != 1 {
		t.Fatalf("expected 1 listing after dropping empty key, got %d", len(cleaned))
	}
	if cleaned[0].FileID != 1 || cleaned[0].Price != 2_000_000_000 {
		t.Errorf("unexpected cleaned listing: %+v", cleaned[0])
	}
}

func TestCleanerKeepsLaterDuplicate(t *testing.T) {
	c := NewCleaner(newTestLogger())
	raw := []models.RawListing{
		{Key: "1", Name: "A", Price: "1 tỷ"},
		{Key: "2", Name: "B", Price: "2 tỷ"},
		{Key: "1", Name: "A2", Price: "1,5 tỷ"},
	}

	cleaned := c.Clean(7, raw)
	if len(cleaned) != 2 {
		t.Fatalf("expected 2 listings after deduplication, got %d", len(cleaned))
	}
	if cleaned[0].Key != "1" || cleaned[0].Name != "A2" || cleaned[0].Price != 1_500_000_000 {
		t.Errorf("expected later row for key 1 in first position, got %+v", cleaned[0])
	}
}
