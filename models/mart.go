package models

import "time"

// MartFact mirrors one current warehouse listing inside the data mart.
// PricePerM2 is nil when price or area is not positive.
type MartFact struct {
	Key            string
	Name           string
	PropertyType   string
	City           string
	District       string
	PropertyTypeID int64
	LocationID     int64
	DateID         int64
	Price          float64
	Area           float64
	PricePerM2     *float64
	Bedrooms       int
	Floors         int
	StreetWidth    string
	PostingDate    time.Time
	CreateDate     time.Time
	StartDay       time.Time
	EndDay         *time.Time
	IsCurrent      bool
}

// DistrictAggregate summarises current listings for one city district.
type DistrictAggregate struct {
	City          string    `json:"city"`
	District      string    `json:"district"`
	ListingCount  int       `json:"listing_count"`
	AvgPrice      float64   `json:"avg_price"`
	AvgArea       float64   `json:"avg_area"`
	AvgPricePerM2 *float64  `json:"avg_price_per_m2"`
	SnapshotDate  time.Time `json:"snapshot_date"`
}

// TypeMonthAggregate summarises current listings for one property type and
// posting month.
type TypeMonthAggregate struct {
	PropertyType  string    `json:"property_type"`
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	ListingCount  int       `json:"listing_count"`
	AvgPrice      float64   `json:"avg_price"`
	AvgArea       float64   `json:"avg_area"`
	AvgPricePerM2 *float64  `json:"avg_price_per_m2"`
	SnapshotDate  time.Time `json:"snapshot_date"`
}

// MartReport holds the computed aggregates over one mart snapshot.
type MartReport struct {
	SnapshotDate  time.Time
	TotalListings int
	AveragePrice  float64
	MinPrice      float64
	MaxPrice      float64
	MostExpensive *MartFact
	Districts     []DistrictAggregate
	TypeMonths    []TypeMonthAggregate
}
