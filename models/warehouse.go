package models

import "time"

// FactPayload is the compared part of a listing fact: descriptive fields
// plus the resolved dimension surrogate ids.
type FactPayload struct {
	URL            string  `json:"url"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	Area           float64 `json:"area"`
	Bedrooms       int     `json:"bedrooms"`
	Floors         int     `json:"floors"`
	Description    string  `json:"description"`
	StreetWidth    string  `json:"street_width"`
	PropertyTypeID int64   `json:"property_type_id"`
	LocationID     int64   `json:"location_id"`
	DateID         int64   `json:"date_id"`
}

// FactVersion is one row of the listing fact table: a payload valid from
// StartDay up to, not including, EndDay. EndDay is nil while the version is
// active.
type FactVersion struct {
	SK         int64      `json:"sk"`
	Key        string     `json:"listing_key"`
	CreateDate time.Time  `json:"create_date"`
	StartDay   time.Time  `json:"start_day"`
	EndDay     *time.Time `json:"end_day"`
	IsCurrent  bool       `json:"is_current"`
	FactPayload
}

// ListingView is a fact version joined to its dimension rows, the shape read
// by the mart loader and the HTTP API.
type ListingView struct {
	FactVersion
	PropertyType string    `json:"property_type"`
	Street       string    `json:"street"`
	Ward         string    `json:"ward"`
	District     string    `json:"district"`
	City         string    `json:"city"`
	OldAddress   string    `json:"old_address"`
	PostingDate  time.Time `json:"posting_date"`
}
