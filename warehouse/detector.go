package warehouse

import (
	"strings"

	"bds-warehouse/models"
)

// HasChanged reports whether candidate differs from the active version in any
// tracked field. Text is compared after trimming surrounding whitespace, so a
// pure formatting difference never opens a new version.
func HasChanged(active, candidate models.FactPayload) bool {
	return !sameText(active.URL, candidate.URL) ||
		!sameText(active.Name, candidate.Name) ||
		active.Price != candidate.Price ||
		active.Area != candidate.Area ||
		active.Bedrooms != candidate.Bedrooms ||
		active.Floors != candidate.Floors ||
		!sameText(active.Description, candidate.Description) ||
		!sameText(active.StreetWidth, candidate.StreetWidth) ||
		active.PropertyTypeID != candidate.PropertyTypeID ||
		active.LocationID != candidate.LocationID ||
		active.DateID != candidate.DateID
}

func sameText(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
