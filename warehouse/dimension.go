package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bds-warehouse/metrics"
	"bds-warehouse/models"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
)

// ErrDimensionConflict is returned when a dimension row with the same natural
// key was inserted concurrently. The surrounding transaction is unusable and
// the caller retries the whole unit of work.
var ErrDimensionConflict = errors.New("warehouse: dimension natural key conflict")

// UnknownPropertyType replaces an empty property type name.
const UnknownPropertyType = "Unknown"

// Kind identifies a dimension.
type Kind int

const (
	PropertyType Kind = iota
	Location
	PostingDate
)

func (k Kind) String() string {
	switch k {
	case PropertyType:
		return "property_type"
	case Location:
		return "location"
	case PostingDate:
		return "posting_date"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// NaturalKey is the identifying attribute tuple of a dimension row, plus the
// non-key attributes recorded only when the row is created.
type NaturalKey struct {
	Kind  Kind
	Attrs []storage.Attr
	Extra []storage.Attr

	day time.Time
}

// PropertyTypeKey keys a property type name exactly as ingested; only the
// empty name becomes Unknown. Callers normalize text before resolving.
func PropertyTypeKey(name string) NaturalKey {
	if name == "" {
		name = UnknownPropertyType
	}
	return NaturalKey{
		Kind:  PropertyType,
		Attrs: []storage.Attr{{Column: "type_name", Value: name}},
	}
}

// LocationKey builds the location key from its four parts. Missing parts are
// stored as the empty string, never NULL, so equality lookups stay exact.
// oldAddress is recorded on creation and ignored for matching. Matching is
// case and whitespace sensitive.
func LocationKey(street, ward, district, city, oldAddress string) NaturalKey {
	return NaturalKey{
		Kind: Location,
		Attrs: []storage.Attr{
			{Column: "street", Value: street},
			{Column: "ward", Value: ward},
			{Column: "district", Value: district},
			{Column: "city", Value: city},
		},
		Extra: []storage.Attr{{Column: "old_address", Value: oldAddress}},
	}
}

// PostingDateKey keys a calendar day. The caller substitutes the processing
// date for a missing posting date.
func PostingDateKey(day time.Time) NaturalKey {
	day = models.DateOnly(day)
	return NaturalKey{
		Kind:  PostingDate,
		Attrs: []storage.Attr{{Column: "posting_date", Value: storage.DateArg(day)}},
		day:   day,
	}
}

// DimensionTables maps each dimension kind to a concrete table. The mart
// keeps its own copies of the dimensions with the same contract.
type DimensionTables struct {
	PropertyType storage.DimensionTable
	Location     storage.DimensionTable
	PostingDate  storage.DimensionTable
	// PostingDateParts stores year, month and day next to the posting date.
	PostingDateParts bool
}

// WarehouseTables are the warehouse dimension tables.
var WarehouseTables = DimensionTables{
	PropertyType: storage.DimensionTable{Name: "dim_property_type", IDColumn: "property_type_id"},
	Location:     storage.DimensionTable{Name: "dim_location", IDColumn: "location_id"},
	PostingDate:  storage.DimensionTable{Name: "dim_posting_date", IDColumn: "date_id"},
}

// MartTables are the mart dimension tables.
var MartTables = DimensionTables{
	PropertyType:     storage.DimensionTable{Name: "mart_dim_property_type", IDColumn: "property_type_id"},
	Location:         storage.DimensionTable{Name: "mart_dim_location", IDColumn: "location_id"},
	PostingDate:      storage.DimensionTable{Name: "mart_dim_posting_date", IDColumn: "date_id"},
	PostingDateParts: true,
}

func (t DimensionTables) table(k Kind) (storage.DimensionTable, error) {
	switch k {
	case PropertyType:
		return t.PropertyType, nil
	case Location:
		return t.Location, nil
	case PostingDate:
		return t.PostingDate, nil
	}
	return storage.DimensionTable{}, fmt.Errorf("warehouse: unknown dimension %v", k)
}

// Resolver maps natural keys to surrogate ids, creating rows on first sight.
// Existing dimension rows are never updated.
type Resolver struct {
	db     *storage.DB
	tables DimensionTables
	logger *utils.Logger
}

// NewResolver returns a Resolver over the given table set.
func NewResolver(db *storage.DB, tables DimensionTables, logger *utils.Logger) *Resolver {
	return &Resolver{db: db, tables: tables, logger: logger}
}

// Resolve returns the id of the row matching key exactly, inserting it when
// absent. q is typically the caller's transaction.
func (r *Resolver) Resolve(ctx context.Context, q storage.Querier, key NaturalKey) (int64, error) {
	table, err := r.tables.table(key.Kind)
	if err != nil {
		return 0, err
	}

	id, found, err := r.db.LookupDimension(ctx, q, table, key.Attrs)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	attrs := append(append([]storage.Attr{}, key.Attrs...), key.Extra...)
	if key.Kind == PostingDate && r.tables.PostingDateParts {
		attrs = append(attrs,
			storage.Attr{Column: "year", Value: key.day.Year()},
			storage.Attr{Column: "month", Value: int(key.day.Month())},
			storage.Attr{Column: "day", Value: key.day.Day()},
		)
	}

	id, err = r.db.InsertDimension(ctx, q, table, attrs)
	if errors.Is(err, storage.ErrConflict) {
		return 0, fmt.Errorf("%w: %s %v", ErrDimensionConflict, table.Name, key.Attrs)
	}
	if err != nil {
		return 0, err
	}

	metrics.DimensionRowsCreatedTotal.WithLabelValues(table.Name).Inc()
	r.logger.Debug("[resolver] Created %s row %d for %v", table.Name, id, key.Attrs)
	return id, nil
}
