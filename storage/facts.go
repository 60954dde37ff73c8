package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"bds-warehouse/models"
)

var factColumns = []string{
	"f.sk", "f.listing_key", "f.url", "f.name", "f.price", "f.area", "f.bedrooms",
	"f.floors", "f.description", "f.street_width", "f.property_type_id",
	"f.location_id", "f.date_id", "f.create_date", "f.start_day", "f.end_day",
	"f.is_current",
}

var viewColumns = append(append([]string{}, factColumns...),
	"pt.type_name", "l.street", "l.ward", "l.district", "l.city", "l.old_address",
	"d.posting_date",
)

// ListingFilter narrows the current-listing query. Empty fields match all.
type ListingFilter struct {
	District     string
	PropertyType string
	City         string
}

// FactStore persists SCD2 listing versions in fact_listing.
type FactStore struct {
	db *DB
}

// NewFactStore wraps the warehouse database.
func NewFactStore(db *DB) *FactStore {
	return &FactStore{db: db}
}

// DB returns the underlying handle.
func (s *FactStore) DB() *DB { return s.db }

// Current returns the active version of key, if any.
func (s *FactStore) Current(ctx context.Context, q Querier, key string) (*models.FactVersion, bool, error) {
	rows, err := queryBuilt(ctx, q, s.db.Dialect.Builder().
		Select(factColumns...).From("fact_listing f").
		Where(sq.Eq{"f.listing_key": key, "f.is_current": true}))
	if err != nil {
		return nil, false, fmt.Errorf("facts: query current %q: %w", key, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	var (
		v                   models.FactVersion
		created, start, end nullTime
	)
	if err := rows.Scan(factDest(&v, &created, &start, &end)...); err != nil {
		return nil, false, fmt.Errorf("facts: scan current %q: %w", key, err)
	}
	setFactDates(&v, created, start, end)
	if rows.Next() {
		return nil, false, fmt.Errorf("facts: key %q has more than one current version", key)
	}
	return &v, true, rows.Err()
}

// InsertVersion appends a version and returns its surrogate key.
func (s *FactStore) InsertVersion(ctx context.Context, q Querier, v models.FactVersion) (int64, error) {
	b := s.db.Dialect.Builder().
		Insert("fact_listing").
		Columns("listing_key", "url", "name", "price", "area", "bedrooms", "floors",
			"description", "street_width", "property_type_id", "location_id", "date_id",
			"create_date", "start_day", "end_day", "is_current").
		Values(v.Key, v.URL, v.Name, v.Price, v.Area, v.Bedrooms, v.Floors,
			v.Description, v.StreetWidth, v.PropertyTypeID, v.LocationID, v.DateID,
			DateArg(v.CreateDate), DateArg(v.StartDay), optionalDateArg(v.EndDay), v.IsCurrent)

	sk, err := insertReturningID(ctx, q, b, "sk")
	if err != nil {
		return 0, fmt.Errorf("facts: insert version of %q: %w", v.Key, err)
	}
	return sk, nil
}

// CloseVersion ends the active version sk on endDay.
func (s *FactStore) CloseVersion(ctx context.Context, q Querier, sk int64, endDay time.Time) error {
	res, err := execBuilt(ctx, q, s.db.Dialect.Builder().
		Update("fact_listing").
		Set("end_day", DateArg(endDay)).
		Set("is_current", false).
		Where(sq.Eq{"sk": sk, "is_current": true}))
	if err != nil {
		return fmt.Errorf("facts: close version %d: %w", sk, err)
	}
	return expectOneRow(res, fmt.Sprintf("facts: current version %d", sk))
}

// CurrentListings returns active versions joined to their dimensions.
func (s *FactStore) CurrentListings(ctx context.Context, f ListingFilter) ([]models.ListingView, error) {
	where := sq.Eq{"f.is_current": true}
	if f.District != "" {
		where["l.district"] = f.District
	}
	if f.City != "" {
		where["l.city"] = f.City
	}
	if f.PropertyType != "" {
		where["pt.type_name"] = f.PropertyType
	}
	return s.selectViews(ctx, s.viewQuery().Where(where).OrderBy("f.listing_key"))
}

// ListingsAsOf returns the version of every key that was valid on day:
// start_day <= day and the version was not yet closed on day. end_day is read
// as exclusive because the successor starts on the close day; an inclusive
// reading would make two versions valid on the change day.
func (s *FactStore) ListingsAsOf(ctx context.Context, day time.Time) ([]models.ListingView, error) {
	d := DateArg(day)
	return s.selectViews(ctx, s.viewQuery().
		Where(sq.LtOrEq{"f.start_day": d}).
		Where(sq.Or{sq.Eq{"f.end_day": nil}, sq.Gt{"f.end_day": d}}).
		OrderBy("f.listing_key"))
}

// History returns every version of key, oldest first.
func (s *FactStore) History(ctx context.Context, key string) ([]models.ListingView, error) {
	return s.selectViews(ctx, s.viewQuery().
		Where(sq.Eq{"f.listing_key": key}).
		OrderBy("f.start_day", "f.sk"))
}

func (s *FactStore) viewQuery() sq.SelectBuilder {
	return s.db.Dialect.Builder().
		Select(viewColumns...).
		From("fact_listing f").
		Join("dim_property_type pt ON pt.property_type_id = f.property_type_id").
		Join("dim_location l ON l.location_id = f.location_id").
		Join("dim_posting_date d ON d.date_id = f.date_id")
}

func (s *FactStore) selectViews(ctx context.Context, b sq.SelectBuilder) ([]models.ListingView, error) {
	rows, err := queryBuilt(ctx, s.db, b)
	if err != nil {
		return nil, fmt.Errorf("facts: query listings: %w", err)
	}
	defer rows.Close()

	var out []models.ListingView
	for rows.Next() {
		var (
			v                            models.ListingView
			created, start, end, posting nullTime
		)
		dest := append(factDest(&v.FactVersion, &created, &start, &end),
			&v.PropertyType, &v.Street, &v.Ward, &v.District, &v.City, &v.OldAddress, &posting)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("facts: scan listing: %w", err)
		}
		setFactDates(&v.FactVersion, created, start, end)
		v.PostingDate = posting.Date()
		out = append(out, v)
	}
	return out, rows.Err()
}

// factDest returns scan destinations matching factColumns. The dates are
// scanned into the given holders and must be applied with setFactDates.
func factDest(v *models.FactVersion, created, start, end *nullTime) []any {
	return []any{
		&v.SK, &v.Key, &v.URL, &v.Name, &v.Price, &v.Area, &v.Bedrooms,
		&v.Floors, &v.Description, &v.StreetWidth, &v.PropertyTypeID,
		&v.LocationID, &v.DateID, created, start, end, &v.IsCurrent,
	}
}

func setFactDates(v *models.FactVersion, created, start, end nullTime) {
	v.CreateDate = created.Date()
	v.StartDay = start.Date()
	v.EndDay = end.DatePtr()
}
