package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"bds-warehouse/models"
)

// MartStore persists the mart's fact mirror and aggregate tables.
type MartStore struct {
	db *DB
}

// NewMartStore wraps the mart database.
func NewMartStore(db *DB) *MartStore {
	return &MartStore{db: db}
}

// DB returns the underlying handle.
func (s *MartStore) DB() *DB { return s.db }

// UpsertFact inserts or refreshes the mirror row of f.Key.
func (s *MartStore) UpsertFact(ctx context.Context, q Querier, f models.MartFact, loadedAt time.Time) error {
	_, err := execBuilt(ctx, q, s.db.Dialect.Builder().
		Insert("mart_fact_listing").
		Columns("listing_key", "name", "property_type_id", "location_id", "date_id",
			"price", "area", "price_per_m2", "bedrooms", "floors", "street_width",
			"create_date", "start_day", "end_day", "is_current", "loaded_at").
		Values(f.Key, f.Name, f.PropertyTypeID, f.LocationID, f.DateID,
			f.Price, f.Area, nullableFloat(f.PricePerM2), f.Bedrooms, f.Floors, f.StreetWidth,
			DateArg(f.CreateDate), DateArg(f.StartDay), optionalDateArg(f.EndDay), f.IsCurrent,
			loadedAt.UTC()).
		Suffix(`ON CONFLICT (listing_key) DO UPDATE SET
			name = EXCLUDED.name,
			property_type_id = EXCLUDED.property_type_id,
			location_id = EXCLUDED.location_id,
			date_id = EXCLUDED.date_id,
			price = EXCLUDED.price,
			area = EXCLUDED.area,
			price_per_m2 = EXCLUDED.price_per_m2,
			bedrooms = EXCLUDED.bedrooms,
			floors = EXCLUDED.floors,
			street_width = EXCLUDED.street_width,
			create_date = EXCLUDED.create_date,
			start_day = EXCLUDED.start_day,
			end_day = EXCLUDED.end_day,
			is_current = EXCLUDED.is_current,
			loaded_at = EXCLUDED.loaded_at`))
	if err != nil {
		return fmt.Errorf("mart: upsert fact %q: %w", f.Key, err)
	}
	return nil
}

// CurrentFacts returns the current mirror rows joined to the mart dimensions.
func (s *MartStore) CurrentFacts(ctx context.Context) ([]models.MartFact, error) {
	rows, err := queryBuilt(ctx, s.db, s.db.Dialect.Builder().
		Select("f.listing_key", "f.name", "pt.type_name", "l.city", "l.district",
			"f.property_type_id", "f.location_id", "f.date_id", "f.price", "f.area",
			"f.price_per_m2", "f.bedrooms", "f.floors", "f.street_width", "d.posting_date",
			"f.create_date", "f.start_day", "f.end_day", "f.is_current").
		From("mart_fact_listing f").
		Join("mart_dim_property_type pt ON pt.property_type_id = f.property_type_id").
		Join("mart_dim_location l ON l.location_id = f.location_id").
		Join("mart_dim_posting_date d ON d.date_id = f.date_id").
		Where(sq.Eq{"f.is_current": true}).
		OrderBy("f.listing_key"))
	if err != nil {
		return nil, fmt.Errorf("mart: query facts: %w", err)
	}
	defer rows.Close()

	var out []models.MartFact
	for rows.Next() {
		var (
			f                            models.MartFact
			perM2                        sql.NullFloat64
			posting, created, start, end nullTime
		)
		if err := rows.Scan(&f.Key, &f.Name, &f.PropertyType, &f.City, &f.District,
			&f.PropertyTypeID, &f.LocationID, &f.DateID, &f.Price, &f.Area,
			&perM2, &f.Bedrooms, &f.Floors, &f.StreetWidth, &posting,
			&created, &start, &end, &f.IsCurrent); err != nil {
			return nil, fmt.Errorf("mart: scan fact: %w", err)
		}
		f.PricePerM2 = floatPtr(perM2)
		f.PostingDate = posting.Date()
		f.CreateDate = created.Date()
		f.StartDay = start.Date()
		f.EndDay = end.DatePtr()
		out = append(out, f)
	}
	return out, rows.Err()
}

// ReplaceAggregates rebuilds both aggregate tables in one transaction.
func (s *MartStore) ReplaceAggregates(ctx context.Context, districts []models.DistrictAggregate, typeMonths []models.TypeMonthAggregate) error {
	err := s.db.RunTx(ctx, func(tx *sql.Tx) error {
		b := s.db.Dialect.Builder()
		if _, err := execBuilt(ctx, tx, b.Delete("mart_agg_district")); err != nil {
			return fmt.Errorf("clear districts: %w", err)
		}
		if _, err := execBuilt(ctx, tx, b.Delete("mart_agg_type_month")); err != nil {
			return fmt.Errorf("clear type months: %w", err)
		}

		for _, a := range districts {
			if _, err := execBuilt(ctx, tx, b.Insert("mart_agg_district").
				Columns("city", "district", "listing_count", "avg_price", "avg_area",
					"avg_price_per_m2", "snapshot_date").
				Values(a.City, a.District, a.ListingCount, a.AvgPrice, a.AvgArea,
					nullableFloat(a.AvgPricePerM2), DateArg(a.SnapshotDate))); err != nil {
				return fmt.Errorf("insert district %s/%s: %w", a.City, a.District, err)
			}
		}
		for _, a := range typeMonths {
			if _, err := execBuilt(ctx, tx, b.Insert("mart_agg_type_month").
				Columns("property_type", "year", "month", "listing_count", "avg_price",
					"avg_area", "avg_price_per_m2", "snapshot_date").
				Values(a.PropertyType, a.Year, a.Month, a.ListingCount, a.AvgPrice,
					a.AvgArea, nullableFloat(a.AvgPricePerM2), DateArg(a.SnapshotDate))); err != nil {
				return fmt.Errorf("insert type month %s %d-%02d: %w", a.PropertyType, a.Year, a.Month, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mart: replace aggregates: %w", err)
	}
	return nil
}

// Districts returns the district aggregates, busiest first.
func (s *MartStore) Districts(ctx context.Context) ([]models.DistrictAggregate, error) {
	rows, err := queryBuilt(ctx, s.db, s.db.Dialect.Builder().
		Select("city", "district", "listing_count", "avg_price", "avg_area",
			"avg_price_per_m2", "snapshot_date").
		From("mart_agg_district").
		OrderBy("listing_count DESC", "city", "district"))
	if err != nil {
		return nil, fmt.Errorf("mart: query districts: %w", err)
	}
	defer rows.Close()

	var out []models.DistrictAggregate
	for rows.Next() {
		var (
			a        models.DistrictAggregate
			perM2    sql.NullFloat64
			snapshot nullTime
		)
		if err := rows.Scan(&a.City, &a.District, &a.ListingCount, &a.AvgPrice, &a.AvgArea,
			&perM2, &snapshot); err != nil {
			return nil, fmt.Errorf("mart: scan district: %w", err)
		}
		a.AvgPricePerM2 = floatPtr(perM2)
		a.SnapshotDate = snapshot.Date()
		out = append(out, a)
	}
	return out, rows.Err()
}

// TypeMonths returns the property-type/month aggregates in calendar order.
func (s *MartStore) TypeMonths(ctx context.Context) ([]models.TypeMonthAggregate, error) {
	rows, err := queryBuilt(ctx, s.db, s.db.Dialect.Builder().
		Select("property_type", "year", "month", "listing_count", "avg_price", "avg_area",
			"avg_price_per_m2", "snapshot_date").
		From("mart_agg_type_month").
		OrderBy("year", "month", "property_type"))
	if err != nil {
		return nil, fmt.Errorf("mart: query type months: %w", err)
	}
	defer rows.Close()

	var out []models.TypeMonthAggregate
	for rows.Next() {
		var (
			a        models.TypeMonthAggregate
			perM2    sql.NullFloat64
			snapshot nullTime
		)
		if err := rows.Scan(&a.PropertyType, &a.Year, &a.Month, &a.ListingCount, &a.AvgPrice,
			&a.AvgArea, &perM2, &snapshot); err != nil {
			return nil, fmt.Errorf("mart: scan type month: %w", err)
		}
		a.AvgPricePerM2 = floatPtr(perM2)
		a.SnapshotDate = snapshot.Date()
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
