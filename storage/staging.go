package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"bds-warehouse/models"
)

const insertBatchSize = 50

var rawColumns = []string{
	"file_id", "listing_key", "url", "name", "price", "area", "bedrooms", "floors",
	"street_width", "description", "old_address", "street", "ward", "district",
	"city", "property_type", "posting_date", "crawl_date",
}

var stagedColumns = []string{
	"file_id", "listing_key", "url", "name", "price", "area", "bedrooms", "floors",
	"street_width", "description", "property_type", "old_address", "street",
	"ward", "district", "city", "posting_date", "create_date",
}

// StagingStore holds the raw and normalized rows of each batch. Rows are
// tagged with the batch's file id, so reloading a batch replaces only its own
// rows.
type StagingStore struct {
	db *DB
}

// NewStagingStore wraps the staging database.
func NewStagingStore(db *DB) *StagingStore {
	return &StagingStore{db: db}
}

// ReplaceRaw swaps the raw rows of a batch in one transaction.
func (s *StagingStore) ReplaceRaw(ctx context.Context, fileID int64, rows []models.RawListing) error {
	err := s.db.RunTx(ctx, func(tx *sql.Tx) error {
		if _, err := execBuilt(ctx, tx, s.db.Dialect.Builder().
			Delete("staging_raw").Where(sq.Eq{"file_id": fileID})); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		for i := 0; i < len(rows); i += insertBatchSize {
			end := min(i+insertBatchSize, len(rows))
			b := s.db.Dialect.Builder().Insert("staging_raw").Columns(rawColumns...)
			for _, r := range rows[i:end] {
				b = b.Values(fileID, r.Key, r.URL, r.Name, r.Price, r.Area, r.Bedrooms, r.Floors,
					r.StreetWidth, r.Description, r.OldAddress, r.Street, r.Ward, r.District,
					r.City, r.PropertyType, r.PostingDate, r.CrawlDate)
			}
			if _, err := execBuilt(ctx, tx, b); err != nil {
				return fmt.Errorf("insert batch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("staging: replace raw rows of file %d: %w", fileID, err)
	}
	return nil
}

// RawRows returns the raw rows of a batch in load order.
func (s *StagingStore) RawRows(ctx context.Context, fileID int64) ([]models.RawListing, error) {
	rows, err := queryBuilt(ctx, s.db, s.db.Dialect.Builder().
		Select(rawColumns[1:]...).From("staging_raw").
		Where(sq.Eq{"file_id": fileID}).OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("staging: query raw rows: %w", err)
	}
	defer rows.Close()

	var out []models.RawListing
	for rows.Next() {
		var r models.RawListing
		if err := rows.Scan(&r.Key, &r.URL, &r.Name, &r.Price, &r.Area, &r.Bedrooms, &r.Floors,
			&r.StreetWidth, &r.Description, &r.OldAddress, &r.Street, &r.Ward, &r.District,
			&r.City, &r.PropertyType, &r.PostingDate, &r.CrawlDate); err != nil {
			return nil, fmt.Errorf("staging: scan raw row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceStaged swaps the normalized rows of a batch in one transaction.
func (s *StagingStore) ReplaceStaged(ctx context.Context, fileID int64, rows []models.StagedListing) error {
	err := s.db.RunTx(ctx, func(tx *sql.Tx) error {
		if _, err := execBuilt(ctx, tx, s.db.Dialect.Builder().
			Delete("staging_listing").Where(sq.Eq{"file_id": fileID})); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		for i := 0; i < len(rows); i += insertBatchSize {
			end := min(i+insertBatchSize, len(rows))
			b := s.db.Dialect.Builder().Insert("staging_listing").Columns(stagedColumns...)
			for _, l := range rows[i:end] {
				b = b.Values(fileID, l.Key, l.URL, l.Name, l.Price, l.Area, l.Bedrooms, l.Floors,
					l.StreetWidth, l.Description, l.PropertyType, l.OldAddress, l.Street,
					l.Ward, l.District, l.City, nullDateArg(l.PostingDate), nullDateArg(l.CreateDate))
			}
			if _, err := execBuilt(ctx, tx, b); err != nil {
				return fmt.Errorf("insert batch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("staging: replace staged rows of file %d: %w", fileID, err)
	}
	return nil
}

// StagedRows returns the normalized rows of a batch in id order.
func (s *StagingStore) StagedRows(ctx context.Context, fileID int64) ([]models.StagedListing, error) {
	rows, err := queryBuilt(ctx, s.db, s.db.Dialect.Builder().
		Select(append([]string{"id"}, stagedColumns...)...).From("staging_listing").
		Where(sq.Eq{"file_id": fileID}).OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("staging: query staged rows: %w", err)
	}
	defer rows.Close()

	var out []models.StagedListing
	for rows.Next() {
		var (
			l                   models.StagedListing
			posting, createDate nullTime
		)
		if err := rows.Scan(&l.ID, &l.FileID, &l.Key, &l.URL, &l.Name, &l.Price, &l.Area,
			&l.Bedrooms, &l.Floors, &l.StreetWidth, &l.Description, &l.PropertyType,
			&l.OldAddress, &l.Street, &l.Ward, &l.District, &l.City, &posting, &createDate); err != nil {
			return nil, fmt.Errorf("staging: scan staged row: %w", err)
		}
		if posting.Valid {
			l.PostingDate = posting.Date()
		}
		if createDate.Valid {
			l.CreateDate = createDate.Date()
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
