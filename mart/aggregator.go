// Package mart mirrors the warehouse's current listings into the data mart
// and rebuilds the mart's aggregate tables from that mirror.
package mart

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bds-warehouse/models"
	"bds-warehouse/services"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
	"bds-warehouse/warehouse"
)

// Summary reports what one refresh wrote.
type Summary struct {
	Mirrored   int       `json:"mirrored"`
	Districts  int       `json:"districts"`
	TypeMonths int       `json:"type_months"`
	Snapshot   time.Time `json:"snapshot_date"`
}

// Aggregator refreshes the mart from the warehouse.
type Aggregator struct {
	facts    *storage.FactStore
	mart     *storage.MartStore
	resolver *warehouse.Resolver
	logger   *utils.Logger
}

// NewAggregator reads facts from warehouseDB and writes to martDB. The two
// may be the same database.
func NewAggregator(warehouseDB, martDB *storage.DB, logger *utils.Logger) *Aggregator {
	return &Aggregator{
		facts:    storage.NewFactStore(warehouseDB),
		mart:     storage.NewMartStore(martDB),
		resolver: warehouse.NewResolver(martDB, warehouse.MartTables, logger),
		logger:   logger,
	}
}

// Refresh upserts every current warehouse fact into the mart mirror, then
// replaces both aggregate tables with figures computed from the mirror's
// current rows. snapshot is stamped on the aggregates.
func (a *Aggregator) Refresh(ctx context.Context, snapshot time.Time) (Summary, error) {
	sum := Summary{Snapshot: models.DateOnly(snapshot)}

	current, err := a.facts.CurrentListings(ctx, storage.ListingFilter{})
	if err != nil {
		return sum, fmt.Errorf("mart: read warehouse: %w", err)
	}

	db := a.mart.DB()
	err = db.RunTx(ctx, func(tx *sql.Tx) error {
		for _, v := range current {
			f, err := a.mirror(ctx, tx, v)
			if err != nil {
				return err
			}
			if err := a.mart.UpsertFact(ctx, tx, f, snapshot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("mart: mirror facts: %w", err)
	}
	sum.Mirrored = len(current)

	facts, err := a.mart.CurrentFacts(ctx)
	if err != nil {
		return sum, err
	}
	districts := services.AggregateDistricts(facts, snapshot)
	typeMonths := services.AggregateTypeMonths(facts, snapshot)
	if err := a.mart.ReplaceAggregates(ctx, districts, typeMonths); err != nil {
		return sum, err
	}
	sum.Districts, sum.TypeMonths = len(districts), len(typeMonths)

	a.logger.Info("[mart] Mirrored %d listings, %d district and %d type-month aggregates",
		sum.Mirrored, sum.Districts, sum.TypeMonths)
	return sum, nil
}

// mirror converts a warehouse listing into its mart row, resolving the mart
// copies of its dimensions.
func (a *Aggregator) mirror(ctx context.Context, q storage.Querier, v models.ListingView) (models.MartFact, error) {
	typeID, err := a.resolver.Resolve(ctx, q, warehouse.PropertyTypeKey(v.PropertyType))
	if err != nil {
		return models.MartFact{}, err
	}
	locationID, err := a.resolver.Resolve(ctx, q, warehouse.LocationKey(v.Street, v.Ward, v.District, v.City, v.OldAddress))
	if err != nil {
		return models.MartFact{}, err
	}
	dateID, err := a.resolver.Resolve(ctx, q, warehouse.PostingDateKey(v.PostingDate))
	if err != nil {
		return models.MartFact{}, err
	}

	return models.MartFact{
		Key:            v.Key,
		Name:           v.Name,
		PropertyType:   v.PropertyType,
		City:           v.City,
		District:       v.District,
		PropertyTypeID: typeID,
		LocationID:     locationID,
		DateID:         dateID,
		Price:          v.Price,
		Area:           v.Area,
		PricePerM2:     PricePerM2(v.Price, v.Area),
		Bedrooms:       v.Bedrooms,
		Floors:         v.Floors,
		StreetWidth:    v.StreetWidth,
		PostingDate:    v.PostingDate,
		CreateDate:     v.CreateDate,
		StartDay:       v.StartDay,
		EndDay:         v.EndDay,
		IsCurrent:      v.IsCurrent,
	}, nil
}

// PricePerM2 is price divided by area, or nil unless both are positive.
func PricePerM2(price, area float64) *float64 {
	if price <= 0 || area <= 0 {
		return nil
	}
	v := price / area
	return &v
}
