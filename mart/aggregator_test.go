package mart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bds-warehouse/models"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
	"bds-warehouse/warehouse"
)

var (
	day1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
)

func staged(key, district string, price, area float64) models.StagedListing {
	return models.StagedListing{
		Key:          key,
		Name:         "Bán nhà " + key,
		Price:        price,
		Area:         area,
		PropertyType: "Nhà phố",
		District:     district,
		City:         "Hồ Chí Minh",
		PostingDate:  day1,
		CreateDate:   day1,
	}
}

func load(t *testing.T, db *storage.DB, day time.Time, rows ...models.StagedListing) {
	t.Helper()
	v := warehouse.NewVersioner(db, utils.NewNopLogger())
	for _, r := range rows {
		_, err := v.Apply(context.Background(), r, day)
		require.NoError(t, err)
	}
}

func TestPricePerM2(t *testing.T) {
	got := PricePerM2(5e9, 50)
	require.NotNil(t, got)
	assert.Equal(t, 1e8, *got)
	assert.Nil(t, PricePerM2(0, 50))
	assert.Nil(t, PricePerM2(5e9, 0))
}

func TestRefreshBuildsMirrorAndAggregates(t *testing.T) {
	ctx := context.Background()
	db := storage.OpenMemory(t)
	load(t, db, day1,
		staged("a", "Quận 1", 4e9, 40),
		staged("b", "Quận 1", 2e9, 0),
		staged("c", "Quận 7", 3e9, 60),
	)

	agg := NewAggregator(db, db, utils.NewNopLogger())
	sum, err := agg.Refresh(ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Mirrored)
	assert.Equal(t, 2, sum.Districts)
	assert.Equal(t, 1, sum.TypeMonths)

	store := storage.NewMartStore(db)
	facts, err := store.CurrentFacts(ctx)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Nil(t, facts[1].PricePerM2, "zero area leaves price_per_m2 null")
	require.NotNil(t, facts[0].PricePerM2)
	assert.Equal(t, 1e8, *facts[0].PricePerM2)

	districts, err := store.Districts(ctx)
	require.NoError(t, err)
	require.Len(t, districts, 2)
	assert.Equal(t, "Quận 1", districts[0].District)
	assert.Equal(t, 2, districts[0].ListingCount)
	assert.InDelta(t, 3e9, districts[0].AvgPrice, 1e-3)
	require.NotNil(t, districts[0].AvgPricePerM2)
	assert.InDelta(t, 1e8, *districts[0].AvgPricePerM2, 1e-3)
	assert.Equal(t, day1, districts[0].SnapshotDate)

	months, err := store.TypeMonths(ctx)
	require.NoError(t, err)
	require.Len(t, months, 1)
	assert.Equal(t, "Nhà phố", months[0].PropertyType)
	assert.Equal(t, 2024, months[0].Year)
	assert.Equal(t, 5, months[0].Month)
	assert.Equal(t, 3, months[0].ListingCount)
}

func TestRefreshFollowsSupersededVersions(t *testing.T) {
	ctx := context.Background()
	db := storage.OpenMemory(t)
	load(t, db, day1, staged("a", "Quận 1", 4e9, 40))

	agg := NewAggregator(db, db, utils.NewNopLogger())
	_, err := agg.Refresh(ctx, day1)
	require.NoError(t, err)

	load(t, db, day2, staged("a", "Quận 3", 5e9, 50))
	_, err = agg.Refresh(ctx, day2)
	require.NoError(t, err)

	store := storage.NewMartStore(db)
	facts, err := store.CurrentFacts(ctx)
	require.NoError(t, err)
	require.Len(t, facts, 1, "mirror is keyed by listing, not by version")
	assert.Equal(t, "Quận 3", facts[0].District)
	assert.Equal(t, 5e9, facts[0].Price)
	assert.Equal(t, day2, facts[0].StartDay)

	districts, err := store.Districts(ctx)
	require.NoError(t, err)
	require.Len(t, districts, 1, "aggregates are rebuilt, not appended")
	assert.Equal(t, "Quận 3", districts[0].District)
	assert.Equal(t, day2, districts[0].SnapshotDate)

	n, err := db.CountRows(ctx, "mart_dim_location")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := storage.OpenMemory(t)
	load(t, db, day1, staged("a", "Quận 1", 4e9, 40), staged("b", "Quận 7", 1e9, 20))

	agg := NewAggregator(db, db, utils.NewNopLogger())
	_, err := agg.Refresh(ctx, day1)
	require.NoError(t, err)
	_, err = agg.Refresh(ctx, day1)
	require.NoError(t, err)

	for table, want := range map[string]int{
		"mart_fact_listing":      2,
		"mart_dim_property_type": 1,
		"mart_dim_location":      2,
		"mart_dim_posting_date":  1,
		"mart_agg_district":      2,
		"mart_agg_type_month":    1,
	} {
		n, err := db.CountRows(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, want, n, table)
	}
}

func TestRefreshEmptyWarehouse(t *testing.T) {
	db := storage.OpenMemory(t)
	sum, err := NewAggregator(db, db, utils.NewNopLogger()).Refresh(context.Background(), day1)
	require.NoError(t, err)
	assert.Zero(t, sum.Mirrored)
	assert.Zero(t, sum.Districts)
}
