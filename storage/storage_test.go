package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bds-warehouse/models"
)

var day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newFile(path string, status models.BatchStatus) models.FileRecord {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	return models.FileRecord{
		Path: path, DataDate: day1, RowCount: 2, Checksum: "abc",
		Status: status, Author: "System", CreatedAt: now, UpdatedAt: now,
	}
}

func TestUpsertFileByPath(t *testing.T) {
	ctx := context.Background()
	s := NewControlStore(OpenMemory(t))

	id1, err := s.UpsertFile(ctx, newFile("data/bds_01_03_2024.csv", models.BatchExtracted))
	require.NoError(t, err)
	require.NoError(t, s.SetFileStatus(ctx, s.DB(), id1, models.BatchStagingFailed, "boom", day1))

	rec := newFile("data/bds_01_03_2024.csv", models.BatchExtracted)
	rec.RowCount = 5
	id2, err := s.UpsertFile(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same path must update the same row")

	got, err := s.GetFile(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, 5, got.RowCount)
	assert.Equal(t, models.BatchExtracted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, day1, got.DataDate)
}

func TestOldestFile(t *testing.T) {
	ctx := context.Background()
	s := NewControlStore(OpenMemory(t))

	_, err := s.UpsertFile(ctx, newFile("a.csv", models.BatchOK))
	require.NoError(t, err)
	idB, err := s.UpsertFile(ctx, newFile("b.csv", models.BatchStagingFailed))
	require.NoError(t, err)
	_, err = s.UpsertFile(ctx, newFile("c.csv", models.BatchExtracted))
	require.NoError(t, err)

	got, err := s.OldestFile(ctx, []models.BatchStatus{models.BatchExtracted, models.BatchStagingFailed})
	require.NoError(t, err)
	assert.Equal(t, idB, got.ID)

	_, err = s.OldestFile(ctx, []models.BatchStatus{models.BatchTransformed})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestProcessLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewControlStore(OpenMemory(t))

	fileID, err := s.UpsertFile(ctx, newFile("a.csv", models.BatchExtracted))
	require.NoError(t, err)

	pid, err := s.CreateProcess(ctx, models.ProcessRecord{
		RunID: "run-1", FileID: &fileID, Name: "load_staging",
		Status: models.ProcessPending, StartedAt: day1, UpdatedAt: day1,
	})
	require.NoError(t, err)
	require.NoError(t, s.FinishProcess(ctx, s.DB(), pid, models.ProcessFailure, "disk full", nil, day1.Add(time.Minute)))

	p, err := s.GetProcess(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessFailure, p.Status)
	assert.Equal(t, "disk full", p.ErrorMessage)
	require.NotNil(t, p.FileID)
	assert.Equal(t, fileID, *p.FileID)

	list, err := s.ListProcesses(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	err = s.FinishProcess(ctx, s.DB(), 999, models.ProcessSuccess, "", nil, day1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStagingReplaceIsScopedToFile(t *testing.T) {
	ctx := context.Background()
	s := NewStagingStore(OpenMemory(t))

	require.NoError(t, s.ReplaceRaw(ctx, 1, []models.RawListing{{Key: "a"}, {Key: "b"}}))
	require.NoError(t, s.ReplaceRaw(ctx, 2, []models.RawListing{{Key: "c"}}))
	require.NoError(t, s.ReplaceRaw(ctx, 1, []models.RawListing{{Key: "d", Price: "2 tỷ"}}))

	rows1, err := s.RawRows(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows1, 1)
	assert.Equal(t, "d", rows1[0].Key)
	assert.Equal(t, "2 tỷ", rows1[0].Price)

	rows2, err := s.RawRows(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, rows2, 1)
}

func TestStagedRowsRoundTripDates(t *testing.T) {
	ctx := context.Background()
	s := NewStagingStore(OpenMemory(t))

	in := []models.StagedListing{
		{Key: "a", Price: 2e9, Area: 50, Bedrooms: 2, PostingDate: day1, CreateDate: day1},
		{Key: "b"},
	}
	require.NoError(t, s.ReplaceStaged(ctx, 3, in))

	out, err := s.StagedRows(ctx, 3)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, day1, out[0].PostingDate)
	assert.Equal(t, 2e9, out[0].Price)
	assert.True(t, out[1].PostingDate.IsZero())
	assert.True(t, out[0].ID < out[1].ID)
}

func TestInsertDimensionConflict(t *testing.T) {
	ctx := context.Background()
	db := OpenMemory(t)
	table := DimensionTable{Name: "dim_property_type", IDColumn: "property_type_id"}
	key := []Attr{{Column: "type_name", Value: "Nhà phố"}}

	_, found, err := db.LookupDimension(ctx, db, table, key)
	require.NoError(t, err)
	assert.False(t, found)

	id, err := db.InsertDimension(ctx, db, table, key)
	require.NoError(t, err)

	got, found, err := db.LookupDimension(ctx, db, table, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	_, err = db.InsertDimension(ctx, db, table, key)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestBatchFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "bds_01_03_2024.csv")
	in := []models.RawListing{
		{Key: "1", Name: "Nhà, mặt tiền", Price: "3,5 tỷ", City: "Hồ Chí Minh"},
		{Key: "2", Description: "line one\nline two"},
	}
	require.NoError(t, WriteBatch(path, in))

	out, err := ReadBatch(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	sum1, err := Checksum(path)
	require.NoError(t, err)
	assert.Len(t, sum1, 16)

	require.NoError(t, WriteBatch(path, in[:1]))
	sum2, err := Checksum(path)
	require.NoError(t, err)
	assert.NotEqual(t, sum1, sum2)
}

func TestReadBatchMissing(t *testing.T) {
	_, err := ReadBatch(filepath.Join(t.TempDir(), "nope.csv"))
	assert.True(t, errors.Is(err, ErrBatchFileMissing))
}

func TestNullTimeScan(t *testing.T) {
	var n nullTime
	require.NoError(t, n.Scan("2024-03-01"))
	assert.Equal(t, day1, n.Date())

	require.NoError(t, n.Scan([]byte("2024-03-01 10:00:00 +0000 UTC m=+0.001")))
	assert.Equal(t, day1, n.Date())

	require.NoError(t, n.Scan(nil))
	assert.False(t, n.Valid)
	assert.Nil(t, n.DatePtr())

	assert.Error(t, n.Scan(42))
}
