package controlplane

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bds-warehouse/models"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
)

var clock = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type recordingAlerter struct {
	mu     sync.Mutex
	stages []string
	fail   bool
}

func (a *recordingAlerter) Alert(_ context.Context, stage string, _ error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stages = append(a.stages, stage)
	if a.fail {
		return errors.New("smtp down")
	}
	return nil
}

func newRunner(t *testing.T) (*Runner, *storage.ControlStore, *recordingAlerter) {
	t.Helper()
	control := storage.NewControlStore(storage.OpenMemory(t))
	alerter := &recordingAlerter{}
	r := NewRunner(control, alerter, utils.NewNopLogger())
	r.SetClock(func() time.Time { return clock })
	return r, control, alerter
}

func addBatch(t *testing.T, control *storage.ControlStore, path string, status models.BatchStatus) int64 {
	t.Helper()
	id, err := control.UpsertFile(context.Background(), models.FileRecord{
		Path: path, DataDate: clock, Status: status, Author: "System",
		CreatedAt: clock, UpdatedAt: clock,
	})
	require.NoError(t, err)
	return id
}

func mustStage(t *testing.T, name string) Stage {
	t.Helper()
	s, err := StageByName(name)
	require.NoError(t, err)
	return s
}

func TestTransitionTableIsExhaustive(t *testing.T) {
	allowed := map[[2]models.BatchStatus]bool{
		{models.BatchExtracted, models.BatchStaged}:                        true,
		{models.BatchExtracted, models.BatchStagingFailed}:                 true,
		{models.BatchStagingFailed, models.BatchStaged}:                    true,
		{models.BatchStagingFailed, models.BatchStagingFailed}:             true,
		{models.BatchStaged, models.BatchTransformed}:                      true,
		{models.BatchStaged, models.BatchTransformFailed}:                  true,
		{models.BatchTransformFailed, models.BatchTransformed}:             true,
		{models.BatchTransformFailed, models.BatchTransformFailed}:         true,
		{models.BatchTransformed, models.BatchLoadedToWarehouse}:           true,
		{models.BatchTransformed, models.BatchWarehouseLoadFailed}:         true,
		{models.BatchWarehouseLoadFailed, models.BatchLoadedToWarehouse}:   true,
		{models.BatchWarehouseLoadFailed, models.BatchWarehouseLoadFailed}: true,
		{models.BatchLoadedToWarehouse, models.BatchOK}:                    true,
		{models.BatchLoadedToWarehouse, models.BatchMartLoadFailed}:        true,
		{models.BatchMartLoadFailed, models.BatchOK}:                       true,
		{models.BatchMartLoadFailed, models.BatchMartLoadFailed}:           true,
	}

	for _, from := range models.AllBatchStatuses {
		for _, to := range models.AllBatchStatuses {
			// a crawl resets any batch of the same path to extracted
			want := allowed[[2]models.BatchStatus{from, to}] || to == models.BatchExtracted
			assert.Equal(t, want, ValidTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStageByNameUnknown(t *testing.T) {
	_, err := StageByName("publish")
	assert.True(t, errors.Is(err, ErrUnknownStage))
}

func TestProcessStatusTransitions(t *testing.T) {
	assert.True(t, models.ProcessPending.CanTransition(models.ProcessSuccess))
	assert.True(t, models.ProcessPending.CanTransition(models.ProcessFailure))
	assert.False(t, models.ProcessPending.CanTransition(models.ProcessPending))
	assert.False(t, models.ProcessSuccess.CanTransition(models.ProcessFailure))
	assert.False(t, models.ProcessFailure.CanTransition(models.ProcessSuccess))
}

func TestRunAdvancesOldestEligibleBatch(t *testing.T) {
	ctx := context.Background()
	r, control, _ := newRunner(t)
	older := addBatch(t, control, "a.csv", models.BatchTransformed)
	addBatch(t, control, "b.csv", models.BatchTransformed)

	var claimed int64
	res, err := r.Run(ctx, "", mustStage(t, StageLoadWarehouse), func(_ context.Context, b *models.FileRecord) (Report, error) {
		claimed = b.ID
		return Report{Detail: "3 inserted"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, older, claimed)
	assert.Equal(t, models.ProcessSuccess, res.Status)
	assert.NotEmpty(t, res.RunID)

	batch, err := control.GetFile(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, models.BatchLoadedToWarehouse, batch.Status)

	proc, err := control.GetProcess(ctx, res.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessSuccess, proc.Status)
	assert.Equal(t, StageLoadWarehouse, proc.Name)
	require.NotNil(t, proc.FileID)
	assert.Equal(t, older, *proc.FileID)
}

func TestRunFailureThenRetrySameBatch(t *testing.T) {
	ctx := context.Background()
	r, control, alerter := newRunner(t)
	first := addBatch(t, control, "a.csv", models.BatchTransformed)
	addBatch(t, control, "b.csv", models.BatchTransformed)
	stage := mustStage(t, StageLoadWarehouse)

	res, err := r.Run(ctx, "", stage, func(context.Context, *models.FileRecord) (Report, error) {
		return Report{}, errors.New("connection reset")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, models.ProcessFailure, res.Status)
	assert.Equal(t, []string{StageLoadWarehouse}, alerter.stages)

	batch, err := control.GetFile(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, models.BatchWarehouseLoadFailed, batch.Status)
	assert.Equal(t, "connection reset", batch.ErrorMessage)

	proc, err := control.GetProcess(ctx, res.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessFailure, proc.Status)
	assert.Equal(t, "connection reset", proc.ErrorMessage)

	var retried int64
	_, err = r.Run(ctx, "", stage, func(_ context.Context, b *models.FileRecord) (Report, error) {
		retried = b.ID
		return Report{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, first, retried, "retry must pick the failed batch, not the newer one")

	batch, err = control.GetFile(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, models.BatchLoadedToWarehouse, batch.Status)
	assert.Empty(t, batch.ErrorMessage)
}

func TestRunNoEligibleBatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	r, control, _ := newRunner(t)
	addBatch(t, control, "a.csv", models.BatchOK)

	called := false
	_, err := r.Run(ctx, "", mustStage(t, StageTransform), func(context.Context, *models.FileRecord) (Report, error) {
		called = true
		return Report{}, nil
	})
	assert.True(t, errors.Is(err, ErrNoEligibleBatch))
	assert.False(t, called)

	procs, err := control.ListProcesses(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, procs)
}

func TestRunSourceStageLinksProducedBatch(t *testing.T) {
	ctx := context.Background()
	r, control, _ := newRunner(t)

	res, err := r.Run(ctx, "run-42", mustStage(t, StageCrawl), func(_ context.Context, b *models.FileRecord) (Report, error) {
		assert.Nil(t, b)
		id := addBatch(t, control, "bds_01_06_2024.csv", models.BatchExtracted)
		return Report{FileID: id, Detail: "10 listings"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "run-42", res.RunID)

	proc, err := control.GetProcess(ctx, res.ProcessID)
	require.NoError(t, err)
	require.NotNil(t, proc.FileID)
	assert.Equal(t, models.ProcessSuccess, proc.Status)
}

func TestRunSuccessWritesAreAtomic(t *testing.T) {
	ctx := context.Background()
	r, control, _ := newRunner(t)
	id := addBatch(t, control, "a.csv", models.BatchTransformed)
	stage := mustStage(t, StageLoadWarehouse)

	// the batch update succeeds, then closing the process as success aborts
	_, err := control.DB().ExecContext(ctx, `CREATE TRIGGER reject_success
		BEFORE UPDATE OF status ON process_log
		WHEN NEW.status = 'SC'
		BEGIN SELECT RAISE(ABORT, 'process_log rejected success'); END`)
	require.NoError(t, err)

	res, err := r.Run(ctx, "", stage, func(context.Context, *models.FileRecord) (Report, error) {
		return Report{Detail: "1 inserted"}, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "process_log rejected success")
	assert.Equal(t, models.ProcessFailure, res.Status)

	batch, err := control.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BatchWarehouseLoadFailed, batch.Status)

	proc, err := control.GetProcess(ctx, res.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessFailure, proc.Status)

	retry, err := control.OldestFile(ctx, stage.Accepts)
	require.NoError(t, err)
	assert.Equal(t, id, retry.ID, "the batch must stay eligible for a retry")
}

func TestRunAlertFailureDoesNotMaskStageError(t *testing.T) {
	ctx := context.Background()
	r, control, alerter := newRunner(t)
	alerter.fail = true
	addBatch(t, control, "a.csv", models.BatchStaged)

	cause := errors.New("bad row")
	_, err := r.Run(ctx, "", mustStage(t, StageTransform), func(context.Context, *models.FileRecord) (Report, error) {
		return Report{}, cause
	})
	assert.True(t, errors.Is(err, cause))
}

func TestRunRecordsFailureAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, control, _ := newRunner(t)
	id := addBatch(t, control, "a.csv", models.BatchStaged)

	_, err := r.Run(ctx, "", mustStage(t, StageTransform), func(ctx context.Context, _ *models.FileRecord) (Report, error) {
		cancel()
		return Report{}, ctx.Err()
	})
	assert.True(t, errors.Is(err, context.Canceled))

	batch, err := control.GetFile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.BatchTransformFailed, batch.Status)
}

func TestRunRejectsConcurrentTrigger(t *testing.T) {
	ctx := context.Background()
	r, control, _ := newRunner(t)
	addBatch(t, control, "a.csv", models.BatchStaged)
	transform := mustStage(t, StageTransform)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, "", transform, func(context.Context, *models.FileRecord) (Report, error) {
			close(entered)
			<-release
			return Report{}, nil
		})
		done <- err
	}()

	<-entered
	_, err := r.Run(ctx, "", mustStage(t, StageLoadWarehouse), func(context.Context, *models.FileRecord) (Report, error) {
		return Report{}, nil
	})
	assert.True(t, errors.Is(err, ErrStageBusy))

	close(release)
	require.NoError(t, <-done)
}
