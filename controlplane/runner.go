package controlplane

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bds-warehouse/metrics"
	"bds-warehouse/models"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
)

// Report is what a stage's work hands back to the runner.
type Report struct {
	// FileID is the batch a source stage produced.
	FileID int64
	Detail string
}

// Work performs one stage on the claimed batch. batch is nil for source
// stages.
type Work func(ctx context.Context, batch *models.FileRecord) (Report, error)

// Result describes a finished stage invocation.
type Result struct {
	RunID     string               `json:"run_id"`
	Stage     string               `json:"stage"`
	ProcessID int64                `json:"process_id"`
	Status    models.ProcessStatus `json:"status"`
	Batch     *models.FileRecord   `json:"batch,omitempty"`
	Detail    string               `json:"detail,omitempty"`
	Error     string               `json:"error,omitempty"`
	// Skipped is set by callers that treat ErrNoEligibleBatch as a no-op.
	Skipped bool `json:"skipped,omitempty"`
}

// Runner claims batches, records process outcomes and advances batch
// statuses. One Runner serializes all stage invocations of a process.
type Runner struct {
	control *storage.ControlStore
	alerter Alerter
	logger  *utils.Logger
	now     func() time.Time
	mu      sync.Mutex
}

// NewRunner returns a Runner recording to control. A nil alerter logs alerts.
func NewRunner(control *storage.ControlStore, alerter Alerter, logger *utils.Logger) *Runner {
	if alerter == nil {
		alerter = NewLogAlerter(logger)
	}
	return &Runner{control: control, alerter: alerter, logger: logger, now: time.Now}
}

// SetClock replaces the runner's clock.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// Now returns the runner's current time.
func (r *Runner) Now() time.Time { return r.now() }

// Run executes one invocation of stage. A failing work function marks the
// batch with the stage's failure status, records the error on the batch and
// the process, raises an alert, and is returned to the caller. An empty
// runID starts a new run.
func (r *Runner) Run(ctx context.Context, runID string, stage Stage, work Work) (*Result, error) {
	if !r.mu.TryLock() {
		return nil, fmt.Errorf("%w: cannot start %s", ErrStageBusy, stage.Name)
	}
	defer r.mu.Unlock()

	if runID == "" {
		runID = uuid.NewString()
	}

	var batch *models.FileRecord
	if !stage.Source() {
		b, err := r.control.OldestFile(ctx, stage.Accepts)
		if errors.Is(err, storage.ErrNotFound) {
			metrics.StageRunsTotal.WithLabelValues(stage.Name, "skipped").Inc()
			r.logger.Info("[controlplane] %s: no batch in %v", stage.Name, stage.Accepts)
			return nil, fmt.Errorf("%w for %s", ErrNoEligibleBatch, stage.Name)
		}
		if err != nil {
			return nil, err
		}
		if err := stage.CheckTransition(b.Status, stage.OnSuccess); err != nil {
			return nil, err
		}
		batch = b
	}

	started := r.now()
	proc := models.ProcessRecord{
		RunID:     runID,
		Name:      stage.Name,
		Status:    models.ProcessPending,
		StartedAt: started,
		UpdatedAt: started,
	}
	if batch != nil {
		proc.FileID = &batch.ID
	}
	pid, err := r.control.CreateProcess(ctx, proc)
	if err != nil {
		return nil, err
	}
	proc.ID = pid

	if batch != nil {
		r.logger.Info("[controlplane] %s: claimed batch %d (%s, %s)", stage.Name, batch.ID, batch.Path, batch.Status)
	} else {
		r.logger.Info("[controlplane] %s: started (run %s)", stage.Name, runID)
	}

	report, workErr := work(ctx, batch)
	if workErr == nil {
		workErr = r.succeed(ctx, stage, &proc, batch, report)
	}
	metrics.StageDuration.WithLabelValues(stage.Name).Observe(r.now().Sub(started).Seconds())

	result := &Result{RunID: runID, Stage: stage.Name, ProcessID: pid, Batch: batch, Detail: report.Detail}
	if workErr != nil {
		r.fail(ctx, stage, &proc, batch, workErr)
		result.Status, result.Error = models.ProcessFailure, workErr.Error()
		return result, fmt.Errorf("controlplane: stage %s failed: %w", stage.Name, workErr)
	}

	result.Status = models.ProcessSuccess
	return result, nil
}

// succeed advances the batch and closes the process in one control-store
// transaction, so a failed write leaves both at their previous status.
func (r *Runner) succeed(ctx context.Context, stage Stage, proc *models.ProcessRecord, batch *models.FileRecord, report Report) error {
	if !proc.Status.CanTransition(models.ProcessSuccess) {
		return fmt.Errorf("%w: process %d %s -> %s", ErrInvalidTransition, proc.ID, proc.Status, models.ProcessSuccess)
	}
	now := r.now()

	var fileID *int64
	if batch == nil && report.FileID != 0 {
		fileID = &report.FileID
	}

	err := r.control.DB().RunTx(ctx, func(tx *sql.Tx) error {
		if batch != nil {
			if err := r.control.SetFileStatus(ctx, tx, batch.ID, stage.OnSuccess, "", now); err != nil {
				return err
			}
		}
		return r.control.FinishProcess(ctx, tx, proc.ID, models.ProcessSuccess, "", fileID, now)
	})
	if err != nil {
		return err
	}

	if batch != nil {
		batch.Status, batch.ErrorMessage, batch.UpdatedAt = stage.OnSuccess, "", now
	}
	proc.Status = models.ProcessSuccess

	metrics.StageRunsTotal.WithLabelValues(stage.Name, "success").Inc()
	r.logger.Info("[controlplane] %s: success %s", stage.Name, report.Detail)
	return nil
}

// fail records a stage failure. Recording uses a context detached from
// cancellation, so a cancelled stage still leaves a terminal record.
func (r *Runner) fail(ctx context.Context, stage Stage, proc *models.ProcessRecord, batch *models.FileRecord, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := r.now()
	msg := cause.Error()

	metrics.StageRunsTotal.WithLabelValues(stage.Name, "failure").Inc()
	r.logger.Error("[controlplane] %s: failed: %v", stage.Name, cause)

	if batch != nil && stage.OnFailure != "" {
		if err := stage.CheckTransition(batch.Status, stage.OnFailure); err != nil {
			r.logger.Error("[controlplane] %s: %v", stage.Name, err)
		} else if err := r.control.SetFileStatus(ctx, r.control.DB(), batch.ID, stage.OnFailure, msg, now); err != nil {
			r.logger.Error("[controlplane] %s: recording batch %d failure: %v", stage.Name, batch.ID, err)
		} else {
			batch.Status, batch.ErrorMessage, batch.UpdatedAt = stage.OnFailure, msg, now
		}
	}

	if proc.Status.CanTransition(models.ProcessFailure) {
		if err := r.control.FinishProcess(ctx, r.control.DB(), proc.ID, models.ProcessFailure, msg, nil, now); err != nil {
			r.logger.Error("[controlplane] %s: recording process %d failure: %v", stage.Name, proc.ID, err)
		} else {
			proc.Status = models.ProcessFailure
		}
	}

	if err := r.alerter.Alert(ctx, stage.Name, cause); err != nil {
		r.logger.Error("[controlplane] %s: alert delivery failed: %v", stage.Name, err)
	}
}
