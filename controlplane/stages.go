package controlplane

import (
	"errors"
	"fmt"
	"slices"

	"bds-warehouse/models"
)

var (
	// ErrNoEligibleBatch means no batch is in a status the stage accepts.
	// No process record is written in that case.
	ErrNoEligibleBatch = errors.New("controlplane: no eligible batch")
	// ErrStageBusy means another stage invocation holds the runner.
	ErrStageBusy = errors.New("controlplane: a stage is already running")
	// ErrInvalidTransition means a status change is not in the transition table.
	ErrInvalidTransition = errors.New("controlplane: invalid status transition")
	// ErrUnknownStage means the stage name is not part of the pipeline.
	ErrUnknownStage = errors.New("controlplane: unknown stage")
)

// Stage names, also stored as process_log.process_name.
const (
	StageCrawl         = "crawl"
	StageLoadStaging   = "load_staging"
	StageTransform     = "transform"
	StageLoadWarehouse = "load_warehouse"
	StageLoadMart      = "load_mart"
)

// Stage describes where a pipeline step sits in the batch lifecycle.
type Stage struct {
	Name string
	// Accepts lists the batch statuses the stage picks up. A stage with no
	// accepted statuses is a source: it produces batches instead of claiming one.
	Accepts   []models.BatchStatus
	OnSuccess models.BatchStatus
	// OnFailure is empty for source stages, whose failures touch no batch.
	OnFailure models.BatchStatus
}

// Stages in pipeline order. Every consuming stage re-accepts its own failure
// marker, so a failed batch stays eligible for retry.
var Stages = []Stage{
	{
		Name:      StageCrawl,
		OnSuccess: models.BatchExtracted,
	},
	{
		Name:      StageLoadStaging,
		Accepts:   []models.BatchStatus{models.BatchExtracted, models.BatchStagingFailed},
		OnSuccess: models.BatchStaged,
		OnFailure: models.BatchStagingFailed,
	},
	{
		Name:      StageTransform,
		Accepts:   []models.BatchStatus{models.BatchStaged, models.BatchTransformFailed},
		OnSuccess: models.BatchTransformed,
		OnFailure: models.BatchTransformFailed,
	},
	{
		Name:      StageLoadWarehouse,
		Accepts:   []models.BatchStatus{models.BatchTransformed, models.BatchWarehouseLoadFailed},
		OnSuccess: models.BatchLoadedToWarehouse,
		OnFailure: models.BatchWarehouseLoadFailed,
	},
	{
		Name:      StageLoadMart,
		Accepts:   []models.BatchStatus{models.BatchLoadedToWarehouse, models.BatchMartLoadFailed},
		OnSuccess: models.BatchOK,
		OnFailure: models.BatchMartLoadFailed,
	},
}

// StageByName looks a stage up by its process name.
func StageByName(name string) (Stage, error) {
	for _, s := range Stages {
		if s.Name == name {
			return s, nil
		}
	}
	return Stage{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// Source reports whether the stage produces batches rather than consuming one.
func (s Stage) Source() bool {
	return len(s.Accepts) == 0
}

// Eligible reports whether a batch in status can be claimed by s.
func (s Stage) Eligible(status models.BatchStatus) bool {
	return slices.Contains(s.Accepts, status)
}

// CheckTransition validates that s may move a batch from one status to another.
func (s Stage) CheckTransition(from, to models.BatchStatus) error {
	if s.Source() {
		// a re-crawl of a known path resets its batch whatever its status
		if to == s.OnSuccess {
			return nil
		}
	} else if s.Eligible(from) && (to == s.OnSuccess || to == s.OnFailure) {
		return nil
	}
	return fmt.Errorf("%w: stage %s cannot move batch %s -> %s", ErrInvalidTransition, s.Name, from, to)
}

// ValidTransition reports whether any stage may move a batch from one status
// to another.
func ValidTransition(from, to models.BatchStatus) bool {
	for _, s := range Stages {
		if s.CheckTransition(from, to) == nil {
			return true
		}
	}
	return false
}
