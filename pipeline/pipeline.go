// Package pipeline binds each control-plane stage to the work it performs
// and runs the stages in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"bds-warehouse/config"
	"bds-warehouse/controlplane"
	"bds-warehouse/mart"
	"bds-warehouse/models"
	"bds-warehouse/services"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
	"bds-warehouse/warehouse"
)

var (
	// ErrNothingCrawled means a crawl produced no listings.
	ErrNothingCrawled = errors.New("pipeline: crawl returned no listings")
	// ErrChecksumMismatch means a batch file changed after it was registered.
	ErrChecksumMismatch = errors.New("pipeline: batch file checksum mismatch")
)

// ListingSource produces the raw listings of one crawl.
type ListingSource interface {
	Crawl(ctx context.Context) ([]models.RawListing, error)
}

// Pipeline owns the stores and collaborators every stage needs.
type Pipeline struct {
	dataDir string
	author  string

	source     ListingSource
	runner     *controlplane.Runner
	control    *storage.ControlStore
	staging    *storage.StagingStore
	cleaner    *services.Cleaner
	loader     *warehouse.Loader
	aggregator *mart.Aggregator
	logger     *utils.Logger
}

// New wires a Pipeline over stores. A nil source disables the crawl stage;
// a nil alerter logs alerts.
func New(cfg *config.Config, stores *storage.Stores, source ListingSource, alerter controlplane.Alerter, logger *utils.Logger) *Pipeline {
	control := storage.NewControlStore(stores.Control)
	return &Pipeline{
		dataDir:    cfg.DataDir,
		author:     cfg.Author,
		source:     source,
		runner:     controlplane.NewRunner(control, alerter, logger),
		control:    control,
		staging:    storage.NewStagingStore(stores.Staging),
		cleaner:    services.NewCleaner(logger),
		loader:     warehouse.NewLoader(warehouse.NewVersioner(stores.Warehouse, logger), logger),
		aggregator: mart.NewAggregator(stores.Warehouse, stores.Mart, logger),
		logger:     logger,
	}
}

// Runner exposes the stage runner, e.g. to set its clock.
func (p *Pipeline) Runner() *controlplane.Runner { return p.runner }

// RunStage runs one stage by name. An empty runID starts a new run.
func (p *Pipeline) RunStage(ctx context.Context, runID, name string) (*controlplane.Result, error) {
	stage, err := controlplane.StageByName(name)
	if err != nil {
		return nil, err
	}
	work, err := p.work(stage.Name)
	if err != nil {
		return nil, err
	}
	return p.runner.Run(ctx, runID, stage, work)
}

// RunAll runs every stage once, in pipeline order, under one run id. Stages
// with nothing to do are reported as skipped; the first failure stops the
// run.
func (p *Pipeline) RunAll(ctx context.Context) ([]*controlplane.Result, error) {
	runID := uuid.NewString()
	var results []*controlplane.Result

	for _, stage := range controlplane.Stages {
		if stage.Name == controlplane.StageCrawl && p.source == nil {
			continue
		}
		res, err := p.RunStage(ctx, runID, stage.Name)
		if errors.Is(err, controlplane.ErrNoEligibleBatch) {
			results = append(results, &controlplane.Result{RunID: runID, Stage: stage.Name, Skipped: true})
			continue
		}
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
	}
	p.logger.Info("[pipeline] Run %s finished: %d stages", runID, len(results))
	return results, nil
}

func (p *Pipeline) work(stage string) (controlplane.Work, error) {
	switch stage {
	case controlplane.StageCrawl:
		if p.source == nil {
			return nil, fmt.Errorf("pipeline: no listing source configured")
		}
		return p.crawl, nil
	case controlplane.StageLoadStaging:
		return p.loadStaging, nil
	case controlplane.StageTransform:
		return p.transform, nil
	case controlplane.StageLoadWarehouse:
		return p.loadWarehouse, nil
	case controlplane.StageLoadMart:
		return p.loadMart, nil
	}
	return nil, fmt.Errorf("%w: %q", controlplane.ErrUnknownStage, stage)
}

// BatchPath returns the batch file of the given crawl day.
func (p *Pipeline) BatchPath(day time.Time) string {
	return filepath.Join(p.dataDir, fmt.Sprintf("bds_%s.csv", day.Format("02_01_2006")))
}

// crawl merges fresh listings into the day's batch file and registers it as
// extracted. A listing crawled again the same day replaces its earlier row.
func (p *Pipeline) crawl(ctx context.Context, _ *models.FileRecord) (controlplane.Report, error) {
	fresh, err := p.source.Crawl(ctx)
	if err != nil {
		return controlplane.Report{}, err
	}
	if len(fresh) == 0 {
		return controlplane.Report{}, ErrNothingCrawled
	}

	now := p.runner.Now()
	path := p.BatchPath(now)
	existing, err := storage.ReadBatch(path)
	if err != nil && !errors.Is(err, storage.ErrBatchFileMissing) {
		return controlplane.Report{}, err
	}
	rows := MergeKeepLast(existing, fresh)

	if err := storage.WriteBatch(path, rows); err != nil {
		return controlplane.Report{}, err
	}
	sum, err := storage.Checksum(path)
	if err != nil {
		return controlplane.Report{}, err
	}

	id, err := p.control.UpsertFile(ctx, models.FileRecord{
		Path:      filepath.ToSlash(path),
		DataDate:  models.DateOnly(now),
		RowCount:  len(rows),
		Checksum:  sum,
		Status:    models.BatchExtracted,
		Author:    p.author,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return controlplane.Report{}, err
	}

	p.logger.Info("[pipeline] Batch %s: %d rows (%d crawled)", path, len(rows), len(fresh))
	return controlplane.Report{FileID: id, Detail: fmt.Sprintf("%d rows in %s", len(rows), path)}, nil
}

func (p *Pipeline) loadStaging(ctx context.Context, batch *models.FileRecord) (controlplane.Report, error) {
	path := filepath.FromSlash(batch.Path)
	if batch.Checksum != "" {
		sum, err := storage.Checksum(path)
		if err != nil {
			return controlplane.Report{}, err
		}
		if sum != batch.Checksum {
			return controlplane.Report{}, fmt.Errorf("%w: %s has %s, registered %s", ErrChecksumMismatch, batch.Path, sum, batch.Checksum)
		}
	}

	rows, err := storage.ReadBatch(path)
	if err != nil {
		return controlplane.Report{}, err
	}
	if err := p.staging.ReplaceRaw(ctx, batch.ID, rows); err != nil {
		return controlplane.Report{}, err
	}
	return controlplane.Report{Detail: fmt.Sprintf("%d raw rows", len(rows))}, nil
}

func (p *Pipeline) transform(ctx context.Context, batch *models.FileRecord) (controlplane.Report, error) {
	raw, err := p.staging.RawRows(ctx, batch.ID)
	if err != nil {
		return controlplane.Report{}, err
	}
	staged := p.cleaner.Clean(batch.ID, raw)
	if err := p.staging.ReplaceStaged(ctx, batch.ID, staged); err != nil {
		return controlplane.Report{}, err
	}
	return controlplane.Report{Detail: fmt.Sprintf("%d of %d rows staged", len(staged), len(raw))}, nil
}

func (p *Pipeline) loadWarehouse(ctx context.Context, batch *models.FileRecord) (controlplane.Report, error) {
	rows, err := p.staging.StagedRows(ctx, batch.ID)
	if err != nil {
		return controlplane.Report{}, err
	}
	counts, err := p.loader.Load(ctx, rows, p.runner.Now())
	detail := fmt.Sprintf("%d inserted, %d superseded, %d unchanged, %d skipped",
		counts.Inserted, counts.Superseded, counts.Unchanged, counts.Skipped)
	return controlplane.Report{Detail: detail}, err
}

func (p *Pipeline) loadMart(ctx context.Context, _ *models.FileRecord) (controlplane.Report, error) {
	sum, err := p.aggregator.Refresh(ctx, p.runner.Now())
	if err != nil {
		return controlplane.Report{}, err
	}
	return controlplane.Report{Detail: fmt.Sprintf("%d listings, %d districts, %d type-months",
		sum.Mirrored, sum.Districts, sum.TypeMonths)}, nil
}

// MergeKeepLast concatenates old and fresh and keeps, for every key, only its
// last row, at the position of that last occurrence.
func MergeKeepLast(old, fresh []models.RawListing) []models.RawListing {
	all := append(append([]models.RawListing{}, old...), fresh...)
	last := make(map[string]int, len(all))
	for i, r := range all {
		last[r.Key] = i
	}
	out := make([]models.RawListing, 0, len(last))
	for i, r := range all {
		if last[r.Key] == i {
			out = append(out, r)
		}
	}
	return out
}
