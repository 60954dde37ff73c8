package warehouse

import (
	"context"
	"time"

	"bds-warehouse/models"
	"bds-warehouse/utils"
)

// Counts tallies the outcomes of one warehouse pass.
type Counts struct {
	Inserted   int `json:"inserted"`
	Unchanged  int `json:"unchanged"`
	Superseded int `json:"superseded"`
	Skipped    int `json:"skipped"`
}

// Applied is the number of rows that reached the versioner.
func (c Counts) Applied() int {
	return c.Inserted + c.Unchanged + c.Superseded
}

func (c *Counts) add(o Outcome) {
	switch o {
	case Inserted:
		c.Inserted++
	case Unchanged:
		c.Unchanged++
	case Superseded:
		c.Superseded++
	}
}

// Loader applies a batch of staged listings through the Versioner.
type Loader struct {
	versioner *Versioner
	logger    *utils.Logger
}

// NewLoader returns a Loader that applies rows with v.
func NewLoader(v *Versioner, logger *utils.Logger) *Loader {
	return &Loader{versioner: v, logger: logger}
}

// Load applies rows in order, each key at most once. It stops at the first
// error; rows applied before it stay committed, and re-running the batch
// re-detects them as unchanged.
func (l *Loader) Load(ctx context.Context, rows []models.StagedListing, processingDate time.Time) (Counts, error) {
	var counts Counts
	seen := utils.NewKeySet()

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		if !seen.Add(row.Key) {
			l.logger.Warn("[warehouse] Key %s appears twice in the batch, skipping row %d", row.Key, row.ID)
			counts.Skipped++
			continue
		}

		outcome, err := l.versioner.Apply(ctx, row, processingDate)
		if err != nil {
			return counts, err
		}
		counts.add(outcome)
	}

	l.logger.Info("[warehouse] Applied %d listings: %d inserted, %d superseded, %d unchanged, %d skipped",
		counts.Applied(), counts.Inserted, counts.Superseded, counts.Unchanged, counts.Skipped)
	return counts, nil
}
