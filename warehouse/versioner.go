package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bds-warehouse/metrics"
	"bds-warehouse/models"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
)

// ErrStaleProcessingDate is returned when a change would be applied on a day
// before the start of the key's active version, which would close that
// version before it opened.
var ErrStaleProcessingDate = errors.New("warehouse: processing date precedes active version")

// Outcome is the effect of applying one listing to the fact table.
type Outcome int

const (
	Inserted Outcome = iota
	Unchanged
	Superseded
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Unchanged:
		return "unchanged"
	case Superseded:
		return "superseded"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Versioner applies listings to fact_listing with SCD2 semantics.
type Versioner struct {
	db       *storage.DB
	facts    *storage.FactStore
	resolver *Resolver
	logger   *utils.Logger
}

// NewVersioner returns a Versioner over the warehouse database.
func NewVersioner(db *storage.DB, logger *utils.Logger) *Versioner {
	return &Versioner{
		db:       db,
		facts:    storage.NewFactStore(db),
		resolver: NewResolver(db, WarehouseTables, logger),
		logger:   logger,
	}
}

// Apply resolves the listing's dimensions and inserts, skips or supersedes
// its fact version as of processingDate. Each call is one transaction.
func (v *Versioner) Apply(ctx context.Context, l models.StagedListing, processingDate time.Time) (Outcome, error) {
	day := models.DateOnly(processingDate)
	var outcome Outcome

	err := v.db.RunTx(ctx, func(tx *sql.Tx) error {
		payload, err := v.payload(ctx, tx, l, day)
		if err != nil {
			return err
		}

		active, found, err := v.facts.Current(ctx, tx, l.Key)
		if err != nil {
			return err
		}

		next := models.FactVersion{
			Key:         l.Key,
			CreateDate:  orDay(l.CreateDate, day),
			StartDay:    day,
			IsCurrent:   true,
			FactPayload: payload,
		}

		switch {
		case !found:
			outcome = Inserted
		case !HasChanged(active.FactPayload, payload):
			outcome = Unchanged
			return nil
		case day.Before(active.StartDay):
			return fmt.Errorf("%w: key %s active since %s, processing %s", ErrStaleProcessingDate,
				l.Key, active.StartDay.Format("2006-01-02"), day.Format("2006-01-02"))
		default:
			if err := v.facts.CloseVersion(ctx, tx, active.SK, day); err != nil {
				return err
			}
			outcome = Superseded
		}

		_, err = v.facts.InsertVersion(ctx, tx, next)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("warehouse: apply %s: %w", l.Key, err)
	}

	metrics.VersionOutcomesTotal.WithLabelValues(outcome.String()).Inc()
	return outcome, nil
}

func (v *Versioner) payload(ctx context.Context, q storage.Querier, l models.StagedListing, day time.Time) (models.FactPayload, error) {
	typeID, err := v.resolver.Resolve(ctx, q, PropertyTypeKey(l.PropertyType))
	if err != nil {
		return models.FactPayload{}, err
	}
	locationID, err := v.resolver.Resolve(ctx, q, LocationKey(l.Street, l.Ward, l.District, l.City, l.OldAddress))
	if err != nil {
		return models.FactPayload{}, err
	}
	dateID, err := v.resolver.Resolve(ctx, q, PostingDateKey(orDay(l.PostingDate, day)))
	if err != nil {
		return models.FactPayload{}, err
	}

	return models.FactPayload{
		URL:            l.URL,
		Name:           l.Name,
		Price:          l.Price,
		Area:           l.Area,
		Bedrooms:       l.Bedrooms,
		Floors:         l.Floors,
		Description:    l.Description,
		StreetWidth:    l.StreetWidth,
		PropertyTypeID: typeID,
		LocationID:     locationID,
		DateID:         dateID,
	}, nil
}

func orDay(t, day time.Time) time.Time {
	if t.IsZero() {
		return day
	}
	return models.DateOnly(t)
}
