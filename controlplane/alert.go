package controlplane

import (
	"context"

	"bds-warehouse/utils"
)

// Alerter delivers stage failure notices. Delivery errors are logged by the
// runner and never replace the stage error.
type Alerter interface {
	Alert(ctx context.Context, stage string, err error) error
}

// LogAlerter writes alerts to the application log.
type LogAlerter struct {
	logger *utils.Logger
}

// NewLogAlerter returns an Alerter backed by logger.
func NewLogAlerter(logger *utils.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(_ context.Context, stage string, err error) error {
	a.logger.Error("[ALERT] stage %s failed: %v", stage, err)
	return nil
}
