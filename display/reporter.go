package display

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron-monitor/victron"
)

// Snapshots is a read-only view of the device table
type Snapshots interface {
	All() map[string]victron.Snapshot
}

// Reporter renders the status summary to the log on a cron schedule
type Reporter struct {
	table     Snapshots
	schedule  string
	freshness time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewReporter creates a reporter. Schedule uses standard cron syntax plus
// descriptors such as "@every 30s".
func NewReporter(table Snapshots, schedule string, freshness time.Duration, logger *zap.Logger) *Reporter {
	return &Reporter{
		table:     table,
		schedule:  schedule,
		freshness: freshness,
		now:       time.Now,
		logger:    logger,
	}
}

// Start runs the schedule until ctx is cancelled
func (r *Reporter) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.Report); err != nil {
		return fmt.Errorf("failed to schedule display: %w", err)
	}

	r.logger.Info("starting status display", zap.String("schedule", r.schedule))
	c.Start()

	<-ctx.Done()

	r.logger.Info("stopping status display")
	<-c.Stop().Done()
	return nil
}

// Report logs the current summary
func (r *Reporter) Report() {
	sum := Summarize(r.table.All(), r.now(), r.freshness)

	fields := []zap.Field{
		zap.Strings("lines", sum.Lines()),
		zap.Int("solar_chargers", sum.Solar.Chargers),
		zap.Float64("pv_power_w", sum.Solar.TotalPVPower),
	}
	if sum.Battery != nil {
		fields = append(fields,
			zap.String("battery_device_id", sum.Battery.DeviceID),
			zap.Float64("soc_percent", sum.Battery.SOC),
			zap.String("remaining", sum.Battery.Remaining()),
		)
	}

	r.logger.Info("status", fields...)
}
