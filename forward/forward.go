package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron-monitor/victron"
)

// Publisher sends one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Snapshots is a read-only view of the device table
type Snapshots interface {
	All() map[string]victron.Snapshot
}

// Config holds the forwarder settings
type Config struct {
	SubjectPrefix string
	Interval      time.Duration
	Freshness     time.Duration
}

// Forwarder periodically publishes fresh snapshots as JSON views. A snapshot
// is published once per observation: unchanged entries are skipped.
type Forwarder struct {
	pub       Publisher
	table     Snapshots
	prefix    string
	interval  time.Duration
	freshness time.Duration
	now       func() time.Time
	lastSent  map[string]time.Time
	logger    *zap.Logger
}

// Connect opens a NATS connection that logs disconnects and reconnects
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("victron-monitor"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// New creates a forwarder
func New(cfg Config, pub Publisher, table Snapshots, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		pub:       pub,
		table:     table,
		prefix:    strings.TrimSuffix(cfg.SubjectPrefix, "."),
		interval:  cfg.Interval,
		freshness: cfg.Freshness,
		now:       time.Now,
		lastSent:  make(map[string]time.Time),
		logger:    logger,
	}
}

// Start publishes on every interval until ctx is cancelled
func (f *Forwarder) Start(ctx context.Context) {
	f.logger.Info("starting NATS forwarder",
		zap.String("subject_prefix", f.prefix),
		zap.Duration("interval", f.interval),
	)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("stopping NATS forwarder")
			return
		case <-ticker.C:
			f.Forward()
		}
	}
}

// Forward publishes every fresh snapshot not yet sent and returns the number
// of messages published
func (f *Forwarder) Forward() int {
	now := f.now()
	all := f.table.All()

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	published := 0
	for _, id := range ids {
		snap := all[id]
		if !snap.Valid || !snap.Fresh(now, f.freshness) {
			continue
		}
		if last, ok := f.lastSent[id]; ok && !snap.ObservedAt.After(last) {
			continue
		}

		data, err := json.Marshal(victron.NewView(snap))
		if err != nil {
			f.logger.Error("failed to encode snapshot", zap.String("device_id", id), zap.Error(err))
			continue
		}

		subject := f.Subject(snap)
		if err := f.pub.Publish(subject, data); err != nil {
			f.logger.Warn("failed to publish snapshot",
				zap.String("subject", subject),
				zap.Error(err),
			)
			continue
		}

		f.lastSent[id] = snap.ObservedAt
		published++
	}

	if published > 0 {
		f.logger.Debug("forwarded snapshots", zap.Int("count", published))
	}
	return published
}

// Subject returns "<prefix>.<kind>.<mac without separators>"
func (f *Forwarder) Subject(snap victron.Snapshot) string {
	return fmt.Sprintf("%s.%s.%s", f.prefix, snap.Record.Kind, strings.ReplaceAll(snap.DeviceID, ":", ""))
}
