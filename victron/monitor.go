package victron

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MonitorConfig contains the optional parts of a Monitor
type MonitorConfig struct {
	Layout Layout
	// Sink, if set, receives every snapshot written to the table. It runs on
	// the decode path and must not block.
	Sink func(Snapshot)
	// Now overrides the clock (tests)
	Now func() time.Time
}

// Diagnostics is the operator-facing state of the decode path
type Diagnostics struct {
	LastSeenDevice string
	LastError      string
	LastErrorAt    time.Time
	Decoded        uint64
	Dropped        uint64
}

// Monitor is the single entry point for advertisements coming from the BLE
// scanner: filter, decrypt, decode, then update the device table
type Monitor struct {
	filter *Filter
	keys   *KeyRegistry
	table  *DeviceTable
	sink   func(Snapshot)
	now    func() time.Time
	logger *zap.Logger

	mu             sync.RWMutex
	lastSeenDevice string
	lastError      string
	lastErrorAt    time.Time

	decoded atomic.Uint64
	dropped atomic.Uint64

	outcomes metric.Int64Counter
}

// NewMonitor wires a monitor to its key registry and device table
func NewMonitor(cfg MonitorConfig, keys *KeyRegistry, table *DeviceTable, logger *zap.Logger) *Monitor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Monitor{
		filter: NewFilter(keys, cfg.Layout),
		keys:   keys,
		table:  table,
		sink:   cfg.Sink,
		now:    now,
		logger: logger,
	}

	counter, err := otel.Meter("victron").Int64Counter("victron.decode.outcomes",
		metric.WithDescription("Advertisements processed by decode outcome"),
	)
	if err != nil {
		logger.Warn("failed to create decode outcome counter", zap.Error(err))
	}
	m.outcomes = counter

	return m
}

// AddDeviceKey registers a key for a device; see KeyRegistry.Add
func (m *Monitor) AddDeviceKey(deviceID, hexKey string) error {
	if err := m.keys.Add(deviceID, hexKey); err != nil {
		return err
	}
	m.logger.Info("device key registered", zap.String("device_id", NormalizeDeviceID(deviceID)))
	return nil
}

// OnAdvertisement processes one manufacturer-data element. On success the
// device's snapshot is replaced and returned. ErrUnrecognizedVendor means the
// advertisement belongs to somebody else and is not recorded anywhere. A
// malformed record still updates the table with an Unknown record and is
// returned together with ErrMalformedRecord.
func (m *Monitor) OnAdvertisement(deviceID string, vendorID uint16, payload []byte) (Snapshot, error) {
	if vendorID != VendorID {
		return Snapshot{}, ErrUnrecognizedVendor
	}

	id := NormalizeDeviceID(deviceID)
	m.mu.Lock()
	m.lastSeenDevice = id
	m.mu.Unlock()

	env, key, err := m.filter.Accept(id, vendorID, payload)
	if err != nil {
		m.fail(id, err)
		return Snapshot{}, err
	}

	plaintext, err := Decrypt(key[:], env.Nonce(), env.Ciphertext)
	if err != nil {
		if !errors.Is(err, ErrDecryptionFailure) {
			err = errors.Join(ErrDecryptionFailure, err)
		}
		m.fail(id, err)
		return Snapshot{}, err
	}

	record, decodeErr := DecodeRecord(env.ReadoutType, plaintext)
	snap := m.table.Upsert(id, record, m.now())

	if decodeErr != nil {
		m.fail(id, decodeErr)
		return snap, decodeErr
	}

	m.decoded.Add(1)
	m.count("decoded")
	m.logDecoded(snap, env)

	if m.sink != nil {
		m.sink(snap)
	}

	return snap, nil
}

// Diagnostics returns the most recently seen device and the last error
func (m *Monitor) Diagnostics() Diagnostics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Diagnostics{
		LastSeenDevice: m.lastSeenDevice,
		LastError:      m.lastError,
		LastErrorAt:    m.lastErrorAt,
		Decoded:        m.decoded.Load(),
		Dropped:        m.dropped.Load(),
	}
}

// Table returns the device table the monitor writes to
func (m *Monitor) Table() *DeviceTable {
	return m.table
}

// Keys returns the key registry the monitor reads from
func (m *Monitor) Keys() *KeyRegistry {
	return m.keys
}

func (m *Monitor) fail(deviceID string, err error) {
	m.dropped.Add(1)

	m.mu.Lock()
	m.lastError = err.Error()
	m.lastErrorAt = m.now()
	m.mu.Unlock()

	switch {
	case errors.Is(err, ErrInvalidHeader):
		m.count("invalid_header")
		m.logger.Debug("dropping advertisement with invalid header",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	case errors.Is(err, ErrMissingKey):
		m.count("missing_key")
		m.logger.Warn("no key configured for device",
			zap.String("device_id", deviceID),
		)
	case errors.Is(err, ErrKeyCheckFailed):
		m.count("key_check_failed")
		m.logger.Warn("key check failed, configured key is probably wrong",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	case errors.Is(err, ErrMalformedRecord):
		m.count("malformed_record")
		m.logger.Warn("malformed record",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	default:
		m.count("decryption_failure")
		m.logger.Warn("failed to decrypt advertisement",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}
}

func (m *Monitor) count(outcome string) {
	if m.outcomes == nil {
		return
	}
	m.outcomes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Monitor) logDecoded(snap Snapshot, env *Envelope) {
	if ce := m.logger.Check(zap.DebugLevel, "advertisement decoded"); ce != nil {
		fields := []zap.Field{
			zap.String("device_id", snap.DeviceID),
			zap.Stringer("readout_type", env.ReadoutType),
			zap.Uint16("model_id", env.ModelID),
			zap.Uint16("iv_counter", env.IVCounter),
		}

		switch snap.Record.Kind {
		case KindSolarCharger:
			r := snap.Record.Solar
			fields = append(fields,
				zap.Stringer("state", r.State),
				zap.Float64("voltage_v", r.BatteryVoltage()),
				zap.Float64("current_a", r.BatteryCurrent()),
				zap.Float64("pv_power_w", r.PVPower()),
				zap.Float64("yield_today_kwh", r.YieldToday()),
			)
		case KindBatteryMonitor:
			r := snap.Record.Battery
			fields = append(fields,
				zap.Float64("voltage_v", r.Voltage()),
				zap.Float64("current_a", r.Current()),
				zap.Float64("soc_percent", r.SOC()),
				zap.Float64("consumed_ah", r.ConsumedAh()),
			)
		}

		ce.Write(fields...)
	}
}
