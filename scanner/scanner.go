package scanner

import (
	"context"
	"fmt"

	"github.com/mjasion/balena-home/victron-monitor/victron"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// Handler consumes one manufacturer-data element. *victron.Monitor satisfies it.
type Handler interface {
	OnAdvertisement(deviceID string, vendorID uint16, payload []byte) (victron.Snapshot, error)
}

// DeviceConfig represents configuration for a single device
type DeviceConfig struct {
	Name       string
	MACAddress string
}

// Scanner hands every manufacturer-data element it sees to the handler
type Scanner struct {
	adapter *bluetooth.Adapter
	devices map[string]string // normalized MAC address to device name
	handler Handler
	logger  *zap.Logger
}

// New creates a new BLE scanner
func New(devices []DeviceConfig, handler Handler, logger *zap.Logger) *Scanner {
	names := make(map[string]string)
	for _, d := range devices {
		names[victron.NormalizeDeviceID(d.MACAddress)] = d.Name
	}

	return &Scanner{
		adapter: bluetooth.DefaultAdapter,
		devices: names,
		handler: handler,
		logger:  logger,
	}
}

// Start initializes the BLE adapter and starts scanning. Scan blocks until
// the context is cancelled or Stop is called.
func (s *Scanner) Start(ctx context.Context) error {
	s.logger.Info("initializing BLE adapter")

	// Enable the BLE stack
	err := s.adapter.Enable()
	if err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	s.logger.Info("BLE adapter initialized successfully")
	s.logger.Info("starting BLE scan", zap.Int("device_count", len(s.devices)))

	err = s.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		select {
		case <-ctx.Done():
			s.adapter.StopScan()
			return
		default:
		}

		s.handleResult(result.Address.String(), result.RSSI, result.ManufacturerData())
	})

	if err != nil {
		return fmt.Errorf("failed to start BLE scan: %w", err)
	}

	return nil
}

// Stop stops the BLE scanner
func (s *Scanner) Stop() error {
	s.logger.Info("stopping BLE scan")
	err := s.adapter.StopScan()
	if err != nil {
		return fmt.Errorf("failed to stop BLE scan: %w", err)
	}
	return nil
}

// handleResult processes the manufacturer data of one scan result. Failures
// are logged by the handler; only the outcome for configured devices is
// logged here.
func (s *Scanner) handleResult(address string, rssi int16, elements []bluetooth.ManufacturerDataElement) int {
	decoded := 0

	for _, md := range elements {
		snap, err := s.handler.OnAdvertisement(address, md.CompanyID, md.Data)
		if err != nil {
			// foreign vendors and dropped frames alike; the handler logs the latter
			continue
		}
		decoded++

		name, known := s.devices[snap.DeviceID]
		if !known {
			name = snap.DeviceID
		}

		s.logger.Info("victron_reading",
			zap.String("device_name", name),
			zap.String("mac", snap.DeviceID),
			zap.String("type", string(snap.Record.Kind)),
			zap.Int16("rssi_dbm", rssi),
		)
	}

	return decoded
}
