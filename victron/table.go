package victron

import (
	"sync"
	"time"
)

// Snapshot is the latest decoded state of one device
type Snapshot struct {
	DeviceID   string
	Record     Record
	ObservedAt time.Time
	// Valid is false when the last frame could not be parsed into typed fields
	// (unknown readout type or malformed record)
	Valid bool
}

// DeviceTable holds the latest snapshot per device. It is written by the
// decode path and read concurrently by the live API, the status summary and
// the forwarders. Entries are replaced whole under the lock, so readers never
// see a half-written snapshot.
type DeviceTable struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewDeviceTable creates an empty table
func NewDeviceTable() *DeviceTable {
	return &DeviceTable{
		snapshots: make(map[string]Snapshot),
	}
}

// Upsert replaces the snapshot for deviceID (last write wins, no merging).
// The stored observation time never moves backwards: an observedAt older
// than the current entry is raised to the current entry's time.
func (t *DeviceTable) Upsert(deviceID string, record Record, observedAt time.Time) Snapshot {
	id := NormalizeDeviceID(deviceID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.snapshots[id]; ok && observedAt.Before(prev.ObservedAt) {
		observedAt = prev.ObservedAt
	}

	snap := Snapshot{
		DeviceID:   id,
		Record:     record,
		ObservedAt: observedAt,
		Valid:      record.Recognized(),
	}
	t.snapshots[id] = snap

	return snap
}

// Get returns the snapshot for deviceID
func (t *DeviceTable) Get(deviceID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap, ok := t.snapshots[NormalizeDeviceID(deviceID)]
	return snap, ok
}

// All returns a copy of the whole table
func (t *DeviceTable) All() map[string]Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Snapshot, len(t.snapshots))
	for id, snap := range t.snapshots {
		out[id] = snap
	}
	return out
}

// Len returns the number of devices ever decoded
func (t *DeviceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.snapshots)
}

// Fresh reports whether the snapshot was observed within window before now
func (s Snapshot) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(s.ObservedAt) <= window
}
