package victron

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// VendorID is the Bluetooth SIG company identifier carried in the
	// manufacturer data of every instant-readout advertisement (0x02E1,
	// transmitted little endian as E1 02)
	VendorID uint16 = 0x02E1

	// ProtocolMarker is the first payload byte of an instant-readout record
	ProtocolMarker byte = 0x10
)

// Layout selects the envelope and nonce format of a protocol revision
type Layout int

const (
	// LayoutKeyCheck is the canonical 8-byte header:
	//   0: marker, 1: reserved, 2-3: model id (LE), 4: readout type,
	//   5-6: IV counter (LE), 7: key check, 8..: ciphertext
	// The nonce holds only the IV counter.
	LayoutKeyCheck Layout = iota

	// LayoutLegacy is the earlier 6-byte header without key check:
	//   0: marker, 1-2: model id (LE), 3: readout type, 4-5: IV counter (LE), 6..: ciphertext
	// The nonce holds model id, readout type and IV counter.
	LayoutLegacy
)

const (
	keyCheckHeaderLen = 8
	legacyHeaderLen   = 6

	// Both layouts require at least two ciphertext bytes
	minCiphertextLen = 2
)

// ParseLayout maps a configuration value to a Layout
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keycheck":
		return LayoutKeyCheck, nil
	case "legacy":
		return LayoutLegacy, nil
	default:
		return LayoutKeyCheck, fmt.Errorf("unknown protocol layout %q (expected 'keycheck' or 'legacy')", s)
	}
}

func (l Layout) String() string {
	switch l {
	case LayoutKeyCheck:
		return "keycheck"
	case LayoutLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// HeaderLen returns the number of bytes preceding the ciphertext
func (l Layout) HeaderLen() int {
	if l == LayoutLegacy {
		return legacyHeaderLen
	}
	return keyCheckHeaderLen
}

// Envelope is the clear-text framing of one advertisement. It is only valid
// for the duration of a decode call: Ciphertext aliases the input payload.
type Envelope struct {
	Layout      Layout
	ModelID     uint16
	ReadoutType ReadoutType
	IVCounter   uint16
	KeyCheck    byte
	HasKeyCheck bool
	Ciphertext  []byte
}

// ParseEnvelope extracts the header fields from a manufacturer-data payload
// (vendor identifier already stripped)
func ParseEnvelope(payload []byte, layout Layout) (*Envelope, error) {
	headerLen := layout.HeaderLen()
	if len(payload) < headerLen+minCiphertextLen {
		return nil, fmt.Errorf("%w: payload too short: need at least %d bytes, got %d",
			ErrInvalidHeader, headerLen+minCiphertextLen, len(payload))
	}

	if payload[0] != ProtocolMarker {
		return nil, fmt.Errorf("%w: unexpected marker 0x%02X", ErrInvalidHeader, payload[0])
	}

	env := &Envelope{Layout: layout}

	switch layout {
	case LayoutLegacy:
		env.ModelID = binary.LittleEndian.Uint16(payload[1:3])
		env.ReadoutType = ReadoutType(payload[3])
		env.IVCounter = binary.LittleEndian.Uint16(payload[4:6])
	default:
		env.ModelID = binary.LittleEndian.Uint16(payload[2:4])
		env.ReadoutType = ReadoutType(payload[4])
		env.IVCounter = binary.LittleEndian.Uint16(payload[5:7])
		env.KeyCheck = payload[7]
		env.HasKeyCheck = true
	}

	env.Ciphertext = payload[headerLen:]

	return env, nil
}

// Nonce derives the counter-mode starting block for this envelope
func (e *Envelope) Nonce() Nonce {
	if e.Layout == LayoutLegacy {
		return DeriveLegacyNonce(e.ModelID, e.ReadoutType, e.IVCounter)
	}
	return DeriveNonce(e.ModelID, e.ReadoutType, e.IVCounter)
}

// Filter recognizes vendor advertisements and resolves the key for the
// advertising device
type Filter struct {
	keys   *KeyRegistry
	layout Layout
}

// NewFilter creates a filter using keys from the given registry
func NewFilter(keys *KeyRegistry, layout Layout) *Filter {
	return &Filter{
		keys:   keys,
		layout: layout,
	}
}

// Accept validates the envelope of one advertisement and returns it together
// with the key of the advertising device.
//
// A foreign vendor identifier yields ErrUnrecognizedVendor, which callers
// treat as "not ours" rather than a failure. A key-check byte that differs
// from the first key byte yields ErrKeyCheckFailed: the protocol carries no
// authentication tag, so this is the only way to tell a wrong key from a
// missing one before decrypting.
func (f *Filter) Accept(deviceID string, vendorID uint16, payload []byte) (*Envelope, Key, error) {
	if vendorID != VendorID {
		return nil, Key{}, ErrUnrecognizedVendor
	}

	env, err := ParseEnvelope(payload, f.layout)
	if err != nil {
		return nil, Key{}, err
	}

	key, ok := f.keys.Lookup(deviceID)
	if !ok {
		return nil, Key{}, fmt.Errorf("%w: %s", ErrMissingKey, NormalizeDeviceID(deviceID))
	}

	if env.HasKeyCheck && env.KeyCheck != key[0] {
		return nil, Key{}, fmt.Errorf("%w: %02X != %02X", ErrKeyCheckFailed, env.KeyCheck, key[0])
	}

	return env, key, nil
}
