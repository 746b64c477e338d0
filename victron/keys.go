package victron

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// KeySize is the length of a device encryption key in bytes (AES-128)
const KeySize = 16

// Key is the raw per-device AES key
type Key [KeySize]byte

// KeyRegistry stores per-device keys by normalized device identifier.
// It is safe for concurrent use so keys can be re-provisioned while scanning.
type KeyRegistry struct {
	mu   sync.RWMutex
	keys map[string]Key
}

// NewKeyRegistry creates an empty registry
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{
		keys: make(map[string]Key),
	}
}

// NormalizeDeviceID lowercases a device address, accepts hyphens as colon
// separators and inserts colons into a bare 12-digit hex string.
// "AA-BB-CC-DD-EE-FF" and "aabbccddeeff" both become "aa:bb:cc:dd:ee:ff".
func NormalizeDeviceID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.ReplaceAll(id, "-", ":")

	if !strings.Contains(id, ":") && len(id) == 12 {
		var b strings.Builder
		b.Grow(17)
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(id[i : i+2])
		}
		id = b.String()
	}

	return id
}

// ParseKey strips all whitespace from hexKey and decodes exactly 32 hex digits
func ParseKey(hexKey string) (Key, error) {
	var key Key

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, hexKey)

	if len(cleaned) != 2*KeySize {
		return key, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidKeyFormat, 2*KeySize, len(cleaned))
	}

	if _, err := hex.Decode(key[:], []byte(cleaned)); err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}

	return key, nil
}

// Add validates hexKey and stores it for deviceID, replacing any previous key.
// On error the registry is left untouched.
func (r *KeyRegistry) Add(deviceID, hexKey string) error {
	id := NormalizeDeviceID(deviceID)
	if id == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidDeviceID)
	}

	key, err := ParseKey(hexKey)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[id] = key

	return nil
}

// Lookup returns the key stored for deviceID
func (r *KeyRegistry) Lookup(deviceID string) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.keys[NormalizeDeviceID(deviceID)]
	return key, ok
}

// Remove deletes the key for deviceID, if any
func (r *KeyRegistry) Remove(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, NormalizeDeviceID(deviceID))
}

// Len returns the number of registered keys
func (r *KeyRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
