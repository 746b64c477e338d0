package victron

import (
	"errors"
	"testing"
)

func TestParseLayout(t *testing.T) {
	tests := []struct {
		in      string
		want    Layout
		wantErr bool
	}{
		{"", LayoutKeyCheck, false},
		{"keycheck", LayoutKeyCheck, false},
		{"Legacy", LayoutLegacy, false},
		{"v3", LayoutKeyCheck, true},
	}

	for _, tt := range tests {
		got, err := ParseLayout(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLayout(%q): expected error=%v, got %v", tt.in, tt.wantErr, err)
		}
		if got != tt.want {
			t.Errorf("ParseLayout(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestParseEnvelope_KeyCheck(t *testing.T) {
	payload := []byte{0x10, 0x00, 0x89, 0xA3, 0x02, 0x34, 0x12, 0x01, 0xAA, 0xBB, 0xCC}

	env, err := ParseEnvelope(payload, LayoutKeyCheck)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if env.ModelID != 0xA389 {
		t.Errorf("Expected model 0xA389, got 0x%04X", env.ModelID)
	}
	if env.ReadoutType != ReadoutBatteryMonitor {
		t.Errorf("Expected readout type %v, got %v", ReadoutBatteryMonitor, env.ReadoutType)
	}
	if env.IVCounter != 0x1234 {
		t.Errorf("Expected IV 0x1234, got 0x%04X", env.IVCounter)
	}
	if !env.HasKeyCheck || env.KeyCheck != 0x01 {
		t.Errorf("Expected key check 0x01, got 0x%02X (present=%v)", env.KeyCheck, env.HasKeyCheck)
	}
	if len(env.Ciphertext) != 3 || env.Ciphertext[0] != 0xAA {
		t.Errorf("Expected 3 ciphertext bytes starting 0xAA, got %X", env.Ciphertext)
	}
}

func TestParseEnvelope_Legacy(t *testing.T) {
	payload := []byte{0x10, 0x89, 0xA3, 0x01, 0x34, 0x12, 0xAA, 0xBB}

	env, err := ParseEnvelope(payload, LayoutLegacy)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if env.ModelID != 0xA389 || env.ReadoutType != ReadoutSolarCharger || env.IVCounter != 0x1234 {
		t.Errorf("Unexpected header fields: %+v", env)
	}
	if env.HasKeyCheck {
		t.Error("Expected legacy envelope without key check")
	}
	if len(env.Ciphertext) != 2 {
		t.Errorf("Expected 2 ciphertext bytes, got %d", len(env.Ciphertext))
	}
}

func TestParseEnvelope_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		layout  Layout
	}{
		{"empty", nil, LayoutKeyCheck},
		{"nine bytes", []byte{0x10, 0, 0, 0, 2, 0, 0, 1, 0xAA}, LayoutKeyCheck},
		{"wrong marker", []byte{0x11, 0, 0, 0, 2, 0, 0, 1, 0xAA, 0xBB}, LayoutKeyCheck},
		{"legacy seven bytes", []byte{0x10, 0, 0, 1, 0, 0, 0xAA}, LayoutLegacy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope(tt.payload, tt.layout)
			if !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("Expected ErrInvalidHeader, got %v", err)
			}
		})
	}
}

func TestParseEnvelope_MinimumLength(t *testing.T) {
	payload := []byte{0x10, 0, 0, 0, 2, 0, 0, 1, 0xAA, 0xBB}
	if _, err := ParseEnvelope(payload, LayoutKeyCheck); err != nil {
		t.Errorf("Expected 10-byte payload to be accepted, got %v", err)
	}
}

func TestFilter_Accept(t *testing.T) {
	keys := NewKeyRegistry()
	_ = keys.Add("aa:bb:cc:dd:ee:ff", testKeyHex)
	f := NewFilter(keys, LayoutKeyCheck)

	valid := []byte{0x10, 0x00, 0x89, 0xA3, 0x02, 0x00, 0x00, 0x01, 0xAA, 0xBB}

	t.Run("foreign vendor", func(t *testing.T) {
		_, _, err := f.Accept("aa:bb:cc:dd:ee:ff", 0x004C, valid)
		if !errors.Is(err, ErrUnrecognizedVendor) {
			t.Errorf("Expected ErrUnrecognizedVendor, got %v", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		_, _, err := f.Accept("11:22:33:44:55:66", VendorID, valid)
		if !errors.Is(err, ErrMissingKey) {
			t.Errorf("Expected ErrMissingKey, got %v", err)
		}
	})

	t.Run("key check mismatch", func(t *testing.T) {
		bad := append([]byte(nil), valid...)
		bad[7] = 0x02
		_, _, err := f.Accept("aa:bb:cc:dd:ee:ff", VendorID, bad)
		if !errors.Is(err, ErrKeyCheckFailed) {
			t.Errorf("Expected ErrKeyCheckFailed, got %v", err)
		}
	})

	t.Run("short payload", func(t *testing.T) {
		_, _, err := f.Accept("aa:bb:cc:dd:ee:ff", VendorID, valid[:9])
		if !errors.Is(err, ErrInvalidHeader) {
			t.Errorf("Expected ErrInvalidHeader, got %v", err)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		env, key, err := f.Accept("AA-BB-CC-DD-EE-FF", VendorID, valid)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if key[0] != env.KeyCheck {
			t.Errorf("Expected key check 0x%02X to match key, got 0x%02X", env.KeyCheck, key[0])
		}
	})
}

func TestFilter_LegacySkipsKeyCheck(t *testing.T) {
	keys := NewKeyRegistry()
	_ = keys.Add("aa:bb:cc:dd:ee:ff", "ff02030405060708090a0b0c0d0e0f10")
	f := NewFilter(keys, LayoutLegacy)

	payload := []byte{0x10, 0x89, 0xA3, 0x02, 0x00, 0x00, 0xAA, 0xBB}
	if _, _, err := f.Accept("aa:bb:cc:dd:ee:ff", VendorID, payload); err != nil {
		t.Errorf("Expected legacy payload to be accepted, got %v", err)
	}
}
