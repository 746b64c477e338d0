package victron

import (
	"encoding/binary"
)

// EncodeBatteryMonitor packs a reading into the 15-byte battery monitor
// plaintext, bit for bit the inverse of the decoder
func EncodeBatteryMonitor(r *BatteryMonitorReading) []byte {
	data := make([]byte, BatteryMonitorRecordLen)

	binary.LittleEndian.PutUint16(data[0:2], r.TimeToGoMinutes)
	binary.LittleEndian.PutUint16(data[2:4], uint16(r.Centivolts))
	binary.LittleEndian.PutUint16(data[4:6], r.Alarm)
	binary.LittleEndian.PutUint16(data[6:8], uint16(r.AuxCentivolts))

	currentChunk := (uint32(r.CurrentMilliamps)&0x3FFFFF)<<2 | uint32(r.AuxInput&0x03)
	putUint24(data[8:11], currentChunk)

	var consumed uint32
	if r.ConsumedDeciAh < 0 {
		consumed = uint32(-r.ConsumedDeciAh) & 0xFFFFF
	}
	putUint24(data[11:14], consumed)

	// SOC shares byte 13 with the top nibble of the consumed field
	soc := r.SOCPermille & 0x3FF
	data[13] = data[13]&0x0F | byte(soc<<4)
	data[14] = byte(soc >> 4)

	return data
}

// EncodeSolarCharger packs a reading into the 12-byte solar charger plaintext
func EncodeSolarCharger(r *SolarChargerReading) []byte {
	data := make([]byte, SolarChargerRecordLen)

	data[0] = byte(r.State)
	data[1] = r.ErrorCode
	binary.LittleEndian.PutUint16(data[2:4], uint16(r.BatteryCentivolts))
	binary.LittleEndian.PutUint16(data[4:6], uint16(r.BatteryDeciamps))
	binary.LittleEndian.PutUint16(data[6:8], r.YieldTodayCentiKWh)
	binary.LittleEndian.PutUint16(data[8:10], r.PVPowerWatts)

	load := r.LoadCurrentDeciamps & 0x1FF
	if r.LoadOn {
		load |= 0x200
	}
	binary.LittleEndian.PutUint16(data[10:12], load)

	return data
}

// Encrypt is Decrypt: counter mode is its own inverse
func Encrypt(key []byte, nonce Nonce, plaintext []byte) ([]byte, error) {
	return Decrypt(key, nonce, plaintext)
}

// AssembleEnvelope frames ciphertext as a manufacturer-data payload (without
// the vendor identifier) that Filter accepts. keyCheck must be the first
// byte of the device key; it is ignored for the legacy layout.
func AssembleEnvelope(layout Layout, modelID uint16, readout ReadoutType, ivCounter uint16, keyCheck byte, ciphertext []byte) []byte {
	headerLen := layout.HeaderLen()
	payload := make([]byte, headerLen+len(ciphertext))
	payload[0] = ProtocolMarker

	if layout == LayoutLegacy {
		binary.LittleEndian.PutUint16(payload[1:3], modelID)
		payload[3] = byte(readout)
		binary.LittleEndian.PutUint16(payload[4:6], ivCounter)
	} else {
		binary.LittleEndian.PutUint16(payload[2:4], modelID)
		payload[4] = byte(readout)
		binary.LittleEndian.PutUint16(payload[5:7], ivCounter)
		payload[7] = keyCheck
	}

	copy(payload[headerLen:], ciphertext)
	return payload
}

// Advertisement describes one synthetic advertisement to build
type Advertisement struct {
	Layout      Layout
	Key         Key
	ModelID     uint16
	ReadoutType ReadoutType
	IVCounter   uint16
	Plaintext   []byte
}

// Build encrypts the plaintext and frames it, running the decode pipeline in
// reverse
func (a Advertisement) Build() ([]byte, error) {
	env := Envelope{
		Layout:      a.Layout,
		ModelID:     a.ModelID,
		ReadoutType: a.ReadoutType,
		IVCounter:   a.IVCounter,
	}

	ciphertext, err := Encrypt(a.Key[:], env.Nonce(), a.Plaintext)
	if err != nil {
		return nil, err
	}

	return AssembleEnvelope(a.Layout, a.ModelID, a.ReadoutType, a.IVCounter, a.Key[0], ciphertext), nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
