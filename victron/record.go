package victron

import (
	"encoding/binary"
	"fmt"
)

// ReadoutType selects the record layout of a decrypted payload
type ReadoutType uint8

const (
	ReadoutSolarCharger   ReadoutType = 0x01
	ReadoutBatteryMonitor ReadoutType = 0x02
	ReadoutInverter       ReadoutType = 0x03
	ReadoutDCDCConverter  ReadoutType = 0x04
)

func (t ReadoutType) String() string {
	switch t {
	case ReadoutSolarCharger:
		return "solar_charger"
	case ReadoutBatteryMonitor:
		return "battery_monitor"
	case ReadoutInverter:
		return "inverter"
	case ReadoutDCDCConverter:
		return "dcdc_converter"
	default:
		return fmt.Sprintf("0x%02X", uint8(t))
	}
}

// RecordKind tags which reading a Record carries
type RecordKind string

const (
	KindUnknown        RecordKind = "unknown"
	KindSolarCharger   RecordKind = "solar_charger"
	KindBatteryMonitor RecordKind = "battery_monitor"
)

// Minimum plaintext sizes per record layout
const (
	SolarChargerRecordLen   = 12
	BatteryMonitorRecordLen = 15
)

// Record is a decoded payload. Exactly one of Solar and Battery is set for the
// known kinds; Unknown records keep the plaintext in Raw.
// Records are never mutated after decoding.
type Record struct {
	Kind        RecordKind
	ReadoutType ReadoutType
	Solar       *SolarChargerReading
	Battery     *BatteryMonitorReading
	Raw         []byte
}

// Recognized reports whether the record was parsed into typed fields
func (r Record) Recognized() bool {
	return r.Kind != KindUnknown
}

func unknownRecord(readout ReadoutType, plaintext []byte) Record {
	return Record{
		Kind:        KindUnknown,
		ReadoutType: readout,
		Raw:         append([]byte(nil), plaintext...),
	}
}

// ChargerState is the operating state reported by a solar charger
type ChargerState uint8

const (
	ChargerStateOff          ChargerState = 0
	ChargerStateLowPower     ChargerState = 1
	ChargerStateFault        ChargerState = 2
	ChargerStateBulk         ChargerState = 3
	ChargerStateAbsorption   ChargerState = 4
	ChargerStateFloat        ChargerState = 5
	ChargerStateStorage      ChargerState = 6
	ChargerStateEqualize     ChargerState = 7
	ChargerStateInverting    ChargerState = 9
	ChargerStatePowerSupply  ChargerState = 11
	ChargerStateStartingUp   ChargerState = 245
	ChargerStateRepeatedAbs  ChargerState = 246
	ChargerStateRecondition  ChargerState = 247
	ChargerStateBatterySafe  ChargerState = 248
	ChargerStateExternalCtrl ChargerState = 252
	ChargerStateNotAvailable ChargerState = 255
)

func (s ChargerState) String() string {
	switch s {
	case ChargerStateOff:
		return "off"
	case ChargerStateLowPower:
		return "low_power"
	case ChargerStateFault:
		return "fault"
	case ChargerStateBulk:
		return "bulk"
	case ChargerStateAbsorption:
		return "absorption"
	case ChargerStateFloat:
		return "float"
	case ChargerStateStorage:
		return "storage"
	case ChargerStateEqualize:
		return "equalize"
	case ChargerStateInverting:
		return "inverting"
	case ChargerStatePowerSupply:
		return "power_supply"
	case ChargerStateStartingUp:
		return "starting_up"
	case ChargerStateRepeatedAbs:
		return "repeated_absorption"
	case ChargerStateRecondition:
		return "recondition"
	case ChargerStateBatterySafe:
		return "battery_safe"
	case ChargerStateExternalCtrl:
		return "external_control"
	case ChargerStateNotAvailable:
		return "not_available"
	default:
		return fmt.Sprintf("state_%d", uint8(s))
	}
}

// SolarChargerReading holds the fields of readout type 0x01.
// Values are kept in their transmitted fixed-point units.
type SolarChargerReading struct {
	State               ChargerState
	ErrorCode           uint8
	BatteryCentivolts   int16  // 0.01 V
	BatteryDeciamps     int16  // 0.1 A
	YieldTodayCentiKWh  uint16 // 0.01 kWh
	PVPowerWatts        uint16
	LoadCurrentDeciamps uint16 // 9 bits, 0.1 A
	LoadOn              bool
}

func (r *SolarChargerReading) BatteryVoltage() float64 { return float64(r.BatteryCentivolts) / 100 }
func (r *SolarChargerReading) BatteryCurrent() float64 { return float64(r.BatteryDeciamps) / 10 }
func (r *SolarChargerReading) YieldToday() float64     { return float64(r.YieldTodayCentiKWh) / 100 }
func (r *SolarChargerReading) PVPower() float64        { return float64(r.PVPowerWatts) }
func (r *SolarChargerReading) LoadCurrent() float64    { return float64(r.LoadCurrentDeciamps) / 10 }

// Efficiency is battery output power over PV power in percent, clamped to
// 0..100; zero when there is no PV power
func (r *SolarChargerReading) Efficiency() float64 {
	if r.PVPowerWatts == 0 {
		return 0
	}

	// centivolts * deciamps = milliwatts; / (pv * 1000) * 100
	eff := float64(int32(r.BatteryCentivolts)*int32(r.BatteryDeciamps)) / (10 * float64(r.PVPowerWatts))
	switch {
	case eff < 0:
		return 0
	case eff > 100:
		return 100
	default:
		return eff
	}
}

// Aux input types, carried in the two low bits of battery-monitor byte 8.
// They tell what bytes 6-7 hold.
const (
	AuxInputStarterVoltage  uint8 = 0
	AuxInputMidpointVoltage uint8 = 1
	AuxInputTemperature     uint8 = 2
	AuxInputNone            uint8 = 3
)

// TimeToGoInfinite is the time-to-go value meaning "no discharge"
const TimeToGoInfinite uint16 = 0xFFFF

const consumedAhUnknown uint32 = 0xFFFFF

// BatteryMonitorReading holds the fields of readout type 0x02.
// Values are kept in their transmitted fixed-point units.
type BatteryMonitorReading struct {
	TimeToGoMinutes  uint16 // TimeToGoInfinite when not discharging
	Centivolts       int16  // 0.01 V
	Alarm            uint16
	AuxCentivolts    int16  // 0.01 V
	AuxInput         uint8  // 2 bits
	CurrentMilliamps int32  // 22 bits signed, 0.001 A
	ConsumedDeciAh   int32  // 0.1 Ah, zero or negative
	SOCPermille      uint16 // 0.1 %, 0..1000
}

// TimeToGo returns the remaining runtime in minutes, or infinite=true
func (r *BatteryMonitorReading) TimeToGo() (minutes int, infinite bool) {
	if r.TimeToGoMinutes == TimeToGoInfinite {
		return 0, true
	}
	return int(r.TimeToGoMinutes), false
}

func (r *BatteryMonitorReading) Voltage() float64    { return float64(r.Centivolts) / 100 }
func (r *BatteryMonitorReading) AuxVoltage() float64 { return float64(r.AuxCentivolts) / 100 }
func (r *BatteryMonitorReading) Current() float64    { return float64(r.CurrentMilliamps) / 1000 }
func (r *BatteryMonitorReading) ConsumedAh() float64 { return float64(r.ConsumedDeciAh) / 10 }
func (r *BatteryMonitorReading) SOC() float64        { return float64(r.SOCPermille) / 10 }

// Power is voltage times current in watts
func (r *BatteryMonitorReading) Power() float64 {
	// centivolts * milliamps = 1e-5 W
	return float64(int64(r.Centivolts)*int64(r.CurrentMilliamps)) / 1e5
}

// DecodeRecord parses plaintext according to readout. Unknown readout types
// are not an error: the record comes back with Kind == KindUnknown and the
// plaintext in Raw. A plaintext too short for its layout yields an Unknown
// record together with ErrMalformedRecord.
func DecodeRecord(readout ReadoutType, plaintext []byte) (Record, error) {
	switch readout {
	case ReadoutSolarCharger:
		if len(plaintext) < SolarChargerRecordLen {
			return unknownRecord(readout, plaintext), fmt.Errorf("%w: solar charger record needs %d bytes, got %d",
				ErrMalformedRecord, SolarChargerRecordLen, len(plaintext))
		}
		return Record{
			Kind:        KindSolarCharger,
			ReadoutType: readout,
			Solar:       decodeSolarCharger(plaintext),
		}, nil

	case ReadoutBatteryMonitor:
		if len(plaintext) < BatteryMonitorRecordLen {
			return unknownRecord(readout, plaintext), fmt.Errorf("%w: battery monitor record needs %d bytes, got %d",
				ErrMalformedRecord, BatteryMonitorRecordLen, len(plaintext))
		}
		return Record{
			Kind:        KindBatteryMonitor,
			ReadoutType: readout,
			Battery:     decodeBatteryMonitor(plaintext),
		}, nil

	default:
		return unknownRecord(readout, plaintext), nil
	}
}

// decodeSolarCharger layout (little endian):
// - Byte 0: device state
// - Byte 1: error code
// - Bytes 2-3: battery voltage, signed, 0.01 V
// - Bytes 4-5: battery current, signed, 0.1 A
// - Bytes 6-7: yield today, 0.01 kWh
// - Bytes 8-9: PV power, W
// - Bytes 10-11: bits 0-8 load current 0.1 A, bit 9 load output on
func decodeSolarCharger(data []byte) *SolarChargerReading {
	loadRaw := binary.LittleEndian.Uint16(data[10:12])

	return &SolarChargerReading{
		State:               ChargerState(data[0]),
		ErrorCode:           data[1],
		BatteryCentivolts:   int16(binary.LittleEndian.Uint16(data[2:4])),
		BatteryDeciamps:     int16(binary.LittleEndian.Uint16(data[4:6])),
		YieldTodayCentiKWh:  binary.LittleEndian.Uint16(data[6:8]),
		PVPowerWatts:        binary.LittleEndian.Uint16(data[8:10]),
		LoadCurrentDeciamps: loadRaw & 0x1FF,
		LoadOn:              loadRaw&0x200 != 0,
	}
}

// decodeBatteryMonitor layout (little endian):
// - Bytes 0-1: time to go, minutes (0xFFFF = infinite)
// - Bytes 2-3: battery voltage, signed, 0.01 V
// - Bytes 4-5: alarm reason
// - Bytes 6-7: aux voltage, signed, 0.01 V
// - Bytes 8-10: bits 0-1 aux input type, bits 2-23 current, signed 22 bits, 0.001 A
// - Bytes 11-13: bits 0-19 consumed Ah, 0.1 Ah (0xFFFFF = unknown)
// - Bytes 13-14: bits 4-13 state of charge, 0.1 %
func decodeBatteryMonitor(data []byte) *BatteryMonitorReading {
	currentChunk := uint24(data[8:11])
	currentRaw := (currentChunk >> 2) & 0x3FFFFF

	consumedRaw := uint24(data[11:14]) & 0xFFFFF
	var consumed int32
	if consumedRaw != consumedAhUnknown {
		consumed = -int32(consumedRaw)
	}

	soc := (binary.LittleEndian.Uint16(data[13:15]) >> 4) & 0x3FF
	if soc > 1000 {
		soc = 1000
	}

	return &BatteryMonitorReading{
		TimeToGoMinutes:  binary.LittleEndian.Uint16(data[0:2]),
		Centivolts:       int16(binary.LittleEndian.Uint16(data[2:4])),
		Alarm:            binary.LittleEndian.Uint16(data[4:6]),
		AuxCentivolts:    int16(binary.LittleEndian.Uint16(data[6:8])),
		AuxInput:         uint8(currentChunk & 0x03),
		CurrentMilliamps: signExtend(currentRaw, 22),
		ConsumedDeciAh:   consumed,
		SOCPermille:      soc,
	}
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// signExtend interprets the low bits of v as a two's complement integer
func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
