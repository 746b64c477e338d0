package victron

import (
	"time"
)

// View is the flat JSON representation of a snapshot used by the live API and
// the forwarders. Fields that do not apply to the device type are omitted.
type View struct {
	MAC        string    `json:"mac"`
	Type       string    `json:"type"`
	Valid      bool      `json:"valid"`
	ObservedAt time.Time `json:"observed_at"`

	Voltage *float64 `json:"voltage,omitempty"`
	Current *float64 `json:"current,omitempty"`

	// Solar charger
	PVPower     *float64 `json:"pv_power,omitempty"`
	LoadCurrent *float64 `json:"load_current,omitempty"`
	LoadOn      *bool    `json:"load_on,omitempty"`
	State       string   `json:"state,omitempty"`
	ErrorCode   *uint8   `json:"error_code,omitempty"`
	YieldToday  *float64 `json:"yield_today,omitempty"`
	Efficiency  *float64 `json:"efficiency,omitempty"`

	// Battery monitor
	SOC           *float64 `json:"soc,omitempty"`
	ConsumedAh    *float64 `json:"consumed_ah,omitempty"`
	RemainingMins *int     `json:"remaining_mins,omitempty"`
	Power         *float64 `json:"power,omitempty"`
	AuxVoltage    *float64 `json:"aux_voltage,omitempty"`
	Alarm         *uint16  `json:"alarm,omitempty"`
}

// NewView flattens a snapshot. A battery monitor that is not discharging
// reports remaining_mins = -1.
func NewView(s Snapshot) View {
	v := View{
		MAC:        s.DeviceID,
		Type:       string(s.Record.Kind),
		Valid:      s.Valid,
		ObservedAt: s.ObservedAt,
	}

	switch s.Record.Kind {
	case KindSolarCharger:
		r := s.Record.Solar
		v.Voltage = ptr(r.BatteryVoltage())
		v.Current = ptr(r.BatteryCurrent())
		v.PVPower = ptr(r.PVPower())
		v.LoadCurrent = ptr(r.LoadCurrent())
		v.LoadOn = ptr(r.LoadOn)
		v.State = r.State.String()
		v.ErrorCode = ptr(r.ErrorCode)
		v.YieldToday = ptr(r.YieldToday())
		v.Efficiency = ptr(r.Efficiency())

	case KindBatteryMonitor:
		r := s.Record.Battery
		v.Voltage = ptr(r.Voltage())
		v.Current = ptr(r.Current())
		v.SOC = ptr(r.SOC())
		v.ConsumedAh = ptr(r.ConsumedAh())
		mins, infinite := r.TimeToGo()
		if infinite {
			mins = -1
		}
		v.RemainingMins = ptr(mins)
		v.Power = ptr(r.Power())
		if r.AuxInput == AuxInputStarterVoltage || r.AuxInput == AuxInputMidpointVoltage {
			v.AuxVoltage = ptr(r.AuxVoltage())
		}
		v.Alarm = ptr(r.Alarm)
	}

	return v
}

func ptr[T any](v T) *T {
	return &v
}
