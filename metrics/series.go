package metrics

import (
	"context"

	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	pkgmetrics "github.com/mjasion/balena-home/victron-monitor/pkg/metrics"
	"github.com/mjasion/balena-home/victron-monitor/victron"
)

// Metric names
const (
	SolarBatteryVoltage = "victron_solar_battery_voltage_volts"
	SolarBatteryCurrent = "victron_solar_battery_current_amps"
	SolarPVPower        = "victron_solar_pv_power_watts"
	SolarYieldToday     = "victron_solar_yield_today_kwh"
	SolarLoadCurrent    = "victron_solar_load_current_amps"
	SolarLoadOn         = "victron_solar_load_on"
	SolarChargerState   = "victron_solar_charger_state"
	SolarErrorCode      = "victron_solar_error_code"
	SolarEfficiency     = "victron_solar_efficiency_percent"

	BatteryVoltage    = "victron_battery_voltage_volts"
	BatteryCurrent    = "victron_battery_current_amps"
	BatteryPower      = "victron_battery_power_watts"
	BatterySOC        = "victron_battery_soc_percent"
	BatteryConsumed   = "victron_battery_consumed_ah"
	BatteryTimeToGo   = "victron_battery_time_to_go_minutes"
	BatteryAuxVoltage = "victron_battery_aux_voltage_volts"
	BatteryAlarm      = "victron_battery_alarm"
)

// Builders creates remote-write builders for decoded snapshots. Names maps
// normalized device identifiers to the configured device names; unknown
// devices are labelled with their identifier only.
type Builders struct {
	names map[string]string
}

// NewBuilders creates builders labelling series with the given device names
func NewBuilders(names map[string]string) *Builders {
	return &Builders{names: names}
}

// Combined returns a builder producing both solar and battery series
func (b *Builders) Combined() pkgmetrics.TimeSeriesBuilder[victron.Snapshot] {
	return pkgmetrics.CombineBuilders[victron.Snapshot](b.Solar, b.Battery)
}

// Solar builds series for solar charger snapshots
func (b *Builders) Solar(ctx context.Context, snaps []victron.Snapshot) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildSolarTimeSeries")
	defer span.End()

	set := pkgmetrics.NewSeriesSet()
	for _, s := range snaps {
		if !s.Valid || s.Record.Kind != victron.KindSolarCharger || s.Record.Solar == nil {
			continue
		}

		r := s.Record.Solar
		labels := b.labels(s.DeviceID)

		set.Add(SolarBatteryVoltage, labels, r.BatteryVoltage(), s.ObservedAt)
		set.Add(SolarBatteryCurrent, labels, r.BatteryCurrent(), s.ObservedAt)
		set.Add(SolarPVPower, labels, r.PVPower(), s.ObservedAt)
		set.Add(SolarYieldToday, labels, r.YieldToday(), s.ObservedAt)
		set.Add(SolarLoadCurrent, labels, r.LoadCurrent(), s.ObservedAt)
		set.Add(SolarLoadOn, labels, boolValue(r.LoadOn), s.ObservedAt)
		set.Add(SolarChargerState, labels, float64(r.State), s.ObservedAt)
		set.Add(SolarErrorCode, labels, float64(r.ErrorCode), s.ObservedAt)
		set.Add(SolarEfficiency, labels, r.Efficiency(), s.ObservedAt)
	}

	span.SetAttributes(attribute.Int("series_count", set.Len()))
	span.SetStatus(codes.Ok, "solar series built")
	return set.Series(), nil
}

// Battery builds series for battery monitor snapshots
func (b *Builders) Battery(ctx context.Context, snaps []victron.Snapshot) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildBatteryTimeSeries")
	defer span.End()

	set := pkgmetrics.NewSeriesSet()
	for _, s := range snaps {
		if !s.Valid || s.Record.Kind != victron.KindBatteryMonitor || s.Record.Battery == nil {
			continue
		}

		r := s.Record.Battery
		labels := b.labels(s.DeviceID)

		set.Add(BatteryVoltage, labels, r.Voltage(), s.ObservedAt)
		set.Add(BatteryCurrent, labels, r.Current(), s.ObservedAt)
		set.Add(BatteryPower, labels, r.Power(), s.ObservedAt)
		set.Add(BatterySOC, labels, r.SOC(), s.ObservedAt)
		set.Add(BatteryConsumed, labels, r.ConsumedAh(), s.ObservedAt)
		set.Add(BatteryAlarm, labels, float64(r.Alarm), s.ObservedAt)

		// infinite time-to-go has no meaningful sample
		if minutes, infinite := r.TimeToGo(); !infinite {
			set.Add(BatteryTimeToGo, labels, float64(minutes), s.ObservedAt)
		}

		if name, ok := auxVoltageInputs[r.AuxInput]; ok {
			auxLabels := b.labels(s.DeviceID)
			auxLabels["aux_input"] = name
			set.Add(BatteryAuxVoltage, auxLabels, r.AuxVoltage(), s.ObservedAt)
		}
	}

	span.SetAttributes(attribute.Int("series_count", set.Len()))
	span.SetStatus(codes.Ok, "battery series built")
	return set.Series(), nil
}

func (b *Builders) labels(deviceID string) map[string]string {
	labels := map[string]string{"mac": deviceID}
	if name, ok := b.names[deviceID]; ok {
		labels["device_name"] = name
	}
	return labels
}

var auxVoltageInputs = map[uint8]string{
	victron.AuxInputStarterVoltage:  "starter",
	victron.AuxInputMidpointVoltage: "midpoint",
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
