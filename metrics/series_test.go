package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/prometheus/prompb"

	"github.com/mjasion/balena-home/victron-monitor/victron"
)

const (
	solarMAC   = "c0:31:aa:bb:cc:01"
	batteryMAC = "c0:31:aa:bb:cc:02"
)

var observed = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func solarSnapshot() victron.Snapshot {
	return victron.Snapshot{
		DeviceID: solarMAC,
		Record: victron.Record{
			Kind:        victron.KindSolarCharger,
			ReadoutType: victron.ReadoutSolarCharger,
			Solar: &victron.SolarChargerReading{
				State:             victron.ChargerStateBulk,
				BatteryCentivolts: 1320,
				BatteryDeciamps:   50,
				PVPowerWatts:      100,
				LoadOn:            true,
			},
		},
		ObservedAt: observed,
		Valid:      true,
	}
}

func batterySnapshot(ttg uint16, aux uint8) victron.Snapshot {
	return victron.Snapshot{
		DeviceID: batteryMAC,
		Record: victron.Record{
			Kind:        victron.KindBatteryMonitor,
			ReadoutType: victron.ReadoutBatteryMonitor,
			Battery: &victron.BatteryMonitorReading{
				TimeToGoMinutes:  ttg,
				Centivolts:       1250,
				AuxCentivolts:    1270,
				AuxInput:         aux,
				CurrentMilliamps: -2000,
				SOCPermille:      800,
			},
		},
		ObservedAt: observed,
		Valid:      true,
	}
}

func findSeries(series []prompb.TimeSeries, name string) *prompb.TimeSeries {
	for i := range series {
		for _, l := range series[i].Labels {
			if l.Name == "__name__" && l.Value == name {
				return &series[i]
			}
		}
	}
	return nil
}

func labelValue(ts *prompb.TimeSeries, name string) string {
	for _, l := range ts.Labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func TestSolar(t *testing.T) {
	b := NewBuilders(map[string]string{solarMAC: "MPPT"})

	series, err := b.Solar(context.Background(), []victron.Snapshot{solarSnapshot(), batterySnapshot(60, victron.AuxInputNone)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(series) != 9 {
		t.Fatalf("Expected 9 solar series, got %d", len(series))
	}

	pv := findSeries(series, SolarPVPower)
	if pv == nil {
		t.Fatal("Expected PV power series")
	}
	if pv.Samples[0].Value != 100 {
		t.Errorf("Expected PV power 100, got %f", pv.Samples[0].Value)
	}
	if pv.Samples[0].Timestamp != observed.UnixMilli() {
		t.Errorf("Expected timestamp %d, got %d", observed.UnixMilli(), pv.Samples[0].Timestamp)
	}
	if labelValue(pv, "device_name") != "MPPT" {
		t.Errorf("Expected device_name MPPT, got %q", labelValue(pv, "device_name"))
	}

	load := findSeries(series, SolarLoadOn)
	if load == nil || load.Samples[0].Value != 1 {
		t.Errorf("Expected load on sample 1, got %+v", load)
	}

	eff := findSeries(series, SolarEfficiency)
	if eff == nil || eff.Samples[0].Value != 66 {
		t.Errorf("Expected efficiency 66, got %+v", eff)
	}
}

func TestBattery(t *testing.T) {
	b := NewBuilders(nil)

	series, err := b.Battery(context.Background(), []victron.Snapshot{batterySnapshot(90, victron.AuxInputStarterVoltage)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	soc := findSeries(series, BatterySOC)
	if soc == nil || soc.Samples[0].Value != 80 {
		t.Errorf("Expected SOC 80, got %+v", soc)
	}
	if labelValue(soc, "device_name") != "" {
		t.Errorf("Expected no device_name label for unnamed device, got %q", labelValue(soc, "device_name"))
	}

	power := findSeries(series, BatteryPower)
	if power == nil || power.Samples[0].Value != -25 {
		t.Errorf("Expected power -25, got %+v", power)
	}

	ttg := findSeries(series, BatteryTimeToGo)
	if ttg == nil || ttg.Samples[0].Value != 90 {
		t.Errorf("Expected time to go 90, got %+v", ttg)
	}

	aux := findSeries(series, BatteryAuxVoltage)
	if aux == nil {
		t.Fatal("Expected aux voltage series for starter input")
	}
	if labelValue(aux, "aux_input") != "starter" {
		t.Errorf("Expected aux_input starter, got %q", labelValue(aux, "aux_input"))
	}
}

func TestBattery_OmitsInfiniteTimeToGoAndTemperatureAux(t *testing.T) {
	b := NewBuilders(nil)

	series, err := b.Battery(context.Background(), []victron.Snapshot{
		batterySnapshot(victron.TimeToGoInfinite, victron.AuxInputTemperature),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if findSeries(series, BatteryTimeToGo) != nil {
		t.Error("Expected no time-to-go series when infinite")
	}
	if findSeries(series, BatteryAuxVoltage) != nil {
		t.Error("Expected no aux voltage series for temperature input")
	}
}

func TestCombined_GroupsSamplesPerSeries(t *testing.T) {
	b := NewBuilders(nil)

	later := solarSnapshot()
	later.ObservedAt = observed.Add(time.Second)
	invalid := solarSnapshot()
	invalid.Valid = false

	series, err := b.Combined()(context.Background(), []victron.Snapshot{
		solarSnapshot(), later, invalid, batterySnapshot(60, victron.AuxInputNone),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	pv := findSeries(series, SolarPVPower)
	if pv == nil || len(pv.Samples) != 2 {
		t.Fatalf("Expected 2 PV samples in one series, got %+v", pv)
	}
	if findSeries(series, BatteryVoltage) == nil {
		t.Error("Expected battery series in combined output")
	}
}

func TestBuilders_SkipUnknownRecords(t *testing.T) {
	b := NewBuilders(nil)

	unknown := victron.Snapshot{
		DeviceID:   solarMAC,
		Record:     victron.Record{Kind: victron.KindUnknown, ReadoutType: 0x03},
		ObservedAt: observed,
	}

	series, err := b.Combined()(context.Background(), []victron.Snapshot{unknown})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(series) != 0 {
		t.Errorf("Expected no series for unknown record, got %d", len(series))
	}
}
