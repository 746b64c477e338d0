package display

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron-monitor/victron"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func battery(id string, soc uint16, ttg uint16, age time.Duration) victron.Snapshot {
	return victron.Snapshot{
		DeviceID: id,
		Record: victron.Record{
			Kind:        victron.KindBatteryMonitor,
			ReadoutType: victron.ReadoutBatteryMonitor,
			Battery: &victron.BatteryMonitorReading{
				TimeToGoMinutes:  ttg,
				Centivolts:       1250,
				CurrentMilliamps: -1500,
				ConsumedDeciAh:   -100,
				SOCPermille:      soc,
			},
		},
		ObservedAt: now.Add(-age),
		Valid:      true,
	}
}

func solar(id string, pv uint16, age time.Duration) victron.Snapshot {
	return victron.Snapshot{
		DeviceID: id,
		Record: victron.Record{
			Kind:        victron.KindSolarCharger,
			ReadoutType: victron.ReadoutSolarCharger,
			Solar: &victron.SolarChargerReading{
				State:              victron.ChargerStateBulk,
				PVPowerWatts:       pv,
				YieldTodayCentiKWh: 125,
			},
		},
		ObservedAt: now.Add(-age),
		Valid:      true,
	}
}

func TestSummarize_PrimaryBatteryIsFirstFreshByID(t *testing.T) {
	snaps := map[string]victron.Snapshot{
		"aa:00:00:00:00:03": battery("aa:00:00:00:00:03", 300, 60, time.Second),
		"aa:00:00:00:00:01": battery("aa:00:00:00:00:01", 100, 60, time.Hour), // stale
		"aa:00:00:00:00:02": battery("aa:00:00:00:00:02", 200, 60, time.Second),
	}

	sum := Summarize(snaps, now, time.Minute)

	if sum.Battery == nil {
		t.Fatal("Expected a primary battery monitor")
	}
	if sum.Battery.DeviceID != "aa:00:00:00:00:02" {
		t.Errorf("Expected primary aa:00:00:00:00:02, got %s", sum.Battery.DeviceID)
	}
	if sum.Battery.SOC != 20 {
		t.Errorf("Expected SOC 20, got %f", sum.Battery.SOC)
	}
}

func TestSummarize_AggregatesFreshSolar(t *testing.T) {
	snaps := map[string]victron.Snapshot{
		"bb:00:00:00:00:01": solar("bb:00:00:00:00:01", 100, time.Second),
		"bb:00:00:00:00:02": solar("bb:00:00:00:00:02", 250, 30*time.Second),
		"bb:00:00:00:00:03": solar("bb:00:00:00:00:03", 999, 2*time.Minute), // stale
	}

	sum := Summarize(snaps, now, time.Minute)

	if sum.Solar.Chargers != 2 {
		t.Errorf("Expected 2 chargers, got %d", sum.Solar.Chargers)
	}
	if sum.Solar.TotalPVPower != 350 {
		t.Errorf("Expected total PV power 350, got %f", sum.Solar.TotalPVPower)
	}
	if sum.Solar.TotalYieldKWh != 2.5 {
		t.Errorf("Expected total yield 2.5, got %f", sum.Solar.TotalYieldKWh)
	}
	if sum.Battery != nil {
		t.Error("Expected no battery line without battery monitors")
	}
}

func TestSummarize_SkipsInvalid(t *testing.T) {
	snap := battery("aa:00:00:00:00:01", 500, 60, time.Second)
	snap.Valid = false

	sum := Summarize(map[string]victron.Snapshot{snap.DeviceID: snap}, now, time.Minute)
	if sum.Battery != nil {
		t.Error("Expected invalid snapshot to be skipped")
	}
}

func TestBatteryLine_Remaining(t *testing.T) {
	tests := []struct {
		line     BatteryLine
		expected string
	}{
		{BatteryLine{RemainingMins: 320}, "5h 20m"},
		{BatteryLine{RemainingMins: 5}, "0h 05m"},
		{BatteryLine{Infinite: true}, "infinite"},
	}

	for _, tt := range tests {
		if got := tt.line.Remaining(); got != tt.expected {
			t.Errorf("Expected %q, got %q", tt.expected, got)
		}
	}
}

func TestSummary_Lines(t *testing.T) {
	snaps := map[string]victron.Snapshot{
		"aa:00:00:00:00:01": battery("aa:00:00:00:00:01", 805, victron.TimeToGoInfinite, time.Second),
		"bb:00:00:00:00:01": solar("bb:00:00:00:00:01", 120, time.Second),
	}

	lines := Summarize(snaps, now, time.Minute).Lines()

	expected := []string{
		"BAT 12.50V -1.50A 80.5%",
		"USED -10.0Ah LEFT infinite",
		"PV 120W x1 bulk",
		"YIELD 1.25kWh",
	}
	if len(lines) != len(expected) {
		t.Fatalf("Expected %d lines, got %d: %v", len(expected), len(lines), lines)
	}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Errorf("Expected line %d %q, got %q", i, expected[i], lines[i])
		}
	}
}

func TestSummary_LinesEmpty(t *testing.T) {
	lines := Summary{}.Lines()
	if len(lines) != 2 || lines[0] != "BAT --" || lines[1] != "PV --" {
		t.Errorf("Expected placeholder lines, got %v", lines)
	}
}

func TestReporter_InvalidSchedule(t *testing.T) {
	r := NewReporter(victron.NewDeviceTable(), "not a schedule", time.Minute, zap.NewNop())

	if err := r.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid schedule")
	}
}

func TestReporter_StopsOnCancel(t *testing.T) {
	table := victron.NewDeviceTable()
	table.Upsert("aa:00:00:00:00:01", battery("aa:00:00:00:00:01", 500, 60, 0).Record, time.Now())

	logger, _ := zap.NewDevelopment()
	r := NewReporter(table, "@every 1s", time.Minute, logger)
	r.Report()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected reporter to stop after cancel")
	}
}
