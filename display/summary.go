package display

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mjasion/balena-home/victron-monitor/victron"
)

// Summary is what the status display shows: one battery monitor and the
// aggregate of all solar chargers
type Summary struct {
	Battery *BatteryLine
	Solar   SolarLine
}

// BatteryLine describes the primary battery monitor
type BatteryLine struct {
	DeviceID      string
	Voltage       float64
	Current       float64
	SOC           float64
	ConsumedAh    float64
	RemainingMins int
	Infinite      bool
}

// SolarLine aggregates fresh solar chargers
type SolarLine struct {
	Chargers      int
	TotalPVPower  float64
	TotalYieldKWh float64
	States        []string
}

// Summarize builds the display summary from table snapshots. Only valid
// snapshots inside the freshness window are considered. The primary battery
// monitor is the first one in device identifier order.
func Summarize(snapshots map[string]victron.Snapshot, now time.Time, window time.Duration) Summary {
	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sum Summary
	for _, id := range ids {
		snap := snapshots[id]
		if !snap.Valid || !snap.Fresh(now, window) {
			continue
		}

		switch snap.Record.Kind {
		case victron.KindBatteryMonitor:
			if sum.Battery != nil {
				continue
			}
			r := snap.Record.Battery
			mins, infinite := r.TimeToGo()
			sum.Battery = &BatteryLine{
				DeviceID:      id,
				Voltage:       r.Voltage(),
				Current:       r.Current(),
				SOC:           r.SOC(),
				ConsumedAh:    r.ConsumedAh(),
				RemainingMins: mins,
				Infinite:      infinite,
			}

		case victron.KindSolarCharger:
			r := snap.Record.Solar
			sum.Solar.Chargers++
			sum.Solar.TotalPVPower += r.PVPower()
			sum.Solar.TotalYieldKWh += r.YieldToday()
			sum.Solar.States = append(sum.Solar.States, r.State.String())
		}
	}

	return sum
}

// Remaining formats the battery time-to-go as "5h 20m" or "infinite"
func (b *BatteryLine) Remaining() string {
	if b.Infinite {
		return "infinite"
	}
	return fmt.Sprintf("%dh %02dm", b.RemainingMins/60, b.RemainingMins%60)
}

// Lines renders the summary as display rows
func (s Summary) Lines() []string {
	var lines []string

	if s.Battery != nil {
		lines = append(lines,
			fmt.Sprintf("BAT %.2fV %+.2fA %.1f%%", s.Battery.Voltage, s.Battery.Current, s.Battery.SOC),
			fmt.Sprintf("USED %.1fAh LEFT %s", s.Battery.ConsumedAh, s.Battery.Remaining()),
		)
	} else {
		lines = append(lines, "BAT --")
	}

	if s.Solar.Chargers > 0 {
		lines = append(lines,
			fmt.Sprintf("PV %.0fW x%d %s", s.Solar.TotalPVPower, s.Solar.Chargers, strings.Join(s.Solar.States, ",")),
			fmt.Sprintf("YIELD %.2fkWh", s.Solar.TotalYieldKWh),
		)
	} else {
		lines = append(lines, "PV --")
	}

	return lines
}
