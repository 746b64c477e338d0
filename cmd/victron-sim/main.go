package main

import (
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron-monitor/victron"
)

func main() {
	kind := flag.String("type", "battery", "record type: battery or solar")
	keyHex := flag.String("key", "0102030405060708090a0b0c0d0e0f10", "16-byte device key (hex)")
	mac := flag.String("mac", "aa:bb:cc:dd:ee:ff", "device MAC address used for -decode")
	layoutFlag := flag.String("layout", "keycheck", "protocol layout: keycheck or legacy")
	model := flag.Uint("model", 0xA389, "model identifier")
	iv := flag.Uint("iv", 1, "IV counter")
	decode := flag.Bool("decode", false, "decode the generated advertisement back and print it")

	voltage := flag.Float64("voltage", 12.8, "battery voltage (V)")
	current := flag.Float64("current", -2.5, "battery current (A)")

	soc := flag.Float64("soc", 85, "battery monitor: state of charge (%)")
	consumed := flag.Float64("consumed", -12.3, "battery monitor: consumed charge (Ah, zero or negative)")
	ttg := flag.Int("ttg", 600, "battery monitor: time to go (minutes, -1 for infinite)")
	aux := flag.Uint("aux", uint(victron.AuxInputNone), "battery monitor: aux input type (0-3)")
	auxVoltage := flag.Float64("aux-voltage", 0, "battery monitor: aux voltage (V)")
	alarm := flag.Uint("alarm", 0, "battery monitor: alarm bits")

	pv := flag.Uint("pv", 120, "solar charger: PV power (W)")
	yield := flag.Float64("yield", 1.25, "solar charger: yield today (kWh)")
	state := flag.Uint("state", uint(victron.ChargerStateBulk), "solar charger: device state")
	errCode := flag.Uint("error", 0, "solar charger: error code")
	load := flag.Float64("load", 0, "solar charger: load current (A)")
	loadOn := flag.Bool("load-on", false, "solar charger: load output on")
	flag.Parse()

	layout, err := victron.ParseLayout(*layoutFlag)
	must("parse layout", err)

	key, err := victron.ParseKey(*keyHex)
	must("parse key", err)

	adv := victron.Advertisement{
		Layout:    layout,
		Key:       key,
		ModelID:   uint16(*model),
		IVCounter: uint16(*iv),
	}

	switch *kind {
	case "battery":
		reading := &victron.BatteryMonitorReading{
			TimeToGoMinutes:  victron.TimeToGoInfinite,
			Centivolts:       int16(math.Round(*voltage * 100)),
			Alarm:            uint16(*alarm),
			AuxCentivolts:    int16(math.Round(*auxVoltage * 100)),
			AuxInput:         uint8(*aux & 0x03),
			CurrentMilliamps: int32(math.Round(*current * 1000)),
			ConsumedDeciAh:   int32(math.Round(*consumed * 10)),
			SOCPermille:      uint16(math.Round(*soc * 10)),
		}
		if *ttg >= 0 {
			reading.TimeToGoMinutes = uint16(*ttg)
		}
		adv.ReadoutType = victron.ReadoutBatteryMonitor
		adv.Plaintext = victron.EncodeBatteryMonitor(reading)

	case "solar":
		reading := &victron.SolarChargerReading{
			State:               victron.ChargerState(*state),
			ErrorCode:           uint8(*errCode),
			BatteryCentivolts:   int16(math.Round(*voltage * 100)),
			BatteryDeciamps:     int16(math.Round(*current * 10)),
			YieldTodayCentiKWh:  uint16(math.Round(*yield * 100)),
			PVPowerWatts:        uint16(*pv),
			LoadCurrentDeciamps: uint16(math.Round(*load * 10)),
			LoadOn:              *loadOn,
		}
		adv.ReadoutType = victron.ReadoutSolarCharger
		adv.Plaintext = victron.EncodeSolarCharger(reading)

	default:
		must("select type", fmt.Errorf("unknown record type %q (expected 'battery' or 'solar')", *kind))
	}

	payload, err := adv.Build()
	must("build advertisement", err)

	vendor := make([]byte, 2)
	binary.LittleEndian.PutUint16(vendor, victron.VendorID)

	fmt.Printf("Layout:            %s\n", layout)
	fmt.Printf("Readout type:      %s\n", adv.ReadoutType)
	fmt.Printf("Plaintext:         %s\n", hex.EncodeToString(adv.Plaintext))
	fmt.Printf("Manufacturer data: %s\n", hex.EncodeToString(payload))
	fmt.Printf("With vendor ID:    %s%s\n", hex.EncodeToString(vendor), hex.EncodeToString(payload))

	if !*decode {
		return
	}

	keys := victron.NewKeyRegistry()
	monitor := victron.NewMonitor(victron.MonitorConfig{Layout: layout}, keys, victron.NewDeviceTable(), zap.NewNop())
	must("register key", monitor.AddDeviceKey(*mac, *keyHex))

	snap, err := monitor.OnAdvertisement(*mac, victron.VendorID, payload)
	must("decode advertisement", err)

	fmt.Println()
	fmt.Printf("Decoded at %s:\n", snap.ObservedAt.Format(time.RFC3339))
	view := victron.NewView(snap)
	printView(&view)
}

func printView(v *victron.View) {
	fmt.Printf("  type:           %s\n", v.Type)
	printFloat("voltage", v.Voltage, "V")
	printFloat("current", v.Current, "A")
	printFloat("pv_power", v.PVPower, "W")
	printFloat("yield_today", v.YieldToday, "kWh")
	printFloat("load_current", v.LoadCurrent, "A")
	printFloat("efficiency", v.Efficiency, "%")
	if v.State != "" {
		fmt.Printf("  state:          %s\n", v.State)
	}
	printFloat("soc", v.SOC, "%")
	printFloat("consumed_ah", v.ConsumedAh, "Ah")
	printFloat("power", v.Power, "W")
	printFloat("aux_voltage", v.AuxVoltage, "V")
	if v.RemainingMins != nil {
		if *v.RemainingMins < 0 {
			fmt.Println("  remaining_mins: infinite")
		} else {
			fmt.Printf("  remaining_mins: %d\n", *v.RemainingMins)
		}
	}
}

func printFloat(name string, v *float64, unit string) {
	if v == nil {
		return
	}
	fmt.Printf("  %-15s %.2f %s\n", name+":", *v, unit)
}

func must(action string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to %s: %v\n", action, err)
		os.Exit(1)
	}
}
