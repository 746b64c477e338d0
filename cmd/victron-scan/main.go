package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/victron-monitor/victron"
)

var adapter = bluetooth.DefaultAdapter

func main() {
	layoutFlag := flag.String("layout", "keycheck", "protocol layout: keycheck or legacy")
	keysFlag := flag.String("keys", "", "comma-separated mac=hexkey pairs; matching devices are decoded")
	all := flag.Bool("all", false, "print every advertisement instead of the first per device")
	flag.Parse()

	layout, err := victron.ParseLayout(*layoutFlag)
	must("parse layout", err)

	keys := victron.NewKeyRegistry()
	must("parse keys", addKeys(keys, *keysFlag))
	monitor := victron.NewMonitor(victron.MonitorConfig{Layout: layout}, keys, victron.NewDeviceTable(), zap.NewNop())

	must("enable BLE stack", adapter.Enable())

	seen := make(map[string]bool)

	fmt.Printf("Scanning for vendor 0x%04X advertisements (%s layout, %d keys)\n\n", victron.VendorID, layout, keys.Len())

	err = adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		address := result.Address.String()

		for _, md := range result.ManufacturerData() {
			if md.CompanyID != victron.VendorID {
				continue
			}
			if !*all && seen[address] {
				return
			}
			seen[address] = true

			printAdvertisement(result, address, md.Data, layout)
			printDecoded(monitor, address, md.Data)
			fmt.Println()
		}
	})
	must("start scan", err)
}

func addKeys(keys *victron.KeyRegistry, pairs string) error {
	if strings.TrimSpace(pairs) == "" {
		return nil
	}
	for _, pair := range strings.Split(pairs, ",") {
		mac, key, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("expected mac=hexkey, got %q", pair)
		}
		if err := keys.Add(mac, key); err != nil {
			return fmt.Errorf("%s: %w", mac, err)
		}
	}
	return nil
}

func printAdvertisement(result bluetooth.ScanResult, address string, payload []byte, layout victron.Layout) {
	fmt.Printf("%s  %s  %q  RSSI %d dBm (%s)\n",
		time.Now().Format("15:04:05"), address, result.LocalName(), result.RSSI, signalLabel(result.RSSI))
	fmt.Printf("  payload   % X\n", payload)

	env, err := victron.ParseEnvelope(payload, layout)
	if err != nil {
		fmt.Printf("  header    %v\n", err)
		return
	}

	fmt.Printf("  model     0x%04X\n", env.ModelID)
	fmt.Printf("  readout   %s (0x%02X)\n", env.ReadoutType, byte(env.ReadoutType))
	fmt.Printf("  iv        %d\n", env.IVCounter)
	if env.HasKeyCheck {
		fmt.Printf("  key check 0x%02X\n", env.KeyCheck)
	}
	fmt.Printf("  encrypted %d bytes\n", len(env.Ciphertext))
}

func printDecoded(monitor *victron.Monitor, address string, payload []byte) {
	if _, ok := monitor.Keys().Lookup(address); !ok {
		return
	}

	snap, err := monitor.OnAdvertisement(address, victron.VendorID, payload)
	switch {
	case errors.Is(err, victron.ErrKeyCheckFailed):
		fmt.Println("  decoded   key check failed: wrong key for this device")
		return
	case err != nil:
		fmt.Printf("  decoded   %v\n", err)
		return
	}

	view := victron.NewView(snap)
	fmt.Printf("  decoded   %s", view.Type)
	if view.Voltage != nil {
		fmt.Printf(" %.2fV", *view.Voltage)
	}
	if view.Current != nil {
		fmt.Printf(" %+.3fA", *view.Current)
	}
	if view.PVPower != nil {
		fmt.Printf(" pv=%.0fW state=%s", *view.PVPower, view.State)
	}
	if view.SOC != nil {
		fmt.Printf(" soc=%.1f%%", *view.SOC)
	}
	if view.RemainingMins != nil && *view.RemainingMins >= 0 {
		fmt.Printf(" ttg=%dmin", *view.RemainingMins)
	}
	fmt.Println()
}

func signalLabel(rssi int16) string {
	switch {
	case rssi >= -60:
		return "strong"
	case rssi >= -75:
		return "usable"
	default:
		return "weak"
	}
}

func must(action string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to %s: %v\n", action, err)
		os.Exit(1)
	}
}
