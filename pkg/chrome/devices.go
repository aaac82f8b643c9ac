package chrome

import (
	"sort"
	"strings"

	"github.com/chromedp/chromedp/device"
)

// Devices contains the emulation presets a session can be started with.
var Devices = map[string]device.Info{
	"iPhone 12 Pro": {
		Name:      "iPhone 12 Pro",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1",
		Width:     390,
		Height:    844,
		Scale:     1.0, // 1.0 keeps text at its layout size
		Mobile:    true,
		Touch:     true,
	},
	"iPhone X": {
		Name:      "iPhone X",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 11_0 like Mac OS X) AppleWebKit/604.1.38 (KHTML, like Gecko) Version/11.0 Mobile/15A372 Safari/604.1",
		Width:     375,
		Height:    812,
		Scale:     1.0,
		Mobile:    true,
		Touch:     true,
	},
	"iPad Pro": {
		Name:      "iPad Pro",
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 13_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/87.0.4280.77 Mobile/15E148 Safari/604.1",
		Width:     1024,
		Height:    1366,
		Scale:     1.0,
		Mobile:    true,
		Touch:     true,
	},
	"Galaxy S20": {
		Name:      "Galaxy S20",
		UserAgent: "Mozilla/5.0 (Linux; Android 10; SM-G981B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80.0.3987.162 Mobile Safari/537.36",
		Width:     360,
		Height:    800,
		Scale:     1.0,
		Mobile:    true,
		Touch:     true,
	},
	"Desktop 1280x800": {
		Name:      "Desktop 1280x800",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36",
		Width:     1280,
		Height:    800,
		Scale:     1.0,
	},
	"Desktop 1920x1080": {
		Name:      "Desktop 1920x1080",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36",
		Width:     1920,
		Height:    1080,
		Scale:     1.0,
	},
}

// LookupDevice finds a preset by name, ignoring case. An empty name means no
// emulation.
func LookupDevice(name string) (device.Info, bool) {
	if name == "" {
		return device.Info{}, false
	}
	if d, ok := Devices[name]; ok {
		return d, true
	}
	for k, d := range Devices {
		if strings.EqualFold(k, name) {
			return d, true
		}
	}
	return device.Info{}, false
}

func DeviceNames() []string {
	names := make([]string, 0, len(Devices))
	for name := range Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
