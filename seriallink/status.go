package seriallink

import "time"

// DeviceStatus is the JSON body of a STATUS: report.
type DeviceStatus struct {
	Version          string  `json:"version"`
	UptimeMs         int64   `json:"uptime_ms"`
	Commands         uint64  `json:"commands"`
	KeysForged       uint64  `json:"keys_forged"`
	RGBUpdates       uint64  `json:"rgb_updates"`
	MemoryFree       int64   `json:"memory_free"`
	Errors           uint64  `json:"errors"`
	LEDPin           int     `json:"led_pin"`
	LEDType          string  `json:"led_type"`
	Brightness       float64 `json:"brightness"`
	WiFiEntropyBytes int     `json:"wifi_entropy_bytes"`
	USBEntropyBytes  int     `json:"usb_entropy_bytes"`
	WiFiLastScanMs   int64   `json:"wifi_last_scan_ms"`
	WiFiAPCount      int     `json:"wifi_ap_count"`
	WiFiJoined       bool    `json:"wifi_joined"`

	ReceivedAt time.Time `json:"-"`
}

// Uptime returns the device uptime as a duration.
func (s DeviceStatus) Uptime() time.Duration {
	return time.Duration(s.UptimeMs) * time.Millisecond
}
