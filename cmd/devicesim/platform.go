package main

import (
	"sync"

	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/net"

	"github.com/Thiagojm/entropic_chaos_go/firmware"
)

// hostPlatform reports the host's memory and NIC counters in place of the
// board heap and WiFi scan.
type hostPlatform struct {
	mu   sync.Mutex
	prev map[string]net.IOCountersStat
}

func newHostPlatform() *hostPlatform {
	return &hostPlatform{prev: make(map[string]net.IOCountersStat)}
}

func (p *hostPlatform) FreeMemory() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return -1
	}
	return int64(vm.Available)
}

func (p *hostPlatform) ScanAmbient() (firmware.Ambient, error) {
	stats, err := net.IOCounters(true)
	if err != nil {
		return firmware.Ambient{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return ambientFrom(p.prev, stats), nil
}

// ambientFrom folds the change of every interface's counters since the
// previous scan into one byte per interface, the way a scan folds each
// access point's RSSI and BSSID. prev is updated in place.
func ambientFrom(prev map[string]net.IOCountersStat, stats []net.IOCountersStat) firmware.Ambient {
	var amb firmware.Ambient
	for _, s := range stats {
		old, seen := prev[s.Name]
		prev[s.Name] = s
		if s.BytesRecv == 0 && s.BytesSent == 0 {
			continue
		}
		amb.Sources++
		if s.Name != "lo" && s.PacketsRecv > 0 {
			amb.Joined = true
		}
		if !seen {
			continue
		}
		d := (s.BytesRecv - old.BytesRecv) ^ (s.BytesSent-old.BytesSent)<<3 ^ (s.PacketsRecv - old.PacketsRecv)
		amb.Bytes = append(amb.Bytes, byte(d)^byte(d>>8)^byte(d>>16))
	}
	return amb
}
