package seriallink

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB vendor IDs of boards known to run the firmware: Espressif native USB,
// Silicon Labs CP210x and WCH CH340 bridges.
var knownVIDs = []string{"303A", "10C4", "1A86"}

// ErrNoDevice is returned by FindPort when nothing looks like a device.
var ErrNoDevice = errors.New("no entropy device found")

// FindPort returns the first USB serial port whose vendor ID matches a known
// board.
func FindPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerating ports: %w", err)
	}
	for _, p := range ports {
		if p == nil || !p.IsUSB || p.Name == "" {
			continue
		}
		for _, vid := range knownVIDs {
			if strings.EqualFold(p.VID, vid) {
				return p.Name, nil
			}
		}
	}
	return "", ErrNoDevice
}

// ListPorts returns every serial port name on the host.
func ListPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating ports: %w", err)
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		if p != nil && p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return names, nil
}
