package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// TrueRNGPrefix identifies a TrueRNG stick by product, serial number or
// port name.
const TrueRNGPrefix = "TrueRNG"

// TrueRNG VID and the PIDs of the common models.
const (
	trueRNGVID = "16D0"
)

var trueRNGPIDs = []string{"0AA0", "0AA2", "0AA4"}

// FindTrueRNG returns the serial port of the first TrueRNG found.
func FindTrueRNG() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerating ports: %w", err)
	}
	for _, p := range ports {
		if isTrueRNG(p) && p.Name != "" {
			return p.Name, nil
		}
	}
	return "", errors.New("TrueRNG device not found")
}

func isTrueRNG(p *enumerator.PortDetails) bool {
	if p == nil {
		return false
	}
	if p.IsUSB && (strings.HasPrefix(p.Product, TrueRNGPrefix) || strings.HasPrefix(p.SerialNumber, TrueRNGPrefix)) {
		return true
	}
	if strings.HasPrefix(p.Name, TrueRNGPrefix) {
		return true
	}
	if strings.EqualFold(p.VID, trueRNGVID) {
		for _, pid := range trueRNGPIDs {
			if strings.EqualFold(p.PID, pid) {
				return true
			}
		}
	}
	return false
}

// TrueRNG reads a TrueRNG stick. The port is opened on first use and kept
// open until Close.
type TrueRNG struct {
	PortName    string
	ReadTimeout time.Duration // whole-read deadline; default 10s

	mu   sync.Mutex
	port serial.Port
}

func (t *TrueRNG) Name() string { return "trng" }

func (t *TrueRNG) open() error {
	if t.port != nil {
		return nil
	}
	name := t.PortName
	if name == "" {
		var err error
		if name, err = FindTrueRNG(); err != nil {
			return err
		}
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: 3000000, // the OS clamps this when unsupported
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	// TrueRNG only streams with DTR asserted.
	_ = port.SetDTR(true)
	_ = port.SetReadTimeout(time.Second)
	_ = port.ResetInputBuffer()
	t.port = port
	return nil
}

// Read opens the port on first use and returns n bytes.
func (t *TrueRNG) Read(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("n must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.open(); err != nil {
		return nil, err
	}

	timeout := t.ReadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	buf := make([]byte, n)
	for total := 0; total < n; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("read timeout after %s: read %d/%d bytes", timeout, total, n)
		}
		m, err := t.port.Read(buf[total:])
		if err != nil {
			t.closeLocked()
			return nil, fmt.Errorf("read error: %w", err)
		}
		total += m
		if m == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	return buf, nil
}

// Close releases the port.
func (t *TrueRNG) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *TrueRNG) closeLocked() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
