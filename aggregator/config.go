package aggregator

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultWindow         = 2 * time.Second
	MinWindow             = 200 * time.Millisecond
	MaxWindow             = 30 * time.Second
	DefaultStatusInterval = 5 * time.Second
	HostRNGBytes          = 32
)

// Config tunes the window pipeline.
type Config struct {
	Window time.Duration // clamped to [MinWindow, MaxWindow]; 0 selects DefaultWindow

	// HostRNG appends 32 bytes of OS randomness to every window before key
	// derivation. AuditHostRNG also feeds those bytes to the audit.
	HostRNG      bool
	AuditHostRNG bool

	PQC      bool // master switch for wrapping
	KEM      bool // try KEM wrapping first
	Sign     bool // then signature wrapping
	AutoSave bool // write public/secret artifacts for wrapped keys

	StatusInterval time.Duration // STAT? polling of an attached link; 0 selects the default
	PoolCapacity   int           // chunks; 0 selects pool.DefaultCapacity

	Logger *logrus.Logger
}

// DefaultConfig mirrors the interactive defaults: host randomness mixed in,
// both PQC strategies enabled and artifacts saved.
func DefaultConfig() Config {
	return Config{
		Window:         DefaultWindow,
		HostRNG:        true,
		PQC:            true,
		KEM:            true,
		Sign:           true,
		AutoSave:       true,
		StatusInterval: DefaultStatusInterval,
	}
}

// ClampWindow bounds d to the supported window range.
func ClampWindow(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultWindow
	}
	return min(MaxWindow, max(MinWindow, d))
}
