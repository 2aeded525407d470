// Package config loads the host daemon settings from an optional YAML file
// and CHAOS_* environment variables. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/Thiagojm/entropic_chaos_go/aggregator"
	"github.com/Thiagojm/entropic_chaos_go/naming"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CHAOS_"

// Serial configures the device link.
type Serial struct {
	Port       string  `yaml:"port" env:"PORT"` // empty means auto-detect
	Baud       int     `yaml:"baud" env:"BAUD"`
	Brightness float64 `yaml:"brightness" env:"BRIGHTNESS"`
	TRNGRate   int     `yaml:"trng_rate" env:"TRNG_RATE"` // frames per second; 0 leaves streaming off
	Disabled   bool    `yaml:"disabled" env:"DISABLED"`
}

// Sources selects the producers attached at startup.
type Sources struct {
	Keyboard   bool          `yaml:"keyboard" env:"KEYBOARD"`
	TrueRNG    bool          `yaml:"truerng" env:"TRUERNG"`
	BitBabbler bool          `yaml:"bitbabbler" env:"BITBABBLER"`
	Pseudo     bool          `yaml:"pseudo" env:"PSEUDO"`
	Bytes      int           `yaml:"bytes" env:"BYTES"` // per sample of device readers
	Interval   time.Duration `yaml:"interval" env:"INTERVAL"`
}

// Config is the chaos command configuration.
type Config struct {
	Window         time.Duration `yaml:"window" env:"WINDOW"`
	HostRNG        bool          `yaml:"host_rng" env:"HOST_RNG"`
	AuditHostRNG   bool          `yaml:"audit_host_rng" env:"AUDIT_HOST_RNG"`
	PQC            bool          `yaml:"pqc" env:"PQC"`
	KEM            bool          `yaml:"kem" env:"KEM"`
	Sign           bool          `yaml:"sign" env:"SIGN"`
	AutoSave       bool          `yaml:"auto_save" env:"AUTO_SAVE"`
	StatusInterval time.Duration `yaml:"status_interval" env:"STATUS_INTERVAL"`

	LogPath      string `yaml:"log_path" env:"LOG_PATH"` // empty selects a per-process session log in LogDir
	LogDir       string `yaml:"log_dir" env:"LOG_DIR"`
	KeysDir      string `yaml:"keys_dir" env:"KEYS_DIR"`
	CaptureDir   string `yaml:"capture_dir" env:"CAPTURE_DIR"` // raw windows are appended here when set
	LogLevel     string `yaml:"log_level" env:"LOG_LEVEL"`
	PoolCapacity int    `yaml:"pool_capacity" env:"POOL_CAPACITY"`

	Serial  Serial  `yaml:"serial" envPrefix:"SERIAL_"`
	Sources Sources `yaml:"sources" envPrefix:"SOURCES_"`
}

// Default returns the built-in configuration.
func Default() Config {
	d := aggregator.DefaultConfig()
	return Config{
		Window:         d.Window,
		HostRNG:        d.HostRNG,
		AuditHostRNG:   d.AuditHostRNG,
		PQC:            d.PQC,
		KEM:            d.KEM,
		Sign:           d.Sign,
		AutoSave:       d.AutoSave,
		StatusInterval: d.StatusInterval,
		LogDir:         "logs",
		KeysDir:        "keys",
		LogLevel:       "info",
		Serial: Serial{
			Baud:       115200,
			Brightness: 1.0,
			TRNGRate:   10,
		},
		Sources: Sources{
			Keyboard: true,
			Bytes:    256,
			Interval: time.Second,
		},
	}
}

// Load starts from Default, overlays the YAML file at path and then the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.LogPath == "" && c.LogDir == "" {
		errs = append(errs, errors.New("log_path or log_dir is required"))
	}
	if c.Serial.Brightness < 0 || c.Serial.Brightness > 1 {
		errs = append(errs, fmt.Errorf("serial.brightness %.2f outside [0,1]", c.Serial.Brightness))
	}
	if c.Serial.TRNGRate < 0 || c.Serial.TRNGRate > 50 {
		errs = append(errs, fmt.Errorf("serial.trng_rate %d outside [0,50]", c.Serial.TRNGRate))
	}
	if c.Sources.Bytes <= 0 {
		errs = append(errs, errors.New("sources.bytes must be positive"))
	}
	if c.Sources.Interval <= 0 {
		errs = append(errs, errors.New("sources.interval must be positive"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// KeyLogPath is LogPath, or the session log of process pid inside LogDir.
func (c Config) KeyLogPath(pid int) string {
	if c.LogPath != "" {
		return c.LogPath
	}
	return naming.SessionLog(c.LogDir, pid)
}

// Level returns the configured log level, info when unparsable.
func (c Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

// Aggregator converts c into the pipeline configuration.
func (c Config) Aggregator(log *logrus.Logger) aggregator.Config {
	return aggregator.Config{
		Window:         aggregator.ClampWindow(c.Window),
		HostRNG:        c.HostRNG,
		AuditHostRNG:   c.AuditHostRNG,
		PQC:            c.PQC,
		KEM:            c.KEM,
		Sign:           c.Sign,
		AutoSave:       c.AutoSave,
		StatusInterval: c.StatusInterval,
		PoolCapacity:   c.PoolCapacity,
		Logger:         log,
	}
}
