package firmware

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	Version  = "cipher-tan Enhanced v2.1-Fixed-Complete"
	DeviceID = "cipher@cobra-mesh"
)

// ErrReset is returned by Run when the host asked for a restart.
var ErrReset = errors.New("device reset requested")

// Config wires an Engine to its board. Only Out is required.
type Config struct {
	Out      io.Writer
	Hardware Hardware       // nil selects a SimLED
	Platform Platform       // nil selects NullPlatform
	Store    Store          // nil selects an empty MemStore
	Random   io.Reader      // OS random base; nil selects crypto/rand
	Chance   func() float64 // uniform draw in [0,1) gating quips; nil selects math/rand/v2

	PollInterval    time.Duration // main loop input poll; default 100ms
	AmbientInterval time.Duration // WiFi ring refresh; default 2s
	TestStep        time.Duration // colour step of the TEST? LED check; default 150ms
	ResetStep       time.Duration // colour step of the RESET blink; default 500ms
}

type stats struct {
	commands   uint64
	keysForged uint64
	rgbUpdates uint64
	errors     uint64
}

// Engine is the device firmware: it owns the LED, the jitter rings and the
// TRNG stream, and answers one command line at a time.
type Engine struct {
	cfg   Config
	hw    Hardware
	plat  Platform
	store Store
	rnd   io.Reader
	roll  func() float64

	wireMu sync.Mutex
	out    io.Writer
	log    *logrus.Logger

	mu        sync.Mutex
	settings  Settings
	led       LEDState
	ledOK     bool
	stats     stats
	lastQuip  time.Time
	lastRX    time.Time
	maintDone uint64
	reset     bool

	ambientMu sync.Mutex
	lastScan  time.Time
	apCount   int
	joined    bool

	wifi ring
	usb  ring

	streamMu sync.Mutex
	stream   *streamer

	start time.Time
}

// New boots the engine: settings are loaded, the LED is brought up and the
// random base is checked. A failing random base is fatal; everything else
// degrades.
func New(cfg Config) (*Engine, error) {
	if cfg.Out == nil {
		return nil, errors.New("firmware: no output writer")
	}
	if cfg.Hardware == nil {
		cfg.Hardware = &SimLED{}
	}
	if cfg.Platform == nil {
		cfg.Platform = NullPlatform{}
	}
	if cfg.Store == nil {
		cfg.Store = &MemStore{}
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	if cfg.Chance == nil {
		cfg.Chance = mrand.Float64
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.AmbientInterval <= 0 {
		cfg.AmbientInterval = 2 * time.Second
	}
	if cfg.TestStep < 0 {
		cfg.TestStep = 0
	} else if cfg.TestStep == 0 {
		cfg.TestStep = 150 * time.Millisecond
	}
	if cfg.ResetStep == 0 {
		cfg.ResetStep = 500 * time.Millisecond
	}

	e := &Engine{
		cfg:    cfg,
		hw:     cfg.Hardware,
		plat:   cfg.Platform,
		store:  cfg.Store,
		rnd:    cfg.Random,
		roll:   cfg.Chance,
		out:    cfg.Out,
		start:  time.Now(),
		lastRX: time.Now(),
	}
	e.log = newWireLogger(e)

	s, err := e.store.Load()
	if err != nil {
		e.log.Errorf("Config load failed: %v", err)
	}
	e.settings = s.clamp()
	e.applyDebug(s.DebugMode)

	if _, err := e.GenerateTRNG(32); err != nil {
		return nil, fmt.Errorf("entropy self-check: %w", err)
	}

	e.initLED()
	e.speak(quipStartup, true)
	e.log.Infof("Boot complete | LED pin: %d | Type: %s", e.led.Pin, e.led.Type)
	return e, nil
}

// initLED tries the configured LED, then the usual WS2812 pins, then the
// discrete RGB pins. With nothing working the engine runs without an LED.
func (e *Engine) initLED() {
	s := e.settings
	try := func(pin int, typ string) bool {
		st, err := e.hw.InitLED(pin, typ, s.RGBPins)
		if err != nil {
			e.log.Errorf("%v", err)
			return false
		}
		e.led, e.ledOK = st, true
		_ = e.hw.SetColor(0, 0, 0)
		return true
	}
	if s.LEDType == LEDTypeRGB {
		if try(s.RGBPins[0], LEDTypeRGB) {
			return
		}
	} else {
		if try(s.LEDPin, LEDTypeWS2812) {
			return
		}
		for _, p := range fallbackPins {
			if p == s.LEDPin {
				continue
			}
			if try(p, LEDTypeWS2812) {
				e.log.Infof("WS2812 working on fallback pin %d", p)
				return
			}
		}
		e.log.Info("WS2812 failed, trying RGB LEDs")
		if try(s.RGBPins[0], LEDTypeRGB) {
			e.log.Infof("RGB LEDs initialized on pins %v", s.RGBPins)
			return
		}
	}
	e.led = LEDState{Pin: s.LEDPin, Type: s.LEDType}
	e.ledOK = false
}

// setColor scales by brightness and writes to the LED.
func (e *Engine) setColor(r, g, b int) error {
	e.mu.Lock()
	bri, ok := e.settings.Brightness, e.ledOK
	e.mu.Unlock()
	if !ok {
		return errNoLED
	}
	scale := func(v int) uint8 { return uint8(float64(v&0xFF) * bri) }
	return e.hw.SetColor(scale(r), scale(g), scale(b))
}

// emit writes one protocol line.
func (e *Engine) emit(line string) {
	e.wireMu.Lock()
	defer e.wireMu.Unlock()
	_, _ = io.WriteString(e.out, line+"\n")
}

func (e *Engine) emitf(format string, args ...any) {
	e.emit(fmt.Sprintf(format, args...))
}

// fail logs an error line and counts it.
func (e *Engine) fail(format string, args ...any) {
	e.mu.Lock()
	e.stats.errors++
	n := e.stats.errors
	e.mu.Unlock()
	e.log.Errorf(format, args...)
	if n%3 == 0 {
		e.speak(quipErrors, false)
	}
}

func (e *Engine) applyDebug(on bool) {
	if on {
		e.log.SetLevel(logrus.DebugLevel)
	} else {
		e.log.SetLevel(logrus.InfoLevel)
	}
}

func (e *Engine) saveSettings() error {
	e.mu.Lock()
	s := e.settings
	e.mu.Unlock()
	if err := e.store.Save(s); err != nil {
		e.log.Errorf("Config save failed: %v", err)
		return err
	}
	return nil
}

// micros is the device tick counter.
func (e *Engine) micros() int64 {
	return time.Since(e.start).Microseconds()
}

// Settings returns a copy of the live settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.settings
	s.RGBPins = append([]int(nil), s.RGBPins...)
	return s
}

// LED returns the LED the engine drives and whether it initialised.
func (e *Engine) LED() (LEDState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.led, e.ledOK
}

// Close stops the TRNG stream.
func (e *Engine) Close() {
	e.stopStream()
}
