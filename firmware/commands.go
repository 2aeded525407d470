package firmware

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// command binds a verb prefix to its handler. Exact verbs match the whole
// line. A handler error is logged under label and counted.
type command struct {
	verb  string
	exact bool
	label string
	run   func(e *Engine, arg string) error
}

var commands = []command{
	{verb: "RGB:", label: "RGB command error", run: (*Engine).cmdRGB},
	{verb: "BRI:", label: "Brightness error", run: (*Engine).cmdBrightness},
	{verb: "PIN:", label: "Pin change error", run: (*Engine).cmdPin},
	{verb: "RND?", exact: true, label: "RND request failed", run: (*Engine).cmdRandom},
	{verb: "POOL:", label: "Key forge error", run: (*Engine).cmdForge},
	{verb: "VER?", exact: true, label: "Version error", run: (*Engine).cmdVersion},
	{verb: "STAT?", exact: true, label: "Status error", run: (*Engine).cmdStatus},
	{verb: "DEBUG:", label: "Debug command error", run: (*Engine).cmdDebug},
	{verb: "PERSONALITY:", label: "Personality error", run: (*Engine).cmdPersonality},
	{verb: "TEST?", exact: true, label: "System test failed", run: (*Engine).cmdSelfTest},
	{verb: "RESET", exact: true, label: "Reset error", run: (*Engine).cmdReset},
	{verb: "TRNG:START", label: "TRNG start error", run: (*Engine).cmdTRNGStart},
	{verb: "TRNG:STOP", label: "TRNG stop error", run: (*Engine).cmdTRNGStop},
}

// Handle processes one command line. It never panics.
func (e *Engine) Handle(line string) {
	e.mu.Lock()
	e.stats.commands++
	e.mu.Unlock()

	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	e.markRX()
	e.log.Debugf("Command: %s", line)

	defer func() {
		if r := recover(); r != nil {
			e.fail("Command handling failed: %v", r)
		}
	}()

	for _, c := range commands {
		if c.exact && line != c.verb {
			continue
		}
		if !c.exact && !strings.HasPrefix(line, c.verb) {
			continue
		}
		if err := c.run(e, line[len(c.verb):]); err != nil {
			e.fail("%s: %v", c.label, err)
		}
		return
	}
	e.fail("Unknown command: %s", line)
}

func (e *Engine) cmdRGB(arg string) error {
	parts := strings.Split(arg, ",")
	if len(parts) != 3 {
		return errors.New("need exactly 3 RGB values")
	}
	var rgb [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return err
		}
		if v < 0 || v > 255 {
			return errors.New("RGB values must be 0-255")
		}
		rgb[i] = v
	}
	if err := e.setColor(rgb[0], rgb[1], rgb[2]); err != nil {
		return fmt.Errorf("RGB update failed: %w", err)
	}
	e.mu.Lock()
	e.stats.rgbUpdates++
	e.mu.Unlock()
	e.log.Debugf("RGB: (%d, %d, %d)", rgb[0], rgb[1], rgb[2])
	return nil
}

func (e *Engine) cmdBrightness(arg string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
	if err != nil {
		return err
	}
	if v < 0.01 || v > 1.0 {
		return errors.New("brightness must be 0.01-1.0")
	}
	e.mu.Lock()
	e.settings.Brightness = v
	e.mu.Unlock()
	if e.saveSettings() == nil {
		e.emitf("[cipher-tan] Brightness set to %.2f and saved!", v)
	} else {
		e.emitf("[cipher-tan] Brightness set to %.2f but save failed!", v)
	}
	return nil
}

// cmdPin moves the LED to another pin and reverts when the new pin does not
// come up.
func (e *Engine) cmdPin(arg string) error {
	pin, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return err
	}
	if pin < 0 || pin > 48 {
		return errors.New("pin must be 0-48")
	}
	e.mu.Lock()
	old := e.led
	typ, rgbPins := e.led.Type, e.settings.RGBPins
	e.mu.Unlock()
	if typ == "" {
		typ = LEDTypeWS2812
	}

	st, err := e.hw.InitLED(pin, typ, rgbPins)
	if err != nil {
		if _, rerr := e.hw.InitLED(old.Pin, old.Type, rgbPins); rerr != nil {
			e.log.Errorf("LED revert to pin %d failed: %v", old.Pin, rerr)
		}
		return fmt.Errorf("pin %d failed", pin)
	}
	e.mu.Lock()
	e.led, e.ledOK = st, true
	e.settings.LEDPin = pin
	e.mu.Unlock()
	if e.saveSettings() == nil {
		e.emitf("[cipher-tan] LED pin changed to %d and saved!", pin)
	} else {
		e.emitf("[cipher-tan] LED pin changed to %d but save failed!", pin)
	}
	return nil
}

// cmdRandom answers RND:<hex> with 32 mixed bytes, falling back to plain OS
// randomness and finally to RND:ERROR so the reply keeps its tag.
func (e *Engine) cmdRandom(string) error {
	data, err := e.GenerateTRNG(32)
	if err == nil {
		e.emit("RND:" + hex.EncodeToString(data))
		if e.roll() < rgbQuipChance {
			e.speak(quipRGB, false)
		}
		return nil
	}
	fallback := make([]byte, 32)
	if _, ferr := rand.Read(fallback); ferr != nil {
		e.emit("RND:ERROR")
	} else {
		e.emit("RND:" + hex.EncodeToString(fallback))
	}
	return err
}

// cmdForge answers KEY:<hex>. On failure nothing is sent and the host times
// out.
func (e *Engine) cmdForge(arg string) error {
	pool, err := hex.DecodeString(strings.TrimSpace(arg))
	if err != nil {
		return err
	}
	key, err := e.ForgeKey(pool)
	if err != nil {
		return err
	}
	e.emit("KEY:" + hex.EncodeToString(key))
	return nil
}

func (e *Engine) cmdVersion(string) error {
	e.mu.Lock()
	led, bri := e.led, e.settings.Brightness
	e.mu.Unlock()
	e.emitf("%s | %s | pin=%d | brightness=%.2f | type=%s", Version, DeviceID, led.Pin, bri, led.Type)
	return nil
}

// Status is the body of a STATUS: report.
type Status struct {
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
}

// Status snapshots the engine counters.
func (e *Engine) Status() Status {
	scanMs, aps, joined := e.ambientState()
	free := e.plat.FreeMemory()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Version:          Version,
		UptimeMs:         time.Since(e.start).Milliseconds(),
		Commands:         e.stats.commands,
		KeysForged:       e.stats.keysForged,
		RGBUpdates:       e.stats.rgbUpdates,
		MemoryFree:       free,
		Errors:           e.stats.errors,
		LEDPin:           e.led.Pin,
		LEDType:          e.led.Type,
		Brightness:       e.settings.Brightness,
		WiFiEntropyBytes: e.wifi.cursor(),
		USBEntropyBytes:  e.usb.cursor(),
		WiFiLastScanMs:   scanMs,
		WiFiAPCount:      aps,
		WiFiJoined:       joined,
	}
}

func (e *Engine) cmdStatus(string) error {
	body, err := json.Marshal(e.Status())
	if err != nil {
		return err
	}
	e.emit("STATUS:" + string(body))
	return nil
}

func (e *Engine) cmdDebug(arg string) error {
	var on bool
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "on", "true", "1":
		on = true
	case "off", "false", "0":
	default:
		return errors.New("mode must be on/off")
	}
	e.mu.Lock()
	e.settings.DebugMode = on
	e.mu.Unlock()
	e.applyDebug(on)
	_ = e.saveSettings()
	state := "OFF"
	if on {
		state = "ON"
	}
	e.emit("[cipher-tan] Debug mode: " + state)
	return nil
}

func (e *Engine) cmdPersonality(arg string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
	if err != nil {
		return err
	}
	if v < 0 || v > 1 {
		return errors.New("personality level must be 0.0-1.0")
	}
	e.mu.Lock()
	e.settings.Personality = v
	e.mu.Unlock()
	_ = e.saveSettings()
	switch {
	case v > 0.8:
		e.emit("[cipher-tan] Maximum sass mode activated!")
	case v > 0.5:
		e.emit("[cipher-tan] Moderate chatter mode engaged.")
	case v > 0.2:
		e.emit("[cipher-tan] Quiet mode set.")
	default:
		e.emit("[cipher-tan] Silent mode - all business!")
	}
	return nil
}

// SelfTest is the body of a TEST: report.
type SelfTest struct {
	LED            string `json:"led_test"`
	Entropy        string `json:"entropy_test"`
	EntropyQuality string `json:"entropy_quality"`
	Memory         string `json:"memory_test"`
	KeyForge       string `json:"key_forge_test"`
	Overall        string `json:"overall"`
}

const (
	testPass = "PASS"
	testWarn = "WARN"
	testFail = "FAIL"

	lowMemory = 50_000
)

var selfTestPool = []byte("test_entropy_data_12345678")

// RunSelfTest cycles the LED, samples the TRNG, checks free memory and
// forges a test key. A board running without an LED passes the LED check;
// only a write error from an initialised LED fails it.
func (e *Engine) RunSelfTest() SelfTest {
	t := SelfTest{LED: testPass, Entropy: testPass, Memory: testPass, KeyForge: testPass}

	for _, c := range [][3]int{{255, 0, 0}, {0, 255, 0}, {0, 0, 255}, {0, 0, 0}} {
		if err := e.setColor(c[0], c[1], c[2]); err != nil {
			if !errors.Is(err, errNoLED) {
				t.LED = testFail
			}
			break
		}
		time.Sleep(e.cfg.TestStep)
	}

	var quality float64
	if data, err := e.GenerateTRNG(64); err != nil {
		t.Entropy = testFail
	} else {
		quality = Quality(data)
		if quality < 0.3 {
			t.Entropy = testWarn
		}
	}
	t.EntropyQuality = fmt.Sprintf("%.3f", quality)

	if e.plat.FreeMemory() < lowMemory {
		t.Memory = testWarn
	}

	if key, err := e.ForgeKey(selfTestPool); err != nil || len(key) != 32 {
		t.KeyForge = testFail
	}

	t.Overall = testPass
	switch {
	case t.LED == testFail || t.Entropy == testFail || t.KeyForge == testFail:
		t.Overall = testFail
	case t.LED == testWarn || t.Entropy == testWarn || t.Memory == testWarn || t.KeyForge == testWarn:
		t.Overall = testWarn
	}
	return t
}

func (e *Engine) cmdSelfTest(string) error {
	e.emit("[cipher-tan] Running system diagnostics...")
	body, err := json.Marshal(e.RunSelfTest())
	if err != nil {
		return err
	}
	e.emit("TEST:" + string(body))
	if strings.Contains(string(body), `"overall":"PASS"`) {
		e.speak(quipForge, true)
	} else {
		e.speak(quipErrors, true)
	}
	return nil
}

func (e *Engine) cmdReset(string) error {
	e.emit("[cipher-tan] Resetting system... Goodbye!")
	_ = e.setColor(255, 0, 0)
	time.Sleep(e.cfg.ResetStep)
	_ = e.setColor(0, 0, 0)
	time.Sleep(e.cfg.ResetStep)
	e.mu.Lock()
	e.reset = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) cmdTRNGStart(arg string) error {
	rate := 10
	if a := strings.TrimPrefix(arg, ","); a != "" {
		v, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			e.emit("TRNG:ERR")
			return err
		}
		rate = v
	}
	rate = min(50, max(1, rate))
	e.startStream(rate)
	return nil
}

func (e *Engine) cmdTRNGStop(string) error {
	e.stopStream()
	e.emit("TRNG:OFF")
	return nil
}

func (e *Engine) resetRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reset
}
