package firmware

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"strconv"
	"time"
)

const (
	timingSamples  = 16
	ringMixBytes   = 32
	forgeMinPool   = 16
	forgeRounds    = 3
	forgeTRNGBytes = 32
	ambientMax     = 16
	lowQuality     = 0.7
	rgbQuipChance  = 0.1
)

// ErrPoolTooSmall is returned by ForgeKey for a pool under 16 bytes.
var ErrPoolTooSmall = errors.New("entropy pool below 16 bytes")

// GenerateTRNG returns n bytes: the OS random base XOR hash timing jitter
// over the first 16 bytes, XOR the WiFi and USB jitter rings over the first
// 32 bytes.
func (e *Engine) GenerateTRNG(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("trng size %d", n)
	}
	base := make([]byte, n)
	if _, err := io.ReadFull(e.rnd, base); err != nil {
		return nil, fmt.Errorf("os random: %w", err)
	}

	mixed := append([]byte(nil), base...)
	for i := 0; i < timingSamples; i++ {
		slice := base
		if i+8 <= len(base) {
			slice = base[i : i+8]
		}
		start := time.Now()
		_ = sha256.Sum256(slice)
		jitter := byte(time.Since(start).Nanoseconds())
		if i < len(mixed) {
			mixed[i] ^= jitter
		}
	}

	m := min(n, ringMixBytes)
	wifi := e.wifi.window(m)
	usb := e.usb.window(m)
	for i := 0; i < m; i++ {
		mixed[i] ^= wifi[i] ^ usb[i]
	}

	if q := Quality(mixed); q < lowQuality {
		e.log.Debugf("Entropy quality: %.3f", q)
	} else if e.roll() < rgbQuipChance {
		e.speak(quipRGB, false)
	}
	return mixed, nil
}

// Quality is a monobit score in [0,1]; 1 means exactly half the bits set.
// Samples under 8 bytes score 0.
func Quality(data []byte) float64 {
	if len(data) < 8 {
		return 0
	}
	ones := 0
	for _, b := range data {
		ones += bits.OnesCount8(b)
	}
	ratio := float64(ones) / float64(len(data)*8)
	d := ratio - 0.5
	if d < 0 {
		d = -d
	}
	return min(1, max(0, 1-2*d))
}

// ForgeKey derives a 32-byte key from pool and fresh device entropy with
// three rounds of SHA-256, each over the previous digest, a round tag and
// the tick counter. When the TRNG fails the key falls back to
// SHA-256(pool || 16 OS bytes).
func (e *Engine) ForgeKey(pool []byte) ([]byte, error) {
	if len(pool) < forgeMinPool {
		return nil, ErrPoolTooSmall
	}
	dev, err := e.GenerateTRNG(forgeTRNGBytes)
	if err != nil {
		e.fail("Key forging failed: %v", err)
		salt := make([]byte, 16)
		if _, ferr := rand.Read(salt); ferr != nil {
			return nil, errors.Join(err, ferr)
		}
		k := sha256.Sum256(append(append([]byte(nil), pool...), salt...))
		return k[:], nil
	}

	key := append(append([]byte(nil), pool...), dev...)
	for round := 0; round < forgeRounds; round++ {
		h := sha256.New()
		h.Write(key)
		h.Write([]byte("CIPHER_V2_R" + strconv.Itoa(round)))
		h.Write([]byte(strconv.FormatInt(e.micros(), 10)))
		key = h.Sum(nil)
	}

	e.mu.Lock()
	e.stats.keysForged++
	e.mu.Unlock()
	e.speak(quipForge, false)
	return key, nil
}

// markRX folds the low byte of the microseconds since the previous command
// into the USB jitter ring.
func (e *Engine) markRX() {
	now := time.Now()
	e.mu.Lock()
	delta := now.Sub(e.lastRX).Microseconds()
	e.lastRX = now
	e.mu.Unlock()
	e.usb.push(byte(delta))
}

// refreshAmbient pulls an ambient sample into the WiFi ring once the scan
// interval has passed. At most 16 bytes are taken per sample.
func (e *Engine) refreshAmbient(now time.Time) {
	e.ambientMu.Lock()
	defer e.ambientMu.Unlock()
	if !e.lastScan.IsZero() && now.Sub(e.lastScan) < e.cfg.AmbientInterval {
		return
	}
	e.lastScan = now
	amb, err := e.plat.ScanAmbient()
	if err != nil {
		e.log.Debugf("Ambient scan failed: %v", err)
		return
	}
	e.apCount = amb.Sources
	e.joined = amb.Joined
	b := amb.Bytes
	if len(b) > ambientMax {
		b = b[:ambientMax]
	}
	e.wifi.push(b...)
}

func (e *Engine) ambientState() (lastScanMs int64, count int, joined bool) {
	e.ambientMu.Lock()
	defer e.ambientMu.Unlock()
	if !e.lastScan.IsZero() {
		lastScanMs = e.lastScan.Sub(e.start).Milliseconds()
	}
	return lastScanMs, e.apCount, e.joined
}
