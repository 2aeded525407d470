package seriallink

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SetRGB sets the LED colour. The device rejects components outside 0-255.
func (l *Link) SetRGB(r, g, b int) error {
	return l.Send(fmt.Sprintf("RGB:%d,%d,%d", r, g, b))
}

// SetBrightness sets and persists the LED brightness (0.01-1.0).
func (l *Link) SetBrightness(v float64) error {
	return l.Send(fmt.Sprintf("BRI:%.2f", v))
}

// StartTRNG asks for a 64-byte frame rate times per second (clamped 1-50 by
// the device). The device answers TRNG:OK.
func (l *Link) StartTRNG(rate int) error {
	return l.Send(fmt.Sprintf("TRNG:START,%d", rate))
}

// StopTRNG ends the stream. The device answers TRNG:OFF.
func (l *Link) StopTRNG() error { return l.Send("TRNG:STOP") }

// RequestStatus asks for a STATUS: report.
func (l *Link) RequestStatus() error { return l.Send("STAT?") }

// RequestVersion asks for the version banner.
func (l *Link) RequestVersion() error { return l.Send("VER?") }

// RequestSelfTest runs the device diagnostics.
func (l *Link) RequestSelfTest() error { return l.Send("TEST?") }

// RequestRandom asks for 32 device random bytes. The RND: reply is not
// consumed by the link.
func (l *Link) RequestRandom() error { return l.Send("RND?") }

// ForgeOnDevice sends pool to the device key forge. The KEY: reply is not
// consumed by the link.
func (l *Link) ForgeOnDevice(pool []byte) error {
	return l.Send("POOL:" + strings.ToUpper(hex.EncodeToString(pool)))
}

// SetPin moves the device LED to pin.
func (l *Link) SetPin(pin int) error { return l.Send(fmt.Sprintf("PIN:%d", pin)) }

// SetDebug toggles device debug logging.
func (l *Link) SetDebug(on bool) error {
	if on {
		return l.Send("DEBUG:on")
	}
	return l.Send("DEBUG:off")
}

// SetPersonality sets the device quip level in [0,1].
func (l *Link) SetPersonality(level float64) error {
	return l.Send(fmt.Sprintf("PERSONALITY:%.2f", level))
}
