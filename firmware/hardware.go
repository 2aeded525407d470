package firmware

import (
	"errors"
	"fmt"
	"sync"
)

// LED types.
const (
	LEDTypeWS2812 = "ws2812"
	LEDTypeRGB    = "rgb_led"
)

// Pins tried when the configured WS2812 pin does not answer.
var fallbackPins = []int{8, 38, 48, 47, 21, 2}

// LEDState is the LED the hardware actually drives.
type LEDState struct {
	Pin  int
	Type string
}

// Hardware drives the status LED. SetColor receives brightness-scaled
// components.
type Hardware interface {
	InitLED(pin int, ledType string, rgbPins []int) (LEDState, error)
	SetColor(r, g, b uint8) error
}

// Ambient is one sample of radio-side activity folded into the WiFi ring.
type Ambient struct {
	Bytes   []byte
	Sources int  // access points or interfaces seen
	Joined  bool // associated with a network
}

// Platform reports the board facts the status report needs.
type Platform interface {
	FreeMemory() int64 // -1 when unknown
	ScanAmbient() (Ambient, error)
}

var errNoLED = errors.New("no LED initialised")

// SimLED is an in-memory LED. Pins listed in BadPins fail to initialise.
type SimLED struct {
	BadPins map[int]bool

	mu     sync.Mutex
	state  *LEDState
	color  [3]uint8
	writes int
}

// InitLED fails when pin, or any RGB pin for rgb_led, is in BadPins.
func (s *SimLED) InitLED(pin int, ledType string, rgbPins []int) (LEDState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ledType == LEDTypeRGB {
		for _, p := range rgbPins {
			if s.BadPins[p] {
				return LEDState{}, fmt.Errorf("RGB LED init failed on pin %d", p)
			}
		}
	} else if s.BadPins[pin] {
		return LEDState{}, fmt.Errorf("WS2812 init failed on pin %d", pin)
	}
	st := LEDState{Pin: pin, Type: ledType}
	s.state = &st
	s.color = [3]uint8{}
	return st, nil
}

// SetColor records the colour of an initialised LED.
func (s *SimLED) SetColor(r, g, b uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return errNoLED
	}
	s.color = [3]uint8{r, g, b}
	s.writes++
	return nil
}

// Color returns the last colour written.
func (s *SimLED) Color() [3]uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

// NullPlatform reports nothing.
type NullPlatform struct{}

func (NullPlatform) FreeMemory() int64 { return -1 }

func (NullPlatform) ScanAmbient() (Ambient, error) { return Ambient{}, nil }
