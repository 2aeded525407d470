package firmware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// Settings is the persisted device configuration.
type Settings struct {
	LEDPin      int     `json:"led_pin"`
	Brightness  float64 `json:"brightness"`
	Personality float64 `json:"personality_level"`
	BaudRate    int     `json:"baud_rate"`
	DebugMode   bool    `json:"debug_mode"`
	LEDType     string  `json:"led_type"`
	RGBPins     []int   `json:"rgb_pins"`
}

// DefaultSettings is the factory configuration.
func DefaultSettings() Settings {
	return Settings{
		LEDPin:      48,
		Brightness:  1.0,
		Personality: 0.3,
		BaudRate:    115200,
		LEDType:     LEDTypeWS2812,
		RGBPins:     []int{47, 21, 14},
	}
}

// clamp bounds the values a hand-edited file could push out of range.
func (s Settings) clamp() Settings {
	s.Brightness = min(1.0, max(0.01, s.Brightness))
	s.Personality = min(1.0, max(0.0, s.Personality))
	if len(s.RGBPins) != 3 {
		s.RGBPins = DefaultSettings().RGBPins
	}
	return s
}

// Store persists Settings.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// FileStore keeps settings as a JSON file. Keys missing from the file keep
// their defaults.
type FileStore struct {
	Path string
}

// Load returns the defaults when the file does not exist yet.
func (f FileStore) Load() (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read %s: %w", f.Path, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return s.clamp(), nil
}

// Save rewrites the whole file.
func (f FileStore) Save(s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0o644)
}

// MemStore keeps settings in memory. The zero value starts from defaults.
type MemStore struct {
	mu      sync.Mutex
	saved   *Settings
	FailErr error // returned by Save when set
}

// Load returns the last saved settings.
func (m *MemStore) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return DefaultSettings(), nil
	}
	return *m.saved, nil
}

// Save keeps s unless FailErr is set.
func (m *MemStore) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailErr != nil {
		return m.FailErr
	}
	s.RGBPins = append([]int(nil), s.RGBPins...)
	m.saved = &s
	return nil
}
