package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Sink receives producer input. The aggregator implements it.
type Sink interface {
	AddKeystroke(code int, at time.Time)
	AddMouse(x, y int)
	AddTRNG(frame []byte)
}

// Producer feeds a Sink until ctx is cancelled or input ends.
type Producer interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// Reader is a raw entropy device returning n bytes per call.
type Reader interface {
	Name() string
	Read(ctx context.Context, n int) ([]byte, error)
}

// CollectAtInterval reads n bytes from r immediately and then every
// interval, passing each batch to onBatch. It returns ctx.Err() on
// cancellation or the first read error.
func CollectAtInterval(ctx context.Context, r Reader, n int, interval time.Duration, onBatch func([]byte)) error {
	if n <= 0 {
		return errors.New("n must be positive")
	}
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	if onBatch == nil {
		return errors.New("onBatch callback must not be nil")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b, err := r.Read(ctx, n)
		if err != nil {
			return err
		}
		onBatch(b)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sampler is a Producer that reads Bytes from a device every Interval and
// hands each batch to the sink as a frame.
type Sampler struct {
	Reader   Reader
	Bytes    int
	Interval time.Duration
}

func (s Sampler) Name() string { return s.Reader.Name() }

// Run samples until ctx is done or a read fails.
func (s Sampler) Run(ctx context.Context, sink Sink) error {
	return CollectAtInterval(ctx, s.Reader, s.Bytes, s.Interval, sink.AddTRNG)
}

// Keyboard turns every byte read from In (a terminal in raw or line mode)
// into a keystroke event timed on arrival.
type Keyboard struct {
	In io.Reader
}

func (Keyboard) Name() string { return "keyboard" }

// Run returns nil at EOF.
func (k Keyboard) Run(ctx context.Context, sink Sink) error {
	r := bufio.NewReader(k.In)
	errc := make(chan error, 1)
	go func() {
		for {
			b, err := r.ReadByte()
			if err != nil {
				errc <- err
				return
			}
			if ctx.Err() != nil {
				errc <- ctx.Err()
				return
			}
			sink.AddKeystroke(int(b), time.Now())
		}
	}()
	select {
	case <-ctx.Done():
		// The read goroutine exits on the next byte or when In is closed.
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

// RateMeter tracks events per second over a sliding window.
type RateMeter struct {
	mu     sync.Mutex
	window time.Duration
	times  []time.Time
}

// NewRateMeter returns a meter over window; 0 selects 3s.
func NewRateMeter(window time.Duration) *RateMeter {
	if window <= 0 {
		window = 3 * time.Second
	}
	return &RateMeter{window: window}
}

// Mark records an event at t and returns the current rate. Fewer than two
// events in the window report zero.
func (m *RateMeter) Mark(t time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times = append(m.times, t)
	i := 0
	for i < len(m.times) && t.Sub(m.times[i]) > m.window {
		i++
	}
	m.times = append(m.times[:0], m.times[i:]...)
	if len(m.times) < 2 {
		return 0
	}
	d := m.times[len(m.times)-1].Sub(m.times[0]).Seconds()
	return float64(len(m.times)-1) / max(d, 0.001)
}
