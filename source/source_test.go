package source

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thiagojm/entropic_chaos_go/pool"
)

type recordingSink struct {
	mu     sync.Mutex
	keys   []int
	mouse  int
	frames [][]byte
}

func (s *recordingSink) AddKeystroke(code int, _ time.Time) {
	s.mu.Lock()
	s.keys = append(s.keys, code)
	s.mu.Unlock()
}

func (s *recordingSink) AddMouse(int, int) {
	s.mu.Lock()
	s.mouse++
	s.mu.Unlock()
}

func (s *recordingSink) AddTRNG(frame []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func (s *recordingSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestHostRandom(t *testing.T) {
	a, err := HostRandom(32)
	require.NoError(t, err)
	b, err := HostRandom(32)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestChunksAreSaltedAndDistinct(t *testing.T) {
	at := time.Now()
	seen := map[pool.Chunk]bool{}
	for i := 0; i < 100; i++ {
		for _, c := range []pool.Chunk{KeystrokeChunk(65, at), MouseChunk(10, 20), FrameChunk([]byte("same"))} {
			require.False(t, seen[c])
			seen[c] = true
		}
	}
}

func TestPseudoDeterministic(t *testing.T) {
	a, err := NewPseudo(42)
	require.NoError(t, err)
	b, err := NewPseudo(42)
	require.NoError(t, err)

	x, err := a.Read(context.Background(), 64)
	require.NoError(t, err)
	y, err := b.Read(context.Background(), 64)
	require.NoError(t, err)
	assert.Equal(t, x, y)

	_, err = a.Read(context.Background(), 0)
	assert.Error(t, err)
}

func TestCollectAtIntervalStopsOnCancel(t *testing.T) {
	p, err := NewPseudo(7)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	var batches int
	err = CollectAtInterval(ctx, p, 16, 5*time.Millisecond, func(b []byte) {
		assert.Len(t, b, 16)
		batches++
		if batches == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, batches)
}

func TestCollectAtIntervalValidation(t *testing.T) {
	p, _ := NewPseudo(1)
	ctx := context.Background()
	assert.Error(t, CollectAtInterval(ctx, p, 0, time.Second, func([]byte) {}))
	assert.Error(t, CollectAtInterval(ctx, p, 1, 0, func([]byte) {}))
	assert.Error(t, CollectAtInterval(ctx, p, 1, time.Second, nil))
}

type failingReader struct{}

func (failingReader) Name() string { return "broken" }
func (failingReader) Read(context.Context, int) ([]byte, error) {
	return nil, errors.New("unplugged")
}

func TestSamplerFeedsFrames(t *testing.T) {
	p, _ := NewPseudo(3)
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Sampler{Reader: p, Bytes: 8, Interval: time.Millisecond}.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return sink.frameCount() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	err := Sampler{Reader: failingReader{}, Bytes: 8, Interval: time.Millisecond}.Run(context.Background(), sink)
	assert.ErrorContains(t, err, "unplugged")
}

func TestKeyboardProducer(t *testing.T) {
	sink := &recordingSink{}
	err := Keyboard{In: strings.NewReader("abc")}.Run(context.Background(), sink)
	require.NoError(t, err)
	assert.Equal(t, []int{'a', 'b', 'c'}, sink.keys)
}

func TestRateMeter(t *testing.T) {
	m := NewRateMeter(3 * time.Second)
	t0 := time.Unix(1000, 0)
	assert.Zero(t, m.Mark(t0))
	assert.InDelta(t, 2.0, m.Mark(t0.Add(500*time.Millisecond)), 1e-9)
	assert.InDelta(t, 2.0, m.Mark(t0.Add(time.Second)), 1e-9)
	// every earlier mark has left the window
	assert.Zero(t, m.Mark(t0.Add(5*time.Second)))
}
