package firmware

import (
	"context"
	"encoding/base64"
	"time"
)

const streamFrame = 64

// streamer emits one TRNG frame per tick until cancelled.
type streamer struct {
	rate   int
	cancel context.CancelFunc
	done   chan struct{}
}

// startStream replaces any running stream with one at rate Hz. TRNG:OK is
// written before the new stream starts, so it always precedes the first
// frame.
func (e *Engine) startStream(rate int) {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	e.stopStreamLocked()
	e.emit("TRNG:OK")

	ctx, cancel := context.WithCancel(context.Background())
	s := &streamer{rate: rate, cancel: cancel, done: make(chan struct{})}
	e.stream = s
	go e.runStream(ctx, s)
}

func (e *Engine) runStream(ctx context.Context, s *streamer) {
	defer close(s.done)
	ticker := time.NewTicker(time.Second / time.Duration(s.rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := e.GenerateTRNG(streamFrame)
			if err != nil {
				e.emit("TRNG:ERR")
				continue
			}
			e.emit("TRNG:" + base64.StdEncoding.EncodeToString(frame))
		}
	}
}

// stopStream cancels the stream and waits for an in-flight tick, so no
// frame follows the caller's next line.
func (e *Engine) stopStream() {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	e.stopStreamLocked()
}

func (e *Engine) stopStreamLocked() {
	if e.stream == nil {
		return
	}
	e.stream.cancel()
	<-e.stream.done
	e.stream = nil
}

// StreamRate returns the running stream rate, or 0 when stopped.
func (e *Engine) StreamRate() int {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	if e.stream == nil {
		return 0
	}
	return e.stream.rate
}
