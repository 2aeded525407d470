package firmware

import (
	"bufio"
	"context"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"
)

const maintenanceEvery = 50

// Run is the main loop: it waits up to the poll interval for a line,
// handles at most one line per iteration and then does housekeeping. It
// returns nil when lines closes, ErrReset after RESET, or the context error.
func (e *Engine) Run(ctx context.Context, lines <-chan string) error {
	defer e.stopStream()
	e.log.Info("Main loop starting - listening for commands")

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			e.Handle(line)
			if e.resetRequested() {
				return ErrReset
			}
		case <-poll.C:
		}
		e.maintain(time.Now())
	}
}

// maintain runs once per loop iteration: GC every 50 commands, the ambient
// refresh and the odd unprompted quip.
func (e *Engine) maintain(now time.Time) {
	e.mu.Lock()
	n := e.stats.commands
	due := n > 0 && n%maintenanceEvery == 0 && n != e.maintDone
	if due {
		e.maintDone = n
	}
	e.mu.Unlock()
	if due {
		runtime.GC()
		e.log.Debug("Maintenance: GC run")
	}
	e.refreshAmbient(now)
	if e.roll() < 0.0005 {
		e.speak(quipRGB, false)
	}
}

// Boot starts an engine and runs it. When the engine cannot start, the
// device falls back to the emergency command set.
func Boot(ctx context.Context, cfg Config, lines <-chan string) error {
	e, err := New(cfg)
	if err != nil {
		if cfg.Out == nil {
			return err
		}
		emergency := &emergencyLoop{out: cfg.Out}
		emergency.emit("[FATAL] System startup failed: " + err.Error())
		emergency.emit("[STATUS] Entering emergency mode")
		return emergency.run(ctx, lines)
	}
	return e.Run(ctx, lines)
}

// emergencyLoop serves the reduced command set: VER?, RESET and an RGB echo.
type emergencyLoop struct {
	mu  sync.Mutex
	out io.Writer
}

func (m *emergencyLoop) emit(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = io.WriteString(m.out, line+"\n")
}

func (m *emergencyLoop) run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd := strings.TrimSpace(line)
			switch {
			case cmd == "VER?":
				m.emit(Version + " | EMERGENCY_MODE")
			case cmd == "RESET":
				return ErrReset
			case strings.HasPrefix(cmd, "RGB:") && len(strings.Split(cmd[4:], ",")) == 3:
				m.emit("[EMERGENCY] RGB command received: " + cmd)
			}
		}
	}
}

// Lines feeds newline-terminated lines from r into a channel that closes at
// EOF or when ctx ends.
func Lines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 4096), 1<<20)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
