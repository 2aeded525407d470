// Package seriallink is the host end of the line protocol spoken with the
// entropy device: newline-terminated ASCII commands out, tagged
// newline-terminated responses in, some of them unsolicited (status
// reports, streamed TRNG frames).
//
// A Link owns the port. Writes are serialized and bounded by a timeout; a
// reader goroutine polls the port and dispatches complete lines to a
// Handler by tag.
package seriallink

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/Thiagojm/entropic_chaos_go/fault"
)

// Response tags.
const (
	TagStatus = "STATUS:"
	TagTRNG   = "TRNG:"
	TagRandom = "RND:"
	TagKey    = "KEY:"
	TagTest   = "TEST:"
)

// Terminal TRNG stream markers.
const (
	TRNGOk  = "OK"
	TRNGOff = "OFF"
	TRNGErr = "ERR"
)

const statusHistory = 50

// ErrNotConnected is returned by Send before Connect or after Close.
var ErrNotConnected = fault.New(fault.KindTransport, "serial link not connected")

// Port is the part of serial.Port the link needs.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens a named port.
type Opener func(name string, mode *serial.Mode) (Port, error)

// OpenSerial opens a real serial port.
func OpenSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Timing holds the delays of the connect sequence. The device needs time to
// finish booting and cannot absorb a burst of commands.
type Timing struct {
	Settle   time.Duration    // after opening, before clearing buffers
	Gaps     [4]time.Duration // before BRI, VER?, STAT?, RGB
	Poll     time.Duration    // reader poll interval
	WriteMax time.Duration    // write timeout
}

// DefaultTiming is tuned for the device boot and command pacing.
func DefaultTiming() Timing {
	return Timing{
		Settle:   2 * time.Second,
		Gaps:     [4]time.Duration{500 * time.Millisecond, 500 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond},
		Poll:     100 * time.Millisecond,
		WriteMax: 2 * time.Second,
	}
}

// Config describes one link. Handler receives every parsed device line.
type Config struct {
	PortName   string
	BaudRate   int     // default 115200
	Brightness float64 // sent during the handshake; default 1.0
	Timing     *Timing // nil selects DefaultTiming
	Handler    Handler
	Logger     *logrus.Logger
	Open       Opener // nil selects OpenSerial
}

// Link is the host end of the device line protocol.
type Link struct {
	cfg    Config
	timing Timing
	log    *logrus.Logger
	port   Port

	connected atomic.Bool
	closed    atomic.Bool

	writeMu  sync.Mutex
	inflight chan error

	statusMu sync.Mutex
	latest   *DeviceStatus
	history  []DeviceStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open connects to the device, performs the handshake and starts the
// reader. It blocks for the settle delay plus the handshake gaps.
func Open(ctx context.Context, cfg Config) (*Link, error) {
	if cfg.PortName == "" {
		return nil, fault.New(fault.KindTransport, "no serial port given")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Brightness == 0 {
		cfg.Brightness = 1.0
	}
	if cfg.Handler == nil {
		cfg.Handler = NopHandler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Open == nil {
		cfg.Open = OpenSerial
	}
	timing := DefaultTiming()
	if cfg.Timing != nil {
		timing = *cfg.Timing
	}
	if timing.Poll <= 0 {
		timing.Poll = 100 * time.Millisecond
	}
	if timing.WriteMax <= 0 {
		timing.WriteMax = 2 * time.Second
	}

	port, err := cfg.Open(cfg.PortName, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindTransport, "open "+cfg.PortName, err)
	}
	l := &Link{cfg: cfg, timing: timing, log: cfg.Logger, port: port}

	if err := sleep(ctx, timing.Settle); err != nil {
		_ = port.Close()
		return nil, err
	}
	_ = port.ResetInputBuffer()
	_ = port.ResetOutputBuffer()
	if err := port.SetReadTimeout(timing.Poll); err != nil {
		_ = port.Close()
		return nil, fault.Wrap(fault.KindTransport, "set read timeout", err)
	}
	l.connected.Store(true)

	handshake := []string{
		fmt.Sprintf("BRI:%.2f", cfg.Brightness),
		"VER?",
		"STAT?",
		"RGB:0,64,128",
	}
	for i, cmd := range handshake {
		if err := sleep(ctx, timing.Gaps[i]); err != nil {
			l.shutdown()
			return nil, err
		}
		if err := l.Send(cmd); err != nil {
			l.log.WithError(err).WithField("command", cmd).Warn("handshake command failed")
		}
	}

	readCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go l.readLoop(readCtx)

	l.log.WithField("port", cfg.PortName).Info("connected to entropy device")
	return l, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connected reports whether the handshake completed and the reader runs.
func (l *Link) Connected() bool { return l.connected.Load() }

// PortName returns the configured port.
func (l *Link) PortName() string { return l.cfg.PortName }

// Send writes one command line. A failed or timed out write is returned as
// a transport fault; the link stays open and the caller decides whether to
// Close it.
func (l *Link) Send(cmd string) error {
	if !l.Connected() {
		return ErrNotConnected
	}
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	timer := time.NewTimer(l.timing.WriteMax)
	defer timer.Stop()

	// A write abandoned by an earlier timeout must finish before a new one
	// starts, or the two lines could interleave on the wire.
	if l.inflight != nil {
		select {
		case <-l.inflight:
			l.inflight = nil
		case <-timer.C:
			return fault.New(fault.KindTransport, "serial write timeout: previous write still pending")
		}
	}

	done := make(chan error, 1)
	go func(b []byte) {
		_, err := l.port.Write(b)
		done <- err
	}([]byte(cmd))

	select {
	case err := <-done:
		if err != nil {
			return fault.Wrap(fault.KindTransport, "serial write", err)
		}
		return nil
	case <-timer.C:
		l.inflight = done
		return fault.New(fault.KindTransport, "serial write timeout")
	}
}

// Close stops the reader and closes the port. It is safe to call twice.
func (l *Link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.connected.Store(false)
	if l.cancel != nil {
		l.cancel()
	}
	err := l.port.Close()
	l.wg.Wait()
	l.log.WithField("port", l.cfg.PortName).Info("serial link closed")
	return err
}

func (l *Link) shutdown() {
	l.connected.Store(false)
	_ = l.port.Close()
}

func (l *Link) readLoop(ctx context.Context) {
	defer l.wg.Done()
	buf := make([]byte, 1024)
	var pending []byte
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := l.port.Read(buf)
		if err != nil {
			if ctx.Err() == nil && l.Connected() {
				l.connected.Store(false)
				l.cfg.Handler.OnError(fault.Wrap(fault.KindTransport, "serial read", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimSpace(string(pending[:i]))
			pending = pending[i+1:]
			if line != "" {
				l.dispatch(line)
			}
		}
	}
}

// dispatch routes one response line by tag. RND: and KEY: replies are
// recognised but not consumed: the commands that produce them are fire and
// forget.
func (l *Link) dispatch(line string) {
	h := l.cfg.Handler
	switch {
	case strings.HasPrefix(line, TagStatus):
		var st DeviceStatus
		if err := json.Unmarshal([]byte(line[len(TagStatus):]), &st); err != nil {
			h.OnError(fmt.Errorf("status parse: %w", err))
			return
		}
		st.ReceivedAt = time.Now()
		l.recordStatus(st)
		h.OnStatus(st)
	case strings.HasPrefix(line, TagTRNG):
		payload := line[len(TagTRNG):]
		switch payload {
		case TRNGOk, TRNGOff, TRNGErr:
			h.OnTRNGState(payload)
			return
		}
		frame, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			l.log.WithError(err).Debug("dropping malformed TRNG frame")
			return
		}
		h.OnTRNG(frame)
	case strings.HasPrefix(line, TagRandom), strings.HasPrefix(line, TagKey):
		l.log.WithField("line", truncate(line, 24)).Debug("unclaimed reply")
	case IsVersionBanner(line):
		h.OnVersion(line)
	default:
		h.OnText(line)
	}
}

// IsVersionBanner reports whether line is the device's VER? reply.
func IsVersionBanner(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "cipher-tan") || strings.Contains(lower, "cipher-chan enhanced")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (l *Link) recordStatus(st DeviceStatus) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	l.latest = &st
	l.history = append(l.history, st)
	if over := len(l.history) - statusHistory; over > 0 {
		l.history = append(l.history[:0], l.history[over:]...)
	}
}

// Status returns the most recent device status.
func (l *Link) Status() (DeviceStatus, bool) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	if l.latest == nil {
		return DeviceStatus{}, false
	}
	return *l.latest, true
}

// StatusHistory returns retained statuses, oldest first.
func (l *Link) StatusHistory() []DeviceStatus {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return append([]DeviceStatus(nil), l.history...)
}

// PollStatus sends STAT? every interval until ctx ends or the link closes.
func (l *Link) PollStatus(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.Connected() {
				return
			}
			if err := l.RequestStatus(); err != nil {
				l.cfg.Handler.OnError(err)
			}
		}
	}
}
