package seriallink

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/Thiagojm/entropic_chaos_go/fault"
)

// fakePort is an in-memory device end. Bytes pushed with feed are returned
// by Read; Read returns (0, nil) after the read timeout like a real port.
type fakePort struct {
	mu       sync.Mutex
	written  bytes.Buffer
	resets   int
	timeout  time.Duration
	incoming chan []byte
	pending  []byte
	closed   chan struct{}
	once     sync.Once
	block    chan struct{} // non-nil blocks writes until closed
}

func newFakePort() *fakePort {
	return &fakePort{
		timeout:  10 * time.Millisecond,
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (p *fakePort) feed(s string) { p.incoming <- []byte(s) }

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case <-p.closed:
			return 0, io.EOF
		case chunk := <-p.incoming:
			p.pending = chunk
		case <-time.After(p.timeout):
			return 0, nil
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	block := p.block
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	return nil
}

func (p *fakePort) ResetOutputBuffer() error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) setBlock(c chan struct{}) {
	p.mu.Lock()
	p.block = c
	p.mu.Unlock()
}

func (p *fakePort) sent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// recorder collects handler callbacks.
type recorder struct {
	mu       sync.Mutex
	statuses []DeviceStatus
	frames   [][]byte
	states   []string
	versions []string
	texts    []string
	errs     []error
}

func (r *recorder) OnStatus(st DeviceStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}
func (r *recorder) OnTRNG(f []byte)      { r.mu.Lock(); r.frames = append(r.frames, f); r.mu.Unlock() }
func (r *recorder) OnTRNGState(s string) { r.mu.Lock(); r.states = append(r.states, s); r.mu.Unlock() }
func (r *recorder) OnVersion(v string) {
	r.mu.Lock()
	r.versions = append(r.versions, v)
	r.mu.Unlock()
}
func (r *recorder) OnText(t string)   { r.mu.Lock(); r.texts = append(r.texts, t); r.mu.Unlock() }
func (r *recorder) OnError(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() }

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		statuses: append([]DeviceStatus(nil), r.statuses...),
		frames:   append([][]byte(nil), r.frames...),
		states:   append([]string(nil), r.states...),
		versions: append([]string(nil), r.versions...),
		texts:    append([]string(nil), r.texts...),
		errs:     append([]error(nil), r.errs...),
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openFake(t *testing.T, port *fakePort, h Handler) *Link {
	t.Helper()
	timing := Timing{Poll: 5 * time.Millisecond, WriteMax: 50 * time.Millisecond}
	l, err := Open(context.Background(), Config{
		PortName:   "fake0",
		Brightness: 0.5,
		Timing:     &timing,
		Handler:    h,
		Logger:     quietLogger(),
		Open: func(string, *serial.Mode) (Port, error) {
			return port, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestOpenSendsHandshake(t *testing.T) {
	port := newFakePort()
	l := openFake(t, port, nil)

	assert.True(t, l.Connected())
	assert.Equal(t, "BRI:0.50\nVER?\nSTAT?\nRGB:0,64,128\n", port.sent())
	assert.Equal(t, 2, port.resets)
}

func TestOpenFailure(t *testing.T) {
	_, err := Open(context.Background(), Config{
		PortName: "missing",
		Logger:   quietLogger(),
		Open: func(string, *serial.Mode) (Port, error) {
			return nil, errors.New("no such device")
		},
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindTransport))

	_, err = Open(context.Background(), Config{})
	assert.True(t, fault.IsKind(err, fault.KindTransport))
}

func TestDispatchByTag(t *testing.T) {
	port := newFakePort()
	rec := &recorder{}
	l := openFake(t, port, rec)

	frame := bytes.Repeat([]byte{0xAB}, 64)
	port.feed(`STATUS:{"version":"v","uptime_ms":1500,"commands":4,"wifi_entropy_bytes":12}` + "\n")
	port.feed("TRNG:OK\nTRNG:" + base64.StdEncoding.EncodeToString(frame) + "\n")
	// a line split across reads
	port.feed("TRNG:O")
	port.feed("FF\r\n")
	port.feed("cipher-tan Enhanced v2.1 | cipher@cobra-mesh | pin=48\n")
	port.feed("RND:00ff\nKEY:abcd\nTRNG:%%%\n[cipher-tan] hello\n\n")

	require.Eventually(t, func() bool {
		return len(rec.snapshot().texts) == 1
	}, time.Second, 5*time.Millisecond)

	got := rec.snapshot()
	require.Len(t, got.statuses, 1)
	assert.Equal(t, int64(1500), got.statuses[0].UptimeMs)
	assert.Equal(t, 1500*time.Millisecond, got.statuses[0].Uptime())
	assert.Equal(t, 12, got.statuses[0].WiFiEntropyBytes)
	assert.Equal(t, []string{TRNGOk, TRNGOff}, got.states)
	require.Len(t, got.frames, 1)
	assert.Equal(t, frame, got.frames[0])
	assert.Len(t, got.versions, 1)
	assert.Equal(t, []string{"[cipher-tan] hello"}, got.texts)
	assert.Empty(t, got.errs)

	st, ok := l.Status()
	require.True(t, ok)
	assert.Equal(t, uint64(4), st.Commands)
}

func TestMalformedStatusReported(t *testing.T) {
	port := newFakePort()
	rec := &recorder{}
	openFake(t, port, rec)

	port.feed("STATUS:{not json\n")
	require.Eventually(t, func() bool {
		return len(rec.snapshot().errs) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.snapshot().statuses)
}

func TestStatusHistoryBounded(t *testing.T) {
	l := &Link{}
	for i := 0; i < statusHistory+7; i++ {
		l.recordStatus(DeviceStatus{Commands: uint64(i)})
	}
	h := l.StatusHistory()
	require.Len(t, h, statusHistory)
	assert.Equal(t, uint64(7), h[0].Commands)
	assert.Equal(t, uint64(statusHistory+6), h[len(h)-1].Commands)
}

func TestSendWriteTimeout(t *testing.T) {
	port := newFakePort()
	l := openFake(t, port, nil)

	gate := make(chan struct{})
	port.setBlock(gate)
	start := time.Now()
	err := l.Send("STAT?")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindTransport))
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, l.Connected(), "a write timeout does not close the link")

	// the stuck write is still pending
	err = l.Send("VER?")
	assert.True(t, fault.IsKind(err, fault.KindTransport))

	port.setBlock(nil)
	close(gate)
	require.Eventually(t, func() bool { return l.Send("RND?") == nil }, time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasSuffix(port.sent(), "RND?\n"))
}

func TestSendAfterClose(t *testing.T) {
	port := newFakePort()
	l := openFake(t, port, nil)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	err := l.Send("STAT?")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReadErrorDisconnects(t *testing.T) {
	port := newFakePort()
	rec := &recorder{}
	l := openFake(t, port, rec)

	_ = port.Close()
	require.Eventually(t, func() bool { return !l.Connected() }, time.Second, 5*time.Millisecond)
	errs := rec.snapshot().errs
	require.Len(t, errs, 1)
	assert.True(t, fault.IsKind(errs[0], fault.KindTransport))
}

func TestCommandHelpers(t *testing.T) {
	port := newFakePort()
	l := openFake(t, port, nil)
	before := len(port.sent())

	require.NoError(t, l.SetRGB(255, 0, 17))
	require.NoError(t, l.SetBrightness(0.3))
	require.NoError(t, l.StartTRNG(20))
	require.NoError(t, l.StopTRNG())
	require.NoError(t, l.RequestRandom())
	require.NoError(t, l.ForgeOnDevice([]byte{0x01, 0xab}))
	require.NoError(t, l.SetDebug(true))

	assert.Equal(t,
		"RGB:255,0,17\nBRI:0.30\nTRNG:START,20\nTRNG:STOP\nRND?\nPOOL:01AB\nDEBUG:on\n",
		port.sent()[before:])
}

func TestPollStatus(t *testing.T) {
	port := newFakePort()
	l := openFake(t, port, nil)
	before := len(port.sent())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	l.PollStatus(ctx, 20*time.Millisecond)

	assert.GreaterOrEqual(t, strings.Count(port.sent()[before:], "STAT?\n"), 2)
}

func TestIsVersionBanner(t *testing.T) {
	assert.True(t, IsVersionBanner("cipher-tan Enhanced v2.1-Fixed-Complete | cipher@cobra-mesh"))
	assert.True(t, IsVersionBanner("Cipher-chan Enhanced v1"))
	assert.False(t, IsVersionBanner("[cipher-tan] Brightness set to 0.50 and saved!"))
}
