package main

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Thiagojm/entropic_chaos_go/seriallink"
)

// cipherRate is the frame rate requested from the device.
const cipherRate = 20

// frameReader turns the device TRNG stream into a source.Reader.
type frameReader struct {
	seriallink.NopHandler
	frames chan []byte
	link   *seriallink.Link
	buf    []byte
}

func (*frameReader) Name() string { return "cipher" }

func (r *frameReader) OnTRNG(frame []byte) {
	select {
	case r.frames <- frame:
	default:
		// drop when the reader falls behind
	}
}

func (r *frameReader) Read(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("n must be positive")
	}
	for len(r.buf) < n {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case f := <-r.frames:
			r.buf = append(r.buf, f...)
		}
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return out, nil
}

func (r *frameReader) close() {
	if r.link != nil {
		_ = r.link.StopTRNG()
		_ = r.link.Close()
	}
}

func openCipher(ctx context.Context, port string, log *logrus.Logger) (*frameReader, error) {
	if port == "" {
		var err error
		if port, err = seriallink.FindPort(); err != nil {
			return nil, err
		}
	}
	r := &frameReader{frames: make(chan []byte, 256)}
	link, err := seriallink.Open(ctx, seriallink.Config{PortName: port, Handler: r, Logger: log})
	if err != nil {
		return nil, err
	}
	r.link = link
	if err := link.StartTRNG(cipherRate); err != nil {
		r.close()
		return nil, err
	}
	return r, nil
}
