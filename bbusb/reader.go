// Package bbusb reads BitBabbler USB entropy sticks, FTDI chips driven in
// MPSSE mode, through libusb.
package bbusb

import (
	"context"
	"errors"
	"sync"

	"github.com/google/gousb"
)

// Reader reads a BitBabbler stick through libusb. The device is opened on
// first use and kept until Close.
type Reader struct {
	Bitrate   uint  // MPSSE clock in Hz; 0 selects 2.5 MHz
	LatencyMs uint8 // FTDI latency timer; 0 selects 1 ms

	mu   sync.Mutex
	sess *bbSession
}

// Name is the capture tag of the source.
func (b *Reader) Name() string { return "bitb" }

// IsPresent reports whether a stick is attached.
func IsPresent() (bool, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := ctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return d.Vendor == gousb.ID(ftdiVendorID) && d.Product == gousb.ID(bbProductID)
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil && len(devs) == 0 {
		return false, err
	}
	return len(devs) > 0, nil
}

// Read returns up to n bytes. A failed read drops the session so the next
// call reopens the device.
func (b *Reader) Read(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("n must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		s, err := openSession(b.Bitrate, b.LatencyMs)
		if err != nil {
			return nil, err
		}
		b.sess = s
	}
	buf := make([]byte, n)
	got, err := b.sess.read(ctx, buf)
	if err != nil {
		b.sess.close()
		b.sess = nil
		return nil, err
	}
	return buf[:got], nil
}

// Close releases the USB device.
func (b *Reader) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != nil {
		b.sess.close()
		b.sess = nil
	}
	return nil
}
