package bbusb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// BitBabbler sticks are FTDI chips in MPSSE mode.
const (
	ftdiVendorID = 0x0403
	bbProductID  = 0x7840
)

// MPSSE opcodes.
const (
	mpsseNoClkDiv5        = 0x8A
	mpsseNoAdaptiveClk    = 0x97
	mpsseNo3PhaseClk      = 0x8D
	mpsseSetDataLow       = 0x80
	mpsseSetDataHigh      = 0x82
	mpsseSetClkDivisor    = 0x86
	mpsseLoopbackOff      = 0x85
	mpsseSendImmediate    = 0x87
	mpsseDataByteInPosMSB = 0x20
	mpsseBadCommand       = 0xFA
)

// FTDI vendor requests and their arguments.
const (
	ftdiReqReset        = 0x00
	ftdiReqSetFlowCtrl  = 0x02
	ftdiReqSetEventChar = 0x06
	ftdiReqSetErrorChar = 0x07
	ftdiReqSetLatency   = 0x09
	ftdiReqSetBitmode   = 0x0B

	ftdiResetSIO     = 0
	ftdiFlowRtsCts   = 0x0100
	ftdiBitmodeReset = 0x0000
	ftdiBitmodeMpsse = 0x0200
)

type bbSession struct {
	usb       *gousb.Context
	dev       *gousb.Device
	done      func()
	in        *gousb.InEndpoint
	out       *gousb.OutEndpoint
	maxPacket int
}

func openSession(bitrate uint, latencyMs uint8) (*bbSession, error) {
	if bitrate == 0 {
		bitrate = 2_500_000
	}
	if latencyMs == 0 {
		latencyMs = 1
	}

	usb := gousb.NewContext()
	dev, err := usb.OpenDeviceWithVIDPID(gousb.ID(ftdiVendorID), gousb.ID(bbProductID))
	if err != nil || dev == nil {
		usb.Close()
		if err == nil {
			err = errors.New("BitBabbler device not found")
		}
		return nil, err
	}
	_ = dev.SetAutoDetach(true)

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		usb.Close()
		return nil, fmt.Errorf("claim interface: %w", err)
	}
	s := &bbSession{usb: usb, dev: dev, done: done}
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			if s.in, err = intf.InEndpoint(ep.Number); err == nil {
				s.maxPacket = ep.MaxPacketSize
			}
		case gousb.EndpointDirectionOut:
			s.out, err = intf.OutEndpoint(ep.Number)
		}
		if err != nil {
			s.close()
			return nil, err
		}
	}
	if s.in == nil || s.out == nil {
		s.close()
		return nil, errors.New("bulk endpoints not found")
	}
	if err := s.initMPSSE(bitrate, latencyMs); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// initMPSSE follows the vendor bring-up: reset, configure the FTDI, switch
// to MPSSE, check sync with two bogus opcodes, then program clock and pins.
func (s *bbSession) initMPSSE(bitrate uint, latencyMs uint8) error {
	steps := []struct {
		req   uint8
		value uint16
		index uint16
	}{
		{ftdiReqReset, ftdiResetSIO, 1},
		{ftdiReqSetEventChar, 0, 1},
		{ftdiReqSetErrorChar, 0, 1},
		{ftdiReqSetLatency, uint16(latencyMs), 1},
		{ftdiReqSetFlowCtrl, 0, ftdiFlowRtsCts | 1},
		{ftdiReqSetBitmode, ftdiBitmodeReset, 1},
		{ftdiReqSetBitmode, ftdiBitmodeMpsse, 1},
	}
	s.purge()
	for _, st := range steps {
		typ := uint8(gousb.ControlOut) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
		if _, err := s.dev.Control(typ, st.req, st.value, st.index, nil); err != nil {
			return fmt.Errorf("ftdi request 0x%02x: %w", st.req, err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	synced := s.sync(0xAA) && s.sync(0xAB)
	if !synced {
		synced = s.sync(0xAA) && s.sync(0xAB)
	}
	if !synced {
		return errors.New("MPSSE sync failed")
	}

	div := clockDivisor(bitrate)
	cmd := []byte{
		mpsseNoClkDiv5, mpsseNoAdaptiveClk, mpsseNo3PhaseClk,
		mpsseSetDataLow, 0x00, 0x0B, // CLK, DO, CS as outputs
		mpsseSetDataHigh, 0x00, 0x00,
		mpsseSetClkDivisor, byte(div), byte(div >> 8),
		mpsseLoopbackOff,
	}
	if _, err := s.out.Write(cmd); err != nil {
		return err
	}
	time.Sleep(30 * time.Millisecond)
	s.purge()
	return nil
}

func (s *bbSession) sync(op byte) bool {
	if _, err := s.out.Write([]byte{op, mpsseSendImmediate}); err != nil {
		return false
	}
	buf := make([]byte, 512)
	for i := 0; i < 10; i++ {
		n, _ := s.in.Read(buf)
		if n == 4 && buf[2] == mpsseBadCommand && buf[3] == op {
			return true
		}
	}
	return false
}

func (s *bbSession) purge() {
	buf := make([]byte, 8192)
	for i := 0; i < 10; i++ {
		if n, _ := s.in.Read(buf); n <= 2 {
			return
		}
	}
}

// read issues one MPSSE byte read and strips the two FTDI status bytes at
// the head of every USB packet.
func (s *bbSession) read(ctx context.Context, buf []byte) (int, error) {
	n := len(buf)
	if n == 0 {
		return 0, nil
	}
	cmd := []byte{mpsseDataByteInPosMSB, byte(n - 1), byte((n - 1) >> 8), mpsseSendImmediate}
	if _, err := s.out.Write(cmd); err != nil {
		return 0, err
	}

	pkt := max(s.maxPacket, 64)
	tmp := make([]byte, (n/pkt+2)*pkt)
	got := 0
	for got < n {
		if err := ctx.Err(); err != nil {
			return got, err
		}
		m, err := s.in.ReadContext(ctx, tmp)
		if err != nil {
			return got, err
		}
		got += stripStatus(buf[got:], tmp[:m], pkt)
	}
	return got, nil
}

// stripStatus copies the payload of each pkt-sized USB packet in src into
// dst, dropping the two FTDI modem status bytes that lead every packet.
// It stops at the first packet without payload.
func stripStatus(dst, src []byte, pkt int) int {
	got := 0
	for off := 0; off < len(src) && got < len(dst); off += pkt {
		end := min(off+pkt, len(src))
		if end-off <= 2 {
			break
		}
		got += copy(dst[got:], src[off+2:end])
	}
	return got
}

// clockDivisor returns the MPSSE divisor for bitrate on the 30 MHz base
// clock (divide-by-5 disabled).
func clockDivisor(bitrate uint) uint16 {
	return uint16(30_000_000/bitrate - 1)
}

func (s *bbSession) close() {
	if s.done != nil {
		s.done()
	}
	if s.dev != nil {
		s.dev.Close()
	}
	if s.usb != nil {
		s.usb.Close()
	}
}
