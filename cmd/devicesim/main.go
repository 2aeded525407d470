// devicesim runs the cipher device firmware on the host, speaking the line
// protocol over a serial port (a USB gadget or one end of a virtual pair) or
// over stdin/stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/Thiagojm/entropic_chaos_go/firmware"
)

func main() {
	portName := flag.String("port", "", "serial port to serve; empty uses stdin/stdout")
	baud := flag.Int("baud", 115200, "serial baud rate")
	settingsPath := flag.String("settings", "cipher_config.json", "persistent device settings")
	badPins := flag.String("bad-pins", "", "comma separated LED pins that fail to initialise")
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)

	var (
		in  io.Reader = os.Stdin
		out io.Writer = os.Stdout
	)
	if *portName != "" {
		port, err := serial.Open(*portName, &serial.Mode{
			BaudRate: *baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			log.Fatalf("open %s: %v", *portName, err)
		}
		defer port.Close()
		in, out = port, port
		log.WithField("port", *portName).Info("serving device protocol")
	}

	pins, err := parsePins(*badPins)
	if err != nil {
		log.Fatalf("-bad-pins: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := firmware.Lines(ctx, in)
	cfg := firmware.Config{
		Out:      out,
		Hardware: &firmware.SimLED{BadPins: pins},
		Platform: newHostPlatform(),
		Store:    firmware.FileStore{Path: *settingsPath},
	}
	for {
		err := firmware.Boot(ctx, cfg, lines)
		if errors.Is(err, firmware.ErrReset) {
			log.Info("device reset, rebooting")
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("firmware: %v", err)
		}
		return
	}
}
