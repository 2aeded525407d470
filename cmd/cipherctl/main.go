// cipherctl sends protocol commands to a cipher device and prints what comes
// back for a while. It can repeat the commands at a fixed interval.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thiagojm/entropic_chaos_go/seriallink"
)

// printer writes every response to stdout.
type printer struct{}

func (printer) OnStatus(st seriallink.DeviceStatus) {
	fmt.Printf("status  uptime=%s commands=%d keys=%d errors=%d led=%s@%d wifi=%dB usb=%dB\n",
		st.Uptime().Truncate(time.Second), st.Commands, st.KeysForged, st.Errors,
		st.LEDType, st.LEDPin, st.WiFiEntropyBytes, st.USBEntropyBytes)
}

func (printer) OnTRNG(frame []byte) {
	fmt.Printf("trng    %d bytes  %s\n", len(frame), hex.EncodeToString(frame))
}

func (printer) OnTRNGState(state string) { fmt.Printf("trng    %s\n", state) }

func (printer) OnVersion(v string) { fmt.Printf("version %s\n", v) }

func (printer) OnText(line string) { fmt.Println(line) }

func (printer) OnError(err error) { fmt.Fprintf(os.Stderr, "error: %v\n", err) }

func main() {
	port := flag.String("port", "", "serial port; empty auto-detects")
	baud := flag.Int("baud", 115200, "baud rate")
	cmds := flag.String("cmd", "STAT?", "commands to send, separated by ';'")
	wait := flag.Duration("wait", 2*time.Second, "how long to print responses after sending")
	interval := flag.Duration("interval", 0, "resend the commands at this interval (e.g. 5s). 0 for one-shot")
	list := flag.Bool("list", false, "list serial ports and exit")
	debug := flag.Bool("debug", false, "log link traffic")
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if *list {
		ports, err := seriallink.ListPorts()
		if err != nil {
			log.Fatalf("list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	name := *port
	if name == "" {
		var err error
		if name, err = seriallink.FindPort(); err != nil {
			log.Fatalf("detect: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	link, err := seriallink.Open(ctx, seriallink.Config{
		PortName: name,
		BaudRate: *baud,
		Handler:  printer{},
		Logger:   log,
	})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer link.Close()

	send := func() {
		for _, c := range strings.Split(*cmds, ";") {
			if c = strings.TrimSpace(c); c == "" {
				continue
			}
			if err := link.Send(c); err != nil {
				log.Errorf("send %q: %v", c, err)
			}
		}
	}

	send()
	if *interval == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(*wait):
		}
		return
	}

	log.Infof("sending %q every %s. press Ctrl+C to stop...", *cmds, interval.String())
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.Canceled) {
				log.Errorf("stopped: %v", ctx.Err())
			}
			return
		case <-ticker.C:
			send()
		}
	}
}
