// chaos is the host daemon: it gathers keystrokes, raw entropy devices and
// the cipher device TRNG stream into the pool and forges one key per window.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thiagojm/entropic_chaos_go/aggregator"
	"github.com/Thiagojm/entropic_chaos_go/bbusb"
	"github.com/Thiagojm/entropic_chaos_go/config"
	"github.com/Thiagojm/entropic_chaos_go/keystore"
	"github.com/Thiagojm/entropic_chaos_go/naming"
	"github.com/Thiagojm/entropic_chaos_go/pool"
	"github.com/Thiagojm/entropic_chaos_go/pqc"
	"github.com/Thiagojm/entropic_chaos_go/seriallink"
	"github.com/Thiagojm/entropic_chaos_go/source"
	"github.com/Thiagojm/entropic_chaos_go/stattest"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (CHAOS_* environment variables override it)")
	port := flag.String("port", "", "device serial port; overrides the config")
	noDevice := flag.Bool("no-device", false, "run without the cipher device")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *noDevice {
		cfg.Serial.Disabled = true
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(cfg.Level())
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	store, err := keystore.Open(keystore.Config{LogPath: cfg.KeyLogPath(os.Getpid()), KeysDir: cfg.KeysDir, Logger: log})
	if err != nil {
		log.Fatalf("key store: %v", err)
	}

	auditor := stattest.NewAuditor(stattest.DefaultHistory)
	deps := aggregator.Deps{
		Store:    store,
		Provider: pqc.NewCircl(),
		Auditor:  auditor,
		Observer: aggregator.LogObserver{Log: log},
	}
	if cfg.CaptureDir != "" {
		f, err := openCapture(cfg)
		if err != nil {
			log.Fatalf("capture: %v", err)
		}
		defer f.Close()
		deps.Capture = f
		log.WithField("path", f.Name()).Info("capturing raw windows")
	}

	agg, err := aggregator.New(cfg.Aggregator(log), deps)
	if err != nil {
		log.Fatalf("aggregator: %v", err)
	}
	attachSources(agg, cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var link *seriallink.Link
	if !cfg.Serial.Disabled {
		link = connect(ctx, agg, cfg, log)
	}

	if err := agg.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}
	<-ctx.Done()
	agg.Stop()

	if link != nil {
		if cfg.Serial.TRNGRate > 0 {
			_ = link.StopTRNG()
		}
		_ = link.Close()
	}
	mean, audits := auditor.Trend()
	log.WithFields(logrus.Fields{
		"keys":       agg.KeysForged(),
		"log":        store.LogPath(),
		"audits":     audits,
		"mean_score": mean,
	}).Info("session finished")
}

func openCapture(cfg config.Config) (*os.File, error) {
	if err := os.MkdirAll(cfg.CaptureDir, 0o755); err != nil {
		return nil, err
	}
	secs := max(1, int(aggregator.ClampWindow(cfg.Window)/time.Second))
	base, err := naming.CaptureBase(time.Now(), naming.SourcePool, pool.ChunkSize*8, secs)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(naming.JoinDir(cfg.CaptureDir, naming.WithExt(base, "bin")), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

func attachSources(agg *aggregator.Aggregator, cfg config.Config, log *logrus.Logger) {
	s := cfg.Sources
	if s.Keyboard {
		agg.Attach(source.Keyboard{In: os.Stdin})
	}
	if s.TrueRNG {
		agg.Attach(source.Sampler{Reader: &source.TrueRNG{}, Bytes: s.Bytes, Interval: s.Interval})
	}
	if s.BitBabbler {
		if ok, err := bbusb.IsPresent(); !ok {
			log.WithError(err).Warn("BitBabbler not found, skipping")
		} else {
			agg.Attach(source.Sampler{Reader: &bbusb.Reader{}, Bytes: s.Bytes, Interval: s.Interval})
		}
	}
	if s.Pseudo {
		p, err := source.NewPseudo(0)
		if err != nil {
			log.WithError(err).Warn("pseudo generator unavailable")
		} else {
			agg.Attach(source.Sampler{Reader: p, Bytes: s.Bytes, Interval: s.Interval})
		}
	}
}

// connect opens the cipher device and starts its TRNG stream. The daemon
// keeps running on keystrokes and local devices when this fails.
func connect(ctx context.Context, agg *aggregator.Aggregator, cfg config.Config, log *logrus.Logger) *seriallink.Link {
	name := cfg.Serial.Port
	if name == "" {
		var err error
		if name, err = seriallink.FindPort(); err != nil {
			log.WithError(err).Warn("no cipher device, continuing without it")
			return nil
		}
	}
	link, err := seriallink.Open(ctx, seriallink.Config{
		PortName:   name,
		BaudRate:   cfg.Serial.Baud,
		Brightness: cfg.Serial.Brightness,
		Handler:    agg.LinkHandler(),
		Logger:     log,
	})
	if err != nil {
		log.WithError(err).Warn("device connection failed, continuing without it")
		return nil
	}
	agg.AttachLink(link)
	if cfg.Serial.TRNGRate > 0 {
		if err := link.StartTRNG(cfg.Serial.TRNGRate); err != nil {
			log.WithError(err).Warn("could not start device TRNG stream")
		}
	}
	log.WithField("port", name).Info("cipher device connected")
	return link
}
