// collect captures raw entropy from one source into a .bin file and a .csv
// of per-sample ones counts, named by naming.CapturePaths.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thiagojm/entropic_chaos_go/bbusb"
	"github.com/Thiagojm/entropic_chaos_go/naming"
	"github.com/Thiagojm/entropic_chaos_go/source"
	"github.com/Thiagojm/entropic_chaos_go/stattest"
)

func main() {
	bitsFlag := flag.Int("bits", 2048, "number of bits per sample (> 0)")
	intervalSec := flag.Int("interval", 1, "seconds between samples (> 0)")
	deviceFlag := flag.String("device", "pseudo", "source to read: pseudo|trng|bitb|cipher")
	port := flag.String("port", "", "serial port for trng or cipher; empty auto-detects")
	outDir := flag.String("outdir", "data", "output directory")
	flag.Parse()

	log := logrus.New()
	if *bitsFlag <= 0 {
		log.Fatal("-bits must be > 0")
	}
	if *intervalSec <= 0 {
		log.Fatal("-interval must be > 0")
	}
	src := naming.Source(*deviceFlag)
	if err := src.Validate(); err != nil || src == naming.SourcePool {
		log.Fatalf("invalid -device: %s (allowed: pseudo, trng, bitb, cipher)", *deviceFlag)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reader, closeReader, err := openReader(ctx, src, *port, log)
	if err != nil {
		log.Fatalf("%s: %v", src, err)
	}
	defer closeReader()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("creating outdir: %v", err)
	}
	binPath, csvPath, err := naming.CapturePaths(*outDir, time.Now(), src, *bitsFlag, *intervalSec)
	if err != nil {
		log.Fatalf("build filenames: %v", err)
	}
	binFile, err := os.Create(binPath)
	if err != nil {
		log.Fatalf("open bin file: %v", err)
	}
	defer binFile.Close()
	csvFile, err := os.Create(csvPath)
	if err != nil {
		log.Fatalf("open csv file: %v", err)
	}
	defer csvFile.Close()
	bin, csv := bufio.NewWriter(binFile), bufio.NewWriter(csvFile)
	defer bin.Flush()
	defer csv.Flush()

	bitCount := *bitsFlag
	byteCount := (bitCount + 7) / 8
	interval := time.Duration(*intervalSec) * time.Second
	log.WithFields(logrus.Fields{"bits": bitCount, "interval": interval, "source": src, "bin": binPath}).Info("collecting")

	sample := 0
	err = source.CollectAtInterval(ctx, reader, byteCount, interval, func(batch []byte) {
		if extra := byteCount*8 - bitCount; extra != 0 && len(batch) == byteCount {
			batch[len(batch)-1] &= 0xFF << extra
		}
		if _, werr := bin.Write(batch); werr != nil {
			log.Fatalf("write bin: %v", werr)
		}
		_ = bin.Flush()

		ones := countOnes(batch, bitCount)
		sample++
		ts := time.Now().Format("20060102T15:04:05")
		if _, werr := fmt.Fprintf(csv, "%s,%d\n", ts, ones); werr != nil {
			log.Fatalf("write csv: %v", werr)
		}
		_ = csv.Flush()

		f := stattest.FrequencyTest(batch)
		fmt.Printf("sample %d: ones=%d/%d ratio=%.4f at %s\n", sample, ones, bitCount, f.Ratio, ts)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("read error: %v", err)
	}
}

func openReader(ctx context.Context, src naming.Source, port string, log *logrus.Logger) (source.Reader, func(), error) {
	switch src {
	case naming.SourcePseudo:
		p, err := source.NewPseudo(0)
		return p, func() {}, err
	case naming.SourceTrueRNG:
		t := &source.TrueRNG{PortName: port}
		return t, func() { _ = t.Close() }, nil
	case naming.SourceBitBabbler:
		ok, err := bbusb.IsPresent()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, errors.New("no BitBabbler devices found")
		}
		b := &bbusb.Reader{}
		return b, func() { _ = b.Close() }, nil
	case naming.SourceCipher:
		r, err := openCipher(ctx, port, log)
		if err != nil {
			return nil, nil, err
		}
		return r, r.close, nil
	}
	return nil, nil, fmt.Errorf("unsupported source %s", src)
}
