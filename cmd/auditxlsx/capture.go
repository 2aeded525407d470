package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/Thiagojm/entropic_chaos_go/stattest"
)

var (
	intervalRe = regexp.MustCompile(`_i(\d+)`)
	bitsRe     = regexp.MustCompile(`_s(\d+)_i`)
)

// nameInt pulls the number captured by re out of the base name of path.
func nameInt(re *regexp.Regexp, path, what string) (int, error) {
	m := re.FindStringSubmatch(filepath.Base(path))
	if len(m) < 2 {
		return 0, fmt.Errorf("%s not found in file name: %s", what, filepath.Base(path))
	}
	return strconv.Atoi(m[1])
}

// blockRow is the audit of one capture sample.
type blockRow struct {
	Block    int
	Ones     int
	CumMean  float64
	ZScore   float64
	Audit    stattest.Result
	Degraded bool // the audit rejected the block
}

// auditCapture splits a .bin capture into blockBits samples and audits each
// one. A trailing partial block is kept.
func auditCapture(r io.Reader, blockBits int) ([]blockRow, error) {
	if blockBits <= 0 || blockBits%8 != 0 {
		return nil, errors.New("block size must be a positive multiple of 8 bits")
	}
	br := bufio.NewReader(r)
	buf := make([]byte, blockBits/8)
	var rows []blockRow
	for block := 1; ; block++ {
		n, err := io.ReadFull(br, buf)
		if n == 0 {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		row := blockRow{Block: block}
		for _, b := range buf[:n] {
			row.Ones += bits.OnesCount8(b)
		}
		res, aerr := stattest.Audit(buf[:n])
		row.Audit, row.Degraded = res, aerr != nil
		rows = append(rows, row)
		if n < len(buf) {
			break
		}
	}
	cumulativeZ(rows, blockBits)
	return rows, nil
}

// cumulativeZ fills the running mean of ones and its z-score against a fair
// coin: z = (mean - bits/2) / (sqrt(bits/4) / sqrt(n)).
func cumulativeZ(rows []blockRow, blockBits int) {
	want := float64(blockBits) / 2
	sd := math.Sqrt(float64(blockBits) / 4)
	sum := 0
	for i := range rows {
		sum += rows[i].Ones
		n := float64(i + 1)
		rows[i].CumMean = float64(sum) / n
		rows[i].ZScore = (rows[i].CumMean - want) / (sd / math.Sqrt(n))
	}
}

func captureSheet(path string) (sheet, error) {
	interval, err := nameInt(intervalRe, path, "interval")
	if err != nil {
		return sheet{}, err
	}
	blockBits, err := nameInt(bitsRe, path, "bit count")
	if err != nil {
		return sheet{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return sheet{}, err
	}
	defer f.Close()
	rows, err := auditCapture(f, blockBits)
	if err != nil {
		return sheet{}, err
	}

	s := sheet{
		Name:    "Audit",
		Title:   filepath.Base(path),
		Headers: []string{"samples", "ones", "cumulative_mean", "z_test", "score", "bits_per_byte", "chi_square", "pqc_ready"},
		Charts: []chartSpec{
			{Column: 3, YTitle: fmt.Sprintf("Z-score - Sample Size = %d bits", blockBits)},
			{Column: 4, YTitle: "Audit score (0-100)"},
		},
		XTitle: fmt.Sprintf("Number of Samples - one sample every %d second(s)", interval),
	}
	for _, r := range rows {
		s.Rows = append(s.Rows, []any{
			r.Block, r.Ones, r.CumMean, r.ZScore,
			r.Audit.Score, r.Audit.Entropy.BitsPerByte, r.Audit.ChiSquare.Statistic, r.Audit.PQCReady,
		})
	}
	return s, nil
}
