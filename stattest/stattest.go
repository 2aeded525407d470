package stattest

import (
	"bytes"
	"math"
	"math/bits"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/Thiagojm/entropic_chaos_go/fault"
)

// Thresholds used by Result.PQCReady.
const (
	ReadyScore       = 65.0
	ReadyEntropyBPB  = 6.0
	ReadyMinSample   = 32
	chiSquareMinimum = 1024
	chiSquareLow     = 150.0
	chiSquareHigh    = 350.0
)

// Composite weights. A test that could not run on the sample contributes
// neither its score nor its weight.
const (
	weightFrequency      = 0.20
	weightRuns           = 0.15
	weightEntropy        = 0.25
	weightChiSquare      = 0.15
	weightCompression    = 0.10
	weightBlockFrequency = 0.10
	weightLongestRun     = 0.05
)

// ErrDegenerate is returned by Audit for an empty sample.
var ErrDegenerate = fault.New(fault.KindAuditDegenerate, "empty entropy sample")

// Frequency is the monobit test outcome.
type Frequency struct {
	Ratio float64 // fraction of set bits
	Score float64
	Pass  bool
}

// Runs is the bit transition test outcome.
type Runs struct {
	Count    int
	Expected float64
	Score    float64
	Pass     bool
}

// Entropy is the byte-histogram Shannon entropy.
type Entropy struct {
	BitsPerByte float64
	Score       float64
}

// ChiSquare is the 256-bin goodness of fit. Samples below 1024 bytes always
// pass.
type ChiSquare struct {
	Statistic float64
	Score     float64
	Pass      bool
}

// Compression compares the zlib-compressed size to the input size.
type Compression struct {
	Ratio float64
	Score float64
}

// BlockFrequency is the simplified NIST block frequency test. Ran is false
// when the sample does not hold two full blocks of at least 8 bits; the
// test then passes with a full score.
type BlockFrequency struct {
	Ran       bool
	BlockBits int
	Variance  float64
	Score     float64
	Pass      bool
}

// LongestRun is the longest run of identical bits. It only runs together
// with a full block frequency test, so Ran is false on samples under 10 bytes.
type LongestRun struct {
	Ran      bool
	Longest  int
	Expected float64
	Score    float64
	Pass     bool
}

// Result is one audit of one sample. It is never modified after Audit
// returns it.
type Result struct {
	SampleSize     int
	Timestamp      time.Time
	Frequency      Frequency
	Runs           Runs
	Entropy        Entropy
	ChiSquare      ChiSquare
	Compression    Compression
	BlockFrequency BlockFrequency
	LongestRun     LongestRun
	Score          float64 // weighted composite in [0,100], one decimal
	PQCReady       bool
}

// Audit runs the full battery over data.
func Audit(data []byte) (Result, error) {
	n := len(data)
	if n == 0 {
		return Result{Timestamp: time.Now()}, ErrDegenerate
	}

	r := Result{
		SampleSize:     n,
		Timestamp:      time.Now(),
		Frequency:      FrequencyTest(data),
		Entropy:        ShannonEntropy(data),
		ChiSquare:      ChiSquareTest(data),
		Compression:    CompressionTest(data),
		BlockFrequency: BlockFrequencyTest(data),
	}
	r.Runs = RunsTest(data, r.Frequency.Ratio)
	if r.BlockFrequency.Ran {
		r.LongestRun = LongestRunTest(data)
	}

	score := Composite(r)
	r.Score = math.Round(score*10) / 10
	r.PQCReady = score >= ReadyScore && r.Entropy.BitsPerByte >= ReadyEntropyBPB && n >= ReadyMinSample
	return r, nil
}

// Composite returns the weighted score of r, normalised by the weights of
// the tests that ran.
func Composite(r Result) float64 {
	if r.SampleSize == 0 {
		return 0
	}
	type part struct{ score, weight float64 }
	parts := []part{
		{r.Frequency.Score, weightFrequency},
		{r.Runs.Score, weightRuns},
		{r.Entropy.Score, weightEntropy},
		{r.ChiSquare.Score, weightChiSquare},
		{r.Compression.Score, weightCompression},
		{r.BlockFrequency.Score, weightBlockFrequency},
	}
	if r.LongestRun.Ran {
		parts = append(parts, part{r.LongestRun.Score, weightLongestRun})
	}
	var sum, total float64
	for _, p := range parts {
		sum += p.score * p.weight
		total += p.weight
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

func onesCount(data []byte) int {
	ones := 0
	for _, b := range data {
		ones += bits.OnesCount8(b)
	}
	return ones
}

// bitAt returns bit i of data, MSB first within each byte.
func bitAt(data []byte, i int) byte {
	return (data[i>>3] >> (7 - uint(i&7))) & 1
}

// FrequencyTest passes when the fraction of ones is within [0.45, 0.55].
func FrequencyTest(data []byte) Frequency {
	if len(data) == 0 {
		return Frequency{}
	}
	p1 := float64(onesCount(data)) / float64(len(data)*8)
	return Frequency{
		Ratio: p1,
		Score: 100 * (1 - 2*math.Abs(p1-0.5)),
		Pass:  p1 >= 0.45 && p1 <= 0.55,
	}
}

// RunsTest counts bit transitions and compares them to 2·N·p1·(1−p1).
func RunsTest(data []byte, p1 float64) Runs {
	if len(data) == 0 {
		return Runs{}
	}
	total := len(data) * 8
	prev := bitAt(data, 0)
	runs := 0
	for i := 1; i < total; i++ {
		b := bitAt(data, i)
		if b != prev {
			runs++
			prev = b
		}
	}
	expected := 2 * float64(total) * p1 * (1 - p1)
	dev := math.Abs(float64(runs)-expected) / (expected + 1e-9)
	return Runs{
		Count:    runs,
		Expected: expected,
		Score:    100 * math.Max(0, 1-dev),
		Pass:     dev < 0.2,
	}
}

func histogram(data []byte) [256]int {
	var h [256]int
	for _, b := range data {
		h[b]++
	}
	return h
}

// ShannonEntropy returns bits per byte of the byte histogram.
func ShannonEntropy(data []byte) Entropy {
	n := float64(len(data))
	if n == 0 {
		return Entropy{}
	}
	h := histogram(data)
	var e float64
	for _, c := range h {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		e -= p * math.Log2(p)
	}
	return Entropy{BitsPerByte: e, Score: 100 * e / 8}
}

// ChiSquareTest gives partial credit (70) on failure.
func ChiSquareTest(data []byte) ChiSquare {
	n := len(data)
	if n == 0 {
		return ChiSquare{}
	}
	h := histogram(data)
	expected := float64(n) / 256
	var chi float64
	for _, c := range h {
		d := float64(c) - expected
		chi += d * d / (expected + 1e-9)
	}
	pass := true
	if n >= chiSquareMinimum {
		pass = chi >= chiSquareLow && chi <= chiSquareHigh
	}
	score := 100.0
	if !pass {
		score = 70.0
	}
	return ChiSquare{Statistic: chi, Score: score, Pass: pass}
}

// CompressionTest compresses with zlib at maximum level. An incompressible
// sample has a ratio at or above 1.
func CompressionTest(data []byte) Compression {
	n := len(data)
	if n == 0 {
		return Compression{}
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return Compression{Ratio: 1, Score: 100}
	}
	if _, err := w.Write(data); err != nil {
		return Compression{Ratio: 1, Score: 100}
	}
	if err := w.Close(); err != nil {
		return Compression{Ratio: 1, Score: 100}
	}
	ratio := float64(buf.Len()) / float64(n)
	return Compression{Ratio: ratio, Score: math.Min(100, ratio*130)}
}

// BlockFrequencyTest splits the bit stream into blocks of min(128, 8n/10)
// bits and measures the variance of each block's ones fraction around 0.5.
func BlockFrequencyTest(data []byte) BlockFrequency {
	total := len(data) * 8
	blockBits := min(128, total/10)
	if blockBits < 8 {
		return BlockFrequency{Pass: true, Score: 100}
	}
	blocks := total / blockBits
	if blocks < 2 {
		return BlockFrequency{Pass: true, Score: 100, BlockBits: blockBits}
	}
	var variance float64
	for b := 0; b < blocks; b++ {
		ones := 0
		for i := b * blockBits; i < (b+1)*blockBits; i++ {
			ones += int(bitAt(data, i))
		}
		d := float64(ones)/float64(blockBits) - 0.5
		variance += d * d
	}
	variance /= float64(blocks)
	return BlockFrequency{
		Ran:       true,
		BlockBits: blockBits,
		Variance:  variance,
		Score:     100 * math.Max(0, 1-variance*40),
		Pass:      variance < 0.06,
	}
}

// LongestRunTest expects a longest run near log2(bits)+3 and passes within
// 40% of that.
func LongestRunTest(data []byte) LongestRun {
	total := len(data) * 8
	if total == 0 {
		return LongestRun{Pass: true, Score: 100}
	}
	longest, current := 0, 0
	prev := bitAt(data, 0)
	for i := 0; i < total; i++ {
		b := bitAt(data, i)
		if b == prev {
			current++
		} else {
			longest = max(longest, current)
			current = 1
			prev = b
		}
	}
	longest = max(longest, current)

	expected := math.Log2(float64(total)) + 3
	dev := math.Abs(float64(longest) - expected)
	return LongestRun{
		Ran:      true,
		Longest:  longest,
		Expected: expected,
		Score:    100 * math.Max(0, 1-dev/expected),
		Pass:     dev < expected*0.4,
	}
}
