package stattest

import (
	"crypto/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thiagojm/entropic_chaos_go/fault"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestAuditEmptySample(t *testing.T) {
	r, err := Audit(nil)
	require.ErrorIs(t, err, ErrDegenerate)
	assert.True(t, fault.IsKind(err, fault.KindAuditDegenerate))
	assert.Zero(t, r.Score)
	assert.False(t, r.PQCReady)
	assert.Zero(t, r.SampleSize)
}

func TestAuditAllZeros(t *testing.T) {
	r, err := Audit(make([]byte, 1024))
	require.NoError(t, err)

	assert.Zero(t, r.Frequency.Ratio)
	assert.False(t, r.Frequency.Pass)
	assert.False(t, r.ChiSquare.Pass)
	assert.Equal(t, 70.0, r.ChiSquare.Score)
	assert.Zero(t, r.Entropy.BitsPerByte)
	assert.False(t, r.BlockFrequency.Pass)
	assert.False(t, r.LongestRun.Pass)
	assert.Less(t, r.Score, 40.0)
	assert.False(t, r.PQCReady)
}

func TestAuditRandomLargeSample(t *testing.T) {
	const trials = 20
	ready := 0
	for i := 0; i < trials; i++ {
		r, err := Audit(randomBytes(t, 4096))
		require.NoError(t, err)
		if r.Score >= ReadyScore && r.PQCReady {
			ready++
		}
		assert.InDelta(t, 8.0, r.Entropy.BitsPerByte, 0.3)
	}
	assert.GreaterOrEqual(t, ready, trials-1, "random 4 KiB samples should be PQC-ready")
}

func TestAuditRandom1024(t *testing.T) {
	ready := 0
	for i := 0; i < 20; i++ {
		r, err := Audit(randomBytes(t, 1024))
		require.NoError(t, err)
		if r.PQCReady {
			ready++
		}
	}
	assert.GreaterOrEqual(t, ready, 18)
}

// A 64 byte sample cannot exceed log2(64) = 6 bits per byte on a byte
// histogram, so the entropy bound is checked against that ceiling.
func TestAuditSmallRandomWindow(t *testing.T) {
	const trials = 21
	scores := make([]float64, 0, trials)
	freqPass := 0
	for i := 0; i < trials; i++ {
		r, err := Audit(randomBytes(t, 64))
		require.NoError(t, err)
		assert.LessOrEqual(t, r.Entropy.BitsPerByte, 6.0+1e-9)
		assert.Greater(t, r.Entropy.BitsPerByte, 5.3)
		assert.True(t, r.ChiSquare.Pass, "chi-square is not judged below 1024 bytes")
		if r.Frequency.Pass {
			freqPass++
		}
		scores = append(scores, r.Score)
	}
	sort.Float64s(scores)
	assert.GreaterOrEqual(t, scores[trials/2], 80.0, "median score")
	assert.Greater(t, freqPass, trials/2)
}

func TestFrequencyTestBalanced(t *testing.T) {
	f := FrequencyTest([]byte{0x0F, 0xF0, 0xAA, 0x55})
	assert.Equal(t, 0.5, f.Ratio)
	assert.Equal(t, 100.0, f.Score)
	assert.True(t, f.Pass)
}

func TestRunsTestAlternating(t *testing.T) {
	data := []byte{0xAA, 0xAA}
	r := RunsTest(data, FrequencyTest(data).Ratio)
	assert.Equal(t, 15, r.Count)
	assert.Equal(t, 8.0, r.Expected)
	assert.False(t, r.Pass)
}

func TestShannonEntropyUniform(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	e := ShannonEntropy(data)
	assert.InDelta(t, 8.0, e.BitsPerByte, 1e-9)
	assert.InDelta(t, 100.0, e.Score, 1e-9)
}

func TestChiSquareSmallSampleAlwaysPasses(t *testing.T) {
	c := ChiSquareTest(make([]byte, 1023))
	assert.True(t, c.Pass)
	assert.Equal(t, 100.0, c.Score)
	assert.Greater(t, c.Statistic, chiSquareHigh)
}

func TestCompressionRepetitive(t *testing.T) {
	c := CompressionTest(make([]byte, 2048))
	assert.Less(t, c.Ratio, 0.1)
	assert.Less(t, c.Score, 15.0)

	c = CompressionTest(randomBytes(t, 2048))
	assert.GreaterOrEqual(t, c.Ratio, 1.0)
	assert.Equal(t, 100.0, c.Score)
}

func TestBlockFrequencySkipsTinySamples(t *testing.T) {
	b := BlockFrequencyTest([]byte{0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF})
	assert.False(t, b.Ran)
	assert.True(t, b.Pass)

	r, err := Audit([]byte{0x5A, 0xA5, 0x3C})
	require.NoError(t, err)
	assert.False(t, r.BlockFrequency.Ran)
	assert.False(t, r.LongestRun.Ran)
	assert.InDelta(t, Composite(r), r.Score, 0.05)
}

func TestTinySampleKeepsBlockScoreAndDropsLongestRun(t *testing.T) {
	r, err := Audit([]byte{0xFF, 0x00, 0xFF, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 100.0, r.BlockFrequency.Score)
	assert.False(t, r.LongestRun.Ran)
	assert.Zero(t, r.LongestRun.Longest)
	// (20 + 0.15*18.75 + 0.25*12.5 + 15 + 10 + 10) / 0.95
	assert.Equal(t, 64.1, r.Score)

	r, err = Audit(randomBytes(t, 10))
	require.NoError(t, err)
	assert.True(t, r.BlockFrequency.Ran)
	assert.True(t, r.LongestRun.Ran)
}

func TestBlockFrequencyBlockSize(t *testing.T) {
	b := BlockFrequencyTest(randomBytes(t, 40))
	require.True(t, b.Ran)
	assert.Equal(t, 32, b.BlockBits)

	b = BlockFrequencyTest(randomBytes(t, 1024))
	assert.Equal(t, 128, b.BlockBits)
}

func TestLongestRun(t *testing.T) {
	l := LongestRunTest([]byte{0x0F, 0xFF, 0x00})
	assert.True(t, l.Ran)
	assert.Equal(t, 12, l.Longest)
	assert.InDelta(t, 7.585, l.Expected, 0.001)
	assert.False(t, l.Pass)
}

func TestAuditorHistoryBounded(t *testing.T) {
	a := NewAuditor(3)
	for i := 0; i < 5; i++ {
		_, err := a.Audit(randomBytes(t, 64))
		require.NoError(t, err)
	}
	_, err := a.Audit(nil)
	require.Error(t, err)

	h := a.History()
	assert.Len(t, h, 3)
	assert.False(t, h[0].Timestamp.After(h[2].Timestamp))

	mean, n := a.Trend()
	assert.Equal(t, 3, n)
	assert.Greater(t, mean, 0.0)
}
