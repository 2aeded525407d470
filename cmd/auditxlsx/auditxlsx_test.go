package main

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Thiagojm/entropic_chaos_go/keystore"
	"github.com/Thiagojm/entropic_chaos_go/naming"
	"github.com/Thiagojm/entropic_chaos_go/pqc"
)

func TestAuditCaptureBlocks(t *testing.T) {
	data := make([]byte, 64*3+10)
	_, err := rand.Read(data)
	require.NoError(t, err)

	rows, err := auditCapture(bytes.NewReader(data), 512)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, 64, rows[0].Audit.SampleSize)
	assert.Equal(t, 10, rows[3].Audit.SampleSize)
	assert.Equal(t, 4, rows[3].Block)

	_, err = auditCapture(bytes.NewReader(data), 12)
	assert.Error(t, err)
}

func TestCumulativeZ(t *testing.T) {
	rows := []blockRow{{Ones: 4}, {Ones: 4}}
	cumulativeZ(rows, 8)
	assert.InDelta(t, 4, rows[1].CumMean, 1e-9)
	assert.InDelta(t, 0, rows[1].ZScore, 1e-9)

	rows = []blockRow{{Ones: 8}}
	cumulativeZ(rows, 8)
	assert.InDelta(t, (8.0-4)/1.4142135623730951, rows[0].ZScore, 1e-9)
}

func TestNameInt(t *testing.T) {
	name := "20250101T120000_trng_s2048_i5.bin"
	n, err := nameInt(bitsRe, name, "bits")
	require.NoError(t, err)
	assert.Equal(t, 2048, n)
	n, err = nameInt(intervalRe, name, "interval")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, err = nameInt(bitsRe, "capture.bin", "bits")
	assert.Error(t, err)
}

func TestRunCapture(t *testing.T) {
	dir := t.TempDir()
	bin, _, err := naming.CapturePaths(dir, time.Now(), naming.SourcePseudo, 256, 1)
	require.NoError(t, err)
	data := make([]byte, 32*5)
	_, err = rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bin, data, 0o644))

	out, err := run(bin, "")
	require.NoError(t, err)
	assert.Equal(t, ".xlsx", filepath.Ext(out))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Audit")
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "samples", rows[0][0])
	assert.Equal(t, "score", rows[0][4])
	assert.Equal(t, "1", rows[1][0])
}

func TestRunKeyLog(t *testing.T) {
	dir := t.TempDir()
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	store, err := keystore.Open(keystore.Config{LogPath: filepath.Join(dir, "keys.jsonl"), Logger: log})
	require.NoError(t, err)
	for i := uint64(1); i <= 3; i++ {
		_, _, err := store.Persist(pqc.Classical{Key: bytes.Repeat([]byte{byte(i)}, 32)},
			keystore.Metadata{KeyNumber: i, EntropyBytes: 64, AuditScore: 70 + float64(i)}, false)
		require.NoError(t, err)
	}

	out := filepath.Join(dir, "report.xlsx")
	saved, err := run(store.LogPath(), out)
	require.NoError(t, err)
	assert.Equal(t, out, saved)

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Keys")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "key_number", rows[0][0])
	assert.Equal(t, "3", rows[3][0])
	assert.Equal(t, "classical", rows[3][2])
}

func TestRunRejectsUnknownType(t *testing.T) {
	_, err := run("notes.txt", "")
	assert.Error(t, err)
}
