package keystore

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thiagojm/entropic_chaos_go/fault"
	"github.com/Thiagojm/entropic_chaos_go/pqc"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{
		LogPath: filepath.Join(dir, "logs", "session.jsonl"),
		KeysDir: filepath.Join(dir, "keys"),
	})
	require.NoError(t, err)
	return s
}

func readEntries(t *testing.T, s *Store) []Entry {
	t.Helper()
	f, err := os.Open(s.LogPath())
	require.NoError(t, err)
	defer f.Close()
	entries, err := ReadLog(f)
	require.NoError(t, err)
	return entries
}

func TestPersistClassical(t *testing.T) {
	s := openStore(t)
	key := bytes.Repeat([]byte{0xAB}, 32)

	e, art, err := s.Persist(pqc.Classical{Key: key}, Metadata{KeyNumber: 1, EntropyBytes: 96, AuditScore: 71.5}, true)
	require.NoError(t, err)
	assert.Nil(t, art)
	assert.Equal(t, "classical", e.Type)
	assert.Equal(t, "classical_aes256", e.Metadata.Type)
	assert.Empty(t, e.Metadata.Wrapping)
	assert.NotEmpty(t, e.Metadata.ID)

	got, err := base64.URLEncoding.DecodeString(e.Key)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	entries := readEntries(t, s)
	require.Len(t, entries, 1)
	assert.Equal(t, e, entries[0])
}

func TestPersistAppends(t *testing.T) {
	s := openStore(t)
	for i := 1; i <= 3; i++ {
		_, _, err := s.Persist(pqc.Classical{Key: make([]byte, 32)}, Metadata{KeyNumber: uint64(i)}, false)
		require.NoError(t, err)
	}
	entries := readEntries(t, s)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Metadata.KeyNumber)
	}
}

func TestPersistKEMWrappedSplitsSecret(t *testing.T) {
	s := openStore(t)
	rec := pqc.KEMWrapped{
		WrappedKey:   bytes.Repeat([]byte{1}, 32),
		PublicKey:    []byte("public-key"),
		SecretKey:    []byte("secret-key-material"),
		Ciphertext:   []byte("ciphertext"),
		SharedSecret: bytes.Repeat([]byte{2}, 32),
	}
	e, art, err := s.Persist(rec, Metadata{KeyNumber: 4, PQCReady: true}, true)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, "kyber512_wrapped", e.Type)
	assert.Equal(t, "kyber512_wrapped", e.Metadata.Wrapping)

	pub, err := ReadPublicRecord(art.PublicPath)
	require.NoError(t, err)
	assert.Equal(t, "kyber512_wrapped", pub.Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString(rec.Ciphertext), pub.Ciphertext)
	assert.Equal(t, base64.StdEncoding.EncodeToString(rec.WrappedKey), pub.WrappedKey)

	raw, err := os.ReadFile(art.PublicPath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), base64.StdEncoding.EncodeToString(rec.SecretKey))
	assert.NotContains(t, string(raw), "shared")

	secret, err := os.ReadFile(art.SecretPath)
	require.NoError(t, err)
	assert.Equal(t, rec.SecretKey, secret)
	assert.True(t, strings.HasSuffix(art.SecretPath, "_secret.key"))
}

func TestSaveArtifactsSigned(t *testing.T) {
	s := openStore(t)
	rec := pqc.Signed{Key: []byte("k"), Signature: []byte("sig"), PublicKey: []byte("pk"), SecretKey: []byte("sk")}
	art, err := s.SaveArtifacts(rec, "")
	require.NoError(t, err)
	pub, err := ReadPublicRecord(art.PublicPath)
	require.NoError(t, err)
	assert.Equal(t, "falcon512_signed", pub.Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("sig")), pub.Signature)
	assert.Empty(t, pub.Ciphertext)
}

func TestSaveArtifactsClassicalRejected(t *testing.T) {
	s := openStore(t)
	_, err := s.SaveArtifacts(pqc.Classical{Key: []byte{1}}, "x")
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
}

func TestPersistArtifactFailureStillLogs(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{LogPath: filepath.Join(dir, "log.jsonl")})
	require.NoError(t, err)

	rec := pqc.Signed{Key: []byte("k"), Signature: []byte("s"), PublicKey: []byte("p"), SecretKey: []byte("x")}
	_, art, err := s.Persist(rec, Metadata{KeyNumber: 1}, true)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
	assert.Nil(t, art)
	assert.Len(t, readEntries(t, s), 1)
}

func TestAppendFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{LogPath: filepath.Join(dir, "log.jsonl")})
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(s.LogPath(), 0o755))

	err = s.Append(Entry{Type: "classical"})
	assert.True(t, fault.IsKind(err, fault.KindPersistence))
}

func TestReadLogRejectsGarbage(t *testing.T) {
	_, err := ReadLog(strings.NewReader("{\"type\":\"classical\"}\n\nnot json\n"))
	assert.ErrorContains(t, err, "line 3")
}
