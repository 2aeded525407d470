// Package keystore persists forged keys: an append-only newline-delimited
// JSON key log, plus a public record and a separate raw secret file for
// every post-quantum wrapped key.
package keystore

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Thiagojm/entropic_chaos_go/fault"
	"github.com/Thiagojm/entropic_chaos_go/naming"
	"github.com/Thiagojm/entropic_chaos_go/pqc"
)

// Metadata describes how a key was produced.
type Metadata struct {
	ID           string  `json:"id"`
	Timestamp    float64 `json:"timestamp"` // unix seconds
	KeyNumber    uint64  `json:"key_number"`
	EntropyBytes int     `json:"entropy_bytes"`
	PQCReady     bool    `json:"pqc_ready"`
	Type         string  `json:"type"`
	Wrapping     string  `json:"wrapping,omitempty"`
	AuditScore   float64 `json:"audit_score"`
	EntropyBPB   float64 `json:"entropy_bpb"`
}

// Entry is one line of the key log.
type Entry struct {
	Timestamp string   `json:"timestamp"`
	Key       string   `json:"key"` // URL-safe base64
	Metadata  Metadata `json:"metadata"`
	Type      string   `json:"type"`
}

// Artifacts are the files written for one wrapped key.
type Artifacts struct {
	Name       string
	PublicPath string
	SecretPath string
}

// PublicRecord is the shareable JSON artifact of a wrapped key. It never
// contains secret key material.
type PublicRecord struct {
	Type       string `json:"type"`
	Created    string `json:"created"`
	WrappedKey string `json:"wrapped_key,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Key        string `json:"key,omitempty"`
	Signature  string `json:"signature,omitempty"`
	PublicKey  string `json:"public_key"`
}

// Config locates the key log and the artifact directory.
type Config struct {
	LogPath string // key log file; parent directory is created
	KeysDir string // directory for wrapped key artifacts
	Logger  *logrus.Logger
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	logPath string
	keysDir string
	log     *logrus.Logger
	now     func() time.Time
}

// Open creates the log and keys directories and returns a Store.
func Open(cfg Config) (*Store, error) {
	if cfg.LogPath == "" {
		return nil, errors.New("keystore: log path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, fault.Wrap(fault.KindPersistence, "create log directory", err)
	}
	if cfg.KeysDir != "" {
		if err := os.MkdirAll(cfg.KeysDir, 0o700); err != nil {
			return nil, fault.Wrap(fault.KindPersistence, "create keys directory", err)
		}
	}
	return &Store{logPath: cfg.LogPath, keysDir: cfg.KeysDir, log: cfg.Logger, now: time.Now}, nil
}

// LogPath returns the key log file.
func (s *Store) LogPath() string { return s.logPath }

// Append writes e as one JSON line.
func (s *Store) Append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fault.Wrap(fault.KindPersistence, "encode log entry", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fault.Wrap(fault.KindPersistence, "open key log", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fault.Wrap(fault.KindPersistence, "write key log", err)
	}
	if err := f.Close(); err != nil {
		return fault.Wrap(fault.KindPersistence, "close key log", err)
	}
	return nil
}

// SaveArtifacts writes the public record and the secret key of rec as two
// files named after name.
func (s *Store) SaveArtifacts(rec pqc.Record, name string) (Artifacts, error) {
	if s.keysDir == "" {
		return Artifacts{}, fault.New(fault.KindPersistence, "no keys directory configured")
	}
	created := s.now()
	pub := PublicRecord{Type: string(rec.Kind()), Created: created.Format(time.RFC3339Nano)}
	var secret []byte
	switch r := rec.(type) {
	case pqc.KEMWrapped:
		pub.WrappedKey = b64(r.WrappedKey)
		pub.Ciphertext = b64(r.Ciphertext)
		pub.PublicKey = b64(r.PublicKey)
		secret = r.SecretKey
	case pqc.Signed:
		pub.Key = b64(r.Key)
		pub.Signature = b64(r.Signature)
		pub.PublicKey = b64(r.PublicKey)
		secret = r.SecretKey
	default:
		return Artifacts{}, fault.New(fault.KindPersistence, fmt.Sprintf("no artifacts for %s keys", rec.Kind()))
	}

	if name == "" {
		var err error
		name, err = naming.KeyBase(created, string(rec.Kind()), uint64(created.UnixNano()))
		if err != nil {
			return Artifacts{}, fault.Wrap(fault.KindPersistence, "name artifacts", err)
		}
	}
	pubPath, secPath := naming.KeyArtifactPaths(s.keysDir, name)

	body, err := json.MarshalIndent(pub, "", "  ")
	if err != nil {
		return Artifacts{}, fault.Wrap(fault.KindPersistence, "encode public record", err)
	}
	if err := os.WriteFile(pubPath, body, 0o644); err != nil {
		return Artifacts{}, fault.Wrap(fault.KindPersistence, "write public record", err)
	}
	if err := os.WriteFile(secPath, secret, 0o600); err != nil {
		return Artifacts{}, fault.Wrap(fault.KindPersistence, "write secret key", err)
	}
	return Artifacts{Name: name, PublicPath: pubPath, SecretPath: secPath}, nil
}

// Persist logs rec and, when saveArtifacts is set and rec is wrapped, writes
// its artifacts first. An artifact failure is returned but does not stop the
// log entry from being written.
func (s *Store) Persist(rec pqc.Record, meta Metadata, saveArtifacts bool) (Entry, *Artifacts, error) {
	now := s.now()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	meta.Timestamp = float64(now.UnixNano()) / 1e9
	meta.Type = metadataType(rec)
	if rec.Kind() != pqc.KindClassical {
		meta.Wrapping = string(rec.Kind())
	}

	var errs []error
	var art *Artifacts
	if saveArtifacts && rec.Kind() != pqc.KindClassical {
		name, err := naming.KeyBase(now, string(rec.Kind()), meta.KeyNumber)
		if err == nil {
			var a Artifacts
			a, err = s.SaveArtifacts(rec, name)
			if err == nil {
				art = &a
				s.log.WithFields(logrus.Fields{"name": a.Name, "public": a.PublicPath}).Info("wrapped key artifacts saved")
			}
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	key := rec.LoggedKey()
	if len(key) > 32 {
		key = key[:32]
	}
	e := Entry{
		Timestamp: now.Format(time.RFC3339Nano),
		Key:       base64.URLEncoding.EncodeToString(key),
		Metadata:  meta,
		Type:      string(rec.Kind()),
	}
	if err := s.Append(e); err != nil {
		errs = append(errs, err)
	}
	return e, art, errors.Join(errs...)
}

func metadataType(rec pqc.Record) string {
	if rec.Kind() == pqc.KindClassical {
		return "classical_aes256"
	}
	return string(rec.Kind())
}

// ReadLog decodes every entry of a key log. Blank lines are skipped.
func ReadLog(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// ReadPublicRecord loads a public artifact back.
func ReadPublicRecord(path string) (PublicRecord, error) {
	var pr PublicRecord
	b, err := os.ReadFile(path)
	if err != nil {
		return pr, err
	}
	err = json.Unmarshal(b, &pr)
	return pr, err
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
