// Package naming builds the file names used for captures, key artifacts and
// session logs so that every tool in the repository agrees on them.
package naming

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const stampLayout = "20060102T150405"

// Source identifies where a raw capture came from.
type Source string

const (
	SourceTrueRNG    Source = "trng"
	SourceBitBabbler Source = "bitb"
	SourcePseudo     Source = "pseudo"
	SourceCipher     Source = "cipher" // device TRNG stream over the serial link
	SourcePool       Source = "pool"   // drained aggregator windows
)

// Validate checks whether s is one of the known sources.
func (s Source) Validate() error {
	switch s {
	case SourceTrueRNG, SourceBitBabbler, SourcePseudo, SourceCipher, SourcePool:
		return nil
	}
	return fmt.Errorf("invalid source: %q (allowed: trng, bitb, pseudo, cipher, pool)", string(s))
}

// CaptureBase builds the base name of a raw capture:
//
//	YYYYMMDDTHHMMSS_{source}_s{bits}_i{interval}
//
// bits is the sample size per collection and interval the seconds between
// collections.
func CaptureBase(now time.Time, src Source, bits int, intervalSeconds int) (string, error) {
	if err := src.Validate(); err != nil {
		return "", err
	}
	if bits <= 0 {
		return "", errors.New("bits must be > 0")
	}
	if intervalSeconds <= 0 {
		return "", errors.New("intervalSeconds must be > 0")
	}
	return fmt.Sprintf("%s_%s_s%d_i%d", now.Format(stampLayout), string(src), bits, intervalSeconds), nil
}

// CapturePaths returns the .bin and .csv paths of a capture inside dir.
func CapturePaths(dir string, now time.Time, src Source, bits int, intervalSeconds int) (binPath string, csvPath string, err error) {
	base, err := CaptureBase(now, src, bits, intervalSeconds)
	if err != nil {
		return "", "", err
	}
	return JoinDir(dir, WithExt(base, "bin")), JoinDir(dir, WithExt(base, "csv")), nil
}

// KeyBase names the artifacts of one wrapped key: {kind}_{YYYYMMDD_HHMMSS}_{n}.
// The key number keeps names unique when several keys land in one second.
func KeyBase(now time.Time, kind string, keyNumber uint64) (string, error) {
	if kind == "" {
		return "", errors.New("kind must not be empty")
	}
	return fmt.Sprintf("%s_%s_%d", kind, now.Format("20060102_150405"), keyNumber), nil
}

// KeyArtifactPaths returns the public record and secret key paths for base.
func KeyArtifactPaths(dir, base string) (publicPath, secretPath string) {
	return JoinDir(dir, base+"_wrapped.key"), JoinDir(dir, base+"_secret.key")
}

// SessionLog names the newline-delimited JSON key log of one process.
func SessionLog(dir string, pid int) string {
	return JoinDir(dir, fmt.Sprintf("cipherchaos_session_%d.jsonl", pid))
}

// WithExt appends ext to base. A leading dot on ext is optional; an empty ext
// returns base.
func WithExt(base string, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// JoinDir joins dir and name; an empty dir returns name unchanged.
func JoinDir(dir string, name string) string {
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}
