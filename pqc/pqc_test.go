package pqc

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Thiagojm/entropic_chaos_go/fault"
)

// brokenProvider delegates to Circl but fails the operations flagged.
type brokenProvider struct {
	*Circl
	failKEM  bool
	failSign bool
}

var errBroken = errors.New("backend exploded")

func (b brokenProvider) Encapsulate(pub []byte) ([]byte, []byte, error) {
	if b.failKEM {
		return nil, nil, errBroken
	}
	return b.Circl.Encapsulate(pub)
}

func (b brokenProvider) Sign(sec, msg []byte) ([]byte, error) {
	if b.failSign {
		return nil, errBroken
	}
	return b.Circl.Sign(sec, msg)
}

// shortSecretProvider returns a shared secret shorter than the key.
type shortSecretProvider struct{ *Circl }

func (s shortSecretProvider) Encapsulate(pub []byte) ([]byte, []byte, error) {
	ct, ss, err := s.Circl.Encapsulate(pub)
	return ct, ss[:16], err
}

func classicalKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func TestAvailable(t *testing.T) {
	assert.False(t, Available(nil))
	assert.False(t, Available(Absent{}))
	assert.True(t, Available(NewCircl()))
}

func TestKEMWrapRoundTrip(t *testing.T) {
	p := NewCircl()
	key := classicalKey(t)

	rec, err := KEMWrap{Provider: p}.Wrap(key)
	require.NoError(t, err)
	w, ok := rec.(KEMWrapped)
	require.True(t, ok)
	assert.Equal(t, KindKEMWrapped, w.Kind())

	n := min(len(key), len(w.SharedSecret))
	for i := 0; i < n; i++ {
		assert.Equal(t, key[i], w.WrappedKey[i]^w.SharedSecret[i], "byte %d", i)
	}
	assert.NotEqual(t, key, w.WrappedKey)

	got, err := UnwrapKEM(p, w)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestKEMWrapShortSecretLeavesTail(t *testing.T) {
	key := classicalKey(t)
	rec, err := KEMWrap{Provider: shortSecretProvider{NewCircl()}}.Wrap(key)
	require.NoError(t, err)
	w := rec.(KEMWrapped)
	require.Len(t, w.SharedSecret, 16)
	require.Len(t, w.WrappedKey, 32)
	assert.Equal(t, key[16:], w.WrappedKey[16:])
	for i := 0; i < 16; i++ {
		assert.Equal(t, key[i]^w.SharedSecret[i], w.WrappedKey[i])
	}
}

func TestSignWrap(t *testing.T) {
	p := NewCircl()
	key := classicalKey(t)
	orig := append([]byte(nil), key...)

	rec, err := SignWrap{Provider: p}.Wrap(key)
	require.NoError(t, err)
	s, ok := rec.(Signed)
	require.True(t, ok)
	assert.Equal(t, orig, s.Key)
	assert.True(t, VerifySigned(p, s))
	assert.True(t, p.Verify(s.PublicKey, orig, s.Signature))

	tampered := append([]byte(nil), s.Key...)
	tampered[0] ^= 0xFF
	assert.False(t, p.Verify(s.PublicKey, tampered, s.Signature))
}

func TestStrategiesAbsent(t *testing.T) {
	for _, s := range Strategies(Absent{}, true, true) {
		_, err := s.Wrap([]byte("k"))
		require.ErrorIs(t, err, ErrUnavailable)
		assert.True(t, fault.IsKind(err, fault.KindPQCUnavailable))
	}
}

func TestWrapperFallsBackToSign(t *testing.T) {
	p := brokenProvider{Circl: NewCircl(), failKEM: true}
	w := NewWrapper(Strategies(p, true, true)...)

	out := w.Wrap(classicalKey(t))
	require.NotNil(t, out.Record)
	assert.Equal(t, "sign", out.Strategy)
	assert.Equal(t, KindSigned, out.Record.Kind())
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "kem", out.Failures[0].Strategy)
	assert.True(t, fault.IsKind(out.Failures[0].Err, fault.KindWrap))
	assert.ErrorIs(t, out.Failures[0], errBroken)
}

func TestWrapperTotalFailure(t *testing.T) {
	p := brokenProvider{Circl: NewCircl(), failKEM: true, failSign: true}
	out := NewWrapper(Strategies(p, true, true)...).Wrap(classicalKey(t))
	assert.Nil(t, out.Record)
	assert.Len(t, out.Failures, 2)
}

func TestWrapperOrder(t *testing.T) {
	out := NewWrapper(Strategies(NewCircl(), true, true)...).Wrap(classicalKey(t))
	assert.Equal(t, "kem", out.Strategy)
	assert.Empty(t, out.Failures)

	out = NewWrapper(Strategies(NewCircl(), false, true)...).Wrap(classicalKey(t))
	assert.Equal(t, "sign", out.Strategy)

	assert.False(t, NewWrapper().Enabled())
	assert.Nil(t, NewWrapper().Wrap([]byte{1}).Record)
}

func TestXORTruncatedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "key")
		pad := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "pad")
		orig := append([]byte(nil), key...)

		w := XORTruncated(key, pad)
		if !bytes.Equal(key, orig) {
			t.Fatalf("input mutated")
		}
		if len(w) != len(key) {
			t.Fatalf("len %d, want %d", len(w), len(key))
		}
		n := min(len(key), len(pad))
		for i := 0; i < n; i++ {
			if w[i]^pad[i] != key[i] {
				t.Fatalf("byte %d does not unwrap", i)
			}
		}
		if !bytes.Equal(w[n:], key[n:]) {
			t.Fatalf("tail beyond pad changed")
		}
	})
}
