package pqc

import (
	"errors"

	"github.com/Thiagojm/entropic_chaos_go/fault"
)

// Strategy turns a classical key into a wrapped Record.
type Strategy interface {
	Name() string
	Wrap(key []byte) (Record, error)
}

// KEMWrap generates a fresh KEM keypair, encapsulates against it and XORs
// the shared secret into the key.
type KEMWrap struct {
	Provider Provider
}

func (KEMWrap) Name() string { return "kem" }

// Wrap returns a KEMWrapped record.
func (s KEMWrap) Wrap(key []byte) (Record, error) {
	if !Available(s.Provider) {
		return nil, ErrUnavailable
	}
	pub, sec, err := s.Provider.KEMKeypair()
	if err != nil {
		return nil, wrapFailure("kem wrap", err)
	}
	ct, ss, err := s.Provider.Encapsulate(pub)
	if err != nil {
		return nil, wrapFailure("kem wrap", err)
	}
	return KEMWrapped{
		WrappedKey:   XORTruncated(key, ss),
		PublicKey:    pub,
		SecretKey:    sec,
		Ciphertext:   ct,
		SharedSecret: ss,
	}, nil
}

// SignWrap generates a signing keypair and signs the raw key.
type SignWrap struct {
	Provider Provider
}

func (SignWrap) Name() string { return "sign" }

// Wrap returns a Signed record.
func (s SignWrap) Wrap(key []byte) (Record, error) {
	if !Available(s.Provider) {
		return nil, ErrUnavailable
	}
	pub, sec, err := s.Provider.SignKeypair()
	if err != nil {
		return nil, wrapFailure("sign wrap", err)
	}
	sig, err := s.Provider.Sign(sec, key)
	if err != nil {
		return nil, wrapFailure("sign wrap", err)
	}
	return Signed{
		Key:       append([]byte(nil), key...),
		Signature: sig,
		PublicKey: pub,
		SecretKey: sec,
	}, nil
}

func wrapFailure(msg string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fault.Wrap(fault.KindWrap, msg, err)
}

// XORTruncated returns a copy of key with the first min(len(key), len(pad))
// bytes XORed with pad.
func XORTruncated(key, pad []byte) []byte {
	out := append([]byte(nil), key...)
	for i := 0; i < len(out) && i < len(pad); i++ {
		out[i] ^= pad[i]
	}
	return out
}

// UnwrapKEM recovers the classical key from r by decapsulating its
// ciphertext with its secret key.
func UnwrapKEM(p Provider, r KEMWrapped) ([]byte, error) {
	if !Available(p) {
		return nil, ErrUnavailable
	}
	ss, err := p.Decapsulate(r.SecretKey, r.Ciphertext)
	if err != nil {
		return nil, wrapFailure("kem unwrap", err)
	}
	return XORTruncated(r.WrappedKey, ss), nil
}

// VerifySigned checks r's signature over its key.
func VerifySigned(p Provider, r Signed) bool {
	return Available(p) && p.Verify(r.PublicKey, r.Key, r.Signature)
}

// Strategies returns the enabled strategies in fallback order: KEM first,
// then signing.
func Strategies(p Provider, kem, sign bool) []Strategy {
	var out []Strategy
	if kem {
		out = append(out, KEMWrap{Provider: p})
	}
	if sign {
		out = append(out, SignWrap{Provider: p})
	}
	return out
}
