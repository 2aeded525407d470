package pqc

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"
	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"

	"github.com/Thiagojm/entropic_chaos_go/fault"
)

// ErrUnavailable is returned by every Absent operation and by strategies
// built on it.
var ErrUnavailable = fault.New(fault.KindPQCUnavailable, "pqc capability not available")

// Provider is the post-quantum capability: a key encapsulation mechanism
// and a signature scheme. All keys travel as their binary encodings.
type Provider interface {
	Name() string
	KEMKeypair() (public, secret []byte, err error)
	Encapsulate(public []byte) (ciphertext, shared []byte, err error)
	Decapsulate(secret, ciphertext []byte) (shared []byte, err error)
	SignKeypair() (public, secret []byte, err error)
	Sign(secret, message []byte) (signature []byte, err error)
	Verify(public, message, signature []byte) bool
}

// Absent stands in when no post-quantum backend is configured.
type Absent struct{}

func (Absent) Name() string { return "none" }

func (Absent) KEMKeypair() ([]byte, []byte, error)        { return nil, nil, ErrUnavailable }
func (Absent) Encapsulate([]byte) ([]byte, []byte, error) { return nil, nil, ErrUnavailable }
func (Absent) Decapsulate([]byte, []byte) ([]byte, error) { return nil, ErrUnavailable }
func (Absent) SignKeypair() ([]byte, []byte, error)       { return nil, nil, ErrUnavailable }
func (Absent) Sign([]byte, []byte) ([]byte, error)        { return nil, ErrUnavailable }
func (Absent) Verify(_ []byte, _ []byte, _ []byte) bool   { return false }

// Available reports whether p can perform operations.
func Available(p Provider) bool {
	if p == nil {
		return false
	}
	_, absent := p.(Absent)
	return !absent
}

// Circl implements Provider with ML-KEM-512 and ML-DSA-44.
type Circl struct {
	kem  kem.Scheme
	sign sign.Scheme
}

// NewCircl returns the circl backed provider.
func NewCircl() *Circl {
	return &Circl{kem: mlkem512.Scheme(), sign: mldsa44.Scheme()}
}

// Name joins the KEM and signature scheme names.
func (c *Circl) Name() string {
	return c.kem.Name() + "+" + c.sign.Name()
}

// KEMKeypair returns a fresh ML-KEM-512 public and secret key.
func (c *Circl) KEMKeypair() ([]byte, []byte, error) {
	pk, sk, err := c.kem.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("kem keygen: %w", err)
	}
	return marshalPair(pk, sk)
}

// Encapsulate returns the ciphertext and shared secret for public.
func (c *Circl) Encapsulate(public []byte) ([]byte, []byte, error) {
	pk, err := c.kem.UnmarshalBinaryPublicKey(public)
	if err != nil {
		return nil, nil, fmt.Errorf("kem public key: %w", err)
	}
	ct, ss, err := c.kem.Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("encapsulate: %w", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret.
func (c *Circl) Decapsulate(secret, ciphertext []byte) ([]byte, error) {
	sk, err := c.kem.UnmarshalBinaryPrivateKey(secret)
	if err != nil {
		return nil, fmt.Errorf("kem secret key: %w", err)
	}
	ss, err := c.kem.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decapsulate: %w", err)
	}
	return ss, nil
}

// SignKeypair returns a fresh ML-DSA-44 public and secret key.
func (c *Circl) SignKeypair() ([]byte, []byte, error) {
	pk, sk, err := c.sign.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("sign keygen: %w", err)
	}
	return marshalPair(pk, sk)
}

// Sign signs message with ML-DSA-44.
func (c *Circl) Sign(secret, message []byte) ([]byte, error) {
	sk, err := c.sign.UnmarshalBinaryPrivateKey(secret)
	if err != nil {
		return nil, fmt.Errorf("sign secret key: %w", err)
	}
	return c.sign.Sign(sk, message, nil), nil
}

// Verify reports whether signature is valid; malformed keys are invalid.
func (c *Circl) Verify(public, message, signature []byte) bool {
	pk, err := c.sign.UnmarshalBinaryPublicKey(public)
	if err != nil {
		return false
	}
	return c.sign.Verify(pk, message, signature, nil)
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

func marshalPair(pk, sk binaryMarshaler) ([]byte, []byte, error) {
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}
	sec, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal secret key: %w", err)
	}
	return pub, sec, nil
}
