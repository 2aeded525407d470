package pqc

// Kind tags a Record variant. The values are the type strings written to
// the key log.
type Kind string

const (
	KindClassical  Kind = "classical"
	KindKEMWrapped Kind = "kyber512_wrapped"
	KindSigned     Kind = "falcon512_signed"
)

// Record is the outcome of processing one key: exactly one of Classical,
// KEMWrapped or Signed.
type Record interface {
	Kind() Kind
	// LoggedKey is the key material that goes into the key log.
	LoggedKey() []byte
}

// Classical is an unwrapped key.
type Classical struct {
	Key []byte
}

func (Classical) Kind() Kind          { return KindClassical }
func (c Classical) LoggedKey() []byte { return c.Key }

// KEMWrapped holds a key concealed with an encapsulated shared secret.
// WrappedKey[i] = key[i] XOR SharedSecret[i] for i below the shorter length;
// any remaining key bytes are copied unchanged.
type KEMWrapped struct {
	WrappedKey   []byte
	PublicKey    []byte
	SecretKey    []byte
	Ciphertext   []byte
	SharedSecret []byte
}

func (KEMWrapped) Kind() Kind          { return KindKEMWrapped }
func (k KEMWrapped) LoggedKey() []byte { return k.WrappedKey }

// Signed carries the unmodified key with a detached signature.
type Signed struct {
	Key       []byte
	Signature []byte
	PublicKey []byte
	SecretKey []byte
}

func (Signed) Kind() Kind          { return KindSigned }
func (s Signed) LoggedKey() []byte { return s.Key }
