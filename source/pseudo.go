package source

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	mrand "math/rand"
	"sync"
)

// Pseudo is a seedable software generator. It stands in for hardware when
// simulating a session and lets tests replay a stream.
type Pseudo struct {
	mu sync.Mutex
	r  *mrand.Rand
}

// NewPseudo returns a generator seeded with seed. A zero seed draws one from
// the host generator.
func NewPseudo(seed uint64) (*Pseudo, error) {
	if seed == 0 {
		var s [8]byte
		if _, err := crand.Read(s[:]); err != nil {
			return nil, err
		}
		seed = binary.LittleEndian.Uint64(s[:])
	}
	return &Pseudo{r: mrand.New(mrand.NewSource(int64(seed)))}, nil
}

func (p *Pseudo) Name() string { return "pseudo" }

// Read returns n bytes from the seeded generator.
func (p *Pseudo) Read(ctx context.Context, n int) ([]byte, error) {
	if p == nil || p.r == nil {
		return nil, errors.New("generator is nil")
	}
	if n <= 0 {
		return nil, errors.New("n must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	p.mu.Lock()
	p.r.Read(buf)
	p.mu.Unlock()
	return buf, nil
}
