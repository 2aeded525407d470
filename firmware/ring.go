package firmware

import "sync"

const ringSize = 256

// ring is a fixed 256-byte rolling buffer. The stream goroutine reads it
// while the command loop writes it, so every access holds the lock.
type ring struct {
	mu  sync.Mutex
	buf [ringSize]byte
	idx int
}

func (r *ring) push(bs ...byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range bs {
		r.buf[r.idx] = b
		r.idx = (r.idx + 1) % ringSize
	}
}

// window copies n bytes starting at the write cursor, wrapping around.
func (r *ring) window(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = r.buf[(r.idx+i)%ringSize]
	}
	return out
}

func (r *ring) cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx
}
