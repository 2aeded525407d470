// Package pool holds the shared entropy pool: a bounded FIFO of fixed-size
// chunks pushed by any number of producers and drained by one consumer.
package pool

import (
	"sync"
)

// ChunkSize is the size of every pooled chunk in bytes.
const ChunkSize = 16

// DefaultCapacity bounds the pool when no capacity is given.
const DefaultCapacity = 4096

// Chunk is an opaque block of entropy. It is a value type, so a pushed
// chunk cannot be changed by its producer afterwards.
type Chunk [ChunkSize]byte

// Pool is safe for concurrent use. A single mutex serializes every push and
// drain, so a chunk is either returned by exactly one Drain or still queued.
type Pool struct {
	mu      sync.Mutex
	chunks  []Chunk
	limit   int
	evicted uint64
}

// New returns a pool holding at most capacity chunks. When full, the oldest
// chunk is evicted.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{limit: capacity, chunks: make([]Chunk, 0, min(capacity, 256))}
}

// Push appends c, evicting the oldest chunk when the pool is full.
func (p *Pool) Push(c Chunk) {
	p.mu.Lock()
	p.push(c)
	p.mu.Unlock()
}

func (p *Pool) push(c Chunk) {
	if len(p.chunks) >= p.limit {
		copy(p.chunks, p.chunks[1:])
		p.chunks = p.chunks[:len(p.chunks)-1]
		p.evicted++
	}
	p.chunks = append(p.chunks, c)
}

// Drain atomically removes and returns every queued chunk in arrival order.
// It returns nil when the pool is empty.
func (p *Pool) Drain() []Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		return nil
	}
	out := p.chunks
	p.chunks = make([]Chunk, 0, min(p.limit, max(len(out), 256)))
	return out
}

// Len returns the number of queued chunks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks)
}

// Level maps the queued chunk count to a 0-100 fill indicator, reaching 100
// at 2000 chunks.
func (p *Pool) Level() float64 {
	return min(100.0, float64(p.Len())/20.0)
}

// Evicted reports how many chunks were dropped because the pool was full.
func (p *Pool) Evicted() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evicted
}

// Bytes concatenates chunks into one buffer.
func Bytes(chunks []Chunk) []byte {
	out := make([]byte, 0, len(chunks)*ChunkSize)
	for i := range chunks {
		out = append(out, chunks[i][:]...)
	}
	return out
}
