package pool

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func tagged(producer, seq int) Chunk {
	var c Chunk
	binary.BigEndian.PutUint32(c[0:4], uint32(producer))
	binary.BigEndian.PutUint32(c[4:8], uint32(seq))
	return c
}

func TestDrainEmpty(t *testing.T) {
	p := New(0)
	assert.Nil(t, p.Drain())
	assert.Zero(t, p.Level())
}

func TestDrainReturnsArrivalOrder(t *testing.T) {
	p := New(8)
	for i := 0; i < 5; i++ {
		p.Push(tagged(0, i))
	}
	got := p.Drain()
	require.Len(t, got, 5)
	for i, c := range got {
		assert.Equal(t, tagged(0, i), c)
	}
	assert.Zero(t, p.Len())
	assert.Nil(t, p.Drain())
}

func TestEvictsOldest(t *testing.T) {
	p := New(3)
	for i := 0; i < 5; i++ {
		p.Push(tagged(0, i))
	}
	got := p.Drain()
	assert.Equal(t, []Chunk{tagged(0, 2), tagged(0, 3), tagged(0, 4)}, got)
	assert.Equal(t, uint64(2), p.Evicted())
}

func TestConcurrentPushSingleDrain(t *testing.T) {
	const producers = 8
	const perProducer = 500
	p := New(producers * perProducer)

	var wg sync.WaitGroup
	for k := 0; k < producers; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				p.Push(tagged(k, i))
			}
		}(k)
	}
	wg.Wait()

	got := p.Drain()
	require.Len(t, got, producers*perProducer)
	seen := make(map[Chunk]bool, len(got))
	for _, c := range got {
		assert.False(t, seen[c], "duplicate chunk")
		seen[c] = true
	}
}

func TestConcurrentPushWhileDraining(t *testing.T) {
	const producers = 4
	const perProducer = 1000
	p := New(producers * perProducer)

	var wg sync.WaitGroup
	for k := 0; k < producers; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				p.Push(tagged(k, i))
			}
		}(k)
	}

	finished := stopped(&wg)
	done := make(chan struct{})
	var drained []Chunk
	go func() {
		defer close(done)
		for {
			select {
			case <-finished:
				drained = append(drained, p.Drain()...)
				return
			default:
				drained = append(drained, p.Drain()...)
			}
		}
	}()
	<-done

	require.Len(t, drained, producers*perProducer)
	seen := make(map[Chunk]bool, len(drained))
	for _, c := range drained {
		require.False(t, seen[c])
		seen[c] = true
	}
}

func stopped(wg *sync.WaitGroup) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}

func TestLevelCapped(t *testing.T) {
	p := New(4096)
	for i := 0; i < 2100; i++ {
		p.Push(tagged(0, i))
	}
	assert.Equal(t, 100.0, p.Level())
}

func TestBytesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(t, "n")
		chunks := make([]Chunk, n)
		for i := range chunks {
			copy(chunks[i][:], rapid.SliceOfN(rapid.Byte(), ChunkSize, ChunkSize).Draw(t, "chunk"))
		}
		b := Bytes(chunks)
		if len(b) != n*ChunkSize {
			t.Fatalf("len %d, want %d", len(b), n*ChunkSize)
		}
		for i := range chunks {
			if Chunk(b[i*ChunkSize:(i+1)*ChunkSize]) != chunks[i] {
				t.Fatalf("chunk %d mismatch", i)
			}
		}
	})
}
