package source

import (
	"encoding/binary"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/Thiagojm/entropic_chaos_go/pool"
)

var epoch = time.Now()

// counter is a monotonic nanosecond counter used as timing jitter.
func counter() int64 { return int64(time.Since(epoch)) }

func digest(payload []byte, saltBytes int) pool.Chunk {
	if saltBytes > 0 {
		salt, err := HostRandom(saltBytes)
		if err == nil {
			payload = append(payload, salt...)
		}
	}
	h, err := blake2b.New(pool.ChunkSize, nil)
	if err != nil {
		// only reachable with an invalid size
		panic(err)
	}
	h.Write(payload)
	var c pool.Chunk
	copy(c[:], h.Sum(nil))
	return c
}

// KeystrokeChunk condenses one key press: counter, key code and wall time,
// salted with 8 bytes of OS randomness.
func KeystrokeChunk(code int, at time.Time) pool.Chunk {
	p := make([]byte, 0, 64)
	p = strconv.AppendInt(p, counter(), 10)
	p = append(p, ':')
	p = strconv.AppendInt(p, int64(code), 10)
	p = append(p, ':')
	p = strconv.AppendInt(p, at.UnixNano(), 10)
	return digest(p, 8)
}

// MouseChunk condenses one pointer position, salted with 4 bytes.
func MouseChunk(x, y int) pool.Chunk {
	p := make([]byte, 0, 48)
	p = strconv.AppendInt(p, int64(x), 10)
	p = append(p, ',')
	p = strconv.AppendInt(p, int64(y), 10)
	p = append(p, ',')
	p = strconv.AppendInt(p, counter(), 10)
	return digest(p, 4)
}

// FrameChunk condenses one device frame (TRNG stream line or raw device
// read), salted with 4 bytes.
func FrameChunk(frame []byte) pool.Chunk {
	p := make([]byte, len(frame), len(frame)+12)
	copy(p, frame)
	p = binary.BigEndian.AppendUint64(p, uint64(counter()))
	return digest(p, 4)
}
