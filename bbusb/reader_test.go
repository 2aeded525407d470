package bbusb

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Thiagojm/entropic_chaos_go/naming"
	"github.com/Thiagojm/entropic_chaos_go/source"
)

var _ source.Reader = (*Reader)(nil)

func TestReaderName(t *testing.T) {
	assert.Equal(t, string(naming.SourceBitBabbler), (&Reader{}).Name())
}

func TestReadRejectsNonPositive(t *testing.T) {
	r := &Reader{}
	_, err := r.Read(context.Background(), 0)
	require.Error(t, err)
	assert.Nil(t, r.sess, "no device is opened for an invalid request")
	require.NoError(t, r.Close())
}

func TestStripStatus(t *testing.T) {
	pkt := func(payload ...byte) []byte { return append([]byte{0x31, 0x60}, payload...) }

	cases := []struct {
		name string
		src  []byte
		dst  int
		want []byte
	}{
		{"two full packets", append(pkt(1, 2), pkt(3, 4)...), 8, []byte{1, 2, 3, 4}},
		{"short last packet", append(pkt(1, 2), pkt(5)...), 8, []byte{1, 2, 5}},
		{"trailing status only packet", append(pkt(1, 2), pkt()...), 8, []byte{1, 2}},
		{"dst smaller than payload", append(pkt(1, 2), pkt(3, 4)...), 3, []byte{1, 2, 3}},
		{"empty", nil, 4, []byte{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]byte, tc.dst)
			n := stripStatus(dst, tc.src, 4)
			assert.Equal(t, tc.want, dst[:n])
		})
	}
}

func TestStripStatusLength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(3, 64).Draw(t, "pkt")
		packets := rapid.IntRange(0, 6).Draw(t, "packets")
		var src, payload []byte
		for i := 0; i < packets; i++ {
			body := rapid.SliceOfN(rapid.Byte(), size-2, size-2).Draw(t, "body")
			src = append(append(src, 0x31, 0x60), body...)
			payload = append(payload, body...)
		}
		dst := make([]byte, rapid.IntRange(0, len(payload)+4).Draw(t, "dst"))
		n := stripStatus(dst, src, size)
		if n != min(len(dst), len(payload)) {
			t.Fatalf("copied %d, want %d", n, min(len(dst), len(payload)))
		}
		if !bytes.Equal(dst[:n], payload[:n]) {
			t.Fatalf("payload mismatch")
		}
	})
}

func TestClockDivisor(t *testing.T) {
	assert.Equal(t, uint16(11), clockDivisor(2_500_000))
	assert.Equal(t, uint16(29), clockDivisor(1_000_000))
	assert.Equal(t, uint16(0), clockDivisor(30_000_000))
}
