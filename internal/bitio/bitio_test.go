package bitio

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadBitsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	type rec struct {
		v uint64
		n uint
	}
	var recs []rec
	for i := 0; i < 500; i++ {
		n := uint(1 + rng.Intn(64))
		var v uint64
		if n == 64 {
			v = rng.Uint64()
		} else {
			v = rng.Uint64() & ((uint64(1) << n) - 1)
		}
		recs = append(recs, rec{v, n})
	}

	w := NewWriter()
	for _, r := range recs {
		w.WriteBits(r.v, r.n)
	}

	rd := NewReader(w.Bytes())
	for _, want := range recs {
		got := rd.ReadBits(want.n)
		require.Equal(t, want.v, got)
	}
}

func TestExpGolombRoundTrip(t *testing.T) {
	for k := uint(0); k <= 20; k++ {
		w := NewWriter()
		var values []uint64
		for v := uint64(0); v < 500; v++ {
			values = append(values, v*7+3)
		}
		for _, v := range values {
			w.EncodeExpGolomb(v, k)
		}
		rd := NewReader(w.Bytes())
		for _, want := range values {
			got := rd.DecodeExpGolomb(k)
			require.Equal(t, want, got, "k=%d", k)
		}
	}
}

func TestSmallAlign(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b101, 3)
	w.SmallAlign(8)
	require.EqualValues(t, 8, w.TotalBits())
	w.WriteBits(0xAB, 8)

	rd := NewReader(w.Bytes())
	require.EqualValues(t, 0b101, rd.ReadBits(3))
	rd.SmallAlign(8)
	require.EqualValues(t, 0xAB, rd.ReadBits(8))
}

func TestSeek(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0x3, 2)
	w.WriteBits(0x7F, 7)
	w.WriteBits(0x1, 1)
	data := w.Bytes()

	rd := NewReader(data)
	rd.Seek(2)
	require.EqualValues(t, 0x7F, rd.ReadBits(7))
	require.EqualValues(t, 0x1, rd.ReadBits(1))
}
