package zigzag

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripSingleValues(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 16383, 16384, 1 << 21, (1 << 28) - 1, 1<<32 - 1}
	for _, v := range values {
		w := NewWriter()
		w.PutUint32(v)
		r := NewReader(w.Sealed())
		got := r.DecodeUint32()
		require.Equal(t, v, got, "value %d round trip", v)
		require.True(t, r.Done())
	}
}

func TestRoundTripSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var values []uint32
	for i := 0; i < 2000; i++ {
		values = append(values, rng.Uint32())
	}

	w := NewWriter()
	w.PutUint32Slice(values)
	encodedLen := w.Len()

	r := NewReader(w.Sealed())
	for _, want := range values {
		got := r.DecodeUint32()
		require.Equal(t, want, got)
	}
	require.True(t, r.Done())
	require.Equal(t, encodedLen, r.Pos())
}

func TestEncodingIsMinimal(t *testing.T) {
	cases := []struct {
		v       uint32
		nBytes  int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{1<<21 - 1, 3},
		{1 << 21, 4},
	}
	for _, c := range cases {
		w := NewWriter()
		w.PutUint32(c.v)
		require.Equal(t, c.nBytes, w.Len(), "value %d", c.v)
	}
}
