package bitvecdict

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateBuilderPromotesPastLimit(t *testing.T) {
	docIdLimit := uint32(1000)
	cb := NewCandidateBuilder(docIdLimit)
	require.Equal(t, 16, BitVectorLimit(docIdLimit))

	for i := uint32(0); i < 10; i++ {
		cb.Add(i * 2)
	}
	_, promoted := cb.Promoted()
	require.False(t, promoted)
	require.Equal(t, 10, cb.NumDocs())

	for i := uint32(10); i < 30; i++ {
		cb.Add(i * 2)
	}
	vec, promoted := cb.Promoted()
	require.True(t, promoted)
	require.Equal(t, 30, cb.NumDocs())
	require.True(t, HasBit(vec, 0))
	require.True(t, HasBit(vec, 58))
	require.False(t, HasBit(vec, 1))
}

func TestWriteReadRoundTrip(t *testing.T) {
	docIdLimit := uint32(2048)
	w := NewWriter(docIdLimit)

	vec1 := make([]byte, fileBytes(docIdLimit))
	vec1[0] = 0b00000101
	require.NoError(t, w.AddWord(5, 2, vec1))

	vec2 := make([]byte, fileBytes(docIdLimit))
	vec2[10] = 0xff
	require.NoError(t, w.AddWord(12, 8, vec2))

	require.Error(t, w.AddWord(99, 1, []byte{1, 2, 3}))

	res := w.Close()
	r, err := Open(res.Idx, res.Dat)
	require.NoError(t, err)

	vec, numDocs, ok := r.Lookup(5)
	require.True(t, ok)
	require.EqualValues(t, 2, numDocs)
	require.True(t, HasBit(vec, 0))
	require.True(t, HasBit(vec, 2))
	require.False(t, HasBit(vec, 1))

	_, _, ok = r.Lookup(6)
	require.False(t, ok)

	vec, numDocs, ok = r.Lookup(12)
	require.True(t, ok)
	require.EqualValues(t, 8, numDocs)
	require.True(t, HasBit(vec, 80))
}
