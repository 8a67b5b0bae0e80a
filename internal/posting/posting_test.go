package posting

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleParams(dynamic bool) Params {
	return Params{
		MinChunkDocs:           64,
		MinSkipDocs:            8,
		DocIdLimit:             1 << 20,
		DynamicK:               dynamic,
		FixedK:                 12,
		HasInterleavedFeatures: true,
	}
}

func featuresFor(docId uint32) Features {
	return Features{
		Interleaved: &InterleavedFeatures{FieldLength: uint16(docId%97 + 1), NumOccs: uint16(docId%5 + 1)},
	}
}

func docIds(n int, seed int64) []uint32 {
	r := rand.New(rand.NewSource(seed))
	out := make([]uint32, 0, n)
	var cur uint32
	for i := 0; i < n; i++ {
		cur += uint32(1 + r.Intn(50))
		out = append(out, cur)
	}
	return out
}

func buildWord(t *testing.T, params Params, ids []uint32) ([]byte, uint64, Counts) {
	t.Helper()
	w, err := NewWriter(params)
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, w.WriteDocIdAndFeatures(DocIdAndFeatures{DocId: id, Features: featuresFor(id)}))
	}
	offset, counts, err := w.FlushWord()
	require.NoError(t, err)
	data, err := w.Close()
	require.NoError(t, err)
	return data, offset, counts
}

func TestReaderRoundTripRareWord(t *testing.T) {
	params := sampleParams(false)
	ids := docIds(5, 1)
	data, offset, counts := buildWord(t, params, ids)

	r := NewReader(params, data)
	require.NoError(t, r.SetCounts(offset, counts))
	for _, want := range ids {
		d, ok, err := r.ReadDocIdAndFeatures()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, d.DocId)
		require.Equal(t, uint16(want%97+1), d.Features.Interleaved.FieldLength)
	}
	_, ok, err := r.ReadDocIdAndFeatures()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReaderRoundTripCommonWord(t *testing.T) {
	for _, dynamic := range []bool{false, true} {
		params := sampleParams(dynamic)
		ids := docIds(300, 2)
		data, offset, counts := buildWord(t, params, ids)
		require.NotEmpty(t, counts.Segments, "300 docs at MinChunkDocs=64 must chunk")

		r := NewReader(params, data)
		require.NoError(t, r.SetCounts(offset, counts))
		for _, want := range ids {
			d, ok, err := r.ReadDocIdAndFeatures()
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, want, d.DocId)
		}
		_, ok, err := r.ReadDocIdAndFeatures()
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestIteratorSeekFindsEveryDoc(t *testing.T) {
	params := sampleParams(true)
	ids := docIds(500, 3)
	data, offset, counts := buildWord(t, params, ids)

	it, err := NewIterator(params, data, offset, counts)
	require.NoError(t, err)
	for _, want := range ids {
		ok, err := it.Seek(want)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, it.DocId())
		f := it.Unpack()
		require.Equal(t, uint16(want%97+1), f.Interleaved.FieldLength)
	}
}

func TestIteratorSeekSkipsAhead(t *testing.T) {
	params := sampleParams(false)
	ids := docIds(400, 4)
	data, offset, counts := buildWord(t, params, ids)

	it, err := NewIterator(params, data, offset, counts)
	require.NoError(t, err)

	// Seek to values strictly between existing docids: iterator should
	// land on the next present doc >= target.
	for i := 0; i < len(ids); i += 7 {
		target := ids[i] - 1
		if i == 0 {
			target = ids[i]
		}
		ok, err := it.Seek(target)
		require.NoError(t, err)
		require.True(t, ok)
		require.GreaterOrEqual(t, it.DocId(), target)
	}
}

func TestIteratorSeekPastEndFails(t *testing.T) {
	params := sampleParams(false)
	ids := docIds(20, 5)
	data, offset, counts := buildWord(t, params, ids)

	it, err := NewIterator(params, data, offset, counts)
	require.NoError(t, err)
	ok, err := it.Seek(ids[len(ids)-1] + 1000)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNormalFeaturesRoundTrip(t *testing.T) {
	params := Params{MinChunkDocs: 0, MinSkipDocs: 1000, DocIdLimit: 1 << 16}
	w, err := NewWriter(params)
	require.NoError(t, err)

	blob := []byte{0b10110100, 0b11100000}
	require.NoError(t, w.WriteDocIdAndFeatures(DocIdAndFeatures{
		DocId:    10,
		Features: Features{NormalBits: blob, NormalNumBits: 12},
	}))
	offset, counts, err := w.FlushWord()
	require.NoError(t, err)
	data, err := w.Close()
	require.NoError(t, err)

	r := NewReader(params, data)
	require.NoError(t, r.SetCounts(offset, counts))
	d, ok, err := r.ReadDocIdAndFeatures()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 12, d.Features.NormalNumBits)
	require.Equal(t, byte(0b10110100), d.Features.NormalBits[0])
	require.Equal(t, byte(0b11100000), d.Features.NormalBits[1]&0b11110000)
}

func TestCalcDocIdKMonotonic(t *testing.T) {
	require.Equal(t, uint(0), calcDocIdK(1000, 1000))
	require.Greater(t, calcDocIdK(10, 1<<20), calcDocIdK(1<<19, 1<<20))
}
