package fieldindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/contentnode/internal/pagedict"
	"github.com/rpcpool/contentnode/internal/posting"
)

func testParams() posting.Params {
	return posting.Params{
		MinChunkDocs: 128,
		MinSkipDocs:  4,
		DocIdLimit:   1 << 20,
		DynamicK:     true,
	}
}

func openDictReader(t *testing.T, res Result) *pagedict.Reader {
	t.Helper()
	r, err := pagedict.Open(res.Dict.P, res.Dict.SP, res.Dict.SS)
	require.NoError(t, err)
	return r
}

func TestFieldWriterReaderRoundTrip(t *testing.T) {
	params := testParams()
	fw, err := NewFieldWriter(params, params.DocIdLimit, params.MinChunkDocs)
	require.NoError(t, err)

	words := []string{"alpha", "beta", "gamma"}
	wantDocs := map[string][]uint32{
		"alpha": {1, 5, 9},
		"beta":  {2, 4, 6, 8, 10, 12, 14, 16, 18, 20},
		"gamma": {100},
	}
	for _, w := range words {
		require.NoError(t, fw.NewWord(w))
		for _, d := range wantDocs[w] {
			require.NoError(t, fw.Add(d, posting.Features{}))
		}
	}
	res, err := fw.Close()
	require.NoError(t, err)

	dictReader := openDictReader(t, res)

	var entries []pagedict.WordEntry
	for _, w := range words {
		wordNum, offset, counts, ok, err := dictReader.Lookup(w)
		require.NoError(t, err)
		require.True(t, ok, "word %q", w)
		entries = append(entries, pagedict.WordEntry{Word: w, WordNum: wordNum, Offset: offset, Counts: counts})
	}

	fr := NewFieldReader(params, res.Postings, entries)
	got := map[uint32][]uint32{}
	for {
		e, ok, err := fr.Read()
		require.NoError(t, err)
		if !ok {
			break
		}
		got[e.WordNum] = append(got[e.WordNum], e.Doc.DocId)
	}
	for _, e := range entries {
		require.Equal(t, wantDocs[e.Word], got[e.WordNum], "word %q", e.Word)
	}
}

func TestFieldReaderEmptyYieldsNothing(t *testing.T) {
	var e FieldReaderEmpty
	_, ok, err := e.Read()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFieldReaderStripInfoRegeneratesInterleaved(t *testing.T) {
	params := testParams()
	params.HasInterleavedFeatures = false
	fw, err := NewFieldWriter(params, params.DocIdLimit, params.MinChunkDocs)
	require.NoError(t, err)
	require.NoError(t, fw.NewWord("w"))
	require.NoError(t, fw.Add(1, posting.Features{}))
	require.NoError(t, fw.Add(2, posting.Features{}))
	res, err := fw.Close()
	require.NoError(t, err)

	dictReader := openDictReader(t, res)
	wordNum, offset, counts, ok, err := dictReader.Lookup("w")
	require.NoError(t, err)
	require.True(t, ok)
	entry := pagedict.WordEntry{Word: "w", WordNum: wordNum, Offset: offset, Counts: counts}

	newInner := func() (WordReader, error) {
		return NewFieldReader(params, res.Postings, []pagedict.WordEntry{entry}), nil
	}
	sr, err := NewFieldReaderStripInfo(CollectionRemap{RegenerateInterleaved: true}, params, newInner)
	require.NoError(t, err)

	var count int
	for {
		e, ok, err := sr.Read()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NotNil(t, e.Doc.Features.Interleaved)
		require.EqualValues(t, 1, e.Doc.Features.Interleaved.NumOccs)
		count++
	}
	require.Equal(t, 2, count)
}
