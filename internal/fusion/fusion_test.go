package fusion

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/contentnode/internal/fieldindex"
	"github.com/rpcpool/contentnode/internal/pagedict"
	"github.com/rpcpool/contentnode/internal/posting"
)

type intSource struct {
	keys []uint64
	idx  int
}

func (s *intSource) Next() (uint64, any, bool, error) {
	if s.idx >= len(s.keys) {
		return 0, nil, false, nil
	}
	k := s.keys[s.idx]
	s.idx++
	return k, k, true, nil
}

type collectWriter struct {
	got []uint64
}

func (w *collectWriter) Put(key uint64, payload any) error {
	w.got = append(w.got, key)
	return nil
}

func TestMergerDedupsAndOrders(t *testing.T) {
	s1 := &intSource{keys: []uint64{1, 3, 5, 7}}
	s2 := &intSource{keys: []uint64{2, 3, 4, 7, 9}}
	w := &collectWriter{}
	m := NewMerger([]Source{s1, s2}, w, 100)
	done, err := m.Merge(nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 7, 9}, w.got)
}

func TestMergerRespectsChunkSize(t *testing.T) {
	s1 := &intSource{keys: []uint64{1, 2, 3, 4, 5}}
	w := &collectWriter{}
	m := NewMerger([]Source{s1}, w, 2)
	done, err := m.Merge(nil)
	require.NoError(t, err)
	require.False(t, done)
	require.Len(t, w.got, 2)

	done, err = m.Merge(nil)
	require.NoError(t, err)
	require.False(t, done)
	require.Len(t, w.got, 4)

	done, err = m.Merge(nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, w.got, 5)
}

type sliceWords struct {
	recs []WordRecord
	idx  int
}

func (s *sliceWords) Next() (WordRecord, bool, error) {
	if s.idx >= len(s.recs) {
		return WordRecord{}, false, nil
	}
	r := s.recs[s.idx]
	s.idx++
	return r, true, nil
}

func TestWordMergerAssignsSharedIdsForEqualWords(t *testing.T) {
	s1 := &sliceWords{recs: []WordRecord{{Word: "alpha", OldWordNum: 0}, {Word: "gamma", OldWordNum: 1}}}
	s2 := &sliceWords{recs: []WordRecord{{Word: "beta", OldWordNum: 0}, {Word: "gamma", OldWordNum: 1}}}
	wm := NewWordMerger([]WordSource{s1, s2}, 100)
	done, err := wm.Merge(nil)
	require.NoError(t, err)
	require.True(t, done)

	require.Equal(t, []string{"alpha", "beta", "gamma"}, wm.WordText())
	m1 := wm.Old2NewMappings()[0]
	m2 := wm.Old2NewMappings()[1]
	require.EqualValues(t, 0, m1[0]) // alpha -> 0
	require.EqualValues(t, 2, m1[1]) // gamma -> 2
	require.EqualValues(t, 1, m2[0]) // beta -> 1
	require.EqualValues(t, 2, m2[1]) // gamma -> 2 (shared)
}

func buildTestInput(t *testing.T, words map[string][]uint32) (*pagedict.Reader, []byte) {
	t.Helper()
	params := posting.Params{MinChunkDocs: 64, MinSkipDocs: 4, DocIdLimit: 1 << 16, DynamicK: true}
	fw, err := fieldindex.NewFieldWriter(params, params.DocIdLimit, params.MinChunkDocs)
	require.NoError(t, err)

	keys := make([]string, 0, len(words))
	for w := range words {
		keys = append(keys, w)
	}
	sort.Strings(keys)
	for _, w := range keys {
		require.NoError(t, fw.NewWord(w))
		for _, d := range words[w] {
			require.NoError(t, fw.Add(d, posting.Features{}))
		}
	}
	res, err := fw.Close()
	require.NoError(t, err)
	dr, err := pagedict.Open(res.Dict.P, res.Dict.SP, res.Dict.SS)
	require.NoError(t, err)
	return dr, res.Postings
}

func TestFieldMergerEndToEnd(t *testing.T) {
	dictA, postingsA := buildTestInput(t, map[string][]uint32{
		"alpha": {1, 2},
		"gamma": {3},
	})
	dictB, postingsB := buildTestInput(t, map[string][]uint32{
		"alpha": {4},
		"beta":  {5, 6},
	})

	params := posting.Params{MinChunkDocs: 64, MinSkipDocs: 4, DocIdLimit: 1 << 16, DynamicK: true}
	fieldDir := filepath.Join(t.TempDir(), "myfield")
	fm := NewFieldMerger(fieldDir, []Input{
		{Dict: dictA, Postings: postingsA},
		{Dict: dictB, Postings: postingsB},
	}, params, params.DocIdLimit, params.MinChunkDocs)

	require.NoError(t, fm.Run(nil))
	require.True(t, fm.Done())
	require.NoError(t, fm.Failed())
	require.NotNil(t, fm.Result())

	mergedDict, err := pagedict.Open(fm.Result().Dict.P, fm.Result().Dict.SP, fm.Result().Dict.SS)
	require.NoError(t, err)
	entries, err := mergedDict.Scan()
	require.NoError(t, err)
	var words []string
	for _, e := range entries {
		words = append(words, e.Word)
	}
	require.Equal(t, []string{"alpha", "beta", "gamma"}, words)

	reader := fieldindex.NewFieldReader(params, fm.Result().Postings, entries)
	got := map[string][]uint32{}
	for {
		e, ok, err := reader.Read()
		require.NoError(t, err)
		if !ok {
			break
		}
		got[words[e.WordNum]] = append(got[words[e.WordNum]], e.Doc.DocId)
	}
	require.Equal(t, []uint32{1, 2, 4}, got["alpha"])
	require.Equal(t, []uint32{5, 6}, got["beta"])
	require.Equal(t, []uint32{3}, got["gamma"])
}

func TestFusionRunsFieldsInParallel(t *testing.T) {
	dictA, postingsA := buildTestInput(t, map[string][]uint32{"a": {1}})
	dictB, postingsB := buildTestInput(t, map[string][]uint32{"b": {2}})

	params := posting.Params{MinChunkDocs: 64, MinSkipDocs: 4, DocIdLimit: 1 << 16, DynamicK: true}
	root := t.TempDir()

	fm1 := NewFieldMerger(filepath.Join(root, "f1"), []Input{{Dict: dictA, Postings: postingsA}}, params, params.DocIdLimit, params.MinChunkDocs)
	fm2 := NewFieldMerger(filepath.Join(root, "f2"), []Input{{Dict: dictB, Postings: postingsB}}, params, params.DocIdLimit, params.MinChunkDocs)

	f := &Fusion{Root: root, Fields: []Field{{Name: "f1", Merger: fm1}, {Name: "f2", Merger: fm2}}, DocIDLimit: uint64(params.DocIdLimit)}
	ok, err := f.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, fm1.Done())
	require.True(t, fm2.Done())
}
