package diskindex

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/contentnode/internal/fieldindex"
	"github.com/rpcpool/contentnode/internal/posting"
)

// buildField writes one field's complete on-disk representation (dict
// tiers, posting body, bitvector tiers) under dir/name and returns the
// FieldPaths to open it, matching the layout StandardFieldPaths expects.
func buildField(t *testing.T, dir, name string, params posting.Params, words map[string][]uint32) FieldPaths {
	t.Helper()
	fw, err := fieldindex.NewFieldWriter(params, params.DocIdLimit, params.MinChunkDocs)
	require.NoError(t, err)

	sortedWords := make([]string, 0, len(words))
	for w := range words {
		sortedWords = append(sortedWords, w)
	}
	// words map iteration order is random; the writer requires ascending
	// lexical order, so sort before writing.
	sort.Strings(sortedWords)
	for _, w := range sortedWords {
		require.NoError(t, fw.NewWord(w))
		for _, doc := range words[w] {
			require.NoError(t, fw.Add(doc, posting.Features{}))
		}
	}
	result, err := fw.Close()
	require.NoError(t, err)

	fp := StandardFieldPaths(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(fp.Posting), 0o755))
	require.NoError(t, os.WriteFile(fp.Posting, result.Postings, 0o644))
	require.NoError(t, os.WriteFile(fp.DictP, result.Dict.P, 0o644))
	require.NoError(t, os.WriteFile(fp.DictSP, result.Dict.SP, 0o644))
	require.NoError(t, os.WriteFile(fp.DictSS, result.Dict.SS, 0o644))
	if len(result.BitVec.Idx) > 0 {
		require.NoError(t, os.WriteFile(fp.BitVectorIdx, result.BitVec.Idx, 0o644))
		require.NoError(t, os.WriteFile(fp.BitVectorDat, result.BitVec.Dat, 0o644))
	} else {
		fp.BitVectorIdx = ""
		fp.BitVectorDat = ""
	}
	return fp
}

func TestOpenAndLookup(t *testing.T) {
	dir := t.TempDir()
	params := posting.Params{MinChunkDocs: 1000, MinSkipDocs: 1000, DocIdLimit: 1000}

	fp := buildField(t, dir, "title", params, map[string][]uint32{
		"alpha": {1, 2, 3},
		"beta":  {4, 5},
	})

	idx, err := Open(OpenOptions{
		Fields: []FieldPaths{fp},
		Params: map[string]posting.Params{"title": params},
	})
	require.NoError(t, err)
	defer idx.Close()

	field := idx.Field("title")
	require.NotNil(t, field)

	it, ok, err := field.Lookup("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	var docs []uint32
	next := uint32(0)
	for {
		found, err := it.Seek(next)
		require.NoError(t, err)
		if !found {
			break
		}
		docs = append(docs, it.DocId())
		next = it.DocId() + 1
	}
	assert.Equal(t, []uint32{1, 2, 3}, docs)

	_, ok, err = field.Lookup("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldNotFound(t *testing.T) {
	dir := t.TempDir()
	params := posting.Params{MinChunkDocs: 1000, MinSkipDocs: 1000, DocIdLimit: 1000}
	fp := buildField(t, dir, "title", params, map[string][]uint32{"a": {1}})

	idx, err := Open(OpenOptions{
		Fields: []FieldPaths{fp},
		Params: map[string]posting.Params{"title": params},
	})
	require.NoError(t, err)
	defer idx.Close()

	assert.Nil(t, idx.Field("missing"))
}

func TestOpenFailsClosesAlreadyOpenedFields(t *testing.T) {
	dir := t.TempDir()
	params := posting.Params{MinChunkDocs: 1000, MinSkipDocs: 1000, DocIdLimit: 1000}
	good := buildField(t, dir, "ok", params, map[string][]uint32{"a": {1}})
	bad := FieldPaths{Name: "broken", Posting: filepath.Join(dir, "does-not-exist")}

	_, err := Open(OpenOptions{
		Fields: []FieldPaths{good, bad},
		Params: map[string]posting.Params{"ok": params, "broken": params},
	})
	assert.Error(t, err)
}
