// Package fieldindex couples a word dictionary (pagedict) with a
// posting-list codec (posting) and bitvector side-dictionary
// (bitvecdict) into the field-level reader/writer pair of spec §4.8.
package fieldindex

import (
	"fmt"

	"github.com/rpcpool/contentnode/internal/bitvecdict"
	"github.com/rpcpool/contentnode/internal/pagedict"
	"github.com/rpcpool/contentnode/internal/posting"
)

// Entry is one word's full posting list, as handed between a
// FieldReader and a FieldWriter during fusion.
type Entry struct {
	WordNum uint32
	Doc     posting.DocIdAndFeatures
}

// WordReader is the minimal shape a FieldMerger needs from any of the
// FieldReader variants: sequential (wordNum, docIdAndFeatures) access
// in ascending (word, docid) order.
type WordReader interface {
	// Read returns the next entry, or ok=false at end of field.
	Read() (Entry, bool, error)
	Close() error
}

// FieldReader couples a sequential list of dictionary entries (as
// produced by pagedict.Writer / recovered via a full pagedict.Reader
// scan) with a posting.Reader, yielding (wordNum, docIdAndFeatures)
// pairs in word then docid order (spec §4.8).
type FieldReader struct {
	postings *posting.Reader
	params   posting.Params

	words   []pagedict.WordEntry
	wordIdx int
	curWNum uint32
	started bool
	done    bool
}

// NewFieldReader builds a FieldReader over words (already in ascending
// wordNum order), reusing one posting.Reader over postingData.
func NewFieldReader(params posting.Params, postingData []byte, words []pagedict.WordEntry) *FieldReader {
	return &FieldReader{
		postings: posting.NewReader(params, postingData),
		params:   params,
		words:    words,
	}
}

func (f *FieldReader) Read() (Entry, bool, error) {
	for {
		if f.done {
			return Entry{}, false, nil
		}
		if f.wordIdx >= len(f.words) {
			f.done = true
			return Entry{}, false, nil
		}
		w := f.words[f.wordIdx]
		if !f.started || f.curWNum != w.WordNum {
			if err := f.postings.SetCounts(w.Offset, w.Counts); err != nil {
				return Entry{}, false, err
			}
			f.curWNum = w.WordNum
			f.started = true
		}
		d, ok, err := f.postings.ReadDocIdAndFeatures()
		if err != nil {
			return Entry{}, false, err
		}
		if !ok {
			f.wordIdx++
			f.started = false
			continue
		}
		return Entry{WordNum: w.WordNum, Doc: d}, true, nil
	}
}

func (f *FieldReader) Close() error { return nil }

// FieldReaderEmpty drops all data for a field that no longer exists in
// the target schema (spec §4.8).
type FieldReaderEmpty struct{}

func (FieldReaderEmpty) Read() (Entry, bool, error) { return Entry{}, false, nil }
func (FieldReaderEmpty) Close() error               { return nil }

// CollectionRemap describes how an element/weight collection type
// changed between the old and new schema for a field (spec §4.8,
// "remaps element/weight collection when old and new schema collection
// type differ").
type CollectionRemap struct {
	// RegenerateInterleaved requests that (fieldLength, numOccs) be
	// recomputed from the normal feature stream instead of passed
	// through, because the new schema carries interleaved features the
	// old one didn't (or vice versa).
	RegenerateInterleaved bool
	// SumDuplicateOccurrences requires a two-phase scan: element lengths
	// must be summed across duplicate occurrences of the same element
	// before fieldLength can be known (spec §4.8).
	SumDuplicateOccurrences bool
}

// FieldReaderStripInfo wraps a FieldReader and applies a CollectionRemap
// while reading, regenerating interleaved features on the fly.
type FieldReaderStripInfo struct {
	inner  WordReader
	remap  CollectionRemap
	params posting.Params

	// phase1Lengths holds, when SumDuplicateOccurrences is set, the
	// summed element length per (wordNum, docId) computed by an initial
	// pass over inner before any Read() is served from the second pass.
	phase1Lengths map[phase1Key]uint16
	phase2        WordReader
}

type phase1Key struct {
	wordNum uint32
	docId   uint32
}

// NewFieldReaderStripInfo builds a regenerating reader. When the remap
// requires summing duplicate occurrences, newInner is called twice: once
// to build the length table, once more to produce the actual output
// (spec §4.8's "two-phase scan").
func NewFieldReaderStripInfo(remap CollectionRemap, params posting.Params, newInner func() (WordReader, error)) (*FieldReaderStripInfo, error) {
	r := &FieldReaderStripInfo{remap: remap, params: params}
	if remap.SumDuplicateOccurrences {
		pass1, err := newInner()
		if err != nil {
			return nil, err
		}
		lengths := make(map[phase1Key]uint16)
		for {
			e, ok, err := pass1.Read()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			k := phase1Key{wordNum: e.WordNum, docId: e.Doc.DocId}
			lengths[k] += numOccsOf(e.Doc.Features)
		}
		if err := pass1.Close(); err != nil {
			return nil, err
		}
		r.phase1Lengths = lengths
	}
	inner, err := newInner()
	if err != nil {
		return nil, err
	}
	r.inner = inner
	return r, nil
}

func numOccsOf(f posting.Features) uint16 {
	if f.Interleaved != nil {
		return f.Interleaved.NumOccs
	}
	return 1
}

func (r *FieldReaderStripInfo) Read() (Entry, bool, error) {
	e, ok, err := r.inner.Read()
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	if !r.remap.RegenerateInterleaved {
		return e, true, nil
	}
	fieldLength := numOccsOf(e.Doc.Features)
	if r.phase1Lengths != nil {
		fieldLength = r.phase1Lengths[phase1Key{wordNum: e.WordNum, docId: e.Doc.DocId}]
	}
	e.Doc.Features.Interleaved = &posting.InterleavedFeatures{
		FieldLength: fieldLength,
		NumOccs:     numOccsOf(e.Doc.Features),
	}
	return e, true, nil
}

func (r *FieldReaderStripInfo) Close() error { return r.inner.Close() }

// FieldWriter wraps a pagedict writer, a posting writer, and a
// bitvector candidate builder + writer, assembling one field's complete
// on-disk representation (spec §4.8).
type FieldWriter struct {
	dict     *pagedict.Writer
	postings *posting.Writer
	bitvec   *bitvecdict.Writer
	params   posting.Params

	docIdLimit uint32
	curWord    string
	curWordNum uint32
	candidate  *bitvecdict.CandidateBuilder
	wordOpen   bool
	nextWordID uint32
}

func NewFieldWriter(params posting.Params, docIdLimit, minChunkDocs uint32) (*FieldWriter, error) {
	pw, err := posting.NewWriter(params)
	if err != nil {
		return nil, err
	}
	return &FieldWriter{
		dict:       pagedict.NewWriter(docIdLimit, minChunkDocs),
		postings:   pw,
		bitvec:     bitvecdict.NewWriter(docIdLimit),
		params:     params,
		docIdLimit: docIdLimit,
	}, nil
}

// NewWord flushes any buffered word and opens a new one. Words must
// arrive in ascending lexical order.
func (w *FieldWriter) NewWord(word string) error {
	if w.wordOpen {
		if err := w.flushWord(); err != nil {
			return err
		}
	}
	w.curWord = word
	w.curWordNum = w.nextWordID
	w.nextWordID++
	w.candidate = bitvecdict.NewCandidateBuilder(w.docIdLimit)
	w.wordOpen = true
	return nil
}

// Add appends one document's features to the word currently open.
func (w *FieldWriter) Add(docId uint32, features posting.Features) error {
	if !w.wordOpen {
		return fmt.Errorf("fieldindex: Add called with no open word")
	}
	w.candidate.Add(docId)
	return w.postings.WriteDocIdAndFeatures(posting.DocIdAndFeatures{DocId: docId, Features: features})
}

func (w *FieldWriter) flushWord() error {
	offset, counts, err := w.postings.FlushWord()
	if err != nil {
		return err
	}
	w.dict.AddWord(w.curWord, w.curWordNum, counts, offset)
	if vec, ok := w.candidate.Promoted(); ok {
		if err := w.bitvec.AddWord(w.curWordNum, uint32(w.candidate.NumDocs()), vec); err != nil {
			return err
		}
	}
	w.wordOpen = false
	return nil
}

// Result holds the complete set of files FieldWriter produces.
type Result struct {
	Dict     pagedict.Result
	Postings []byte
	BitVec   bitvecdict.Result
}

func (w *FieldWriter) Close() (Result, error) {
	if w.wordOpen {
		if err := w.flushWord(); err != nil {
			return Result{}, err
		}
	}
	body, err := w.postings.Close()
	if err != nil {
		return Result{}, err
	}
	return Result{
		Dict:     w.dict.Close(),
		Postings: body,
		BitVec:   w.bitvec.Close(),
	}, nil
}
