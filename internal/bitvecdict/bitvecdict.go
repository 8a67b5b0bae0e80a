// Package bitvecdict implements the bitvector side-dictionary (spec
// §4.6) used for words with very high docfreq: a sorted index of
// (wordNum, numDocs) entries over a contiguous array of dense bitmaps,
// one per indexed word.
package bitvecdict

import (
	"github.com/rpcpool/contentnode/internal/fileheader"
)

const (
	formatTagIdx = "BoolOccIdx.1"
	formatTagDat = "BoolOccDat.1"
)

// BitVectorLimit is the candidate-builder promotion threshold: once a
// word's buffered docid array exceeds this many entries, the writer
// promotes it from a plain array into a dense bit vector.
func BitVectorLimit(docIdLimit uint32) int {
	lim := int(docIdLimit / 64)
	if lim < 16 {
		lim = 16
	}
	return lim
}

func fileBytes(docIdLimit uint32) int {
	return int((docIdLimit + 7) / 8)
}

// entry is one (wordNum, numDocs) record of the boolocc.idx tier, kept
// sorted by wordNum so lookups can binary-search in memory.
type entry struct {
	wordNum uint32
	numDocs uint32
}

const entryEncodedSize = 8

// CandidateBuilder buffers docids for one word and decides, once the
// buffer grows past BitVectorLimit, whether that word is dense enough
// to deserve a bit vector entry.
type CandidateBuilder struct {
	docIdLimit uint32
	limit      int

	ids  []uint32
	bits []byte // nil until promoted
}

func NewCandidateBuilder(docIdLimit uint32) *CandidateBuilder {
	return &CandidateBuilder{docIdLimit: docIdLimit, limit: BitVectorLimit(docIdLimit)}
}

// Add records one more document for the word being built.
func (c *CandidateBuilder) Add(docId uint32) {
	if c.bits != nil {
		c.setBit(docId)
		return
	}
	c.ids = append(c.ids, docId)
	if len(c.ids) > c.limit {
		c.promote()
	}
}

func (c *CandidateBuilder) promote() {
	c.bits = make([]byte, fileBytes(c.docIdLimit))
	for _, id := range c.ids {
		c.setBit(id)
	}
	c.ids = nil
}

func (c *CandidateBuilder) setBit(docId uint32) {
	c.bits[docId/8] |= 1 << (docId % 8)
}

// Promoted reports whether this word was dense enough to warrant a bit
// vector entry, and returns the vector bytes if so.
func (c *CandidateBuilder) Promoted() ([]byte, bool) {
	return c.bits, c.bits != nil
}

// NumDocs returns how many documents were added so far.
func (c *CandidateBuilder) NumDocs() int {
	if c.bits != nil {
		n := 0
		for _, b := range c.bits {
			n += popcount(b)
		}
		return n
	}
	return len(c.ids)
}

func popcount(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

func headerFor(format string, docIdLimit uint32) *fileheader.Header {
	h := fileheader.New(format, "bitvector side dictionary")
	h.SetUint("docIdLimit", uint64(docIdLimit))
	return h
}
