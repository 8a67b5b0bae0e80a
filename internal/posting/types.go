// Package posting implements the per-word posting list codec: Zc4 header
// encoding, the L1-L4 skip table hierarchy, the rare/common/chunked write
// paths, and the query-time seek/unpack iterator (spec §3, §4.3-§4.5).
//
// Schema-level feature interpretation (how "normal features" positions
// and weights decode) is an external collaborator (spec §1 lists "schema
// loading" as out of scope): this package treats a doc's normal features
// as an opaque, length-prefixed bit blob supplied by the caller, and the
// fieldindex package is responsible for encoding/decoding that blob
// according to whatever schema it is given.
package posting

import "fmt"

// Params configures the posting codec for one field.
type Params struct {
	// MinChunkDocs: once a word's buffered doc count reaches this, the
	// buffer is flushed as a chunk with the has-more bit set and a new
	// chunk begins. 0 disables chunking.
	MinChunkDocs uint32
	// MinSkipDocs: words with fewer docs than this (and no prior chunk)
	// take the rare, skip-table-free path.
	MinSkipDocs uint32
	// DocIdLimit is one past the highest valid docid (spec §3).
	DocIdLimit uint32
	// DynamicK selects Zc.5 behaviour: the docid-delta Golomb-Rice
	// parameter is recomputed per chunk from (numDocsInChunk,
	// DocIdLimit) instead of using FixedK.
	DynamicK bool
	FixedK   uint
	// HasInterleavedFeatures: every doc in this field carries the
	// (fieldLength, numOccs) interleaved feature pair (spec §3).
	HasInterleavedFeatures bool
}

// FormatTag returns the file header's format.0 value for these params.
func (p Params) FormatTag() string {
	if p.DynamicK {
		return "Zc.5"
	}
	return "Zc.4"
}

func (p Params) Validate() error {
	if p.DocIdLimit == 0 {
		return fmt.Errorf("posting: DocIdLimit must be > 0")
	}
	if !p.DynamicK && p.FixedK > 31 {
		return fmt.Errorf("posting: FixedK out of range: %d", p.FixedK)
	}
	return nil
}

// Skip table fan-out, per spec §3: L1 every 16 docs, each higher level
// every 8 entries of the level below.
const (
	L1Stride = 16
	LkStride = 8
)

// Segment describes one chunk of a chunked word's posting list.
type Segment struct {
	NumDocs   uint32
	BitLength uint64
	LastDoc   uint32
}

// Counts is PostingListCounts from spec §3: per-word doc/bit accounting,
// with Segments populated only for chunked words.
type Counts struct {
	NumDocs   uint32
	BitLength uint64
	Segments  []Segment
}

// Valid reports whether these counts describe a real (non-miss) word.
func (c Counts) Valid() bool { return c.NumDocs > 0 }

// InterleavedFeatures is the capped-at-16-bits (fieldLength, numOccs)
// pair stored inline with the docid when the field carries them.
type InterleavedFeatures struct {
	FieldLength uint16
	NumOccs     uint16
}

// Features is one document's feature payload.
type Features struct {
	Interleaved *InterleavedFeatures
	// NormalBits is a pre-encoded, MSB-first-packed bit blob; NormalBits
	// itself may be longer than ceil(NormalNumBits/8) bytes, only the
	// first NormalNumBits bits are meaningful.
	NormalBits    []byte
	NormalNumBits uint64
}

// DocIdAndFeatures is one entry of a word's posting list (spec §3).
type DocIdAndFeatures struct {
	DocId    uint32
	Features Features
}
