package bitvecdict

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rpcpool/contentnode/internal/fileheader"
)

// Reader holds the in-memory sorted entry array and the raw bit vector
// data (or a handle a caller could mmap instead; this package just
// takes the bytes as given, matching posting.Reader's shape).
type Reader struct {
	docIdLimit  int
	vectorBytes int
	entries     []entry
	dat         []byte
}

// Open validates both file headers and loads the idx tier fully into
// memory, as spec §4.6 requires for binary search.
func Open(idxFile, datFile []byte) (*Reader, error) {
	idxHeader, idxBody, err := splitHeader(idxFile, formatTagIdx)
	if err != nil {
		return nil, fmt.Errorf("bitvecdict: idx tier: %w", err)
	}
	datHeader, datBody, err := splitHeader(datFile, formatTagDat)
	if err != nil {
		return nil, fmt.Errorf("bitvecdict: dat tier: %w", err)
	}

	docIdLimit, err := idxHeader.GetUint("docIdLimit")
	if err != nil {
		return nil, err
	}
	vecBytes, err := datHeader.GetUint("vectorBytes")
	if err != nil {
		return nil, err
	}

	n := len(idxBody) / entryEncodedSize
	entries := make([]entry, n)
	for i := 0; i < n; i++ {
		off := i * entryEncodedSize
		entries[i] = entry{
			wordNum: binary.BigEndian.Uint32(idxBody[off:]),
			numDocs: binary.BigEndian.Uint32(idxBody[off+4:]),
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].wordNum < entries[j].wordNum })

	return &Reader{
		docIdLimit:  int(docIdLimit),
		vectorBytes: int(vecBytes),
		entries:     entries,
		dat:         datBody,
	}, nil
}

func splitHeader(file []byte, wantFormat string) (*fileheader.Header, []byte, error) {
	if len(file) < fileheader.Align {
		return nil, nil, fmt.Errorf("file shorter than one header block")
	}
	h, err := fileheader.Decode(file[:fileheader.Align])
	if err != nil {
		return nil, nil, err
	}
	if err := h.RequireFormat(wantFormat); err != nil {
		return nil, nil, err
	}
	return h, file[fileheader.Align:], nil
}

// Lookup binary-searches the in-memory entry array for wordNum and, on
// a hit, returns its bit vector by reading its slot directly out of the
// data tier (spec §4.6: "offset = entryIndex * vectorBytes + headerLen").
func (r *Reader) Lookup(wordNum uint32) (vec []byte, numDocs uint32, ok bool) {
	idx := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].wordNum >= wordNum })
	if idx >= len(r.entries) || r.entries[idx].wordNum != wordNum {
		return nil, 0, false
	}
	e := r.entries[idx]
	start := idx * r.vectorBytes
	return r.dat[start : start+r.vectorBytes], e.numDocs, true
}

// HasBit reports whether docId is set in vec.
func HasBit(vec []byte, docId uint32) bool {
	i := docId / 8
	if int(i) >= len(vec) {
		return false
	}
	return vec[i]&(1<<(docId%8)) != 0
}
