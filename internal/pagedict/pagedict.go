// Package pagedict implements PageDict4, the three-tier paginated word
// dictionary (spec §4.7): a tiny in-memory SS index over paged SP and P
// tiers, each mapping a word to its posting-list bit offset and Counts.
//
// Words are written strictly in ascending lexical order; the writer
// builds all three tiers in lockstep as words arrive and rewrites every
// header at Close with the final word count and frozen bit, mirroring
// how internal/fileheader's callers finalize a file.
package pagedict

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/rpcpool/contentnode/internal/fileheader"
	"github.com/rpcpool/contentnode/internal/posting"
)

const PageBytes = 4096

// ssStride is the SS tier's sampling interval over SP entries. spStride
// is not used: the SP tier holds one entry per P page.
const (
	ssStride = 64
	spStride = 8
)

// WordEntry is one P-tier record: a word, its dense id, and the counts
// the posting writer returned when the word was flushed.
type WordEntry struct {
	Word     string
	WordNum  uint32
	Offset   uint64
	Counts   posting.Counts
	Overflow bool // not set by Writer or Reader; always false
}

func formatTagP() string  { return "PageDict4P.1" }
func formatTagSP() string { return "PageDict4SP.1" }
func formatTagSS() string { return "PageDict4SS.1" }

// encodeCounts serializes a posting.Counts as a small fixed record:
// numDocs, bitLength, and each segment's (numDocs, bitLength, lastDoc).
func encodeCounts(buf *bytes.Buffer, c posting.Counts) {
	writeUvarint(buf, uint64(c.NumDocs))
	writeUvarint(buf, c.BitLength)
	writeUvarint(buf, uint64(len(c.Segments)))
	for _, s := range c.Segments {
		writeUvarint(buf, uint64(s.NumDocs))
		writeUvarint(buf, s.BitLength)
		writeUvarint(buf, uint64(s.LastDoc))
	}
}

func decodeCounts(r *bytes.Reader) (posting.Counts, error) {
	var c posting.Counts
	n, err := readUvarint(r)
	if err != nil {
		return c, err
	}
	c.NumDocs = uint32(n)
	bl, err := readUvarint(r)
	if err != nil {
		return c, err
	}
	c.BitLength = bl
	ns, err := readUvarint(r)
	if err != nil {
		return c, err
	}
	c.Segments = make([]posting.Segment, ns)
	for i := range c.Segments {
		nd, err := readUvarint(r)
		if err != nil {
			return c, err
		}
		bl, err := readUvarint(r)
		if err != nil {
			return c, err
		}
		ld, err := readUvarint(r)
		if err != nil {
			return c, err
		}
		c.Segments[i] = posting.Segment{NumDocs: uint32(nd), BitLength: bl, LastDoc: uint32(ld)}
	}
	return c, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [10]byte
	n := 0
	for v >= 0x80 {
		tmp[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	tmp[n] = byte(v)
	n++
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("pagedict: truncated varint: %w", err)
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
	}
}

// headerFor builds a PageDict4 file header with the fields spec §4.7
// requires on every tier.
func headerFor(format, desc string, docIdLimit, minChunkDocs uint32) *fileheader.Header {
	h := fileheader.New(format, desc)
	h.SetUint("docIdLimit", uint64(docIdLimit))
	h.SetUint("minChunkDocs", uint64(minChunkDocs))
	h.SetUint("numWordIds", 0)
	h.SetUint("avgBitsPerDoc", 0)
	return h
}

// sortedWords returns the entries' words in ascending order. Nothing in
// the module calls it.
func sortedWords(entries []WordEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Word
	}
	sort.Strings(out)
	return out
}
