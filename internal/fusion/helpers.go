package fusion

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/rpcpool/contentnode/internal/pagedict"
)

// sliceWordSource adapts an in-memory, already-ordered []pagedict.WordEntry
// (as produced by pagedict.Reader.Scan) into a WordSource.
type sliceWordSource struct {
	entries []pagedict.WordEntry
	idx     int
}

func newSliceWordSource(entries []pagedict.WordEntry) *sliceWordSource {
	return &sliceWordSource{entries: entries}
}

func (s *sliceWordSource) Next() (WordRecord, bool, error) {
	if s.idx >= len(s.entries) {
		return WordRecord{}, false, nil
	}
	e := s.entries[s.idx]
	s.idx++
	return WordRecord{Word: e.Word, OldWordNum: e.WordNum}, true, nil
}

// remapWordEntries rewrites each entry's WordNum through an input's
// old2new mapping, in preparation for the postings merge phase. The
// input order is kept; it is already ascending by new word number.
func remapWordEntries(entries []pagedict.WordEntry, m Old2New) []pagedict.WordEntry {
	out := make([]pagedict.WordEntry, len(entries))
	for i, e := range entries {
		newNum := e.WordNum
		if int(e.WordNum) < len(m) {
			newNum = m[e.WordNum]
		}
		out[i] = e
		out[i].WordNum = newNum
	}
	// entries arrive already in ascending old-word (lexical) order, and
	// new word numbers are assigned in lexical order too, so the slice
	// is already sorted by new word number; no separate sort needed.
	return out
}

// writeOld2New persists one input's old-id -> new-id mapping as a flat
// array of big-endian uint32s, the `old2new.dat` file of spec §4.8.
func writeOld2New(path string, m Old2New) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	var buf [4]byte
	for _, v := range m {
		binary.BigEndian.PutUint32(buf[:], v)
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// readOld2New reloads a mapping written by writeOld2New (spec §4.8,
// RENUMBER_WORD_IDS_FINISH: "reload old2new files as in-memory mapping
// arrays").
func readOld2New(path string) (Old2New, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("fusion: old2new.dat has partial record: %d bytes", len(data))
	}
	out := make(Old2New, len(data)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(data[i*4:])
	}
	return out, nil
}
