package pagedict

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/rpcpool/contentnode/internal/fileheader"
	"github.com/rpcpool/contentnode/internal/posting"
)

// Reader opens the three PageDict4 tiers and performs the SS -> SP -> P
// cascading lookup of spec §4.7.
type Reader struct {
	pBody  []byte
	spBody []byte
	ss     []ssEntry

	// hitCache memoizes successful P-tier lookups by xxhash of the word,
	// so a field that's queried for the same hot terms repeatedly (stop
	// words, faceted filters resolved once per request) skips the
	// SS->SP->P cascade on every repeat. Keyed by hash rather than the
	// word itself to keep entries fixed-size.
	hitCache sync.Map // uint64 -> pRecord
}

// Open validates each tier's header (magic + endian) and loads the SS
// tier fully into memory.
func Open(pFile, spFile, ssFile []byte) (*Reader, error) {
	pHeader, pBody, err := splitHeader(pFile, formatTagP())
	if err != nil {
		return nil, fmt.Errorf("pagedict: P tier: %w", err)
	}
	_, spBody, err := splitHeader(spFile, formatTagSP())
	if err != nil {
		return nil, fmt.Errorf("pagedict: SP tier: %w", err)
	}
	_, ssBody, err := splitHeader(ssFile, formatTagSS())
	if err != nil {
		return nil, fmt.Errorf("pagedict: SS tier: %w", err)
	}
	if !pHeader.IsFrozen() {
		return nil, fmt.Errorf("pagedict: P tier is not frozen")
	}

	ss, err := decodeAllSS(ssBody)
	if err != nil {
		return nil, fmt.Errorf("pagedict: decoding SS tier: %w", err)
	}
	return &Reader{pBody: pBody, spBody: spBody, ss: ss}, nil
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

// Lookup finds word's dictionary record, cascading SS -> SP -> P, with an
// xxhash-keyed memo of prior hits consulted first.
func (r *Reader) Lookup(word string) (uint32, uint64, posting.Counts, bool, error) {
	h := xxhash.Sum64String(word)
	if cached, ok := r.hitCache.Load(h); ok {
		rec := cached.(pRecord)
		if rec.word == word {
			return rec.wordNum, rec.offset, rec.counts, true, nil
		}
	}

	if len(r.ss) == 0 {
		return 0, 0, posting.Counts{}, false, nil
	}
	ssIdx := sort.Search(len(r.ss), func(i int) bool { return r.ss[i].word > word }) - 1
	if ssIdx < 0 {
		return 0, 0, posting.Counts{}, false, nil
	}
	spPageNum := r.ss[ssIdx].spPageNum

	spEntries, err := decodeSPPage(r.spBody, spPageNum)
	if err != nil {
		return 0, 0, posting.Counts{}, false, err
	}
	// The SS sample may point at a page whose entries start after the
	// target word if the word falls in the gap before this page's first
	// sampled entry but after the previous SS sample; scan backward a
	// page at a time in that (rare) case.
	for len(spEntries) == 0 || spEntries[0].word > word {
		if spPageNum == 0 {
			return 0, 0, posting.Counts{}, false, nil
		}
		spPageNum--
		spEntries, err = decodeSPPage(r.spBody, spPageNum)
		if err != nil {
			return 0, 0, posting.Counts{}, false, err
		}
	}
	spIdx := sort.Search(len(spEntries), func(i int) bool { return spEntries[i].word > word }) - 1
	// The SP entries following an SS sample can spill onto later SP
	// pages; move forward while the next page still starts at or before
	// word.
	for spIdx == len(spEntries)-1 && int(spPageNum+1)*PageBytes < len(r.spBody) {
		next, err := decodeSPPage(r.spBody, spPageNum+1)
		if err != nil {
			return 0, 0, posting.Counts{}, false, err
		}
		if len(next) == 0 || next[0].word > word {
			break
		}
		spPageNum++
		spEntries = next
		spIdx = sort.Search(len(spEntries), func(i int) bool { return spEntries[i].word > word }) - 1
	}
	if spIdx < 0 {
		return 0, 0, posting.Counts{}, false, nil
	}
	pPageNum := spEntries[spIdx].pPageNum

	records, err := decodePPage(r.pBody, pPageNum)
	if err != nil {
		return 0, 0, posting.Counts{}, false, err
	}
	idx := sort.Search(len(records), func(i int) bool { return records[i].word >= word })
	if idx >= len(records) || records[idx].word != word {
		return 0, 0, posting.Counts{}, false, nil
	}
	rec := records[idx]
	r.hitCache.Store(h, rec)
	return rec.wordNum, rec.offset, rec.counts, true, nil
}

// Scan decodes every P-tier record in page order, which is also word
// order (pages are written in ascending lexical order by Writer). Used
// by the fusion word merger and FieldReader to source a full sequential
// pass over a field's dictionary (spec §4.8).
func (r *Reader) Scan() ([]WordEntry, error) {
	var out []WordEntry
	for pageNum := uint32(0); int(pageNum)*PageBytes < len(r.pBody); pageNum++ {
		recs, err := decodePPage(r.pBody, pageNum)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			out = append(out, WordEntry{Word: rec.word, WordNum: rec.wordNum, Offset: rec.offset, Counts: rec.counts})
		}
	}
	return out, nil
}

type pRecord struct {
	word    string
	wordNum uint32
	offset  uint64
	counts  posting.Counts
}

func decodePPage(body []byte, pageNum uint32) ([]pRecord, error) {
	start := int(pageNum) * PageBytes
	if start >= len(body) {
		return nil, fmt.Errorf("pagedict: P page %d out of range", pageNum)
	}
	end := start + PageBytes
	if end > len(body) {
		end = len(body)
	}
	r := bytes.NewReader(body[start:end])
	var out []pRecord
	for r.Len() > 0 {
		wordLen, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		if wordLen == 0 {
			break // zero padding reached
		}
		wbuf := make([]byte, wordLen)
		if _, err := io.ReadFull(r, wbuf); err != nil {
			return nil, err
		}
		wordNum, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		offset, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		counts, err := decodeCounts(r)
		if err != nil {
			return nil, err
		}
		out = append(out, pRecord{word: string(wbuf), wordNum: uint32(wordNum), offset: offset, counts: counts})
	}
	return out, nil
}

func decodeSPPage(body []byte, pageNum uint32) ([]spEntry, error) {
	start := int(pageNum) * PageBytes
	if start >= len(body) {
		return nil, fmt.Errorf("pagedict: SP page %d out of range", pageNum)
	}
	end := start + PageBytes
	if end > len(body) {
		end = len(body)
	}
	r := bytes.NewReader(body[start:end])
	var out []spEntry
	for r.Len() > 0 {
		wordLen, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		if wordLen == 0 {
			break
		}
		wbuf := make([]byte, wordLen)
		if _, err := io.ReadFull(r, wbuf); err != nil {
			return nil, err
		}
		wordNum, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		pFileOffset, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		accNumDocs, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		pPageNum, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		out = append(out, spEntry{
			word: string(wbuf), wordNum: uint32(wordNum), pFileOffset: pFileOffset,
			accNumDocs: accNumDocs, pPageNum: uint32(pPageNum),
		})
	}
	return out, nil
}

func decodeAllSS(body []byte) ([]ssEntry, error) {
	r := bytes.NewReader(body)
	var out []ssEntry
	for r.Len() > 0 {
		wordLen, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		if wordLen == 0 {
			break
		}
		wbuf := make([]byte, wordLen)
		if _, err := io.ReadFull(r, wbuf); err != nil {
			return nil, err
		}
		wordNum, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		spFileOffset, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		accNumDocs, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		lastLen, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		lastBuf := make([]byte, lastLen)
		if _, err := io.ReadFull(r, lastBuf); err != nil {
			return nil, err
		}
		spPageNum, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ssEntry{
			word: string(wbuf), wordNum: uint32(wordNum), spFileOffset: spFileOffset,
			accNumDocs: accNumDocs, lastWordInRange: string(lastBuf), spPageNum: uint32(spPageNum),
		})
	}
	return out, nil
}
