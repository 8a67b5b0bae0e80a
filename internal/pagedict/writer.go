package pagedict

import (
	"bytes"

	"github.com/rpcpool/contentnode/internal/posting"
)

// spEntry is one SP-tier (L3) record: the first word of a P page, its
// byte offset into the P file body, the running doc count at that
// point, and which P page it describes.
type spEntry struct {
	word        string
	wordNum     uint32
	pFileOffset uint64
	accNumDocs  uint64
	pPageNum    uint32
}

// ssEntry is one SS-tier (L6) record, sampling every ssStride-th SP
// entry (spec §4.7).
type ssEntry struct {
	word            string
	wordNum         uint32
	spFileOffset    uint64
	accNumDocs      uint64
	lastWordInRange string
	spPageNum       uint32
}

// Writer builds the P, SP and SS tiers in lockstep as words arrive in
// ascending lexical order (spec §4.7, "sequential write path builds
// SS/SP/P concurrently").
type Writer struct {
	docIdLimit   uint32
	minChunkDocs uint32

	pPage    bytes.Buffer
	pBody    bytes.Buffer
	pPageNum uint32

	spPage    bytes.Buffer
	spBody    bytes.Buffer
	spPageNum uint32
	spCount   int

	ssEntries []ssEntry

	lastWord   string
	numWords   uint32
	accNumDocs uint64
}

func NewWriter(docIdLimit, minChunkDocs uint32) *Writer {
	return &Writer{docIdLimit: docIdLimit, minChunkDocs: minChunkDocs}
}

// AddWord appends one word's dictionary record. Words must arrive in
// strictly ascending order.
func (w *Writer) AddWord(word string, wordNum uint32, counts posting.Counts, postingOffset uint64) {
	var rec bytes.Buffer
	encodeWordRecord(&rec, word, wordNum, postingOffset, counts)

	startingNewPage := w.pPage.Len() == 0 || w.pPage.Len()+rec.Len() > PageBytes
	if w.pPage.Len() > 0 && w.pPage.Len()+rec.Len() > PageBytes {
		w.flushPPage()
	}
	if startingNewPage {
		w.addSPEntry(spEntry{
			word:        word,
			wordNum:     wordNum,
			pFileOffset: uint64(w.pBody.Len()),
			accNumDocs:  w.accNumDocs,
			pPageNum:    w.pPageNum,
		})
	}
	w.pPage.Write(rec.Bytes())

	w.numWords++
	w.accNumDocs += uint64(counts.NumDocs)
	w.lastWord = word
}

func (w *Writer) flushPPage() {
	padPage(&w.pPage)
	w.pBody.Write(w.pPage.Bytes())
	w.pPage.Reset()
	w.pPageNum++
}

// addSPEntry records one SP-tier (L3) record and, every ssStride
// entries, an SS-tier (L6) sample pointing at it.
func (w *Writer) addSPEntry(e spEntry) {
	var rec bytes.Buffer
	encodeSPRecord(&rec, e)

	if w.spPage.Len() > 0 && w.spPage.Len()+rec.Len() > PageBytes {
		w.flushSPPage()
	}
	offsetInFile := uint64(w.spBody.Len()) + uint64(w.spPage.Len())
	w.spPage.Write(rec.Bytes())
	w.spCount++

	if w.spCount == 1 || w.spCount%ssStride == 0 {
		w.ssEntries = append(w.ssEntries, ssEntry{
			word:            e.word,
			wordNum:         e.wordNum,
			spFileOffset:    offsetInFile,
			accNumDocs:      e.accNumDocs,
			lastWordInRange: e.word,
			spPageNum:       w.spPageNum,
		})
	} else if len(w.ssEntries) > 0 {
		w.ssEntries[len(w.ssEntries)-1].lastWordInRange = e.word
	}
}

func (w *Writer) flushSPPage() {
	padPage(&w.spPage)
	w.spBody.Write(w.spPage.Bytes())
	w.spPage.Reset()
	w.spPageNum++
}

// Result holds the three encoded tier files, ready to be written to
// disk behind their own headers.
type Result struct {
	P, SP, SS []byte
}

// Close finalizes all three tiers: flushes any partial page, rewrites
// each header with the final numWordIds/fileBitSize/frozen (spec §4.7).
func (w *Writer) Close() Result {
	if w.pPage.Len() > 0 {
		w.flushPPage()
	}
	if w.spPage.Len() > 0 {
		w.flushSPPage()
	}
	if len(w.ssEntries) > 0 {
		w.ssEntries[len(w.ssEntries)-1].lastWordInRange = w.lastWord
	}

	var ssBody bytes.Buffer
	for _, e := range w.ssEntries {
		encodeSSRecord(&ssBody, e)
	}

	pHeader := headerFor(formatTagP(), "posting dictionary page tier", w.docIdLimit, w.minChunkDocs)
	pHeader.SetUint("numWordIds", uint64(w.numWords))
	pHeader.SetFrozen(uint64(w.pBody.Len()) * 8)

	spHeader := headerFor(formatTagSP(), "posting dictionary sparse-page tier", w.docIdLimit, w.minChunkDocs)
	spHeader.SetUint("numWordIds", uint64(w.numWords))
	spHeader.SetFrozen(uint64(w.spBody.Len()) * 8)

	ssHeader := headerFor(formatTagSS(), "posting dictionary sparse-sparse tier", w.docIdLimit, w.minChunkDocs)
	ssHeader.SetUint("numWordIds", uint64(w.numWords))
	ssHeader.SetFrozen(uint64(ssBody.Len()) * 8)

	return Result{
		P:  append(pHeader.Encode(), w.pBody.Bytes()...),
		SP: append(spHeader.Encode(), w.spBody.Bytes()...),
		SS: append(ssHeader.Encode(), ssBody.Bytes()...),
	}
}

func padPage(buf *bytes.Buffer) {
	if rem := buf.Len() % PageBytes; rem != 0 {
		buf.Write(make([]byte, PageBytes-rem))
	}
}

func encodeWordRecord(buf *bytes.Buffer, word string, wordNum uint32, offset uint64, counts posting.Counts) {
	writeUvarint(buf, uint64(len(word)))
	buf.WriteString(word)
	writeUvarint(buf, uint64(wordNum))
	writeUvarint(buf, offset)
	encodeCounts(buf, counts)
}

func encodeSPRecord(buf *bytes.Buffer, e spEntry) {
	writeUvarint(buf, uint64(len(e.word)))
	buf.WriteString(e.word)
	writeUvarint(buf, uint64(e.wordNum))
	writeUvarint(buf, e.pFileOffset)
	writeUvarint(buf, e.accNumDocs)
	writeUvarint(buf, uint64(e.pPageNum))
}

func encodeSSRecord(buf *bytes.Buffer, e ssEntry) {
	writeUvarint(buf, uint64(len(e.word)))
	buf.WriteString(e.word)
	writeUvarint(buf, uint64(e.wordNum))
	writeUvarint(buf, e.spFileOffset)
	writeUvarint(buf, e.accNumDocs)
	writeUvarint(buf, uint64(len(e.lastWordInRange)))
	buf.WriteString(e.lastWordInRange)
	writeUvarint(buf, uint64(e.spPageNum))
}
