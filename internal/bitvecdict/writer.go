package bitvecdict

import (
	"encoding/binary"
	"fmt"
)

// Writer accumulates (wordNum, numDocs) index entries and their
// corresponding bit vectors, in ascending wordNum order, and produces
// the boolocc.idx / boolocc.dat pair on Close.
type Writer struct {
	docIdLimit uint32

	entries []entry
	dat     []byte
}

func NewWriter(docIdLimit uint32) *Writer {
	return &Writer{docIdLimit: docIdLimit}
}

// AddWord appends one dense word's bit vector. vec must be exactly
// fileBytes(docIdLimit) bytes.
func (w *Writer) AddWord(wordNum uint32, numDocs uint32, vec []byte) error {
	want := fileBytes(w.docIdLimit)
	if len(vec) != want {
		return fmt.Errorf("bitvecdict: vector size mismatch: got %d, want %d", len(vec), want)
	}
	w.entries = append(w.entries, entry{wordNum: wordNum, numDocs: numDocs})
	w.dat = append(w.dat, vec...)
	return nil
}

// Result holds the two encoded files.
type Result struct {
	Idx, Dat []byte
}

func (w *Writer) Close() Result {
	idxHeader := headerFor(formatTagIdx, w.docIdLimit)
	idxHeader.SetUint("numWordIds", uint64(len(w.entries)))
	idxHeader.SetUint("vectorBytes", uint64(fileBytes(w.docIdLimit)))
	idxHeader.SetFrozen(uint64(len(w.entries)) * entryEncodedSize * 8)

	idxBody := make([]byte, len(w.entries)*entryEncodedSize)
	for i, e := range w.entries {
		binary.BigEndian.PutUint32(idxBody[i*entryEncodedSize:], e.wordNum)
		binary.BigEndian.PutUint32(idxBody[i*entryEncodedSize+4:], e.numDocs)
	}

	datHeader := headerFor(formatTagDat, w.docIdLimit)
	datHeader.SetUint("vectorBytes", uint64(fileBytes(w.docIdLimit)))
	datHeader.SetFrozen(uint64(len(w.dat)) * 8)

	return Result{
		Idx: append(idxHeader.Encode(), idxBody...),
		Dat: append(datHeader.Encode(), w.dat...),
	}
}
