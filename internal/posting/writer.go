package posting

import (
	"fmt"

	"github.com/rpcpool/contentnode/internal/bitio"
	"github.com/rpcpool/contentnode/internal/zigzag"
)

type pendingDoc struct {
	docId    uint32
	features Features
}

// Writer is the Zc4PostingWriter of spec §4.3: open once, then any
// number of (WriteDocIdAndFeatures*, FlushWord) cycles, one per word, in
// ascending docid order within each word, before a final Close.
type Writer struct {
	params Params
	bw     *bitio.Writer

	wordOpen       bool
	wordStartBit   uint64
	pending        []pendingDoc
	hasChunk       bool
	lastChunkDocId uint32
	counts         Counts
}

func NewWriter(params Params) (*Writer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Writer{params: params, bw: bitio.NewWriter()}, nil
}

// WriteDocIdAndFeatures buffers one document for the word currently
// being written, flushing a chunk automatically once MinChunkDocs is
// reached.
func (w *Writer) WriteDocIdAndFeatures(d DocIdAndFeatures) error {
	if d.DocId >= w.params.DocIdLimit {
		return fmt.Errorf("posting: docid %d >= DocIdLimit %d", d.DocId, w.params.DocIdLimit)
	}
	if len(w.pending) > 0 && d.DocId <= w.pending[len(w.pending)-1].docId {
		return fmt.Errorf("posting: docids must be strictly ascending within a word (got %d after %d)",
			d.DocId, w.pending[len(w.pending)-1].docId)
	}
	if !w.wordOpen {
		w.wordStartBit = w.bw.TotalBits()
		w.wordOpen = true
		w.hasChunk = false
		w.lastChunkDocId = 0
		w.counts = Counts{}
	}
	w.pending = append(w.pending, pendingDoc{docId: d.DocId, features: d.Features})
	if w.params.MinChunkDocs > 0 && uint32(len(w.pending)) >= w.params.MinChunkDocs {
		if err := w.flushChunk(true); err != nil {
			return err
		}
	}
	return nil
}

// FlushWord closes out the word currently being written and returns its
// starting bit offset (for the dictionary to record) and final counts.
func (w *Writer) FlushWord() (uint64, Counts, error) {
	if !w.wordOpen {
		return 0, Counts{}, fmt.Errorf("posting: FlushWord called with no buffered docs")
	}
	offset := w.wordStartBit
	// A doc count that is an exact multiple of MinChunkDocs has already
	// flushed its last chunk in WriteDocIdAndFeatures.
	if len(w.pending) > 0 {
		if err := w.flushChunk(false); err != nil {
			return 0, Counts{}, err
		}
	}
	counts := w.counts
	w.wordOpen = false
	w.pending = nil
	return offset, counts, nil
}

// Close pads the stream to the end-of-file guarantee every unrolled
// decoder in this package relies on (spec §9: at least 128 bits of zero
// padding, direct-I/O aligned) and returns the encoded file body.
func (w *Writer) Close() ([]byte, error) {
	if w.wordOpen {
		return nil, fmt.Errorf("posting: Close called with a word still open; call FlushWord first")
	}
	w.bw.PadBits(128)
	w.bw.AlignDirectIO()
	return w.bw.Bytes(), nil
}

func (w *Writer) flushChunk(hasMore bool) error {
	n := len(w.pending)
	if n == 0 {
		return fmt.Errorf("posting: flush with no buffered docs")
	}
	rare := !w.hasChunk && !hasMore && uint32(n) < w.params.MinSkipDocs

	chunkStartBit := w.bw.TotalBits()
	var err error
	if rare {
		err = w.writeRareChunk(hasMore)
	} else {
		err = w.writeCommonChunk(hasMore)
	}
	if err != nil {
		return err
	}
	chunkBits := w.bw.TotalBits() - chunkStartBit
	lastDoc := w.pending[n-1].docId

	if w.hasChunk || hasMore {
		w.counts.Segments = append(w.counts.Segments, Segment{
			NumDocs:   uint32(n),
			BitLength: chunkBits,
			LastDoc:   lastDoc,
		})
	}
	w.counts.NumDocs += uint32(n)
	w.counts.BitLength = w.bw.TotalBits() - w.wordStartBit
	w.lastChunkDocId = lastDoc
	w.hasChunk = true
	w.pending = w.pending[:0]
	return nil
}

func (w *Writer) writeRareChunk(hasMore bool) error {
	n := len(w.pending)
	lastDoc := w.pending[n-1].docId
	k := w.docIdK(uint32(n))

	w.bw.EncodeExpGolomb(uint64(n-1), kNumDocs)
	w.writeHasMoreBit(hasMore)
	w.bw.EncodeExpGolomb(uint64(w.params.DocIdLimit-1-lastDoc), kDocIdGap)
	w.bw.SmallAlign(8)

	prev := w.lastChunkDocId
	for _, pd := range w.pending {
		w.bw.EncodeExpGolomb(uint64(pd.docId-prev), k)
		prev = pd.docId
		w.writeFeaturesInline(w.bw, pd.features)
	}
	return nil
}

func (w *Writer) writeCommonChunk(hasMore bool) error {
	n := len(w.pending)
	lastDoc := w.pending[n-1].docId

	zc := zigzag.NewWriter()
	featBuf := bitio.NewWriter()
	docEntries := make([]levelEntry, n)
	prev := w.lastChunkDocId
	for i, pd := range w.pending {
		zc.PutUint32(pd.docId - prev)
		prev = pd.docId
		w.writeFeaturesInline(featBuf, pd.features)
		docEntries[i] = levelEntry{docId: pd.docId, bytePos: uint64(zc.Len()), featPos: featBuf.TotalBits()}
	}
	docIdsSize := zc.Len()
	featuresSize := (featBuf.TotalBits() + 7) / 8

	l1Data, l1 := buildSkipLevel(docEntries, nil, L1Stride)
	l2Data, l2 := buildSkipLevel(l1, lowerPosAfter(l1, l1Data, false), LkStride)
	l3Data, l3 := buildSkipLevel(l2, lowerPosAfter(l2, l2Data, true), LkStride)
	l4Data, _ := buildSkipLevel(l3, lowerPosAfter(l3, l3Data, true), LkStride)

	w.bw.EncodeExpGolomb(uint64(n-1), kNumDocs)
	w.writeHasMoreBit(hasMore)
	w.bw.EncodeExpGolomb(uint64(docIdsSize-1), kDocIdsSize)
	w.bw.EncodeExpGolomb(uint64(len(l1Data)), kSkipSize)
	w.bw.EncodeExpGolomb(uint64(len(l2Data)), kSkipSize)
	w.bw.EncodeExpGolomb(uint64(len(l3Data)), kSkipSize)
	w.bw.EncodeExpGolomb(uint64(len(l4Data)), kSkipSize)
	w.bw.EncodeExpGolomb(featuresSize, kFeaturesSize)
	w.bw.EncodeExpGolomb(uint64(w.params.DocIdLimit-1-lastDoc), kDocIdGap)
	w.bw.SmallAlign(8)

	w.bw.WriteAlignedBytes(zc.Bytes())
	w.bw.WriteAlignedBytes(l1Data)
	w.bw.WriteAlignedBytes(l2Data)
	w.bw.WriteAlignedBytes(l3Data)
	w.bw.WriteAlignedBytes(l4Data)
	w.bw.WriteAlignedBytes(featBuf.Bytes())
	return nil
}

func (w *Writer) docIdK(numDocsInChunk uint32) uint {
	if w.params.DynamicK {
		return calcDocIdK(numDocsInChunk, w.params.DocIdLimit)
	}
	return w.params.FixedK
}

func (w *Writer) writeHasMoreBit(hasMore bool) {
	if w.params.MinChunkDocs == 0 {
		return
	}
	v := uint64(0)
	if hasMore {
		v = 1
	}
	w.bw.WriteBits(v, 1)
}

func (w *Writer) writeFeaturesInline(bw *bitio.Writer, f Features) {
	if w.params.HasInterleavedFeatures {
		var fl, no uint16
		if f.Interleaved != nil {
			fl, no = f.Interleaved.FieldLength, f.Interleaved.NumOccs
		}
		bw.WriteBits(uint64(fl), 16)
		bw.WriteBits(uint64(no), 16)
	}
	bw.EncodeExpGolomb(f.NormalNumBits, kNormalLen)
	if f.NormalNumBits > 0 {
		bw.CopyBits(f.NormalBits, f.NormalNumBits)
	}
}
