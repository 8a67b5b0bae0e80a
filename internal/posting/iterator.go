package posting

import (
	"io"
	"sort"

	"github.com/rpcpool/contentnode/internal/bitio"
	"github.com/rpcpool/contentnode/internal/zigzag"
)

// Iterator is the query-time forward cursor over a word's posting list
// (spec §4.5): seek(docId) places it at the first docId >= the target
// using the L1 skip table, then unpack() decodes that document's
// features on demand. Seeks must be strictly monotonically increasing,
// matching the merge/scoring access pattern this codec is built for.
type Iterator struct {
	params Params
	base   *bitio.Reader // shared reader over the whole file, for chunk headers
	data   []byte

	counts Counts

	chunkIdx   int
	chunkStart uint64 // bit offset of this chunk's header

	rare  bool
	rareK uint

	docIdBytes      []byte
	featBytes       []byte
	l1              []levelEntry
	chunkBaseDoc    uint32 // last doc of the previous chunk, 0 for the first
	curChunkLastDoc uint32

	curDocId    uint32
	curFeatures Features
	exhausted   bool
}

// NewIterator builds an iterator over a word's posting list, given the
// bit offset and counts the dictionary recorded for it.
func NewIterator(params Params, data []byte, wordStartBit uint64, counts Counts) (*Iterator, error) {
	it := &Iterator{
		params: params,
		base:   bitio.NewReader(data),
		data:   data,
		counts: counts,
	}
	if !counts.Valid() {
		it.exhausted = true
		return it, nil
	}
	it.chunkStart = wordStartBit
	if err := it.openChunk(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) openChunk() error {
	it.base.Seek(it.chunkStart)
	rare := isRareChunk(it.counts, it.params, it.chunkIdx)
	ch := decodeChunkHeader(it.base, it.params, rare)
	it.rare = rare
	if it.chunkIdx == 0 {
		it.chunkBaseDoc = 0
	} else {
		it.chunkBaseDoc = it.counts.Segments[it.chunkIdx-1].LastDoc
	}
	it.curDocId = it.chunkBaseDoc
	it.curChunkLastDoc = ch.lastDoc

	if rare {
		it.rareK = it.params.FixedK
		if it.params.DynamicK {
			it.rareK = calcDocIdK(ch.numDocs, it.params.DocIdLimit)
		}
		it.docIdBytes, it.featBytes, it.l1 = nil, nil, nil
		return nil
	}

	it.docIdBytes = it.base.ReadBitsToBytes(ch.docIdsSize * 8)
	l1Bytes := it.base.ReadBitsToBytes(ch.l1Size * 8)
	it.base.SkipBits((ch.l2Size + ch.l3Size + ch.l4Size) * 8)
	it.featBytes = it.base.ReadBitsToBytes(ch.featuresSize * 8)

	n1 := totalSkipEntries(int(ch.numDocs), L1Stride)
	it.l1 = decodeSkipLevelEntries(l1Bytes, n1, false)
	return nil
}

func (it *Iterator) chunkLastDoc() uint32 {
	return it.curChunkLastDoc
}

func (it *Iterator) wordLastDoc() uint32 {
	if len(it.counts.Segments) == 0 {
		return it.curChunkLastDoc
	}
	return it.counts.Segments[len(it.counts.Segments)-1].LastDoc
}

// Seek advances the iterator to the first docId >= target and reports
// whether such a document exists in this word's posting list. target
// must be strictly greater than any docId previously passed to Seek.
func (it *Iterator) Seek(target uint32) (bool, error) {
	if it.exhausted {
		return false, nil
	}
	for totalChunks(it.counts) > 1 && it.chunkIdx+1 < totalChunks(it.counts) && target > it.chunkLastDoc() {
		it.chunkIdx++
		if err := it.nextChunk(); err != nil {
			return false, err
		}
	}
	if target > it.wordLastDoc() {
		it.exhausted = true
		return false, nil
	}

	if it.rare {
		return it.seekRare(target)
	}
	return it.seekCommon(target)
}

// nextChunk opens the chunk immediately following the one last decoded,
// using the base reader's current position (left at the end of the
// previous chunk's feature stream by openChunk).
func (it *Iterator) nextChunk() error {
	it.chunkStart = it.base.BitPos()
	return it.openChunk()
}

func (it *Iterator) seekRare(target uint32) (bool, error) {
	for {
		delta := it.base.DecodeExpGolomb(it.rareK)
		it.curDocId += delta
		if it.curDocId >= target {
			it.curFeatures = readFeaturesInline(it.base, it.params)
			return true, nil
		}
		skipFeaturesInline(it.base, it.params)
	}
}

func (it *Iterator) seekCommon(target uint32) (bool, error) {
	idx := sort.Search(len(it.l1), func(i int) bool { return it.l1[i].docId >= target })
	if idx >= len(it.l1) {
		idx = len(it.l1) - 1
	}
	baseDoc := it.chunkBaseDoc
	var baseBytePos, baseFeatPos uint64
	if idx > 0 {
		prev := it.l1[idx-1]
		baseDoc, baseBytePos, baseFeatPos = prev.docId, prev.bytePos, prev.featPos
	}

	zr := zigzag.NewReaderLen(it.docIdBytes[baseBytePos:], len(it.docIdBytes)-int(baseBytePos))
	fr := bitio.NewReader(it.featBytes)
	fr.Seek(baseFeatPos)

	doc := baseDoc
	for {
		if zr.Done() {
			return false, io.ErrUnexpectedEOF
		}
		delta := zr.DecodeUint32()
		doc += delta
		if doc >= target {
			it.curDocId = doc
			it.curFeatures = readFeaturesInline(fr, it.params)
			return true, nil
		}
		skipFeaturesInline(fr, it.params)
	}
}

// Unpack returns the features of the document the last successful Seek
// landed on.
func (it *Iterator) Unpack() Features { return it.curFeatures }

// DocId returns the document the last successful Seek landed on.
func (it *Iterator) DocId() uint32 { return it.curDocId }
