package posting

import (
	"github.com/rpcpool/contentnode/internal/bitio"
	"github.com/rpcpool/contentnode/internal/zigzag"
)

// Reader is the Zc4PostingReader of spec §4.4: a purely sequential,
// forward-only decoder over a word's whole posting list, driven by the
// Counts the dictionary already has on hand. Query-time random seeks use
// Iterator instead.
type Reader struct {
	params Params
	counts Counts
	br     *bitio.Reader

	chunkIdx        int
	docsLeftInChunk uint32
	prevDocId       uint32

	rareMode bool
	rareK    uint

	docIdDeltaReader *zigzag.Reader
	featReader       *bitio.Reader
}

// NewReader wraps the raw file body (post-header bytes, spec §6) for
// sequential reads.
func NewReader(params Params, data []byte) *Reader {
	return &Reader{params: params, br: bitio.NewReader(data)}
}

// SetCounts positions the reader at a word's posting list, given the
// bit offset and counts the dictionary recorded for it (spec §4.4,
// "set_counts").
func (r *Reader) SetCounts(wordStartBit uint64, counts Counts) error {
	r.counts = counts
	r.chunkIdx = 0
	r.prevDocId = 0
	r.br.Seek(wordStartBit)
	if !counts.Valid() {
		r.docsLeftInChunk = 0
		return nil
	}
	return r.openChunk()
}

func (r *Reader) openChunk() error {
	rare := isRareChunk(r.counts, r.params, r.chunkIdx)
	ch := decodeChunkHeader(r.br, r.params, rare)
	r.docsLeftInChunk = ch.numDocs
	r.rareMode = rare

	if rare {
		r.rareK = r.params.FixedK
		if r.params.DynamicK {
			r.rareK = calcDocIdK(ch.numDocs, r.params.DocIdLimit)
		}
		r.docIdDeltaReader = nil
		r.featReader = nil
		return nil
	}

	docIdBytes := r.br.ReadBitsToBytes(ch.docIdsSize * 8)
	r.docIdDeltaReader = zigzag.NewReaderLen(docIdBytes, len(docIdBytes))
	r.br.SkipBits((ch.l1Size + ch.l2Size + ch.l3Size + ch.l4Size) * 8)
	featBytes := r.br.ReadBitsToBytes(ch.featuresSize * 8)
	r.featReader = bitio.NewReader(featBytes)
	return nil
}

// ReadDocIdAndFeatures decodes the next entry of the word's posting
// list. ok is false once every chunk has been exhausted.
func (r *Reader) ReadDocIdAndFeatures() (d DocIdAndFeatures, ok bool, err error) {
	for r.docsLeftInChunk == 0 {
		if r.chunkIdx+1 >= totalChunks(r.counts) {
			return DocIdAndFeatures{}, false, nil
		}
		r.chunkIdx++
		if err := r.openChunk(); err != nil {
			return DocIdAndFeatures{}, false, err
		}
	}

	if r.rareMode {
		delta := r.br.DecodeExpGolomb(r.rareK)
		r.prevDocId += uint32(delta)
		d.DocId = r.prevDocId
		d.Features = readFeaturesInline(r.br, r.params)
	} else {
		delta := r.docIdDeltaReader.DecodeUint32()
		r.prevDocId += delta
		d.DocId = r.prevDocId
		d.Features = readFeaturesInline(r.featReader, r.params)
	}
	r.docsLeftInChunk--
	return d, true, nil
}
