package posting

import "github.com/rpcpool/contentnode/internal/bitio"

// chunkHeader is the decoded fixed-shape prefix of one chunk, common to
// both the rare and common write paths; docIdsSize/l*Size/featuresSize
// are zero (and meaningless) for a rare chunk.
type chunkHeader struct {
	numDocs      uint32
	hasMore      bool
	docIdsSize   uint64
	l1Size       uint64
	l2Size       uint64
	l3Size       uint64
	l4Size       uint64
	featuresSize uint64
	lastDoc      uint32
}

func decodeChunkHeader(br *bitio.Reader, params Params, rare bool) chunkHeader {
	var ch chunkHeader
	ch.numDocs = uint32(br.DecodeExpGolomb(kNumDocs)) + 1
	if params.MinChunkDocs > 0 {
		ch.hasMore = br.ReadBits(1) == 1
	}
	if !rare {
		ch.docIdsSize = br.DecodeExpGolomb(kDocIdsSize) + 1
		ch.l1Size = br.DecodeExpGolomb(kSkipSize)
		ch.l2Size = br.DecodeExpGolomb(kSkipSize)
		ch.l3Size = br.DecodeExpGolomb(kSkipSize)
		ch.l4Size = br.DecodeExpGolomb(kSkipSize)
		ch.featuresSize = br.DecodeExpGolomb(kFeaturesSize)
	}
	gap := br.DecodeExpGolomb(kDocIdGap)
	ch.lastDoc = params.DocIdLimit - 1 - uint32(gap)
	br.SmallAlign(8)
	return ch
}

// isRareChunk reports, from the per-word counts alone, whether chunk
// index idx was written via the rare (skip-table-free) path: only
// possible for the first chunk of an otherwise-unchunked word, matching
// the exact condition Writer.flushChunk used.
func isRareChunk(counts Counts, params Params, idx int) bool {
	if idx != 0 || len(counts.Segments) != 0 {
		return false
	}
	return counts.NumDocs < params.MinSkipDocs
}

func chunkNumDocs(counts Counts, idx int) uint32 {
	if len(counts.Segments) == 0 {
		return counts.NumDocs
	}
	return counts.Segments[idx].NumDocs
}

func totalChunks(counts Counts) int {
	if len(counts.Segments) == 0 {
		return 1
	}
	return len(counts.Segments)
}

func readFeaturesInline(br *bitio.Reader, params Params) Features {
	var f Features
	if params.HasInterleavedFeatures {
		fl := uint16(br.ReadBits(16))
		no := uint16(br.ReadBits(16))
		f.Interleaved = &InterleavedFeatures{FieldLength: fl, NumOccs: no}
	}
	n := br.DecodeExpGolomb(kNormalLen)
	if n > 0 {
		f.NormalBits = br.ReadBitsToBytes(n)
		f.NormalNumBits = n
	}
	return f
}

func skipFeaturesInline(br *bitio.Reader, params Params) {
	if params.HasInterleavedFeatures {
		br.SkipBits(32)
	}
	n := br.DecodeExpGolomb(kNormalLen)
	if n > 0 {
		br.SkipBits(n)
	}
}
