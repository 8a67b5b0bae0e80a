package posting

import "github.com/rpcpool/contentnode/internal/bitio"

// levelEntry is one sample in a skip level: the cumulative docid, its
// byte offset into the docid-delta stream, its bit offset into the
// feature stream, and (for L2-L4) its bit offset into the level below's
// own encoded stream.
type levelEntry struct {
	docId    uint32
	bytePos  uint64
	featPos  uint64
	lowerPos uint64
}

// buildSkipLevel samples src every stride entries (1-indexed groups:
// indices stride-1, 2*stride-1, ...) and appends a final partial entry
// covering the tail if the last regular sample didn't already land on
// the last source index (spec §4.3, "append an extra partial entry").
//
// lowerPos, if non-nil, must be the cumulative bit length of the level
// below's stream immediately after each corresponding src entry was
// written; it is omitted (and not encoded) for L1, which samples the
// doc stats directly rather than a lower skip level.
func buildSkipLevel(src []levelEntry, lowerPos []uint64, stride int) (data []byte, samples []levelEntry) {
	if len(src) == 0 {
		return nil, nil
	}
	bw := bitio.NewWriter()
	haveLower := lowerPos != nil
	var prevDoc uint32
	var prevByte, prevFeat, prevLower uint64

	emit := func(idx int) {
		s := src[idx]
		bw.EncodeExpGolomb(uint64(s.docId-prevDoc), kSkipDocId)
		bw.EncodeExpGolomb(s.bytePos-prevByte, kSkipBytePos)
		bw.EncodeExpGolomb(s.featPos-prevFeat, kSkipFeatPos)
		out := s
		if haveLower {
			lp := lowerPos[idx]
			bw.EncodeExpGolomb(lp-prevLower, kSkipLowerPos)
			out.lowerPos = lp
			prevLower = lp
		}
		prevDoc, prevByte, prevFeat = s.docId, s.bytePos, s.featPos
		samples = append(samples, out)
	}

	for i := stride - 1; i < len(src); i += stride {
		emit(i)
	}
	last := len(src) - 1
	if len(samples) == 0 || samples[len(samples)-1].docId != src[last].docId {
		emit(last)
	}
	return bw.Bytes(), samples
}

// lowerPosAfter returns, for each entry in samples, the bit length of
// data immediately after that entry was encoded: used to feed the next
// level up its lowerPos deltas. Recomputed by re-walking the already
// encoded entries rather than threading extra state through buildSkipLevel.
// hasLower must match how data was built (false for L1, true for L2/L3,
// mirroring decodeSkipLevelEntries' hasLower parameter): data itself
// carries a 4th lowerPos field whenever it was built with a non-nil
// lowerPos argument, and that field must be consumed here too or every
// entry from the 2nd one on is read out of alignment.
func lowerPosAfter(samples []levelEntry, data []byte, hasLower bool) []uint64 {
	out := make([]uint64, len(samples))
	br := bitio.NewReader(data)
	for i := range samples {
		br.DecodeExpGolomb(kSkipDocId)
		br.DecodeExpGolomb(kSkipBytePos)
		br.DecodeExpGolomb(kSkipFeatPos)
		if hasLower {
			br.DecodeExpGolomb(kSkipLowerPos)
		}
		out[i] = br.BitPos()
	}
	return out
}

// numRegularSkipEntries counts how many samples buildSkipLevel takes
// from an n-entry source at a given stride, not counting the trailing
// partial entry.
func numRegularSkipEntries(n, stride int) int {
	c := 0
	for i := stride - 1; i < n; i += stride {
		c++
	}
	return c
}

// totalSkipEntries returns how many entries (regular samples plus, if
// needed, the trailing partial one) a level built over n source entries
// at the given stride contains. This lets a reader recover the exact
// entry count of each level from numDocs alone, since the format does
// not separately store a per-level entry count.
func totalSkipEntries(n, stride int) int {
	if n <= 0 {
		return 0
	}
	reg := numRegularSkipEntries(n, stride)
	if reg == 0 {
		return 1
	}
	lastRegIdx := (reg-1)*stride + (stride - 1)
	if lastRegIdx != n-1 {
		reg++
	}
	return reg
}

// decodeSkipLevelEntries decodes exactly cnt entries from data. hasLower
// must match how the level was built (false for L1, true for L2-L4).
func decodeSkipLevelEntries(data []byte, cnt int, hasLower bool) []levelEntry {
	if cnt == 0 {
		return nil
	}
	br := bitio.NewReader(data)
	out := make([]levelEntry, cnt)
	var doc uint32
	var bytePos, featPos, lower uint64
	for i := 0; i < cnt; i++ {
		doc += uint32(br.DecodeExpGolomb(kSkipDocId))
		bytePos += br.DecodeExpGolomb(kSkipBytePos)
		featPos += br.DecodeExpGolomb(kSkipFeatPos)
		if hasLower {
			lower += br.DecodeExpGolomb(kSkipLowerPos)
		}
		out[i] = levelEntry{docId: doc, bytePos: bytePos, featPos: featPos, lowerPos: lower}
	}
	return out
}
