package posting

// Golomb-Rice parameters for the fixed-shape header fields and skip
// entries. Spec §9 Non-goals explicitly frees a reimplementation from
// matching the legacy bit layout byte-for-byte, so these constants are a
// self-consistent redesign rather than a transcription of specific
// upstream values. Each field has its own named k constant; several of
// them share the same value.
const (
	kNumDocs      = 6
	kDocIdsSize   = 8
	kSkipSize     = 6
	kFeaturesSize = 10
	kDocIdGap     = 8

	kSkipDocId   = 4
	kSkipBytePos = 8
	kSkipFeatPos = 10
	kSkipLowerPos = 10

	kNormalLen = 8
)

// calcDocIdK picks the Golomb-Rice parameter for docid deltas given how
// many docs share docIdLimit worth of space, following the exp-Golomb
// rule of thumb k = floor(log2(docIdLimit / numDocs)) clamped to
// [0, 24]. Used by the Zc.5 dynamic-k path's rare-chunk format, where
// docid deltas are Golomb-Rice coded inline; the common/chunked path
// instead stores docid deltas in a separate byte-oriented ZcBuf stream
// (spec §4.3's "skip table plus delta stream" shape) and so has no k
// parameter of its own.
func calcDocIdK(numDocs, docIdLimit uint32) uint {
	if numDocs == 0 {
		numDocs = 1
	}
	avgGap := docIdLimit / numDocs
	k := uint(0)
	for avgGap > 1 {
		avgGap >>= 1
		k++
	}
	if k > 24 {
		k = 24
	}
	return k
}
