package fusion

import "container/heap"

// WordRecord is one dictionary word as seen by the RENUMBER_WORD_IDS
// state (spec §4.8): the word text and the source-local dense id it
// carried in that input index.
type WordRecord struct {
	Word       string
	OldWordNum uint32
}

// WordSource yields a field's dictionary words in ascending lexical
// order; this is satisfied by a plain scan over a pagedict P tier.
type WordSource interface {
	Next() (WordRecord, bool, error)
}

type wordHeapItem struct {
	rec      WordRecord
	srcIndex int
}

type wordHeap []wordHeapItem

func (h wordHeap) Len() int { return len(h) }
func (h wordHeap) Less(i, j int) bool {
	if h[i].rec.Word != h[j].rec.Word {
		return h[i].rec.Word < h[j].rec.Word
	}
	return h[i].srcIndex < h[j].srcIndex
}
func (h wordHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *wordHeap) Push(x any)   { *h = append(*h, x.(wordHeapItem)) }
func (h *wordHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Old2New is one input's old-word-id -> new-word-id mapping array, the
// on-disk shape of `old2new.dat` (spec §4.8 filesystem layout). Index i
// holds the new id for old word id i; the slice grows to the highest
// old id seen, and entries for ids never seen stay zero and are unused.
type Old2New []uint32

// WordMerger is the RENUMBER_WORD_IDS state machine: it merges N
// per-input word dictionaries into one global lexical ordering,
// assigning fresh ascending new word ids and recording each input's
// old2new mapping as it goes.
type WordMerger struct {
	sources   []WordSource
	chunkSize int

	h         wordHeap
	primed    bool
	done      bool
	nextID    uint32
	hasLast   bool
	lastWord  string
	lastID    uint32
	old2new   []Old2New
	wordCount []uint32 // per-source count of old ids seen so far, for growing old2new
	wordText  []string // newWordNum -> word text, in assignment (== lexical) order
}

// NewWordMerger builds a merger over sources, one Old2New slice per
// source will be produced incrementally as words are consumed.
func NewWordMerger(sources []WordSource, chunkSize int) *WordMerger {
	wm := &WordMerger{sources: sources, chunkSize: chunkSize}
	wm.old2new = make([]Old2New, len(sources))
	wm.wordCount = make([]uint32, len(sources))
	return wm
}

func (wm *WordMerger) prime() error {
	wm.h = make(wordHeap, 0, len(wm.sources))
	for i, s := range wm.sources {
		r, ok, err := s.Next()
		if err != nil {
			return err
		}
		if ok {
			heap.Push(&wm.h, wordHeapItem{rec: r, srcIndex: i})
		}
	}
	wm.primed = true
	return nil
}

func (wm *WordMerger) recordMapping(srcIndex int, oldID, newID uint32) {
	m := wm.old2new[srcIndex]
	if int(oldID) >= len(m) {
		grown := make(Old2New, oldID+1)
		copy(grown, m)
		m = grown
	}
	m[oldID] = newID
	wm.old2new[srcIndex] = m
}

// Merge runs one chunk (at most chunkSize extracted words) of the word
// renumbering merge.
func (wm *WordMerger) Merge(flushToken func() bool) (done bool, err error) {
	if wm.done {
		return true, nil
	}
	if !wm.primed {
		if err := wm.prime(); err != nil {
			return false, err
		}
	}
	for i := 0; i < wm.chunkSize; i++ {
		if wm.h.Len() == 0 {
			wm.done = true
			return true, nil
		}
		if flushToken != nil && flushToken() {
			return false, nil
		}
		top := heap.Pop(&wm.h).(wordHeapItem)
		var newID uint32
		if wm.hasLast && top.rec.Word == wm.lastWord {
			newID = wm.lastID
		} else {
			newID = wm.nextID
			wm.nextID++
			wm.lastWord = top.rec.Word
			wm.lastID = newID
			wm.hasLast = true
			wm.wordText = append(wm.wordText, top.rec.Word)
		}
		wm.recordMapping(top.srcIndex, top.rec.OldWordNum, newID)

		r, ok, nerr := wm.sources[top.srcIndex].Next()
		if nerr != nil {
			return false, nerr
		}
		if ok {
			heap.Push(&wm.h, wordHeapItem{rec: r, srcIndex: top.srcIndex})
		}
	}
	return wm.h.Len() == 0, nil
}

// Old2NewMappings returns the per-source old-id -> new-id arrays built
// so far; valid to call once Merge has reported done.
func (wm *WordMerger) Old2NewMappings() []Old2New { return wm.old2new }

// NumWords is the total distinct word count assigned so far.
func (wm *WordMerger) NumWords() uint32 { return wm.nextID }

// WordText returns the merged, deduplicated word list in new-word-id
// order: WordText()[newWordNum] is that word's text.
func (wm *WordMerger) WordText() []string { return wm.wordText }
