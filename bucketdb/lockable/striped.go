package lockable

import (
	"container/heap"

	"github.com/rpcpool/contentnode/bucket"
	"github.com/rpcpool/contentnode/bucketdb"
)

// StripedMap splits the key space into 2^stripeBits substripes using
// the top stripeBits bits of the reversed bucket key (i.e. the most
// significant bits of the key itself, since ToKey already bit-reverses
// the raw id). Each stripe is an independent Map, so point operations
// and same-bucket multi-key operations only ever contend within one
// stripe.
type StripedMap[V any] struct {
	stripeBits uint
	stripes    []*Map[V]
}

// NewStriped builds a striped map with 2^stripeBits stripes. stripeBits
// must be in [1, 8]: below 1 there's no striping, and above 8 the
// stripe count starts to dominate the memory cost of small databases.
func NewStriped[V any](stripeBits uint, tr Traits[V]) *StripedMap[V] {
	if stripeBits < 1 || stripeBits > 8 {
		panic("lockable: stripeBits out of range [1, 8]")
	}
	n := 1 << stripeBits
	s := &StripedMap[V]{stripeBits: stripeBits, stripes: make([]*Map[V], n)}
	for i := range s.stripes {
		s.stripes[i] = NewMap[V](tr)
	}
	return s
}

// stripeOf returns the substripe index for a bucket key: the top
// stripeBits bits of the 64-bit key.
func (s *StripedMap[V]) stripeOf(key uint64) int {
	return int(key >> (64 - s.stripeBits))
}

// stripeFor routes a bucket to its stripe. The key's top stripeBits bits
// are the raw id's lowest stripeBits bits, reversed, so buckets that all
// have at least stripeBits used bits and are related by Contains() share
// a stripe, and GetAll/GetContained for such a family never cross a
// stripe boundary. A bucket with fewer used bits than stripeBits has
// zeros in the unused positions of that prefix, so it can sit in a
// different stripe from its descendants; GetAll and GetContained consult
// only the stripe of the bucket they are given.
func (s *StripedMap[V]) stripeFor(b bucket.Id) *Map[V] {
	return s.stripes[s.stripeOf(b.ToKey())]
}

func (s *StripedMap[V]) Get(b bucket.Id, createIfNonExisting bool) *WrappedEntry[V] {
	return s.stripeFor(b).Get(b, createIfNonExisting)
}

func (s *StripedMap[V]) GetAll(keys []bucket.Id, createIfNonExisting bool) []*WrappedEntry[V] {
	if len(keys) == 0 {
		return nil
	}
	return s.stripeFor(keys[0]).GetAll(keys, createIfNonExisting)
}

func (s *StripedMap[V]) GetContained(b bucket.Id) []*WrappedEntry[V] {
	return s.stripeFor(b).GetContained(b)
}

func (s *StripedMap[V]) Size() int {
	n := 0
	for _, st := range s.stripes {
		n += st.Size()
	}
	return n
}

// heapItem is one stripe's current iterator position, ordered for a
// container/heap min-heap over bucket key.
type heapItem[V any] struct {
	it *bucketdb.SnapshotIterator[V]
}

type iterHeap[V any] []heapItem[V]

func (h iterHeap[V]) Len() int            { return len(h) }
func (h iterHeap[V]) Less(i, j int) bool  { return h[i].it.Key() < h[j].it.Key() }
func (h iterHeap[V]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *iterHeap[V]) Push(x any)         { *h = append(*h, x.(heapItem[V])) }
func (h *iterHeap[V]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ReadGuard is a point-in-time, globally key-ordered view over every
// stripe: it owns one snapshot per stripe and merges their in-order
// iterators with a min-heap so iteration is still ascending by key even
// though each stripe stores a disjoint slice of the keyspace.
type ReadGuard[V any] struct {
	snaps []*bucketdb.Snapshot[V]
	h     iterHeap[V]
}

// Snapshot takes a ReadGuard over every stripe.
func (s *StripedMap[V]) Snapshot() *ReadGuard[V] {
	rg := &ReadGuard[V]{snaps: make([]*bucketdb.Snapshot[V], len(s.stripes))}
	for i, st := range s.stripes {
		rg.snaps[i] = st.Snapshot()
		it := rg.snaps[i].Iterator(0)
		if it.Valid() {
			rg.h = append(rg.h, heapItem[V]{it: it})
		}
	}
	heap.Init(&rg.h)
	return rg
}

// Close releases every stripe's underlying snapshot pin.
func (rg *ReadGuard[V]) Close() {
	for _, snap := range rg.snaps {
		snap.Close()
	}
}

// Valid reports whether there is a current entry.
func (rg *ReadGuard[V]) Valid() bool { return len(rg.h) > 0 }

func (rg *ReadGuard[V]) Bucket() bucket.Id { return rg.h[0].it.Bucket() }
func (rg *ReadGuard[V]) Value() V          { return rg.h[0].it.Value() }

// Next advances to the next key in global ascending order across all
// stripes.
func (rg *ReadGuard[V]) Next() {
	if len(rg.h) == 0 {
		return
	}
	top := rg.h[0].it
	top.Next()
	if top.Valid() {
		heap.Fix(&rg.h, 0)
	} else {
		heap.Pop(&rg.h)
	}
}

// ForEach walks the merged, globally key-ordered view.
func (rg *ReadGuard[V]) ForEach(fn func(b bucket.Id, v V) bool) {
	for rg.Valid() {
		if !fn(rg.Bucket(), rg.Value()) {
			return
		}
		rg.Next()
	}
}
