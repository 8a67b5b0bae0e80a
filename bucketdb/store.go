package bucketdb

import (
	"sync"
	"sync/atomic"
)

// atomicNodePtr is the root pointer type shared by Database and
// generationTracker.
type atomicNodePtr = atomic.Pointer[node]

// arrayStore is the secondary value array a Cell's entryRef indexes
// into. Slots are reused via a free list once their generation-tracked
// death has passed every live snapshot.
type arrayStore[V any] struct {
	mu    sync.Mutex
	slots []V
	free  []uint32
}

func newArrayStore[V any]() *arrayStore[V] { return &arrayStore[V]{} }

// put stores v and returns its entryRef.
func (s *arrayStore[V]) put(v V) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.free); n > 0 {
		ref := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[ref] = v
		return ref
	}
	s.slots = append(s.slots, v)
	return uint32(len(s.slots) - 1)
}

func (s *arrayStore[V]) get(ref uint32) V {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[ref]
}

// releaseNow returns ref to the free list immediately. Only called once
// no live snapshot generation can still reach it.
func (s *arrayStore[V]) releaseNow(ref uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero V
	s.slots[ref] = zero
	s.free = append(s.free, ref)
}

// deadEntry is a retired array-store slot waiting for every snapshot
// generation that could still observe it to pass: reclamation happens
// once the oldest live snapshot's pinned generation exceeds the
// entry's death generation.
type deadEntry struct {
	ref      uint32
	deathGen uint64
}

// generationTracker implements epoch-based reclamation for the array
// store: every write bumps the generation; a Snapshot pins the
// generation current at the moment it was taken; an entry retired at
// generation g is only returned to the array store's free list once
// every open snapshot's pinned generation is > g, i.e. no outstanding
// reader could still dereference it through a root it might still be
// holding.
type generationTracker struct {
	mu       sync.Mutex
	current  uint64
	openGens map[uint64]int // pinned generation -> count of open snapshots at it
	dead     []deadEntry
}

// publish bumps the generation and atomically swaps in newRoot.
func (g *generationTracker) publish(newRoot *node, root *atomicNodePtr) {
	g.mu.Lock()
	g.current++
	g.mu.Unlock()
	root.Store(newRoot)
}

// retire schedules ref for reclamation once no snapshot predating this
// write can still observe it. It never frees ref inline: even with no
// snapshots currently open, the caller's root swap (publish) must have
// already been observed before a slot its old root referenced can be
// physically reused, so reclamation is always left to a later reclaim
// call made after that publish — mirroring the original
// commit_tree_changes(), which defers reclaim_memory to strictly after
// incGeneration() rather than freeing inline.
func (g *generationTracker) retire(ref uint32, store genericReleaser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dead = append(g.dead, deadEntry{ref: ref, deathGen: g.current})
}

// reclaim sweeps dead entries that no remaining open snapshot can still
// observe. Must only be called after the publish whose generation bump
// retire recorded has taken effect (i.e. after root.Store has run), so
// that any reader able to see the freed slot has also already seen the
// new root and will not dereference the old ref through it.
func (g *generationTracker) reclaim(store genericReleaser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reclaimLocked(store)
}

func (g *generationTracker) reclaimLocked(store genericReleaser) {
	oldest, any := g.oldestOpenLocked()
	kept := g.dead[:0]
	for _, d := range g.dead {
		if any && d.deathGen >= oldest {
			kept = append(kept, d)
			continue
		}
		store.releaseNowErased(d.ref)
	}
	g.dead = kept
}

// acquire pins the current generation for a new snapshot and returns it.
func (g *generationTracker) acquire() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	gen := g.current
	if g.openGens == nil {
		g.openGens = make(map[uint64]int)
	}
	g.openGens[gen]++
	return gen
}

// release drops one reference to a pinned generation and reclaims any
// dead entries that no remaining open snapshot can still observe.
func (g *generationTracker) release(gen uint64, store genericReleaser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openGens[gen]--
	if g.openGens[gen] == 0 {
		delete(g.openGens, gen)
	}
	g.reclaimLocked(store)
}

func (g *generationTracker) oldestOpenLocked() (uint64, bool) {
	first := true
	var min uint64
	for gen := range g.openGens {
		if first || gen < min {
			min = gen
			first = false
		}
	}
	return min, !first
}

// genericReleaser lets generationTracker (which is not itself generic)
// release a slot in whatever Database[V]'s arrayStore[V] is.
type genericReleaser interface {
	releaseNowErased(ref uint32)
}

func (s *arrayStore[V]) releaseNowErased(ref uint32) { s.releaseNow(ref) }
