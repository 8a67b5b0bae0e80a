package bucketdb

import (
	"sync"
	"sync/atomic"

	"github.com/rpcpool/contentnode/bucket"
)

// Cell is the 64-bit value the tree stores per key: logically (u32 tag,
// u32 entryRef) packed together. tag is an opaque per-database word the
// Traits implementation may use for anything that should be mutable
// without touching the array store — the distributor facade uses it
// for gcTimestamp.
type Cell uint64

func PackCell(tag, ref uint32) Cell { return Cell(uint64(tag)<<32 | uint64(ref)) }
func (c Cell) Tag() uint32          { return uint32(c >> 32) }
func (c Cell) Ref() uint32          { return uint32(c) }

// Traits decides how a Database's generic value type V is marshalled
// into and out of the array store. A small interface stands in for
// what would otherwise be a base-class hook, so the tree implementation
// never needs to know about gcTimestamp or any other per-value-type
// detail.
type Traits[V any] interface {
	// Tag extracts the part of v that belongs in the cell's tag word
	// (0 if this database does not use it).
	Tag(v V) uint32
	// WithTag returns v with its tag-word field replaced, without
	// needing a new array-store entry.
	WithTag(v V, tag uint32) V
}

// Database is a single-writer, multi-reader ordered map from bucket key
// to V, backed by a copy-on-write B+tree of Cells plus an array store
// of V.
type Database[V any] struct {
	mu    sync.Mutex // serializes writers
	root  atomic.Pointer[node]
	store *arrayStore[V]
	gen   generationTracker
	tr    Traits[V]
}

// New builds an empty Database using tr to marshal values.
func New[V any](tr Traits[V]) *Database[V] {
	db := &Database[V]{store: newArrayStore[V](), tr: tr}
	db.root.Store(nil)
	return db
}

func (db *Database[V]) loadRoot() *node { return db.root.Load() }

// Update stores value in the array store, packs a fresh cell, and
// publishes it via a release-store on the (possibly newly split) root.
// If b already existed, the old array-store entry is scheduled for
// reclamation once no live snapshot can still observe it.
func (db *Database[V]) Update(b bucket.Id, value V) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ref := db.store.put(value)
	cell := PackCell(db.tr.Tag(value), ref)

	key := b.ToKey()
	old, hadOld := get(db.loadRoot(), key)
	newRoot := insert(db.loadRoot(), key, cell)
	// publish before retire: a lock-free reader must observe the new
	// root (which no longer references old's ref) before that ref can
	// be handed back to the array store, or it could resolve the
	// still-published old cell into an already-reclaimed slot.
	db.gen.publish(newRoot, &db.root)
	if hadOld {
		db.gen.retire(old.Ref(), db.store)
	}
	db.gen.reclaim(db.store)
}

// UpdateTag folds a new tag word into an existing entry's cell without
// touching the array store — the distributor uses this to bump
// gcTimestamp on every read path without disturbing the replica list
// sitting in the array store. Returns false if b has no entry.
func (db *Database[V]) UpdateTag(b bucket.Id, tag uint32) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := b.ToKey()
	old, ok := get(db.loadRoot(), key)
	if !ok {
		return false
	}
	newRoot := insert(db.loadRoot(), key, PackCell(tag, old.Ref()))
	db.gen.publish(newRoot, &db.root)
	return true
}

// Remove deletes the key and schedules its array-store entry for
// reclamation.
func (db *Database[V]) Remove(b bucket.Id) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := b.ToKey()
	old, ok := get(db.loadRoot(), key)
	if !ok {
		return
	}
	newRoot := remove(db.loadRoot(), key)
	// publish before retire: see Update's comment on the ordering.
	db.gen.publish(newRoot, &db.root)
	db.gen.retire(old.Ref(), db.store)
	db.gen.reclaim(db.store)
}

// Get returns the value stored for b, if any.
func (db *Database[V]) Get(b bucket.Id) (V, bool) {
	cell, ok := get(db.loadRoot(), b.ToKey())
	if !ok {
		var zero V
		return zero, false
	}
	return db.tr.WithTag(db.store.get(cell.Ref()), cell.Tag()), true
}

// ProcessResult is the outcome of a ProcessUpdate callback.
type ProcessResult int

const (
	// ProcessKeep leaves the entry (or non-entry) unchanged.
	ProcessKeep ProcessResult = iota
	// ProcessUpdate replaces the entry with the callback's returned value.
	ProcessUpdate
	// ProcessRemove deletes the entry.
	ProcessRemove
)

// ProcessUpdate performs a read-modify-write in place. processor
// receives the current value (zero value and exists=false if absent)
// and returns the new value plus what to do with it. If
// createIfNonExisting is false and the bucket does not exist, processor
// is not called.
func (db *Database[V]) ProcessUpdate(b bucket.Id, createIfNonExisting bool, processor func(v V, exists bool) (V, ProcessResult)) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := b.ToKey()
	old, exists := get(db.loadRoot(), key)
	if !exists && !createIfNonExisting {
		return
	}
	var cur V
	if exists {
		cur = db.store.get(old.Ref())
	}
	next, action := processor(cur, exists)
	switch action {
	case ProcessKeep:
		return
	case ProcessRemove:
		if !exists {
			return
		}
		newRoot := remove(db.loadRoot(), key)
		// publish before retire: see Update's comment on the ordering.
		db.gen.publish(newRoot, &db.root)
		db.gen.retire(old.Ref(), db.store)
		db.gen.reclaim(db.store)
	case ProcessUpdate:
		ref := db.store.put(next)
		cell := PackCell(db.tr.Tag(next), ref)
		newRoot := insert(db.loadRoot(), key, cell)
		db.gen.publish(newRoot, &db.root)
		if exists {
			db.gen.retire(old.Ref(), db.store)
		}
		db.gen.reclaim(db.store)
	}
}

// Entry is one (bucket, value) pair as returned by traversal helpers.
type Entry[V any] struct {
	Bucket bucket.Id
	Value  V
}

// FindParentsAndSelf returns every key in the database whose bucket
// contains b, in ascending key order, found by the MinDiffBits
// prefix-jump walk instead of a linear scan.
func (db *Database[V]) FindParentsAndSelf(b bucket.Id) []Entry[V] {
	return db.findParents(db.loadRoot(), b)
}

func (db *Database[V]) findParents(root *node, b bucket.Id) []Entry[V] {
	var out []Entry[V]
	target := b.ToKey()
	// Ideally the walk would seed at the tree-wide minimum used-bits
	// count (tracked externally by a MinUsedBitsTracker) to skip ahead
	// past levels known to hold nothing; that tracker isn't threaded
	// through here, so this seeds at used-bits=0 instead — still
	// correct, just without that extra skip-ahead.
	c := seekCursor(root, bucket.New(0, b.RawId()).ToKey())
	for c.Valid() && c.Key() < target {
		cb := bucket.FromKey(c.Key())
		if cb.Contains(b) {
			out = append(out, Entry[V]{Bucket: cb, Value: db.store.get(c.Cell().Ref())})
		}
		next := bucket.New(bucket.MinDiffBits(cb, b), b.RawId())
		c = seekCursor(root, next.ToKey())
	}
	if c.Valid() && c.Key() == target {
		cb := bucket.FromKey(c.Key())
		out = append(out, Entry[V]{Bucket: cb, Value: db.store.get(c.Cell().Ref())})
	}
	return out
}

// FindParentsSelfAndChildren returns FindParentsAndSelf plus every
// descendant of b, in ascending key order.
func (db *Database[V]) FindParentsSelfAndChildren(b bucket.Id) []Entry[V] {
	root := db.loadRoot()
	out := db.findParents(root, b)
	target := b.ToKey()
	c := seekCursor(root, target+1)
	for c.Valid() {
		cb := bucket.FromKey(c.Key())
		if !b.Contains(cb) {
			break
		}
		if cb != b {
			out = append(out, Entry[V]{Bucket: cb, Value: db.store.get(c.Cell().Ref())})
		}
		c.Next()
	}
	return out
}

// GetAppropriateBucket returns the most specific bucket key present in
// the tree matching b, or b padded up to minBits if none matches: a
// lower-bound seek plus a one-step predecessor check, with no
// full-tree scan.
func (db *Database[V]) GetAppropriateBucket(minBits uint, b bucket.Id) bucket.Id {
	root := db.loadRoot()
	target := b.ToKey()

	best := b
	if b.UsedBits() < minBits {
		best = bucket.New(minBits, b.RawId())
	}

	// The lower bound can only contain b if it is b itself; otherwise the
	// immediate predecessor is the deepest candidate ancestor.
	fwd := seekCursor(root, target)
	if fwd.Valid() && fwd.Key() == target {
		return b
	}
	pred := predecessorOf(root, target)
	if pred.Valid() {
		pb := bucket.FromKey(pred.Key())
		if pb.Contains(b) {
			return pb
		}
	}
	return best
}

// ChildSubtreeCount returns 0, 1, or 2: how many of b's two immediate
// children have any node (self or descendant) present in the tree.
func (db *Database[V]) ChildSubtreeCount(b bucket.Id) int {
	root := db.loadRoot()
	n := 0
	for _, bit := range []uint64{0, 1} {
		child := b.Child(bit)
		c := seekCursor(root, child.ToKey())
		if c.Valid() && child.Contains(bucket.FromKey(c.Key())) {
			n++
		}
	}
	return n
}

// ForEach visits every live entry in ascending key order.
func (db *Database[V]) ForEach(fn func(b bucket.Id, v V) bool) {
	forEach(db.loadRoot(), func(key uint64, cell Cell) bool {
		return fn(bucket.FromKey(key), db.store.get(cell.Ref()))
	})
}

// Size returns the number of live entries.
func (db *Database[V]) Size() int { return count(db.loadRoot()) }

// MergeAction is what a Merge callback decides for one existing entry.
type MergeAction int

const (
	MergeKeep MergeAction = iota
	MergeUpdateEntry
	MergeSkip
)

// Inserter lets a Merge processor splice new entries into the output
// stream around the entry it was called for.
type Inserter[V any] struct {
	pending []Entry[V]
}

func (m *Inserter[V]) InsertBefore(b bucket.Id, v V) {
	m.pending = append(m.pending, Entry[V]{Bucket: b, Value: v})
}

// Merge streams the whole tree through proc, building a fresh tree.
// proc returns the
// action for the current entry (keep/update/skip) and may use ins to
// insert new entries immediately before the current one; after the
// last existing entry, insertRemainingAtEnd supplies any trailing
// entries to append.
func (db *Database[V]) Merge(
	proc func(b bucket.Id, v V, ins *Inserter[V]) (V, MergeAction),
	insertRemainingAtEnd func(ins *Inserter[V]),
) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var fresh *node
	var ins Inserter[V]

	forEach(db.loadRoot(), func(key uint64, cell Cell) bool {
		b := bucket.FromKey(key)
		v := db.store.get(cell.Ref())
		ins.pending = ins.pending[:0]
		newV, action := proc(b, v, &ins)
		for _, p := range ins.pending {
			ref := db.store.put(p.Value)
			fresh = insert(fresh, p.Bucket.ToKey(), PackCell(db.tr.Tag(p.Value), ref))
		}
		switch action {
		case MergeSkip:
			// drop
		case MergeUpdateEntry:
			ref := db.store.put(newV)
			fresh = insert(fresh, key, PackCell(db.tr.Tag(newV), ref))
		default:
			ref := db.store.put(v)
			fresh = insert(fresh, key, PackCell(db.tr.Tag(v), ref))
		}
		return true
	})

	ins.pending = ins.pending[:0]
	if insertRemainingAtEnd != nil {
		insertRemainingAtEnd(&ins)
	}
	for _, p := range ins.pending {
		ref := db.store.put(p.Value)
		fresh = insert(fresh, p.Bucket.ToKey(), PackCell(db.tr.Tag(p.Value), ref))
	}

	// The old tree's array-store entries are superseded wholesale.
	// Collect their refs from the old root, publish the fresh tree
	// first (so a lock-free reader can only resolve cells through the
	// new root or a pinned snapshot of the old one, never the
	// about-to-be-freed old root at the same time as freed refs), then
	// retire — mirrors Update/Remove's publish-before-retire ordering.
	oldRoot := db.loadRoot()
	var oldRefs []uint32
	forEach(oldRoot, func(_ uint64, cell Cell) bool {
		oldRefs = append(oldRefs, cell.Ref())
		return true
	})
	db.gen.publish(fresh, &db.root)
	for _, ref := range oldRefs {
		db.gen.retire(ref, db.store)
	}
	db.gen.reclaim(db.store)
}
