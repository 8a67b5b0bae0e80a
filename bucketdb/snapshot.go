package bucketdb

import "github.com/rpcpool/contentnode/bucket"

// Snapshot is a generation-pinned, frozen view of a Database: a
// snapshot taken before a later write always keeps returning the
// pre-write view. Because the tree is copy-on-write, the snapshot need
// only remember which root was current when it was taken; pinning the
// generation keeps that root's array-store entries (and any entries
// superseded after, but not yet reclaimed) alive. Close must be called
// exactly once to release the pin.
type Snapshot[V any] struct {
	db     *Database[V]
	root   *node
	gen    uint64
	closed bool
}

// Snapshot takes a read-only, forever-consistent view of db as of now.
//
// acquire must run before loadRoot, never the reverse: acquire and every
// mutation's retire both serialize on gen's mutex, and a mutation never
// retires a ref until after the root swap that stops referencing it has
// already been stored (see Update's publish-before-retire comment). So
// if this call's loadRoot races a concurrent write and still observes
// the old root, this call's acquire (being strictly earlier in program
// order) is guaranteed to have registered its pin before that write's
// retire runs, which keeps the old root's entries alive until Close.
// Reading the root first would invert that guarantee.
func (db *Database[V]) Snapshot() *Snapshot[V] {
	gen := db.gen.acquire()
	return &Snapshot[V]{db: db, root: db.loadRoot(), gen: gen}
}

// Close releases the snapshot's generation pin, allowing entries
// superseded since it was taken to be reclaimed once no other snapshot
// still needs them.
func (s *Snapshot[V]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.db.gen.release(s.gen, s.db.store)
}

func (s *Snapshot[V]) Get(b bucket.Id) (V, bool) {
	cell, ok := get(s.root, b.ToKey())
	if !ok {
		var zero V
		return zero, false
	}
	return s.db.store.get(cell.Ref()), true
}

func (s *Snapshot[V]) ForEach(fn func(b bucket.Id, v V) bool) {
	forEach(s.root, func(key uint64, cell Cell) bool {
		return fn(bucket.FromKey(key), s.db.store.get(cell.Ref()))
	})
}

func (s *Snapshot[V]) FindParentsAndSelf(b bucket.Id) []Entry[V] {
	return s.db.findParents(s.root, b)
}

func (s *Snapshot[V]) Size() int { return count(s.root) }

// Iterator returns a forward cursor over the snapshot starting at the
// first key >= from, usable across writes to the live Database since
// it only ever touches s.root.
func (s *Snapshot[V]) Iterator(from uint64) *SnapshotIterator[V] {
	return &SnapshotIterator[V]{snap: s, c: seekCursor(s.root, from)}
}

// SnapshotIterator is an explicit-step iterator over a Snapshot, used
// by StripedBTreeLockableMap's ReadGuard to merge per-stripe iterators
// with a min-heap.
type SnapshotIterator[V any] struct {
	snap *Snapshot[V]
	c    *cursor
}

func (it *SnapshotIterator[V]) Valid() bool { return it.c.Valid() }
func (it *SnapshotIterator[V]) Key() uint64 { return it.c.Key() }
func (it *SnapshotIterator[V]) Bucket() bucket.Id { return bucket.FromKey(it.c.Key()) }
func (it *SnapshotIterator[V]) Value() V {
	return it.snap.db.store.get(it.c.Cell().Ref())
}
func (it *SnapshotIterator[V]) Next() { it.c.Next() }
