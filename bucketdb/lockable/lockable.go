// Package lockable adds per-bucket exclusive locking layered over
// bucketdb's lock-free tree, plus a keyspace-striped variant that
// bounds lock contention to one substripe at a time.
package lockable

import (
	"sync"

	"github.com/rpcpool/contentnode/bucket"
	"github.com/rpcpool/contentnode/bucketdb"
)

// Traits is re-exported so callers only need to import this package to
// build a Map.
type Traits[V any] = bucketdb.Traits[V]

// Map is a bucketdb.Database plus a per-key exclusive lock set guarded
// by a single mutex/condition-variable pair. Locking is explicit "key
// is in lockedKeys" membership, not a lock per bucket, so the lock
// set's memory cost is proportional to in-flight operations rather
// than to the database's size.
type Map[V any] struct {
	db *bucketdb.Database[V]

	mu     sync.Mutex
	cond   *sync.Cond
	locked map[uint64]struct{}
}

func NewMap[V any](tr Traits[V]) *Map[V] {
	m := &Map[V]{db: bucketdb.New(tr), locked: make(map[uint64]struct{})}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// WrappedEntry is a scoped per-key lock handle: it holds a logical
// exclusive lock on a single bucket key for its lifetime. Close
// releases it and wakes every waiter rather than selecting just one,
// since any of them might be the one actually unblocked by the release.
type WrappedEntry[V any] struct {
	m        *Map[V]
	key      uint64
	bucket   bucket.Id
	value    V
	exists   bool
	released bool
}

func (w *WrappedEntry[V]) Bucket() bucket.Id { return w.bucket }
func (w *WrappedEntry[V]) Exists() bool      { return w.exists }
func (w *WrappedEntry[V]) Value() V          { return w.value }

// Update replaces the locked entry's value; the caller must still call
// Close to release the lock.
func (w *WrappedEntry[V]) Update(v V) {
	w.m.db.Update(w.bucket, v)
	w.value = v
	w.exists = true
}

func (w *WrappedEntry[V]) Remove() {
	if w.exists {
		w.m.db.Remove(w.bucket)
		w.exists = false
	}
}

// Close releases the lock on this entry's key.
func (w *WrappedEntry[V]) Close() {
	if w.released {
		return
	}
	w.released = true
	w.m.unlock(w.key)
}

// Get blocks until key is not locked, then locks it and returns a
// WrappedEntry over its current value. createIfNonExisting controls
// whether Exists()==false entries may still be locked (for a caller
// about to Update a brand-new bucket).
func (m *Map[V]) Get(b bucket.Id, createIfNonExisting bool) *WrappedEntry[V] {
	key := b.ToKey()
	m.mu.Lock()
	for {
		if _, busy := m.locked[key]; !busy {
			break
		}
		m.cond.Wait()
	}
	m.locked[key] = struct{}{}
	m.mu.Unlock()

	v, ok := m.db.Get(b)
	if !ok && !createIfNonExisting {
		m.unlock(key)
		return nil
	}
	return &WrappedEntry[V]{m: m, key: key, bucket: b, value: v, exists: ok}
}

func (m *Map[V]) unlock(key uint64) {
	m.mu.Lock()
	delete(m.locked, key)
	m.cond.Broadcast()
	m.mu.Unlock()
}

// GetAll locks every key in keys atomically: in a loop, it tests all
// desired keys, and if any is locked it waits on the cond-var and
// retries from scratch. Returns one WrappedEntry per key, in the order
// given; the caller must Close every one.
func (m *Map[V]) GetAll(keys []bucket.Id, createIfNonExisting bool) []*WrappedEntry[V] {
	rawKeys := make([]uint64, len(keys))
	for i, b := range keys {
		rawKeys[i] = b.ToKey()
	}

	m.mu.Lock()
	for {
		anyBusy := false
		for _, k := range rawKeys {
			if _, busy := m.locked[k]; busy {
				anyBusy = true
				break
			}
		}
		if !anyBusy {
			break
		}
		m.cond.Wait()
	}
	for _, k := range rawKeys {
		m.locked[k] = struct{}{}
	}
	m.mu.Unlock()

	out := make([]*WrappedEntry[V], len(keys))
	for i, b := range keys {
		v, ok := m.db.Get(b)
		if !ok && !createIfNonExisting {
			out[i] = &WrappedEntry[V]{m: m, key: rawKeys[i], bucket: b, exists: false}
		} else {
			out[i] = &WrappedEntry[V]{m: m, key: rawKeys[i], bucket: b, value: v, exists: ok}
		}
	}
	return out
}

// GetContained is GetAll over every key in the database related to b
// (b itself plus its ancestors and descendants present in the tree),
// acquired atomically the same way.
func (m *Map[V]) GetContained(b bucket.Id) []*WrappedEntry[V] {
	entries := m.db.FindParentsSelfAndChildren(b)
	keys := make([]bucket.Id, len(entries))
	for i, e := range entries {
		keys[i] = e.Bucket
	}
	return m.GetAll(keys, false)
}

// ForEach walks every live entry in ascending key order under the
// global lock, waiting on any key found locked rather than skipping it.
func (m *Map[V]) ForEach(fn func(b bucket.Id, v V) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db.ForEach(func(b bucket.Id, v V) bool {
		key := b.ToKey()
		for {
			if _, busy := m.locked[key]; !busy {
				break
			}
			m.cond.Wait()
		}
		return fn(b, v)
	})
}

// ForEachChunked walks every live entry, releasing and reacquiring the
// global lock every chunkSize entries and sleeping pause to let blocked
// readers/writers make progress.
func (m *Map[V]) ForEachChunked(chunkSize int, pause func(), fn func(b bucket.Id, v V) bool) {
	snap := m.db.Snapshot()
	defer snap.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	cont := true
	snap.ForEach(func(b bucket.Id, v V) bool {
		if !cont {
			return false
		}
		if !fn(b, v) {
			cont = false
			return false
		}
		count++
		if chunkSize > 0 && count%chunkSize == 0 {
			m.mu.Unlock()
			if pause != nil {
				pause()
			}
			m.mu.Lock()
		}
		return true
	})
}

// Size returns the number of live entries.
func (m *Map[V]) Size() int { return m.db.Size() }

// Snapshot exposes the underlying database's snapshot for callers that
// need a consistent point-in-time view without per-key locking.
func (m *Map[V]) Snapshot() *bucketdb.Snapshot[V] { return m.db.Snapshot() }
