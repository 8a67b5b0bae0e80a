package bucketdb

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/contentnode/bucket"
)

// plainTraits is a Traits[int] that does not use the cell tag word, the
// shape the content-node facade uses for BucketInfo.
type plainTraits struct{}

func (plainTraits) Tag(int) uint32            { return 0 }
func (plainTraits) WithTag(v int, _ uint32) int { return v }

func newTestDB() *Database[int] { return New[int](plainTraits{}) }

func TestUpdateGetRemove(t *testing.T) {
	db := newTestDB()
	b := bucket.New(8, 0x42)

	_, ok := db.Get(b)
	assert.False(t, ok)

	db.Update(b, 7)
	v, ok := db.Get(b)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	db.Update(b, 9)
	v, ok = db.Get(b)
	require.True(t, ok)
	assert.Equal(t, 9, v)

	db.Remove(b)
	_, ok = db.Get(b)
	assert.False(t, ok)
}

func TestManyInsertsPreserveOrderAndCount(t *testing.T) {
	db := newTestDB()
	r := rand.New(rand.NewSource(1))
	want := make(map[uint64]int)
	for i := 0; i < 500; i++ {
		b := bucket.New(uint(8+r.Intn(30)), r.Uint64())
		db.Update(b, i)
		want[b.ToKey()] = i
	}
	assert.Equal(t, len(want), db.Size())

	var lastKey uint64
	first := true
	db.ForEach(func(b bucket.Id, v int) bool {
		if !first {
			assert.Less(t, lastKey, b.ToKey())
		}
		first = false
		lastKey = b.ToKey()
		assert.Equal(t, want[b.ToKey()], v)
		return true
	})
}

func TestSnapshotIsolation(t *testing.T) {
	db := newTestDB()
	b1 := bucket.New(8, 1)
	b2 := bucket.New(8, 2)
	db.Update(b1, 1)

	snap := db.Snapshot()
	defer snap.Close()

	db.Update(b2, 2)
	db.Remove(b1)

	_, ok := snap.Get(b1)
	assert.True(t, ok, "snapshot must still see b1 as present")
	_, ok = snap.Get(b2)
	assert.False(t, ok, "snapshot must not see a write made after it was taken")

	_, ok = db.Get(b1)
	assert.False(t, ok, "live db must reflect the remove")
	v2, ok := db.Get(b2)
	require.True(t, ok)
	assert.Equal(t, 2, v2)
}

func TestFindParentsAndSelf(t *testing.T) {
	db := newTestDB()
	root := bucket.New(1, 0)
	mid := root.Child(0)   // usedBits=2
	leaf := mid.Child(1)   // usedBits=3, the query target
	sibling := root.Child(1)

	db.Update(root, 100)
	db.Update(mid, 200)
	db.Update(leaf, 300)
	db.Update(sibling, 999)

	entries := db.FindParentsAndSelf(leaf)
	want := []Entry[int]{
		{Bucket: root, Value: 100},
		{Bucket: mid, Value: 200},
		{Bucket: leaf, Value: 300},
	}
	if diff := cmp.Diff(want, entries, cmp.AllowUnexported(bucket.Id{})); diff != "" {
		t.Errorf("FindParentsAndSelf mismatch (-want +got):\n%s", diff)
	}
}

func TestFindParentsSelfAndChildren(t *testing.T) {
	db := newTestDB()
	root := bucket.New(1, 0)
	childA := root.Child(0)
	grandA0 := childA.Child(0)
	grandA1 := childA.Child(1)

	db.Update(root, 1)
	db.Update(childA, 2)
	db.Update(grandA0, 3)
	db.Update(grandA1, 4)

	entries := db.FindParentsSelfAndChildren(childA)
	require.Len(t, entries, 4)
	buckets := make([]bucket.Id, len(entries))
	for i, e := range entries {
		buckets[i] = e.Bucket
	}
	assert.Contains(t, buckets, root)
	assert.Contains(t, buckets, childA)
	assert.Contains(t, buckets, grandA0)
	assert.Contains(t, buckets, grandA1)
}

func TestChildSubtreeCount(t *testing.T) {
	db := newTestDB()
	parent := bucket.New(4, 0x3)
	db.Update(parent.Child(0), 1)

	assert.Equal(t, 1, db.ChildSubtreeCount(parent))

	db.Update(parent.Child(1), 2)
	assert.Equal(t, 2, db.ChildSubtreeCount(parent))
}

func TestProcessUpdateCreateAndRemove(t *testing.T) {
	db := newTestDB()
	b := bucket.New(8, 5)

	db.ProcessUpdate(b, false, func(v int, exists bool) (int, ProcessResult) {
		t.Fatal("processor must not run when createIfNonExisting=false and entry is absent")
		return 0, ProcessKeep
	})
	_, ok := db.Get(b)
	assert.False(t, ok)

	db.ProcessUpdate(b, true, func(v int, exists bool) (int, ProcessResult) {
		assert.False(t, exists)
		return 42, ProcessUpdate
	})
	v, ok := db.Get(b)
	require.True(t, ok)
	assert.Equal(t, 42, v)

	db.ProcessUpdate(b, false, func(v int, exists bool) (int, ProcessResult) {
		assert.True(t, exists)
		assert.Equal(t, 42, v)
		return 0, ProcessRemove
	})
	_, ok = db.Get(b)
	assert.False(t, ok)
}

func TestUpdateTag(t *testing.T) {
	db := newTestDB()
	b := bucket.New(8, 1)
	assert.False(t, db.UpdateTag(b, 9))

	db.Update(b, 1)
	assert.True(t, db.UpdateTag(b, 9))
	v, ok := db.Get(b)
	require.True(t, ok)
	assert.Equal(t, 1, v, "UpdateTag must not disturb the array-store value")
}

func TestMerge(t *testing.T) {
	db := newTestDB()
	for i := 0; i < 10; i++ {
		db.Update(bucket.New(8, uint64(i)), i)
	}
	db.Merge(func(b bucket.Id, v int, ins *Inserter[int]) (int, MergeAction) {
		if v%2 == 0 {
			return 0, MergeSkip
		}
		return v * 10, MergeUpdateEntry
	}, nil)

	assert.Equal(t, 5, db.Size())
	db.ForEach(func(b bucket.Id, v int) bool {
		assert.Equal(t, 0, v%10)
		return true
	})
}

func TestGetAppropriateBucket(t *testing.T) {
	db := newTestDB()
	specific := bucket.New(20, 0xabcd)
	db.Update(specific, 1)

	got := db.GetAppropriateBucket(1, bucket.New(30, 0xabcd|(0x3<<20)))
	assert.True(t, specific.Contains(got) || got == specific)
}

func TestGetAppropriateBucketNoMatchNeverTruncatesSpecificity(t *testing.T) {
	db := newTestDB()
	b := bucket.New(20, 4)

	got := db.GetAppropriateBucket(10, b)
	assert.Equal(t, b, got, "with no containing entry in the tree, a bucket already more specific than minBits must be returned unchanged")
}

func TestGetAppropriateBucketNoMatchPadsBelowMinBits(t *testing.T) {
	db := newTestDB()
	b := bucket.New(4, 0x3)

	got := db.GetAppropriateBucket(10, b)
	assert.Equal(t, uint(10), got.UsedBits())
	assert.Equal(t, b.RawId(), got.RawId())
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	db := newTestDB()
	for i := 0; i < 200; i++ {
		db.Update(bucket.New(16, uint64(i)), i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 200; i < 400; i++ {
			db.Update(bucket.New(16, uint64(i)), i)
		}
	}()

	snap := db.Snapshot()
	n := snap.Size()
	snap.ForEach(func(bucket.Id, int) bool { return true })
	snap.Close()
	<-done

	assert.True(t, n <= db.Size())
}

func TestBucketStringNonEmpty(t *testing.T) {
	for i := 0; i < 100; i++ {
		b := bucket.New(uint(1+i%58), uint64(i)*7919)
		s := fmt.Sprintf("%v", b)
		assert.NotEmpty(t, s)
	}
}
