package lockable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/contentnode/bucket"
)

func TestStripedPanicsOnBadStripeBits(t *testing.T) {
	assert.Panics(t, func() { NewStriped[int](0, plainTraits{}) })
	assert.Panics(t, func() { NewStriped[int](9, plainTraits{}) })
}

func TestStripedGetAndSize(t *testing.T) {
	s := NewStriped[int](4, plainTraits{})
	for i := 0; i < 200; i++ {
		e := s.Get(bucket.New(16, uint64(i)), true)
		e.Update(i)
		e.Close()
	}
	assert.Equal(t, 200, s.Size())

	e := s.Get(bucket.New(16, 42), false)
	require.NotNil(t, e)
	assert.Equal(t, 42, e.Value())
	e.Close()
}

func TestStripedSnapshotIsGloballyOrdered(t *testing.T) {
	s := NewStriped[int](3, plainTraits{})
	for i := 0; i < 500; i++ {
		e := s.Get(bucket.New(20, uint64(i)*2654435761), true)
		e.Update(i)
		e.Close()
	}

	rg := s.Snapshot()
	defer rg.Close()

	var lastKey uint64
	first := true
	count := 0
	rg.ForEach(func(b bucket.Id, v int) bool {
		key := b.ToKey()
		if !first {
			assert.Less(t, lastKey, key, "global snapshot iteration must be strictly ascending across stripes")
		}
		first = false
		lastKey = key
		count++
		return true
	})
	assert.Equal(t, 500, count)
}

func TestStripedGetContainedStaysWithinStripe(t *testing.T) {
	s := NewStriped[int](4, plainTraits{})
	root := bucket.New(4, 0x3)
	child := root.Child(0)

	e := s.Get(root, true)
	e.Update(1)
	e.Close()
	e = s.Get(child, true)
	e.Update(2)
	e.Close()

	entries := s.GetContained(root)
	require.Len(t, entries, 2)
	for _, e := range entries {
		e.Close()
	}
}
