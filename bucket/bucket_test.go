package bucket

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMasksRawId(t *testing.T) {
	a := New(4, 0xff)
	b := New(4, 0x0f)
	assert.Equal(t, a, b)
	assert.Equal(t, uint64(0x0f), a.RawId())
}

func TestToKeyFromKeyRoundTrip(t *testing.T) {
	cases := []Id{
		New(1, 0),
		New(1, 1),
		New(8, 0xab),
		New(40, 0x123456789a),
		New(UsedBitsMax, ^uint64(0)),
	}
	for _, b := range cases {
		key := b.ToKey()
		got := FromKey(key)
		assert.Equal(t, b, got, "round trip for %v", b)
	}
}

func TestKeyOrderingIsInOrderTraversal(t *testing.T) {
	// Buckets 0b0, 0b1 at depth 1 must order before their own children,
	// and every key of the 0b0 subtree (node, left child, right child)
	// must order before every key of the 0b1 subtree.
	root0 := New(1, 0)
	root1 := New(1, 1)

	c00 := root0.Child(0)
	c01 := root0.Child(1)
	c10 := root1.Child(0)
	c11 := root1.Child(1)

	keys := []uint64{c00.ToKey(), c01.ToKey(), root0.ToKey(), c10.ToKey(), root1.ToKey(), c11.ToKey()}
	sorted := append([]uint64(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// The root-0 subtree's keys must all be less than the root-1 subtree's.
	maxRoot0Side := keys[0]
	for _, k := range []uint64{c00.ToKey(), c01.ToKey(), root0.ToKey()} {
		if k > maxRoot0Side {
			maxRoot0Side = k
		}
	}
	minRoot1Side := keys[3]
	for _, k := range []uint64{c10.ToKey(), root1.ToKey(), c11.ToKey()} {
		if k < minRoot1Side {
			minRoot1Side = k
		}
	}
	assert.Less(t, maxRoot0Side, minRoot1Side)
}

func TestContains(t *testing.T) {
	root := New(4, 0x5)
	child := root.Child(1)
	require.Equal(t, uint(5), child.UsedBits())
	assert.True(t, root.Contains(child))
	assert.True(t, root.Contains(root))
	assert.False(t, child.Contains(root))

	unrelated := New(4, 0x6)
	assert.False(t, root.Contains(unrelated))
}

func TestChildParentRoundTrip(t *testing.T) {
	root := New(3, 0x5)
	child := root.Child(1)
	assert.Equal(t, root, child.Parent())
}

func TestMinDiffBits(t *testing.T) {
	a := New(8, 0b00000101)
	b := New(8, 0b00000111)
	// differ at bit index 1 (0-based), so first differing level is u=2
	assert.Equal(t, uint(2), MinDiffBits(a, b))

	same := New(8, 0b00000101)
	assert.Equal(t, uint(9), MinDiffBits(a, same))

	prefix := New(4, 0b0101)
	full := New(8, 0b00000101)
	assert.Equal(t, uint(5), MinDiffBits(prefix, full))
}

func TestValid(t *testing.T) {
	assert.True(t, New(1, 0).Valid())
	assert.True(t, New(UsedBitsMax, 0).Valid())
	assert.False(t, Id{}.Valid())
}
