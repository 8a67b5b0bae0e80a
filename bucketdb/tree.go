// Package bucketdb implements a single-writer, multi-reader ordered map
// from a 64-bit bucket key to a packed 64-bit cell, generic over a
// value-store trait so the distributor's (gcTimestamp, replicas) value
// and the content node's plain BucketInfo value can share one tree
// implementation.
//
// The tree itself is a copy-on-write (persistent) B+tree: a write
// allocates new nodes along the path from the root to the modified
// leaf and swaps the root pointer atomically, so a reader that grabbed
// the old root before the swap keeps a perfectly consistent, frozen
// view forever — holding a live reference to an old root is all a
// reader needs to outlive any number of concurrent writes. Deletion is
// simplified: empty leaves are pruned and a single-child internal node
// collapses to its child, but there is no full borrow/merge
// rebalancing, matching the straightforward-over-maximally-compact
// tradeoff `compactindexsized` makes (see DESIGN.md).
package bucketdb

import "sort"

// order bounds the fan-out of internal nodes and the key count of leaf
// nodes. Chosen small to make copy-on-write node allocation cheap to
// reason about and to exercise split logic in tests without huge
// fixtures.
const order = 16

// node is one B+tree node. Leaf nodes carry cells parallel to keys;
// internal nodes carry len(keys)+1 children, with children[i] holding
// keys < keys[i] (and children[len(keys)] holding keys >= keys[len(keys)-1]).
type node struct {
	leaf     bool
	keys     []uint64
	cells    []Cell
	children []*node
}

func newLeaf() *node { return &node{leaf: true} }

// search returns the index of the first key >= target within n.keys.
func (n *node) search(target uint64) int {
	return sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= target })
}

// get performs a point lookup starting at root.
func get(root *node, key uint64) (Cell, bool) {
	n := root
	for n != nil {
		if n.leaf {
			i := n.search(key)
			if i < len(n.keys) && n.keys[i] == key {
				return n.cells[i], true
			}
			return 0, false
		}
		i := n.search(key)
		if i < len(n.keys) && n.keys[i] == key {
			i++ // equal separator routes to the right child
		}
		n = n.children[i]
	}
	return 0, false
}

// insert returns a new root with key bound to cell, preserving every
// unaffected node by sharing pointers (copy-on-write).
func insert(root *node, key uint64, cell Cell) *node {
	if root == nil {
		l := newLeaf()
		l.keys = []uint64{key}
		l.cells = []Cell{cell}
		return l
	}
	newChild, midKey, rightSibling := insertInto(root, key, cell)
	if rightSibling == nil {
		return newChild
	}
	// Root split: build a new root with two children.
	nr := &node{
		leaf:     false,
		keys:     []uint64{midKey},
		children: []*node{newChild, rightSibling},
	}
	return nr
}

// insertInto inserts into the subtree rooted at n, returning the
// replacement for n and, if n overflowed and split, the separator key
// and new right sibling to be linked in by the caller.
func insertInto(n *node, key uint64, cell Cell) (replacement *node, midKey uint64, right *node) {
	if n.leaf {
		i := n.search(key)
		keys := make([]uint64, len(n.keys))
		cells := make([]Cell, len(n.cells))
		copy(keys, n.keys)
		copy(cells, n.cells)
		if i < len(keys) && keys[i] == key {
			cells[i] = cell
			return &node{leaf: true, keys: keys, cells: cells}, 0, nil
		}
		keys = append(keys, 0)
		cells = append(cells, 0)
		copy(keys[i+1:], keys[i:])
		copy(cells[i+1:], cells[i:])
		keys[i] = key
		cells[i] = cell
		if len(keys) <= order {
			return &node{leaf: true, keys: keys, cells: cells}, 0, nil
		}
		mid := len(keys) / 2
		left := &node{leaf: true, keys: append([]uint64{}, keys[:mid]...), cells: append([]Cell{}, cells[:mid]...)}
		rightNode := &node{leaf: true, keys: append([]uint64{}, keys[mid:]...), cells: append([]Cell{}, cells[mid:]...)}
		return left, rightNode.keys[0], rightNode
	}

	i := n.search(key)
	if i < len(n.keys) && n.keys[i] == key {
		i++
	}
	childRepl, childMid, childRight := insertInto(n.children[i], key, cell)

	children := make([]*node, len(n.children))
	copy(children, n.children)
	children[i] = childRepl
	keys := append([]uint64{}, n.keys...)
	if childRight == nil {
		return &node{leaf: false, keys: keys, children: children}, 0, nil
	}
	keys = append(keys, 0)
	copy(keys[i+1:], keys[i:])
	keys[i] = childMid
	children = append(children, nil)
	copy(children[i+2:], children[i+1:])
	children[i+1] = childRight

	if len(keys) <= order {
		return &node{leaf: false, keys: keys, children: children}, 0, nil
	}
	mid := len(keys) / 2
	midUp := keys[mid]
	left := &node{leaf: false, keys: append([]uint64{}, keys[:mid]...), children: append([]*node{}, children[:mid+1]...)}
	rightNode := &node{leaf: false, keys: append([]uint64{}, keys[mid+1:]...), children: append([]*node{}, children[mid+1:]...)}
	return left, midUp, rightNode
}

// remove returns a new root with key removed, or the unchanged root if
// key was absent.
func remove(root *node, key uint64) *node {
	if root == nil {
		return nil
	}
	newRoot, _ := removeFrom(root, key)
	if newRoot != nil && !newRoot.leaf && len(newRoot.keys) == 0 {
		// Single remaining child: collapse the now-redundant level.
		return newRoot.children[0]
	}
	if newRoot != nil && newRoot.leaf && len(newRoot.keys) == 0 {
		return nil
	}
	return newRoot
}

func removeFrom(n *node, key uint64) (*node, bool) {
	if n.leaf {
		i := n.search(key)
		if i >= len(n.keys) || n.keys[i] != key {
			return n, false
		}
		keys := append(append([]uint64{}, n.keys[:i]...), n.keys[i+1:]...)
		cells := append(append([]Cell{}, n.cells[:i]...), n.cells[i+1:]...)
		return &node{leaf: true, keys: keys, cells: cells}, true
	}
	i := n.search(key)
	if i < len(n.keys) && n.keys[i] == key {
		i++
	}
	newChild, changed := removeFrom(n.children[i], key)
	if !changed {
		return n, false
	}
	children := make([]*node, len(n.children))
	copy(children, n.children)
	children[i] = newChild

	if newChild.leaf && len(newChild.keys) == 0 {
		// Drop the empty child and its separator.
		children = append(children[:i], children[i+1:]...)
		keys := append([]uint64{}, n.keys...)
		sepIdx := i
		if sepIdx > 0 {
			sepIdx--
		}
		if sepIdx < len(keys) {
			keys = append(keys[:sepIdx], keys[sepIdx+1:]...)
		}
		return &node{leaf: false, keys: keys, children: children}, true
	}
	if !newChild.leaf && len(newChild.keys) == 0 {
		children[i] = newChild.children[0]
	}
	return &node{leaf: false, keys: n.keys, children: children}, true
}

// cursorFrame is one level of a descent path.
type cursorFrame struct {
	n   *node
	idx int
}

// cursor walks an in-order traversal of a frozen tree snapshot,
// starting from a lower-bound seek. It never mutates the tree it walks,
// so many cursors (including ones over a stale root kept alive by a
// Snapshot) can run concurrently with writers.
type cursor struct {
	stack []cursorFrame
	valid bool
}

// seekCursor positions a cursor at the first key >= target.
func seekCursor(root *node, target uint64) *cursor {
	c := &cursor{}
	n := root
	for n != nil {
		if n.leaf {
			i := n.search(target)
			c.stack = append(c.stack, cursorFrame{n: n, idx: i})
			c.valid = i < len(n.keys)
			if !c.valid {
				// target lies past this leaf's last key: the lower bound,
				// if any, is the first key of a following leaf. The
				// unadvanced stack is kept when none exists so
				// predecessorOf can still step back from it.
				adv := &cursor{stack: append([]cursorFrame(nil), c.stack...), valid: true}
				adv.Next()
				if adv.valid {
					return adv
				}
			}
			return c
		}
		i := n.search(target)
		routeIdx := i
		if routeIdx < len(n.keys) && n.keys[routeIdx] == target {
			routeIdx++
		}
		c.stack = append(c.stack, cursorFrame{n: n, idx: routeIdx})
		n = n.children[routeIdx]
	}
	return c
}

// seekFirst positions a cursor at the smallest key in the tree.
func seekFirst(root *node) *cursor {
	if root == nil {
		return &cursor{}
	}
	return seekCursor(root, 0)
}

func (c *cursor) Valid() bool { return c.valid }

func (c *cursor) leafFrame() *cursorFrame { return &c.stack[len(c.stack)-1] }

func (c *cursor) Key() uint64 {
	f := c.leafFrame()
	return f.n.keys[f.idx]
}

func (c *cursor) Cell() Cell {
	f := c.leafFrame()
	return f.n.cells[f.idx]
}

// Next advances to the next key in ascending order.
func (c *cursor) Next() {
	if !c.valid {
		return
	}
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		top.idx++
		if top.n.leaf {
			if top.idx < len(top.n.keys) {
				return
			}
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		// Internal frame: descend into the new child's leftmost leaf.
		if top.idx < len(top.n.children) {
			n := top.n.children[top.idx]
			for !n.leaf {
				c.stack = append(c.stack, cursorFrame{n: n, idx: 0})
				n = n.children[0]
			}
			c.stack = append(c.stack, cursorFrame{n: n, idx: 0})
			if len(n.keys) > 0 {
				return
			}
			continue
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.valid = false
}

// predecessorOf returns the cursor positioned one key before target, or
// !Valid() if target is the smallest key (or the tree is empty).
func predecessorOf(root *node, target uint64) *cursor {
	c := seekCursor(root, target)
	if len(c.stack) == 0 {
		return &cursor{}
	}
	f := &c.stack[len(c.stack)-1]
	if f.idx > 0 {
		f.idx--
		c.valid = true
		return c
	}
	// Walk back up to find an ancestor with a previous child/key.
	for i := len(c.stack) - 2; i >= 0; i-- {
		if c.stack[i].idx > 0 {
			c.stack[i].idx--
			c.stack = c.stack[:i+1]
			n := c.stack[i].n.children[c.stack[i].idx]
			for !n.leaf {
				c.stack = append(c.stack, cursorFrame{n: n, idx: len(n.children) - 1})
				n = n.children[len(n.children)-1]
			}
			c.stack = append(c.stack, cursorFrame{n: n, idx: len(n.keys) - 1})
			c.valid = len(n.keys) > 0
			return c
		}
	}
	return &cursor{}
}

// forEach visits every (key, cell) pair in ascending order.
func forEach(root *node, fn func(key uint64, cell Cell) bool) {
	c := seekFirst(root)
	for c.Valid() {
		if !fn(c.Key(), c.Cell()) {
			return
		}
		c.Next()
	}
}

// count returns the number of entries in the tree by a full walk (used
// by Size; ChildSubtreeCount in database.go uses a bounded seek
// instead).
func count(root *node) int {
	n := 0
	forEach(root, func(uint64, Cell) bool { n++; return true })
	return n
}
