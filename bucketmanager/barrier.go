package bucketmanager

import "sync/atomic"

// stateBarrier implements the cluster-state visibility barrier of spec
// §4.11/§9: "no full-bucket-info reply may contain a bucket view that
// straddles a cluster-state boundary". onSetSystemState records the
// incoming version as lastInitiated on the way down;
// onSetSystemStateReply records it as lastCompleted on the way up. A
// full request is only answered while lastInitiated == lastCompleted ==
// request.version.
//
// Both fields are plain atomics rather than one lock: they are read far
// more often (every full-request attempt) than written (once per state
// change), and the two-read comparison below is safe to race against a
// concurrent transition because a torn read only ever makes ready()
// return false when the true answer was also momentarily false.
type stateBarrier struct {
	lastInitiated atomic.Uint32
	lastCompleted atomic.Uint32
}

func (b *stateBarrier) onSetSystemState(version uint32) {
	b.lastInitiated.Store(version)
}

func (b *stateBarrier) onSetSystemStateReply(version uint32) {
	b.lastCompleted.Store(version)
}

// ready reports whether a full request built against version may be
// answered right now.
func (b *stateBarrier) ready(version uint32) bool {
	init := b.lastInitiated.Load()
	comp := b.lastCompleted.Load()
	return init == comp && comp == version
}
