package bucketmanager

import (
	"sync"

	"github.com/rpcpool/contentnode/bucket"
)

// MinUsedBitsTracker is MinimumUsedBitsTracker (spec §4.11): an atomic
// observer of the smallest used-bits count seen across every bucket
// this node has been told about via a create or merge command. A
// decrease means buckets have gotten shallower (a join happened
// elsewhere in the cluster) and the node's reported state should
// reflect the new minimum.
type MinUsedBitsTracker struct {
	mu  sync.Mutex
	min uint
}

func NewMinUsedBitsTracker() *MinUsedBitsTracker {
	return &MinUsedBitsTracker{min: bucket.UsedBitsMax}
}

// Update reports a newly observed used-bits count, returning true if it
// lowered the tracked minimum.
func (t *MinUsedBitsTracker) Update(usedBits uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if usedBits < t.min {
		t.min = usedBits
		return true
	}
	return false
}

func (t *MinUsedBitsTracker) Min() uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.min
}
