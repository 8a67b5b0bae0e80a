package bucketmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/contentnode/bucket"
	"github.com/rpcpool/contentnode/storbucketdb"
)

func newTestManager(t *testing.T) (*BucketManager, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	db := storbucketdb.NewStor(2)
	m := New(ctx, Config{DB: db})
	t.Cleanup(cancel)
	return m, cancel
}

func TestMinUsedBitsTracker(t *testing.T) {
	tr := NewMinUsedBitsTracker()
	assert.Equal(t, uint(bucket.UsedBitsMax), tr.Min())

	assert.True(t, tr.Update(10))
	assert.Equal(t, uint(10), tr.Min())

	assert.False(t, tr.Update(20), "a higher used-bits count must not change the minimum")
	assert.Equal(t, uint(10), tr.Min())

	assert.True(t, tr.Update(3))
	assert.Equal(t, uint(3), tr.Min())
}

func TestStateBarrierReady(t *testing.T) {
	var b stateBarrier
	assert.False(t, b.ready(1), "a fresh barrier is not ready for version 1 until initiated/completed agree on it")

	b.onSetSystemState(1)
	assert.False(t, b.ready(1), "not ready until the reply arrives")

	b.onSetSystemStateReply(1)
	assert.True(t, b.ready(1))

	b.onSetSystemState(2)
	assert.False(t, b.ready(2), "not ready while a newer state is still being applied")
	assert.False(t, b.ready(1), "stale version is not ready once a newer one is in flight")
}

func TestConflictQueueHoldsMutationDuringProcessing(t *testing.T) {
	q := newConflictQueue()
	q.beginProcessing([]uint64{42})

	delivered := false
	q.offerReply(mutationPutUpdateRemove, 42, func() { delivered = true })
	assert.False(t, delivered, "a mutation reply for a bucket in the conflict set must be held")

	q.endProcessing()
	assert.True(t, delivered, "ending processing must drain the held reply")
}

func TestConflictQueuePassesThroughUnrelatedBucket(t *testing.T) {
	q := newConflictQueue()
	q.beginProcessing([]uint64{42})

	delivered := false
	q.offerReply(mutationPutUpdateRemove, 99, func() { delivered = true })
	assert.True(t, delivered, "a mutation for a bucket outside the conflict set must not be held")
}

func TestConflictQueueStructuralChangeAlwaysHeldAndOrdered(t *testing.T) {
	q := newConflictQueue()
	q.beginProcessing([]uint64{1})

	var order []int
	q.offerReply(mutationSplitJoinDelete, 1, func() { order = append(order, 1) })
	q.offerReply(mutationPutUpdateRemove, 1, func() { order = append(order, 2) })
	assert.Empty(t, order)

	q.endProcessing()
	assert.Equal(t, []int{1, 2}, order, "held replies must drain in FIFO arrival order")
}

func TestSmallRequestBucketInfo(t *testing.T) {
	m, _ := newTestManager(t)
	b := bucket.New(8, 1)
	entry := m.cfg.DB.Get(b, true)
	entry.Update(storbucketdb.BucketInfo{DocCount: 3, Ready: true})
	entry.Close()

	missing := bucket.New(8, 2)
	reply := m.RequestBucketInfo(context.Background(), BucketInfoRequest{Buckets: []bucket.Id{b, missing}})
	assert.Equal(t, StatusOK, reply.Status)
	require.Contains(t, reply.Entries, b)
	assert.Equal(t, uint32(3), reply.Entries[b].DocCount)
	assert.NotContains(t, reply.Entries, missing)
}

func TestApplyMutationStaleTimestampRejected(t *testing.T) {
	m, _ := newTestManager(t)
	b := bucket.New(8, 1)

	var status ReplyStatus
	m.ApplyMutation(MutationRequest{
		Bucket:    b,
		Timestamp: 10,
		Apply: func(cur storbucketdb.BucketInfo, exists bool) storbucketdb.BucketInfo {
			cur.DocCount = 1
			return cur
		},
	}, func(s ReplyStatus) { status = s })
	assert.Equal(t, StatusOK, status)

	m.ApplyMutation(MutationRequest{
		Bucket:    b,
		Timestamp: 5, // stale: less than the entry's LastModified=10
		Apply: func(cur storbucketdb.BucketInfo, exists bool) storbucketdb.BucketInfo {
			cur.DocCount = 2
			return cur
		},
	}, func(s ReplyStatus) { status = s })
	assert.Equal(t, StatusStaleTimestamp, status)

	check := m.cfg.DB.Get(b, false)
	require.NotNil(t, check)
	assert.Equal(t, uint32(1), check.Value().DocCount, "a stale mutation must not modify the stored value")
	check.Close()
}

func TestReportBucketUsedBitsPublishesOnDecrease(t *testing.T) {
	var reported []uint
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := storbucketdb.NewStor(2)
	m := New(ctx, Config{DB: db, ReportState: func(minUsedBits uint) { reported = append(reported, minUsedBits) }})

	m.ReportBucketUsedBits(20)
	m.ReportBucketUsedBits(30) // higher: no report
	m.ReportBucketUsedBits(5)

	require.Len(t, reported, 2)
	assert.Equal(t, uint(20), reported[0])
	assert.Equal(t, uint(5), reported[1])
}

func TestFullRequestBucketInfoWorksOnceBarrierReady(t *testing.T) {
	m, _ := newTestManager(t)
	b := bucket.New(8, 1)
	entry := m.cfg.DB.Get(b, true)
	entry.Update(storbucketdb.BucketInfo{DocCount: 1})
	entry.Close()

	m.OnSetSystemState(1)
	m.OnSetSystemStateReply(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply := m.RequestBucketInfo(ctx, BucketInfoRequest{ClusterState: ClusterState{Version: 1}})
	assert.Equal(t, StatusOK, reply.Status)
}
