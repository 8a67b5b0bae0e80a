// Package bucketmanager implements BucketManager (spec §4.11): the
// content node's coordinator between incoming bucket protocol messages
// and the bucket database, including the full-bucket-info worker
// thread, the cluster-state visibility barrier, the write-side conflict
// queue, the last-modified timestamp gate, and min-used-bits tracking.
package bucketmanager

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/rpcpool/contentnode/bucket"
	"github.com/rpcpool/contentnode/storbucketdb"
)

// ReplyStatus is the outcome of a requestBucketInfo or mutation call
// (spec §7).
type ReplyStatus int

const (
	StatusOK ReplyStatus = iota
	StatusRejected
	StatusStaleTimestamp
)

func (s ReplyStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusRejected:
		return "REJECTED"
	case StatusStaleTimestamp:
		return "STALE_TIMESTAMP"
	default:
		return "UNKNOWN"
	}
}

// BucketInfoRequest is requestBucketInfo's input (spec §4.11): an
// explicit, non-empty Buckets list is the "small" synchronous form; an
// empty Buckets list with a ClusterState attached is the "full" form.
type BucketInfoRequest struct {
	Buckets          []bucket.Id
	ClusterState     ClusterState
	DistributionHash string
}

// BucketInfoReply is the outcome of a BucketInfoRequest.
type BucketInfoReply struct {
	Status ReplyStatus
	Reason string
	// Small form: the requested buckets' info, present ones only.
	Entries map[bucket.Id]storbucketdb.BucketInfo
	// Full form: owning distributor -> buckets it owns, per the
	// distribution's current OwnerOf mapping.
	ByDistributor map[uint16][]bucket.Id
}

// Config bundles BucketManager's external collaborators (spec §1: all
// treated as named interfaces, not implemented here).
type Config struct {
	DB           *storbucketdb.StorBucketDatabase
	Distribution Distribution
	// OurDistributionHash is stored but not read: the fast-reject of spec
	// §C compares a full request's DistributionHash against
	// Distribution.Hash(), and is skipped when Distribution is nil.
	OurDistributionHash string
	ReportState         ReportedNodeStateFunc
}

// BucketManager is the content-node coordinator of spec §4.11.
type BucketManager struct {
	cfg     Config
	minBits *MinUsedBitsTracker
	barrier stateBarrier
	conflict *conflictQueue

	fullReqCh chan fullRequest
}

type fullRequest struct {
	req   BucketInfoRequest
	reply chan BucketInfoReply
	seq   uint64
}

// New builds a BucketManager and starts its full-request worker
// goroutine, stopped when ctx is cancelled.
func New(ctx context.Context, cfg Config) *BucketManager {
	m := &BucketManager{
		cfg:       cfg,
		minBits:   NewMinUsedBitsTracker(),
		conflict:  newConflictQueue(),
		fullReqCh: make(chan fullRequest, 64),
	}
	go m.fullRequestWorker(ctx)
	return m
}

// OnSetSystemState is the cluster-state barrier's downward edge (spec
// §4.11): called as the new state is being pushed out to the node.
func (m *BucketManager) OnSetSystemState(version uint32) {
	m.barrier.onSetSystemState(version)
}

// OnSetSystemStateReply is the barrier's upward edge: called once the
// node has finished applying the new state.
func (m *BucketManager) OnSetSystemStateReply(version uint32) {
	m.barrier.onSetSystemStateReply(version)
}

// RequestBucketInfo dispatches a small (synchronous) or full (queued)
// request depending on whether req.Buckets is empty (spec §4.11).
func (m *BucketManager) RequestBucketInfo(ctx context.Context, req BucketInfoRequest) BucketInfoReply {
	if len(req.Buckets) > 0 {
		return m.smallRequestBucketInfo(req)
	}
	return m.fullRequestBucketInfo(ctx, req)
}

// smallRequestBucketInfo answers synchronously under a queue-dispatch
// scope: no cluster-state barrier applies because the caller named the
// exact buckets it wants (spec §4.11).
func (m *BucketManager) smallRequestBucketInfo(req BucketInfoRequest) BucketInfoReply {
	entries := make(map[bucket.Id]storbucketdb.BucketInfo, len(req.Buckets))
	wrapped := m.cfg.DB.GetAll(req.Buckets, false)
	for _, w := range wrapped {
		if w.Exists() {
			entries[w.Bucket()] = w.Value()
		}
		w.Close()
	}
	return BucketInfoReply{Status: StatusOK, Entries: entries}
}

var seqCounter uint64

// fullRequestBucketInfo enqueues a full request and blocks for its
// reply; the worker goroutine (fullRequestWorker) is what actually
// drains the queue and computes the answer (spec §4.11).
func (m *BucketManager) fullRequestBucketInfo(ctx context.Context, req BucketInfoRequest) BucketInfoReply {
	if m.cfg.Distribution != nil && req.DistributionHash != m.cfg.Distribution.Hash() {
		// Supplemented feature (spec SPEC_FULL §C): fast-reject before
		// even queuing if the distributor's view of the distribution
		// config cannot possibly match ours.
		return BucketInfoReply{Status: StatusRejected, Reason: "distribution hash mismatch"}
	}

	seqCounter++
	fr := fullRequest{req: req, reply: make(chan BucketInfoReply, 1), seq: seqCounter}
	select {
	case m.fullReqCh <- fr:
	case <-ctx.Done():
		return BucketInfoReply{Status: StatusRejected, Reason: ctx.Err().Error()}
	}
	select {
	case rep := <-fr.reply:
		return rep
	case <-ctx.Done():
		return BucketInfoReply{Status: StatusRejected, Reason: ctx.Err().Error()}
	}
}

// fullRequestWorker is the single worker thread of spec §4.11: it
// drains every pending full request per loop iteration, keeping only
// the most recent one overall (a single implicit bucket space is
// modelled, and requests are not grouped by DistributionHash) and
// rejecting the superseded ones, then answers the survivor once the
// cluster-state barrier allows it.
func (m *BucketManager) fullRequestWorker(ctx context.Context) {
	var pending []fullRequest
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			klog.Warningf("bucketmanager: worker stopping with %d full requests pending", len(pending))
			for _, p := range pending {
				p.reply <- BucketInfoReply{Status: StatusRejected, Reason: "shutting down"}
			}
			return
		case fr := <-m.fullReqCh:
			pending = append(pending, fr)
			pending = m.drainNonBlocking(pending)
			pending = m.serveLatest(pending)
		case <-ticker.C:
			if len(pending) > 0 {
				pending = m.serveLatest(pending)
			}
		}
	}
}

func (m *BucketManager) drainNonBlocking(pending []fullRequest) []fullRequest {
	for {
		select {
		case fr := <-m.fullReqCh:
			pending = append(pending, fr)
		default:
			return pending
		}
	}
}

// serveLatest supersedes every pending request but the last, then
// serves the survivor if the state barrier is currently open for it.
func (m *BucketManager) serveLatest(pending []fullRequest) []fullRequest {
	if len(pending) == 0 {
		return pending
	}
	if len(pending) > 1 {
		klog.V(3).Infof("bucketmanager: superseding %d stale full requests", len(pending)-1)
	}
	for _, fr := range pending[:len(pending)-1] {
		fr.reply <- BucketInfoReply{Status: StatusRejected, Reason: "superseded by a newer request"}
	}
	latest := pending[len(pending)-1]
	if !m.barrier.ready(latest.req.ClusterState.Version) {
		klog.V(4).Infof("bucketmanager: full request for state version %d held, barrier not ready", latest.req.ClusterState.Version)
		return []fullRequest{latest}
	}
	m.serve(latest)
	return nil
}

func (m *BucketManager) serve(fr fullRequest) {
	buckets := make([]uint64, 0)
	byDist := make(map[uint16][]bucket.Id)
	snap := m.cfg.DB.Snapshot()
	snap.ForEach(func(b bucket.Id, _ storbucketdb.BucketInfo) bool {
		buckets = append(buckets, b.ToKey())
		if m.cfg.Distribution != nil {
			owner := m.cfg.Distribution.OwnerOf(b)
			byDist[owner] = append(byDist[owner], b)
		}
		return true
	})
	snap.Close()

	m.conflict.beginProcessing(buckets)
	fr.reply <- BucketInfoReply{Status: StatusOK, ByDistributor: byDist}
	m.conflict.endProcessing()
}

// MutationRequest describes an incoming put/update/remove command (spec
// §4.11's last-modified timestamp gate).
type MutationRequest struct {
	Bucket    bucket.Id
	Timestamp uint64
	Apply     func(cur storbucketdb.BucketInfo, exists bool) storbucketdb.BucketInfo
}

// ApplyMutation applies a put/update/remove, rejecting it with
// StatusStaleTimestamp if the in-DB lastModified is >= the incoming
// timestamp, then routes its reply through the write-side conflict
// queue before invoking deliver (spec §4.11).
func (m *BucketManager) ApplyMutation(req MutationRequest, deliver func(ReplyStatus)) {
	entry := m.cfg.DB.Get(req.Bucket, true)
	if entry.Exists() && entry.Value().LastModified >= req.Timestamp {
		entry.Close()
		deliver(StatusStaleTimestamp)
		return
	}
	next := req.Apply(entry.Value(), entry.Exists())
	next.LastModified = req.Timestamp
	entry.Update(next)
	entry.Close()

	m.conflict.offerReply(mutationPutUpdateRemove, req.Bucket.ToKey(), func() {
		deliver(StatusOK)
	})
}

// ApplyStructuralChange handles split/join/delete (spec §4.11): while
// any full request is being processed, these enter the conflict FIFO
// and add their bucket to the conflict set whether or not the bucket was
// already in it; when none is being processed, deliver runs at once.
func (m *BucketManager) ApplyStructuralChange(b bucket.Id, deliver func()) {
	m.conflict.offerReply(mutationSplitJoinDelete, b.ToKey(), deliver)
}

// ReportBucketUsedBits records an observed used-bits count from a
// create/merge command, publishing an updated reported node state if it
// lowered the tracked minimum (spec §4.11).
func (m *BucketManager) ReportBucketUsedBits(usedBits uint) {
	if m.minBits.Update(usedBits) && m.cfg.ReportState != nil {
		m.cfg.ReportState(m.minBits.Min())
	}
}

func (m *BucketManager) String() string {
	return fmt.Sprintf("BucketManager(minUsedBits=%d)", m.minBits.Min())
}
