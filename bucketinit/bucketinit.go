// Package bucketinit implements StorageBucketDBInitializer (spec §4.12):
// on node open, fan out ReadBucketList across every (bucket space,
// partition) pair, register every returned bucket, detect and resolve
// ideal-disk collisions via InternalBucketJoin, then run a bounded
// bucket-info scan phase and republish progress as node state until
// every list, join, and pending info read has drained.
package bucketinit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/rpcpool/contentnode/bucket"
	"github.com/rpcpool/contentnode/storbucketdb"
)

// BucketSpace names one of the node's bucket spaces (spec §4.12 "for
// each (bucket space × partition) pair"); the bucket space/partition
// concepts themselves belong to the persistence SPI, an external
// collaborator per spec §1.
type BucketSpace string

// Partition identifies one on-disk partition within a bucket space.
type Partition int

// BucketListEntry is one entry of a ReadBucketList reply: a bucket the
// persistence layer knows about, and which disk (partition-local slot)
// it currently lives on.
type BucketListEntry struct {
	Bucket bucket.Id
	Disk   int
}

// PersistenceProvider is the persistence SPI (spec §1, external
// collaborator): supplies bucket lists and per-bucket info on request.
type PersistenceProvider interface {
	ReadBucketList(ctx context.Context, space BucketSpace, partition Partition) ([]BucketListEntry, error)
	ReadBucketInfo(ctx context.Context, space BucketSpace, b bucket.Id, disk int) (storbucketdb.BucketInfo, error)
}

// Joiner performs InternalBucketJoin (spec §4.12): consolidate two
// copies of the same bucket that were registered on different disks.
// Modelled as an external collaborator since the actual join mechanics
// (merging two on-disk bucket directories) sit in the persistence layer.
type Joiner interface {
	InternalBucketJoin(ctx context.Context, space BucketSpace, b bucket.Id, diskA, diskB int) error
}

// Target is one (space, partition) pair to initialize.
type Target struct {
	Space     BucketSpace
	Partition Partition
}

// Config bundles an Initializer's collaborators and targets.
type Config struct {
	DB          *storbucketdb.StorBucketDatabase
	Persistence PersistenceProvider
	Joiner      Joiner
	Targets     []Target
	// ListWeight blends list-phase and scan-phase progress into one
	// number (spec §4.12's progress formula); defaults to 0.5 if zero.
	ListWeight float64
	// InfoReadWindow bounds outstanding ReadBucketInfo commands per
	// (disk, space) iterator (spec §4.12 "[minPending, maxPending]").
	InfoReadWindow int
	ReportState    func(progress float64)
}

// diskRegistry tracks which disk each bucket was first registered on,
// per bucket space, to detect the ideal-disk collisions spec §4.12
// resolves with InternalBucketJoin.
type diskRegistry struct {
	mu   sync.Mutex
	disk map[BucketSpace]map[uint64]int
}

func newDiskRegistry() *diskRegistry {
	return &diskRegistry{disk: make(map[BucketSpace]map[uint64]int)}
}

// register returns the previously registered disk for (space, b) if
// one exists and differs from disk, signalling a collision to resolve.
func (r *diskRegistry) register(space BucketSpace, b bucket.Id, disk int) (collideDisk int, collided bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.disk[space]
	if !ok {
		m = make(map[uint64]int)
		r.disk[space] = m
	}
	key := b.ToKey()
	if prev, ok := m[key]; ok && prev != disk {
		return prev, true
	}
	m[key] = disk
	return 0, false
}

// Initializer drives StorageBucketDBInitializer's two phases: the list
// fan-out, then the bounded bucket-info scan.
type Initializer struct {
	cfg    Config
	disks  *diskRegistry
	mu     sync.Mutex
	listsInFlight   int
	joinsInFlight   int
	joins           sync.WaitGroup
	pendingInfoReads int
	scanProgress    map[scanKey]float64 // per-(space,disk) iterator progress in [0,1]
}

type scanKey struct {
	space BucketSpace
	disk  int
}

// New builds an Initializer ready to Run.
func New(cfg Config) *Initializer {
	if cfg.ListWeight == 0 {
		cfg.ListWeight = 0.5
	}
	if cfg.InfoReadWindow <= 0 {
		cfg.InfoReadWindow = 4
	}
	return &Initializer{cfg: cfg, disks: newDiskRegistry(), scanProgress: make(map[scanKey]float64)}
}

// Run executes the full two-phase init, blocking until every list,
// join, and pending info read has drained and every scan iterator is
// past its tail (spec §4.12 "Init completes when ...").
func (in *Initializer) Run(ctx context.Context) error {
	if err := in.runListPhase(ctx); err != nil {
		return fmt.Errorf("bucketinit: list phase: %w", err)
	}
	in.reportProgress()
	if err := in.runScanPhase(ctx); err != nil {
		in.joins.Wait()
		return fmt.Errorf("bucketinit: scan phase: %w", err)
	}
	in.joins.Wait()
	in.reportProgress()
	klog.Infof("bucketinit: init complete, %d buckets registered", in.cfg.DB.Size())
	return nil
}

// runListPhase fans ReadBucketList out across every target, bounded by
// errgroup (spec §B "parallel per-(space,partition) ReadBucketList
// fan-out").
func (in *Initializer) runListPhase(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	in.mu.Lock()
	in.listsInFlight = len(in.cfg.Targets)
	in.mu.Unlock()

	for _, t := range in.cfg.Targets {
		t := t
		g.Go(func() error {
			defer func() {
				in.mu.Lock()
				in.listsInFlight--
				in.mu.Unlock()
			}()
			entries, err := in.cfg.Persistence.ReadBucketList(gctx, t.Space, t.Partition)
			if err != nil {
				return fmt.Errorf("ReadBucketList(%s, %d): %w", t.Space, t.Partition, err)
			}
			for _, e := range entries {
				in.registerBucket(gctx, t.Space, e)
			}
			return nil
		})
	}
	return g.Wait()
}

// registerBucket is registerBucket of spec §4.12: insert the bucket
// with invalid info, and on an ideal-disk collision with another disk,
// issue InternalBucketJoin to consolidate.
func (in *Initializer) registerBucket(ctx context.Context, space BucketSpace, e BucketListEntry) {
	entry := in.cfg.DB.Get(e.Bucket, true)
	if !entry.Exists() {
		entry.Update(storbucketdb.BucketInfo{}) // invalid info: zero value, Ready=false
	}
	entry.Close()

	if collideDisk, collided := in.disks.register(space, e.Bucket, e.Disk); collided {
		klog.Warningf("bucketinit: bucket %s registered on both disk %d and %d, joining", e.Bucket, collideDisk, e.Disk)
		if in.cfg.Joiner == nil {
			return
		}
		in.mu.Lock()
		in.joinsInFlight++
		in.mu.Unlock()
		in.joins.Add(1)
		go func() {
			defer in.joins.Done()
			defer func() {
				in.mu.Lock()
				in.joinsInFlight--
				in.mu.Unlock()
			}()
			if err := in.cfg.Joiner.InternalBucketJoin(ctx, space, e.Bucket, collideDisk, e.Disk); err != nil {
				klog.Errorf("bucketinit: InternalBucketJoin(%s): %v", e.Bucket, err)
			}
		}()
	}
}

// runScanPhase is the bucket-info scan phase of spec §4.12: for every
// (disk, space) observed during the list phase, keep a bounded window
// of outstanding ReadBucketInfo commands open, refilling as replies
// arrive, until every iterator has passed its tail.
func (in *Initializer) runScanPhase(ctx context.Context) error {
	perDiskBuckets := in.bucketsByDisk()
	if len(perDiskBuckets) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for key, buckets := range perDiskBuckets {
		key, buckets := key, buckets
		g.Go(func() error { return in.scanOneIterator(gctx, key, buckets) })
	}
	return g.Wait()
}

func (in *Initializer) bucketsByDisk() map[scanKey][]bucket.Id {
	out := make(map[scanKey][]bucket.Id)
	in.disks.mu.Lock()
	for space, m := range in.disks.disk {
		for key, disk := range m {
			sk := scanKey{space: space, disk: disk}
			out[sk] = append(out[sk], bucket.FromKey(key))
		}
	}
	in.disks.mu.Unlock()
	for _, buckets := range out {
		sort.Slice(buckets, func(i, j int) bool { return buckets[i].ToKey() < buckets[j].ToKey() })
	}
	return out
}

// scanOneIterator drives one (disk, space) iterator's bounded-window
// ReadBucketInfo fetches in index order, reporting a failed read as a
// warning and erasing the offending bucket from the DB rather than
// failing the whole init (spec §7 "the offending bucket is erased from
// the DB and a warning is logged; init proceeds").
func (in *Initializer) scanOneIterator(ctx context.Context, key scanKey, buckets []bucket.Id) error {
	window := in.cfg.InfoReadWindow
	sem := make(chan struct{}, window)
	var wg sync.WaitGroup

	for i, b := range buckets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		in.mu.Lock()
		in.pendingInfoReads++
		in.mu.Unlock()

		wg.Add(1)
		go func(i int, b bucket.Id) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				in.mu.Lock()
				in.pendingInfoReads--
				in.mu.Unlock()
			}()

			info, err := in.cfg.Persistence.ReadBucketInfo(ctx, key.space, b, key.disk)
			if err != nil {
				klog.Warningf("bucketinit: ReadBucketInfo(%s) failed, erasing: %v", b, err)
				if entry := in.cfg.DB.Get(b, false); entry != nil {
					entry.Remove()
					entry.Close()
				}
				in.mu.Lock()
				in.scanProgress[key] = float64(i+1) / float64(len(buckets))
				in.mu.Unlock()
				return
			}
			entry := in.cfg.DB.Get(b, true)
			entry.Update(info)
			entry.Close()

			in.mu.Lock()
			in.scanProgress[key] = float64(i+1) / float64(len(buckets))
			in.mu.Unlock()
			in.reportProgress()
		}(i, b)
	}
	wg.Wait()
	return nil
}

// reportProgress computes spec §4.12's blended progress figure:
// listWeight*listFraction + (1-listWeight)*min(iteratorProgress), and
// republishes it as node state.
func (in *Initializer) reportProgress() {
	if in.cfg.ReportState == nil {
		return
	}
	in.mu.Lock()
	listTotal := len(in.cfg.Targets)
	listDone := listTotal - in.listsInFlight
	listFraction := 1.0
	if listTotal > 0 {
		listFraction = float64(listDone) / float64(listTotal)
	}
	minScan := 1.0
	any := false
	for _, p := range in.scanProgress {
		any = true
		if p < minScan {
			minScan = p
		}
	}
	if !any {
		minScan = 0
	}
	in.mu.Unlock()

	progress := in.cfg.ListWeight*listFraction + (1-in.cfg.ListWeight)*minScan
	in.cfg.ReportState(progress)
}

// Done reports whether every list, join, and pending info read has
// drained and every scan iterator has passed its tail (spec §4.12).
func (in *Initializer) Done() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.listsInFlight != 0 || in.joinsInFlight != 0 || in.pendingInfoReads != 0 {
		return false
	}
	for _, p := range in.scanProgress {
		if p < 1.0 {
			return false
		}
	}
	return true
}
