package storbucketdb

import (
	"fmt"
	"io"

	"github.com/rpcpool/contentnode/bucket"
	"github.com/rpcpool/contentnode/bucketdb"
	"github.com/rpcpool/contentnode/bucketdb/lockable"
)

// StorBucketDatabase is the content node's bucket DB facade (spec
// §4.9/§4.10): a StripedBTreeLockableMap[BucketInfo], the concrete
// implementation of the spec's "StorBucketDatabase (content-node
// facade)".
type StorBucketDatabase struct {
	m *lockable.StripedMap[BucketInfo]
}

// NewStor builds a StorBucketDatabase with 2^stripeBits stripes.
func NewStor(stripeBits uint) *StorBucketDatabase {
	return &StorBucketDatabase{m: lockable.NewStriped[BucketInfo](stripeBits, bucketInfoTraits{})}
}

// Get locks b (blocking if another caller currently holds it) and
// returns its WrappedEntry; the caller must Close it. createIfNonExisting
// lets a caller lock a bucket that does not exist yet, prior to an
// Update that will create it.
func (s *StorBucketDatabase) Get(b bucket.Id, createIfNonExisting bool) *lockable.WrappedEntry[BucketInfo] {
	return s.m.Get(b, createIfNonExisting)
}

func (s *StorBucketDatabase) GetAll(buckets []bucket.Id, createIfNonExisting bool) []*lockable.WrappedEntry[BucketInfo] {
	return s.m.GetAll(buckets, createIfNonExisting)
}

func (s *StorBucketDatabase) GetContained(b bucket.Id) []*lockable.WrappedEntry[BucketInfo] {
	return s.m.GetContained(b)
}

func (s *StorBucketDatabase) Size() int { return s.m.Size() }

// Snapshot takes a globally key-ordered, point-in-time view across
// every stripe (spec §4.10 ReadGuard).
func (s *StorBucketDatabase) Snapshot() *lockable.ReadGuard[BucketInfo] { return s.m.Snapshot() }

// WriteStatusXML renders the ?showall XML status-page contract of
// spec §6: a stream of <bucket id="0x..."> elements, one per live
// entry, in ascending key order.
func (s *StorBucketDatabase) WriteStatusXML(w io.Writer) error {
	if _, err := io.WriteString(w, "<buckets>\n"); err != nil {
		return err
	}
	snap := s.Snapshot()
	defer snap.Close()
	var writeErr error
	snap.ForEach(func(b bucket.Id, info BucketInfo) bool {
		_, writeErr = fmt.Fprintf(w,
			"  <bucket id=\"0x%016x\"><docCount>%d</docCount><byteSize>%d</byteSize>"+
				"<checksum>0x%08x</checksum><metaCount>%d</metaCount>"+
				"<active>%t</active><ready>%t</ready><lastModified>%d</lastModified></bucket>\n",
			b.ToKey(), info.DocCount, info.ByteSize, info.Checksum, info.MetaCount,
			info.Active, info.Ready, info.LastModified)
		return writeErr == nil
	})
	if writeErr != nil {
		return writeErr
	}
	_, err := io.WriteString(w, "</buckets>\n")
	return err
}

// WriteStatusHTML renders the navigation (non-showall) status-page
// contract of spec §6: a summary count and a link-style listing rather
// than a full dump.
func (s *StorBucketDatabase) WriteStatusHTML(w io.Writer) error {
	_, err := fmt.Fprintf(w, "<html><body><h1>Buckets: %d</h1>"+
		"<p><a href=\"?showall\">show all</a></p></body></html>\n", s.Size())
	return err
}

// DistributorDatabase is BTreeBucketDatabase (spec §4.9): the
// distributor-side facade, a plain bucketdb.Database since spec §4.10's
// per-key locking is a content-node-only requirement.
type DistributorDatabase struct {
	db *bucketdb.Database[DistributorEntry]
}

func NewDistributor() *DistributorDatabase {
	return &DistributorDatabase{db: bucketdb.New[DistributorEntry](distributorTraits{})}
}

func (d *DistributorDatabase) Get(b bucket.Id) (DistributorEntry, bool) { return d.db.Get(b) }
func (d *DistributorDatabase) Update(b bucket.Id, v DistributorEntry)   { d.db.Update(b, v) }
func (d *DistributorDatabase) Remove(b bucket.Id)                      { d.db.Remove(b) }

// UpdateGcTimestamp folds a new GC timestamp into b's cell without
// touching the replica array (spec §3).
func (d *DistributorDatabase) UpdateGcTimestamp(b bucket.Id, ts uint32) bool {
	return d.db.UpdateTag(b, ts)
}

func (d *DistributorDatabase) FindParentsAndSelf(b bucket.Id) []bucketdb.Entry[DistributorEntry] {
	return d.db.FindParentsAndSelf(b)
}

func (d *DistributorDatabase) FindParentsSelfAndChildren(b bucket.Id) []bucketdb.Entry[DistributorEntry] {
	return d.db.FindParentsSelfAndChildren(b)
}

func (d *DistributorDatabase) Snapshot() *bucketdb.Snapshot[DistributorEntry] { return d.db.Snapshot() }

func (d *DistributorDatabase) Size() int { return d.db.Size() }
