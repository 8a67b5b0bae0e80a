// Package storbucketdb implements the two concrete bucket database value
// shapes this system needs: the content node's single BucketInfo
// summary (StorBucketDatabase, backed by a striped lockable map) and
// the distributor's (gcTimestamp, replicas) entry (DistributorDatabase,
// backed directly by a bucketdb.Database since the distributor side has
// no per-key-lock requirement).
package storbucketdb

// BucketInfo is the content-node-side bucket DB value: a summary of one
// bucket's locally stored content.
type BucketInfo struct {
	DocCount     uint32
	ByteSize     uint64
	Checksum     uint32
	MetaCount    uint32
	Active       bool
	Ready        bool
	LastModified uint64
}

// bucketInfoTraits implements bucketdb.Traits[BucketInfo]: BucketInfo
// carries no cell tag word, the whole value always lives in the array
// store.
type bucketInfoTraits struct{}

func (bucketInfoTraits) Tag(BucketInfo) uint32                { return 0 }
func (bucketInfoTraits) WithTag(v BucketInfo, _ uint32) BucketInfo { return v }

// BucketCopy is one replica of a bucket as known to the distributor.
type BucketCopy struct {
	Node     uint16
	Checksum uint32
	BucketInfo
}

// DistributorEntry is the distributor-side bucket DB value: a GC
// timestamp folded into the cell's tag word plus a replica array
// indirected through the array store.
type DistributorEntry struct {
	GcTimestamp uint32
	Replicas    []BucketCopy
}

// distributorTraits implements bucketdb.Traits[DistributorEntry]:
// GcTimestamp is exactly the cell's tag word, so UpdateTag can mutate it
// without touching the array store — the common case of refreshing a
// replica's GC deadline never needs to allocate a new array-store slot.
type distributorTraits struct{}

func (distributorTraits) Tag(v DistributorEntry) uint32 { return v.GcTimestamp }
func (distributorTraits) WithTag(v DistributorEntry, tag uint32) DistributorEntry {
	v.GcTimestamp = tag
	return v
}
