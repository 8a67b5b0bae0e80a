package bucketmanager

import "github.com/rpcpool/contentnode/bucket"

// Distribution is the external collaborator (spec §1 "cluster state and
// distribution subsystem") that maps a bucket to the distributor
// currently responsible for it, and exposes a hash identifying the
// distribution config so a distributor's request can be fast-rejected
// if it was built against a different one (spec §C "distribution hash
// mismatch fast-reject").
type Distribution interface {
	OwnerOf(b bucket.Id) (distributorIndex uint16)
	Hash() string
}

// ClusterState is the minimal state-version contract the barrier in
// spec §4.11 needs: a monotonically increasing version number. The full
// cluster state object (node up/down, distribution config generation,
// etc.) is an external collaborator per spec §1 and is not modelled
// here beyond this.
type ClusterState struct {
	Version uint32
}

// ReportedNodeStateFunc publishes an updated reported node state (spec
// §4.11 "min-used-bits tracking ... publishes an updated reported node
// state"). The actual node-state object and its transport are external
// collaborators; this is the narrow seam the bucket manager calls into.
// The initializer reports its progress through its own
// bucketinit.Config.ReportState callback instead.
type ReportedNodeStateFunc func(minUsedBits uint)
