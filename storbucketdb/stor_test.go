package storbucketdb

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/contentnode/bucket"
)

func TestStorGetUpdateSize(t *testing.T) {
	s := NewStor(3)
	b := bucket.New(10, 7)

	entry := s.Get(b, true)
	require.NotNil(t, entry)
	entry.Update(BucketInfo{DocCount: 5, Ready: true})
	entry.Close()

	assert.Equal(t, 1, s.Size())

	entry = s.Get(b, false)
	require.NotNil(t, entry)
	assert.Equal(t, uint32(5), entry.Value().DocCount)
	assert.True(t, entry.Value().Ready)
	entry.Close()
}

func TestWriteStatusXML(t *testing.T) {
	s := NewStor(2)
	b := bucket.New(8, 1)
	entry := s.Get(b, true)
	entry.Update(BucketInfo{DocCount: 3, ByteSize: 1024, Checksum: 0xdeadbeef, Ready: true, Active: true})
	entry.Close()

	var buf bytes.Buffer
	require.NoError(t, s.WriteStatusXML(&buf))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<buckets>"))
	assert.Contains(t, out, "docCount>3<")
	assert.Contains(t, out, "0xdeadbeef")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "</buckets>"))
}

func TestWriteStatusHTML(t *testing.T) {
	s := NewStor(2)
	entry := s.Get(bucket.New(8, 1), true)
	entry.Update(BucketInfo{})
	entry.Close()

	var buf bytes.Buffer
	require.NoError(t, s.WriteStatusHTML(&buf))
	assert.Contains(t, buf.String(), "Buckets: 1")
	assert.Contains(t, buf.String(), "?showall")
}

func TestDistributorGcTimestampUpdateDoesNotTouchReplicas(t *testing.T) {
	d := NewDistributor()
	b := bucket.New(8, 1)
	replicas := []BucketCopy{{Node: 1, Checksum: 42}}
	d.Update(b, DistributorEntry{GcTimestamp: 1, Replicas: replicas})

	ok := d.UpdateGcTimestamp(b, 99)
	assert.True(t, ok)

	v, ok := d.Get(b)
	require.True(t, ok)
	assert.Equal(t, uint32(99), v.GcTimestamp)
	assert.Equal(t, replicas, v.Replicas)
}

func TestDistributorFindParentsAndSelf(t *testing.T) {
	d := NewDistributor()
	root := bucket.New(1, 0)
	child := root.Child(1)
	d.Update(root, DistributorEntry{GcTimestamp: 1})
	d.Update(child, DistributorEntry{GcTimestamp: 2})

	entries := d.FindParentsAndSelf(child)
	require.Len(t, entries, 2)
	assert.Equal(t, root, entries[0].Bucket)
	assert.Equal(t, child, entries[1].Bucket)
}
