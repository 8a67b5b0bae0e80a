package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/contentnode/bucket"
	"github.com/rpcpool/contentnode/storbucketdb"
)

func bucketdbCommand() *cli.Command {
	return &cli.Command{
		Name:  "bucketdb",
		Usage: "inspect and benchmark the bucket database",
		Subcommands: []*cli.Command{
			{
				Name:  "dump",
				Usage: "populate a bucket DB with N random buckets and dump the status-page contract",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Value: 1000},
					&cli.BoolFlag{Name: "showall", Usage: "emit the XML ?showall form instead of the HTML summary"},
				},
				Action: runBucketdbDump,
			},
			{
				Name:  "bench",
				Usage: "exercise insert/lookup/snapshot against a generated bucket set",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Value: 100_000},
					&cli.UintFlag{Name: "stripe-bits", Value: 4},
				},
				Action: runBucketdbBench,
			},
		},
	}
}

func randomBucketSet(n int, seed int64) []bucket.Id {
	r := rand.New(rand.NewSource(seed))
	out := make([]bucket.Id, n)
	for i := range out {
		usedBits := uint(8 + r.Intn(40))
		out[i] = bucket.New(usedBits, r.Uint64())
	}
	return out
}

func runBucketdbDump(c *cli.Context) error {
	count := c.Int("count")
	db := storbucketdb.NewStor(4)
	for i, b := range randomBucketSet(count, 1) {
		entry := db.Get(b, true)
		entry.Update(storbucketdb.BucketInfo{DocCount: uint32(i), Ready: true, Active: true})
		entry.Close()
	}

	if c.Bool("showall") {
		return db.WriteStatusXML(os.Stdout)
	}
	return db.WriteStatusHTML(os.Stdout)
}

func runBucketdbBench(c *cli.Context) error {
	count := c.Int("count")
	stripeBits := c.Uint("stripe-bits")

	buckets := randomBucketSet(count, 2)
	db := storbucketdb.NewStor(stripeBits)

	start := time.Now()
	for i, b := range buckets {
		entry := db.Get(b, true)
		entry.Update(storbucketdb.BucketInfo{DocCount: uint32(i)})
		entry.Close()
	}
	insertElapsed := time.Since(start)

	start = time.Now()
	hits := 0
	for _, b := range buckets {
		entry := db.Get(b, false)
		if entry != nil {
			if entry.Exists() {
				hits++
			}
			entry.Close()
		}
	}
	lookupElapsed := time.Since(start)

	start = time.Now()
	snap := db.Snapshot()
	n := 0
	snap.ForEach(func(bucket.Id, storbucketdb.BucketInfo) bool { n++; return true })
	snap.Close()
	snapshotElapsed := time.Since(start)

	klog.Infof("bucketdb bench: %s buckets, %d stripes", humanize.Comma(int64(count)), 1<<stripeBits)
	fmt.Printf("insert:   %v (%d entries)\n", insertElapsed, count)
	fmt.Printf("lookup:   %v (%d hits)\n", lookupElapsed, hits)
	fmt.Printf("snapshot: %v (%d entries iterated)\n", snapshotElapsed, n)
	return nil
}
