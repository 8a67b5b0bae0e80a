package fusion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// FlushToken lets a caller request cooperative cancellation of an
// in-flight fusion (spec §4.10: "flushToken.stopRequested").
type FlushToken interface {
	StopRequested() bool
}

// Field bundles everything one call to Fusion.Run needs to merge a
// single field: its merge-root-relative name and the FieldMerger built
// for it.
type Field struct {
	Name   string
	Merger *FieldMerger
}

// Fusion drives one FieldMerger per index field to completion, bounded
// to half the available parallelism via errgroup.SetLimit — the same
// bounded-fan-out idiom the teacher uses for concurrent CAR scans
// (multiepoch-getBlock.go's `wg.SetLimit(runtime.NumCPU() * 2)`), here
// halved per spec §4.8 ("bounded at half the executor's thread count").
type Fusion struct {
	Root       string
	Fields     []Field
	DocIDLimit uint64
}

// Run executes every field's merger, each repeatedly calling Step until
// done or failed, and reports whether the whole fusion succeeded (spec
// §4.8: "failure of any field marks the fusion failed"). On success,
// `schema.txt`-equivalent bookkeeping is left to the caller; Run itself
// only guarantees the per-field directory contracts (`.mergeocc_done`,
// no leftover tmp dirs) and the docIdLimit stamp file.
func (f *Fusion) Run(ctx context.Context, token FlushToken) (bool, error) {
	if err := os.MkdirAll(f.Root, 0o755); err != nil {
		return false, fmt.Errorf("fusion: creating merge root: %w", err)
	}
	if err := os.WriteFile(filepath.Join(f.Root, "docIdLimit"), []byte(fmt.Sprintf("%d", f.DocIDLimit)), 0o644); err != nil {
		return false, fmt.Errorf("fusion: writing docIdLimit stamp: %w", err)
	}

	limit := runtime.NumCPU() / 2
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	flushFn := func() bool {
		if gctx.Err() != nil {
			return true
		}
		return token != nil && token.StopRequested()
	}

	for _, fld := range f.Fields {
		fld := fld
		g.Go(func() error {
			return runFieldMergerTask(gctx, fld, flushFn)
		})
	}

	err := g.Wait()
	if err != nil {
		klog.Errorf("fusion: field merge failed: %v", err)
		return false, err
	}
	if flushFn() {
		klog.Warning("fusion: stopped by flush token before completion")
		return false, nil
	}
	return true, nil
}

// runFieldMergerTask is FieldMergerTask::run of spec §4.8: drive one
// chunk of the state machine at a time, rescheduling until the merger
// is done or failed, checking the context/flush token between chunks so
// a cancelled fusion stops promptly without leaving partial state.
func runFieldMergerTask(ctx context.Context, fld Field, flushToken func() bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := fld.Merger.Step(flushToken)
		if err != nil {
			return fmt.Errorf("fusion: field %q: %w", fld.Name, err)
		}
		if done {
			if fld.Merger.Failed() != nil {
				return fmt.Errorf("fusion: field %q: %w", fld.Name, fld.Merger.Failed())
			}
			return nil
		}
	}
}
