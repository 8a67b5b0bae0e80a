package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/contentnode/internal/fieldindex"
	"github.com/rpcpool/contentnode/internal/fusion"
	"github.com/rpcpool/contentnode/internal/pagedict"
	"github.com/rpcpool/contentnode/internal/posting"
)

func fuseCommand() *cli.Command {
	return &cli.Command{
		Name:  "fuse",
		Usage: "merge N source field-index directories into one output directory",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "input", Usage: "source index root (repeatable)", Required: true},
			&cli.StringFlag{Name: "output", Usage: "merge root directory", Required: true},
			&cli.Uint64Flag{Name: "doc-id-limit", Usage: "one past the highest valid docid across all inputs", Required: true},
			&cli.UintFlag{Name: "min-chunk-docs", Usage: "chunking threshold", Value: 1 << 20},
			&cli.UintFlag{Name: "min-skip-docs", Usage: "skip-table threshold", Value: 1000},
		},
		Action: runFuse,
	}
}

func runFuse(c *cli.Context) error {
	inputs := c.StringSlice("input")
	output := c.String("output")
	docIdLimit := uint32(c.Uint64("doc-id-limit"))
	minChunkDocs := uint32(c.Uint("min-chunk-docs"))
	minSkipDocs := uint32(c.Uint("min-skip-docs"))

	fields, err := discoverFields(inputs)
	if err != nil {
		return fmt.Errorf("fuse: %w", err)
	}
	klog.Infof("fuse: merging %d field(s) from %d input(s) into %s", len(fields), len(inputs), output)

	params := posting.Params{MinChunkDocs: minChunkDocs, MinSkipDocs: minSkipDocs, DocIdLimit: docIdLimit, DynamicK: true}

	flds := make([]fusion.Field, 0, len(fields))
	for _, field := range fields {
		fieldInputs := make([]fusion.Input, 0, len(inputs))
		for _, root := range inputs {
			in, ok, err := openFusionInput(root, field)
			if err != nil {
				return fmt.Errorf("fuse: field %q: %w", field, err)
			}
			if ok {
				fieldInputs = append(fieldInputs, in)
			}
		}
		merger := fusion.NewFieldMerger(filepath.Join(output, field), fieldInputs, params, docIdLimit, minChunkDocs)
		flds = append(flds, fusion.Field{Name: field, Merger: merger})
	}

	f := &fusion.Fusion{Root: output, Fields: flds, DocIDLimit: uint64(docIdLimit)}
	ok, err := f.Run(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("fuse: %w", err)
	}
	if !ok {
		return fmt.Errorf("fuse: fusion did not complete")
	}
	klog.Infof("fuse: done, %s total docs", humanize.Comma(int64(docIdLimit)))
	return nil
}

// discoverFields lists every field subdirectory present under any input
// root, deduplicated and sorted, matching the per-field fusion
// filesystem layout of spec §6.
func discoverFields(inputs []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, root := range inputs {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("reading input root %q: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// openFusionInput opens one (root, field) pair's dictionary and posting
// body as a fusion.Input, or ok=false if this root has no such field.
func openFusionInput(root, field string) (fusion.Input, bool, error) {
	dir := filepath.Join(root, field)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fusion.Input{}, false, nil
	}

	ss, err := os.ReadFile(filepath.Join(dir, "dictionary.ssdat"))
	if err != nil {
		return fusion.Input{}, false, err
	}
	sp, err := os.ReadFile(filepath.Join(dir, "dictionary.spdat"))
	if err != nil {
		return fusion.Input{}, false, err
	}
	p, err := os.ReadFile(filepath.Join(dir, "dictionary.pdat"))
	if err != nil {
		return fusion.Input{}, false, err
	}
	dict, err := pagedict.Open(p, sp, ss)
	if err != nil {
		return fusion.Input{}, false, err
	}
	postings, err := os.ReadFile(filepath.Join(dir, "posocc.dat.compressed"))
	if err != nil {
		return fusion.Input{}, false, err
	}
	return fusion.Input{Dict: dict, Postings: postings, Remap: fieldindex.CollectionRemap{}}, true, nil
}
