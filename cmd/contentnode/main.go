// Command contentnode is the CLI surface of spec §6: a fuse subcommand
// that drives Fusion over a set of source field directories, and a
// bucketdb subcommand that exercises and inspects the bucket database
// (dump the XML/HTML status-page contract, or benchmark insert/lookup/
// snapshot). Flags follow urfave/cli/v2, matching the teacher's
// cmd-x-index-*.go entrypoints (SPEC_FULL §A).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	app := &cli.App{
		Name:  "contentnode",
		Usage: "content node storage engine: fusion and bucket DB tooling",
		Commands: []*cli.Command{
			fuseCommand(),
			bucketdbCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
