// Command nodebloom partitions a node/piece id log by node id and writes
// one Bloom filter per node (spec §6). It takes a single positional
// argument, the path to the input log, reads no environment variables,
// and exits non-zero on any unrecoverable I/O error.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/storj-tools/nodebloom/internal/partition"
	"github.com/storj-tools/nodebloom/internal/progress"
	"github.com/storj-tools/nodebloom/internal/runlog"
	"github.com/storj-tools/nodebloom/internal/taskpool"
	"github.com/storj-tools/nodebloom/segmentmanager"
)

// runLogDir holds the forensic event trail (internal/runlog) a run emits
// alongside its scratch partition files, in the current working directory
// per spec §6.
const runLogDir = ".nodebloom-runlog"

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <input-log>\n", os.Args[0])
		os.Exit(1)
	}

	sm, err := segmentmanager.NewDiskSegmentManager(runLogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nodebloom: failed to open run log: %v\n", err)
		os.Exit(1)
	}
	rl := runlog.NewWriter(256, sm)

	workers := runtime.NumCPU()
	pool := taskpool.New(workers)
	log := progress.New(os.Stdout)
	splitter := partition.New(pool, log, partition.WithStrands(workers), partition.WithRunLog(rl))

	runErr := splitter.Run(os.Args[1])
	if err := rl.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close run log: %w", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "nodebloom: %v\n", runErr)
		os.Exit(1)
	}
}
