// Command genlog is the collateral fixture generator spec §6 names but
// excludes from the core: it produces an input log of random node/piece
// id records for benchmarking nodebloom. It is grounded in
// original_source/generator.cpp, which fans a fixed record range out
// across hardware_concurrency() threads, each seeded independently and
// writing into its own byte range of a shared output file; this version
// keeps that fan-out shape with goroutines seeking into their own slice
// of the output instead of raw pthreads.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sync"

	"github.com/storj-tools/nodebloom/internal/identifier"
)

func main() {
	nodes := flag.Int("nodes", 16, "number of distinct node ids to draw from")
	entries := flag.Int64("entries", 1000, "number of records to generate")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-nodes N] [-entries E] <output-path>\n", os.Args[0])
		os.Exit(1)
	}
	if *nodes < 1 {
		fmt.Fprintln(os.Stderr, "genlog: -nodes must be at least 1")
		os.Exit(1)
	}
	outputPath := flag.Arg(0)

	if err := run(*nodes, *entries, outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "genlog: %v\n", err)
		os.Exit(1)
	}
}

func run(nodeCount int, entryCount int64, outputPath string) error {
	gen := rand.New(rand.NewSource(1))
	nodeIDs := make([]identifier.ID, nodeCount)
	for i := range nodeIDs {
		gen.Read(nodeIDs[i][:])
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	if err := out.Truncate(entryCount * identifier.RecordSize); err != nil {
		out.Close()
		return fmt.Errorf("failed to size %s: %w", outputPath, err)
	}

	strands := runtime.NumCPU()
	if int64(strands) > entryCount {
		strands = int(entryCount)
	}
	if strands < 1 {
		strands = 1
	}

	var wg sync.WaitGroup
	errs := make([]error, strands)
	for strand := 0; strand < strands; strand++ {
		startEntry := entryCount * int64(strand) / int64(strands)
		endEntry := entryCount * int64(strand+1) / int64(strands)

		wg.Add(1)
		go func(strand int, startEntry, endEntry int64) {
			defer wg.Done()
			errs[strand] = writeRange(out, nodeIDs, strand, startEntry, endEntry)
		}(strand, startEntry, endEntry)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}

// writeRange fills entries [startEntry, endEntry) of out with random
// records, each drawing a node id from nodeIDs and a fresh random piece
// id, matching generator.cpp's per-thread loop. strand seeds this
// goroutine's generator so repeated runs with the same flags are
// reproducible.
func writeRange(out *os.File, nodeIDs []identifier.ID, strand int, startEntry, endEntry int64) error {
	gen := rand.New(rand.NewSource(int64(strand) + 1))

	entry := make([]byte, identifier.RecordSize)
	for i := startEntry; i < endEntry; i++ {
		var rec identifier.Record
		rec.NodeID = nodeIDs[gen.Intn(len(nodeIDs))]
		gen.Read(rec.PieceID[:])
		rec.Encode(entry)

		if _, err := out.WriteAt(entry, i*identifier.RecordSize); err != nil {
			return fmt.Errorf("failed to write entry %d: %w", i, err)
		}
	}
	return nil
}
