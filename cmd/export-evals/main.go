// Command export-evals merges evaluation dumps into one file, converting
// between plain, .gz and .zst CSV on the way.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/freeeve/chessreview/internal/store"
)

func main() {
	var (
		outputPath = flag.String("output", "evals.csv.zst", "Output CSV file (.zst or plain)")
		maxEntries = flag.Int("max-entries", 0, "Keep at most this many positions (0 = unbounded)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-output evals.csv.zst] dump.csv[.zst|.gz] ...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cache := store.NewEvalCache(*maxEntries)
	for _, path := range flag.Args() {
		n, err := cache.LoadFromFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Loaded %d positions from %s\n", n, path)
	}

	stats := cache.Stats()
	fmt.Printf("Cache: %d positions, %d with forced mates\n", stats.Entries, stats.Mates)

	n, err := cache.SaveToFile(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *outputPath, err)
		os.Exit(1)
	}
	fmt.Printf("\nDone! Exported %d positions to %s\n", n, *outputPath)
}
