// Package main provides tdinfo, a small inspector for memmapped
// tensordict directories: it walks the meta.json sidecars and prints
// the container structure without touching the leaf data.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/born-ml/tensordict"
	"github.com/born-ml/tensordict/internal/serialization"
)

const version = "v0.1.0-dev"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tdinfo [-v] <dir>\n\n")
		fmt.Fprintf(os.Stderr, "Inspect a memmapped tensordict directory.\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("tdinfo %s\n", version)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		tensordict.SetLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(zerolog.DebugLevel).With().Timestamp().Logger())
	}

	dir := flag.Arg(0)
	total, err := printDir(dir, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tdinfo: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\ntotal leaf data: %s\n", humanize.IBytes(total))
}

// printDir renders one container directory and returns the byte size
// of the leaf data under it.
func printDir(dir string, depth int) (uint64, error) {
	meta, err := serialization.ReadMeta(dir)
	if err != nil {
		return 0, err
	}
	pad := strings.Repeat("  ", depth)

	header := fmt.Sprintf("%stensordict batch_size=%v", pad, meta.BatchSize)
	if meta.Device != nil {
		header += " device=" + *meta.Device
	}
	if meta.Stack != nil {
		header += fmt.Sprintf(" stacked dim=%d count=%d", meta.Stack.StackDim, meta.Stack.Count)
	}
	fmt.Println(header)

	var total uint64
	for _, l := range meta.Leaves {
		total += uint64(l.Size)
		fmt.Printf("%s  %s: %s %v (%s)\n", pad, l.Key, l.DType, l.Shape, humanize.IBytes(uint64(l.Size)))
	}
	for _, key := range meta.Dicts {
		fmt.Printf("%s  %s/\n", pad, key)
		sub, err := printDir(filepath.Join(dir, key), depth+2)
		if err != nil {
			return 0, err
		}
		total += sub
	}
	if meta.Stack != nil {
		for i := 0; i < meta.Stack.Count; i++ {
			fmt.Printf("%s  [%d]\n", pad, i)
			sub, err := printDir(filepath.Join(dir, strconv.Itoa(i)), depth+2)
			if err != nil {
				return 0, err
			}
			total += sub
		}
	}
	return total, nil
}
