package main

import (
	"fmt"
	"os"
	"strconv"

	"lsmkv/internal/common"
	"lsmkv/internal/segment"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <dir> <generation>\n", os.Args[0])
		os.Exit(1)
	}

	dir := os.Args[1]
	gen, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil || gen == 0 {
		fmt.Fprintf(os.Stderr, "invalid generation %q\n", os.Args[2])
		os.Exit(1)
	}

	seg, err := segment.OpenGeneration(dir, common.Generation(gen), segment.OpenOptions{
		Logger:      common.NewLogger(nil),
		BloomFPRate: 0.01,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open segment: %v\n", err)
		os.Exit(1)
	}
	defer seg.DecRef()

	if err := seg.Dump(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error reading segment: %v\n", err)
		os.Exit(1)
	}
}
