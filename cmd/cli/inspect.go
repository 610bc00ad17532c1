package main

import (
	"fmt"
	"os"

	"lsmkv/internal/common"
	"lsmkv/internal/segment"
)

func inspectGeneration(dir string, gen common.Generation) {
	fmt.Printf("Inspecting generation %d in %s\n", gen, dir)
	fmt.Println()

	seg, err := segment.OpenGeneration(dir, gen, segment.OpenOptions{BloomFPRate: 0.01})
	if err != nil {
		fmt.Printf("failed to open segment: %v\n", err)
		return
	}
	defer seg.DecRef()

	if err := seg.Dump(os.Stdout); err != nil {
		fmt.Printf("error reading segment: %v\n", err)
	}
	fmt.Println()
}
