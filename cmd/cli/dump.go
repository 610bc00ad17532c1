package main

import (
	"fmt"

	"lsmkv/internal/common"
	"lsmkv/internal/db"
)

func dumpIterator(iter common.EntryIterator) {
	fmt.Printf("%-6s %-20s  %s\n", "OP", "KEY", "VALUE")
	fmt.Println()

	count := 0
	for {
		entry, err := iter.Next()
		if err != nil {
			fmt.Printf("error reading entry: %v\n", err)
			return
		}
		if entry == nil {
			break
		}

		count++
		// Truncate key if longer than 20 chars
		key := string(entry.Key)
		if len(key) > 20 {
			key = key[:20]
		}

		if entry.IsTombstone() {
			fmt.Printf("%-6s %-20s\n", "DEL", key)
		} else {
			fmt.Printf("%-6s %-20s  %s\n", "PUT", key, string(entry.Value))
		}
	}

	fmt.Println()
	fmt.Printf("Total entries: %d\n", count)
}

// dumpRange prints the merged view of [from, to). With tombstones set, the
// newest tombstone of each deleted key is listed too.
func dumpRange(engine *db.DB, from, to []byte, tombstones bool) {
	var (
		it  *db.Iterator
		err error
	)
	if tombstones {
		it, err = engine.RangeWithTombstones(from, to)
	} else {
		it, err = engine.Range(from, to)
	}
	if err != nil {
		fmt.Printf("scan error: %v\n", err)
		return
	}
	defer it.Close()

	dumpIterator(it)
}
