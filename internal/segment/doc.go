// Package segment implements the immutable on-disk half of the store.
//
// Segment File Layout:
//
//	<dir>/data<N>.log            ┌───────────┬───────────┬─────┬───────────┐
//	<dir>/comp_data<N>.log       │  entry 0  │  entry 1  │ ... │ entry n-1 │  ascending keys
//	                             └───────────┴───────────┴─────┴───────────┘
//	<dir>/indexes/index<N>.log   ┌───────────┬───────────┬─────┬───────────┐
//	                             │ offset 0  │ offset 1  │ ... │ offset n-1│  int64 each
//	                             └───────────┴───────────┴─────┴───────────┘
//
// N is the segment generation. A comp_data file marks the output of a
// compaction: it supersedes every segment with a lower generation. Generation
// 0 is reserved for a compaction that has not been swapped in yet.
//
// Both files are memory-mapped read-only. A Segment is reference counted and
// its mappings are closed, and for retired segments its files removed, only
// after the last reference is released.
package segment
