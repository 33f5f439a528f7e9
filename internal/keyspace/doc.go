// Package keyspace defines the numeric search space shared by every keysweep
// component and the block partition used by the static strategy.
//
// # Data Model
//
// A Keyspace is an inclusive interval of uint64 candidate keys:
//
//	Keyspace{Start: 0, End: 999}  // 1000 candidates
//
// A Task is a contiguous run of candidates described by its first key and its
// length. Tasks are handed to exactly one worker, by value:
//
//	Task{Start: 400, Count: 100}  // candidates 400..499
//	Task{}                        // Count == 0: no work
//
// The zero-count Task doubles as the "no more work" reply in dynamic mode and
// as the empty sub-range a static participant receives when there are more
// participants than candidates.
//
// A Match is the optional found key. Every key, including 0, is a valid
// candidate, so "not found" is carried by the Found flag and never by a
// reserved key value:
//
//	Match{}                      // nothing found
//	Match{Key: 0, Found: true}   // key 0 matched
//
// # Block Partition
//
// Partition splits a keyspace across n participants so that the union of all
// sub-ranges is the keyspace, no two sub-ranges overlap, and sizes differ by
// at most one. The first total%n participants receive one extra candidate:
//
//	Keyspace [0, 9], n = 4
//	  index 0: [0, 2]  (3)
//	  index 1: [3, 5]  (3)
//	  index 2: [6, 7]  (2)
//	  index 3: [8, 9]  (2)
//
// # Limits
//
// The full range [0, 2^64-1] holds 2^64 keys, one more than a uint64 can
// count, and is rejected by Validate.
package keyspace
