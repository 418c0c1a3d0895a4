// Package storage implements a sharded, synchronously replicated in-memory
// key-value store.
//
// Layout:
//
//	key ──hash mod shards──▶ shard i
//	                         ┌───────────┬───────────┬─────┐
//	                         │ replica 0 │ replica 1 │ ... │   replica set (fixed)
//	                         │ (primary) │           │     │
//	                         └───────────┴───────────┴─────┘
//
// Values are snappy-compressed once per put and the same bytes are stored
// on every replica. Gets read the primary only. Puts lock the primary for
// the entire fan-out, so the primary is read-after-write consistent while
// replicas may briefly lag during a put, or stay behind after a failed one.
//
// A panic while a partition lock is held marks that partition degraded.
// Later operations on it fail with ErrPartitionDegraded until Store.Repair
// copies a healthy replica over it.
package storage
