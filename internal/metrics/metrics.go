package metrics

import (
	"sync"
	"sync/atomic"
)

// Counter names shared by the storage engine packages.
const (
	StoreGets          = "store_gets"
	StorePuts          = "store_puts"
	StoreDeletes       = "store_deletes"
	StoreNotFound      = "store_not_found"
	StoreWriteFailures = "store_write_failures"
	StoreDegraded      = "store_degraded"
	StoreRepaired      = "store_repaired"

	WALAppends        = "wal_appends"
	WALBytes          = "wal_bytes"
	WALRotations      = "wal_rotations"
	WALCleanupDeleted = "wal_cleanup_deleted"
	WALCleanupErrors  = "wal_cleanup_errors"
	WALCompactions    = "wal_compactions"

	JournalReplayed = "journal_replayed"
)

// registry maps counter names to *int64. Counters are created on first use
// and never removed; Reset only zeroes them.
var registry sync.Map

// Inc increments a counter by 1.
func Inc(name string) {
	Add(name, 1)
}

// Add adds delta to a counter.
func Add(name string, delta int64) {
	val, ok := registry.Load(name)
	if !ok {
		newVal := new(int64)
		val, _ = registry.LoadOrStore(name, newVal)
	}
	atomic.AddInt64(val.(*int64), delta)
}

// Get returns the current value of a counter.
func Get(name string) int64 {
	val, ok := registry.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(val.(*int64))
}

// Snapshot copies every counter into a plain map.
func Snapshot() map[string]int64 {
	snapshot := make(map[string]int64)
	registry.Range(func(key, value any) bool {
		snapshot[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})
	return snapshot
}

// Reset zeroes all counters. Counters stay registered.
func Reset() {
	registry.Range(func(_, value any) bool {
		atomic.StoreInt64(value.(*int64), 0)
		return true
	})
}
