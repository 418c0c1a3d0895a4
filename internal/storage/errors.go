package storage

import (
	"errors"
	"fmt"

	"github.com/myuser/shardkv/internal/codec"
)

var (
	// ErrKeyNotFound is returned when a key doesn't exist in the store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrCorruptData is returned when a stored value fails to decompress.
	ErrCorruptData = codec.ErrCorruptData

	// ErrInvalidConfig is returned by New for a zero shard or replica count.
	ErrInvalidConfig = errors.New("invalid store configuration")

	// ErrWriteFailure matches every *WriteError.
	ErrWriteFailure = errors.New("replicated write failed")

	// ErrPartitionDegraded is returned by operations on a partition whose
	// lock holder panicked. The partition stays unusable until Repair.
	ErrPartitionDegraded = errors.New("partition degraded")

	// ErrShardOutOfRange is returned for a shard or replica index the store does not have.
	ErrShardOutOfRange = errors.New("shard or replica index out of range")
)

// WriteError reports the replica that failed during a put or delete fan-out.
// Replica 0 is the primary. Other replicas that were written keep the new
// value; nothing is rolled back.
type WriteError struct {
	Shard   int
	Replica int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to shard %d replica %d failed: %v", e.Shard, e.Replica, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWriteFailure, e.Err}
}
