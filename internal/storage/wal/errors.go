package wal

import "errors"

var (
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("wal: log is closed")

	// ErrInvalidConfig is returned by Open for a bad size, retention or
	// compaction setting.
	ErrInvalidConfig = errors.New("wal: invalid configuration")

	// ErrRotate is returned by Append when the record reached the outgoing
	// file but the file could not be rotated.
	ErrRotate = errors.New("wal: record written, rotation failed")
)
