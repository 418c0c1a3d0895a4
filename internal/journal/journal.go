// Package journal composes the write-ahead log with the replicated store:
// every mutation is appended to the log before it is applied, and a store
// can be rebuilt by replaying the log files oldest first.
//
// Neither storage nor wal knows about the other; this package is the only
// place they meet.
package journal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/myuser/shardkv/internal/metrics"
	"github.com/myuser/shardkv/internal/storage"
	"github.com/myuser/shardkv/internal/storage/wal"
)

// Log is the append side of a write-ahead log.
type Log interface {
	Append(record []byte) error
}

// Journal logs mutations and then applies them to an engine.
type Journal struct {
	mu     sync.Mutex
	log    Log
	engine storage.Engine
	index  uint64 // sequence number of the last logged mutation
}

// New returns a journal whose sequence numbers start after index.
func New(log Log, engine storage.Engine, index uint64) *Journal {
	return &Journal{log: log, engine: engine, index: index}
}

// Open replays every file of log into engine and returns a journal that
// continues the sequence.
func Open(log *wal.Log, engine storage.Engine) (*Journal, error) {
	files, err := log.Files()
	if err != nil {
		return nil, err
	}
	last, err := Replay(files, engine)
	if err != nil {
		return nil, err
	}
	return New(log, engine, last), nil
}

// Put logs the mutation and, once it is in the log, stores it.
func (j *Journal) Put(key, value []byte) error {
	return j.apply(Mutation{Op: OpPut, Key: key, Value: value})
}

// Delete logs and applies a delete.
func (j *Journal) Delete(key []byte) error {
	return j.apply(Mutation{Op: OpDelete, Key: key})
}

// Index returns the sequence number of the last logged mutation.
func (j *Journal) Index() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.index
}

// apply holds the journal lock across log and store so mutations reach the
// store in log order. A failed rotation still leaves the record in the log,
// so the mutation is applied and the rotation error reported alongside.
func (j *Journal) apply(m Mutation) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, err := encode(j.index+1, m)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	var rotateErr error
	if err := j.log.Append(rec); err != nil {
		if !errors.Is(err, wal.ErrRotate) {
			return fmt.Errorf("journal: append: %w", err)
		}
		rotateErr = fmt.Errorf("journal: append: %w", err)
	}
	j.index++
	return errors.Join(applyTo(j.engine, m), rotateErr)
}

func applyTo(engine storage.Engine, m Mutation) error {
	switch m.Op {
	case OpPut:
		return engine.Put(m.Key, m.Value)
	case OpDelete:
		return engine.Delete(m.Key)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrCorruptRecord, m.Op)
	}
}

// Replay applies the records in files, in order, to engine and returns the
// last sequence number seen. Missing files are skipped. A record cut short
// at the end of the last file is a torn write and is ignored; anywhere else
// it is corruption.
func Replay(files []string, engine storage.Engine) (uint64, error) {
	var last uint64
	for i, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return last, fmt.Errorf("journal: replay: %w", err)
		}

		off, err := decodeFrames(data, func(index uint64, m Mutation) error {
			if err := applyTo(engine, m); err != nil {
				return err
			}
			last = index
			metrics.Inc(metrics.JournalReplayed)
			return nil
		})
		if errors.Is(err, errTruncated) && i == len(files)-1 {
			slog.Warn("journal: ignoring torn record at end of log", "path", path, "offset", off)
			continue
		}
		if errors.Is(err, errTruncated) {
			return last, fmt.Errorf("%w: %s: truncated record at offset %d", ErrCorruptRecord, path, off)
		}
		if err != nil {
			return last, fmt.Errorf("journal: replay %s: %w", path, err)
		}
	}
	return last, nil
}
