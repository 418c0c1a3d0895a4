package wal

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/myuser/shardkv/internal/metrics"
)

const defaultBufferSize = 64 * 1024

// Log is an append-only record log with size-triggered rotation.
//
// Records are written verbatim, with no framing, to the active file at path.
// Once the active file reaches maxSize it is flushed, renamed to
// "<path>.<generation>" and replaced by an empty file. Generations are
// zero-padded and strictly increasing, so backups sort by age. At most
// maxFiles backups are kept; older ones are deleted.
//
// All methods are safe for concurrent use; append, rotation and cleanup run
// under a single lock.
type Log struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *bufio.Writer

	size     int64   // bytes in the active file, flushed or buffered
	records  []int64 // sizes of records in the active file, oldest first
	maxSize  int64
	maxFiles int
	gen      uint64 // generation of the newest backup

	opts   options
	closed bool
	broken error // set when the active file handle could not be restored
}

type options struct {
	compactThreshold float64
	sync             bool
	bufferSize       int
	logger           *slog.Logger
}

// Option configures a Log.
type Option func(*options)

// WithCompactThreshold enables compaction. On rotation the outgoing file
// drops its oldest records, keeping records from the first one whose
// cumulative size from the start of the file reaches t*maxSize.
// t must be in [0, 1); 0 disables compaction.
func WithCompactThreshold(t float64) Option {
	return func(o *options) {
		o.compactThreshold = t
	}
}

// WithSync makes every flush also fsync the active file.
func WithSync(enabled bool) Option {
	return func(o *options) {
		o.sync = enabled
	}
}

// WithBufferSize sets the write buffer size.
func WithBufferSize(n int) Option {
	return func(o *options) {
		o.bufferSize = n
	}
}

// WithLogger sets the logger for rotation, cleanup and compaction events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Open opens or creates the log at path in append mode.
// Existing backups are picked up so new generations never collide with them.
func Open(path string, maxSize int64, maxFiles int, opts ...Option) (*Log, error) {
	o := options{bufferSize: defaultBufferSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidConfig, maxSize)
	}
	if maxFiles < 0 {
		return nil, fmt.Errorf("%w: max files must not be negative, got %d", ErrInvalidConfig, maxFiles)
	}
	if o.compactThreshold < 0 || o.compactThreshold >= 1 {
		return nil, fmt.Errorf("%w: compact threshold must be in [0, 1), got %v", ErrInvalidConfig, o.compactThreshold)
	}
	if o.bufferSize <= 0 {
		o.bufferSize = defaultBufferSize
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	f, err := openActive(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &Log{
		path:     path,
		file:     f,
		writer:   bufio.NewWriterSize(f, o.bufferSize),
		size:     info.Size(),
		maxSize:  maxSize,
		maxFiles: maxFiles,
		opts:     o,
	}
	if w.size > 0 {
		// Record boundaries of a reopened file are unknown; treat its
		// contents as one record.
		w.records = []int64{w.size}
	}

	gens, err := w.generations()
	if err != nil {
		f.Close()
		return nil, err
	}
	if len(gens) > 0 {
		w.gen = gens[len(gens)-1]
	}
	return w, nil
}

func openActive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// Append writes record to the log and flushes it. If the active file
// reaches the size limit, the record is flushed into it and the file is
// rotated before Append returns.
//
// The limit applies to the whole active file, not to the bytes buffered
// since the last flush: every Append flushes, so the buffered count never
// grows past one record.
//
// An error wrapping ErrRotate means the record was written to the outgoing
// file but the rotation after it failed.
func (w *Log) Append(record []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.broken != nil {
		return w.broken
	}

	n, err := w.writer.Write(record)
	if err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	if n > 0 {
		w.size += int64(n)
		w.records = append(w.records, int64(n))
	}
	metrics.Inc(metrics.WALAppends)
	metrics.Add(metrics.WALBytes, int64(n))

	if w.size >= w.maxSize {
		if err := w.flush(); err != nil {
			return fmt.Errorf("wal: flush before rotate: %w", err)
		}
		if err := w.rotate(); err != nil {
			return fmt.Errorf("%w: %w", ErrRotate, err)
		}
		return nil
	}
	return w.flush()
}

// Flush writes buffered records to the active file.
func (w *Log) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	return w.flush()
}

func (w *Log) flush() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush %s: %w", w.path, err)
	}
	if w.opts.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: sync %s: %w", w.path, err)
		}
	}
	return nil
}

// rotate moves the flushed active file to the next backup generation.
// On a rename failure the active file stays in place; if the fresh active
// file cannot be created the backup is renamed back.
func (w *Log) rotate() error {
	if w.opts.compactThreshold > 0 {
		if err := w.compact(); err != nil {
			if w.broken != nil {
				return err
			}
			w.opts.logger.Warn("wal compaction before rotate failed", "path", w.path, "error", err)
		}
	}

	next := w.gen + 1
	backup := w.backupPath(next)
	if err := os.Rename(w.path, backup); err != nil {
		return fmt.Errorf("wal: rotate: %w", err)
	}

	f, err := openActive(w.path)
	if err != nil {
		if rerr := os.Rename(backup, w.path); rerr != nil {
			w.broken = fmt.Errorf("wal: rotate: restore %s: %w", w.path, rerr)
			w.opts.logger.Error("wal rotation could not be undone", "path", w.path, "backup", backup, "error", rerr)
		}
		return fmt.Errorf("wal: rotate: %w", err)
	}

	if err := w.file.Close(); err != nil {
		w.opts.logger.Warn("wal close after rotate failed", "path", backup, "error", err)
	}
	w.file = f
	w.writer.Reset(f)
	w.size = 0
	w.records = nil
	w.gen = next

	metrics.Inc(metrics.WALRotations)
	w.opts.logger.Info("wal rotated", "path", w.path, "backup", backup, "generation", next)

	w.cleanup()
	return nil
}

// cleanup deletes the oldest backups beyond maxFiles. Failures are logged
// and counted, never returned. It reports how many files were deleted.
func (w *Log) cleanup() int {
	gens, err := w.generations()
	if err != nil {
		metrics.Inc(metrics.WALCleanupErrors)
		w.opts.logger.Warn("wal cleanup: list backups failed", "path", w.path, "error", err)
		return 0
	}
	if len(gens) <= w.maxFiles {
		return 0
	}

	deleted := 0
	for _, g := range gens[:len(gens)-w.maxFiles] {
		p := w.backupPath(g)
		if err := os.Remove(p); err != nil {
			metrics.Inc(metrics.WALCleanupErrors)
			w.opts.logger.Warn("wal cleanup: remove backup failed", "path", p, "error", err)
			continue
		}
		deleted++
		metrics.Inc(metrics.WALCleanupDeleted)
	}
	return deleted
}

// Compact rewrites the active file using the configured threshold.
// It is a no-op when compaction is disabled.
func (w *Log) Compact() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.broken != nil {
		return w.broken
	}
	if w.opts.compactThreshold <= 0 {
		return nil
	}
	if err := w.flush(); err != nil {
		return err
	}
	return w.compact()
}

// compact drops the oldest records of the flushed active file. The kept
// suffix is written to a temporary file that atomically replaces the
// active one, which is then reopened.
func (w *Log) compact() error {
	limit := int64(w.opts.compactThreshold * float64(w.maxSize))

	var cum, drop int64
	keep := -1
	for i, n := range w.records {
		cum += n
		if cum >= limit {
			keep = i
			break
		}
		drop = cum
	}
	if keep < 0 || drop == 0 {
		return nil
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("wal: compact: %w", err)
	}
	if int64(len(data)) != w.size {
		return fmt.Errorf("wal: compact: %s holds %d bytes, expected %d", w.path, len(data), w.size)
	}

	tmp := w.path + ".compact"
	if err := writeFileSync(tmp, data[drop:]); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("wal: compact: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("wal: compact: %w", err)
	}

	f, err := openActive(w.path)
	if err != nil {
		w.broken = fmt.Errorf("wal: compact: reopen %s: %w", w.path, err)
		return w.broken
	}
	w.file.Close()
	w.file = f
	w.writer.Reset(f)
	w.size -= drop
	w.records = w.records[keep:]

	metrics.Inc(metrics.WALCompactions)
	w.opts.logger.Info("wal compacted", "path", w.path, "dropped_bytes", drop, "kept_bytes", w.size)
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Files returns the backups, oldest first, followed by the active file.
// This is the order records were written in.
func (w *Log) Files() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	gens, err := w.generations()
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(gens)+1)
	for _, g := range gens {
		files = append(files, w.backupPath(g))
	}
	return append(files, w.path), nil
}

// Path returns the active file path.
func (w *Log) Path() string {
	return w.path
}

// Size returns the number of bytes in the active file, including buffered bytes.
func (w *Log) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Generation returns the generation of the newest backup, 0 if none was made.
func (w *Log) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}

// Close flushes and closes the active file. Files on disk are left alone.
func (w *Log) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	ferr := w.flush()
	if err := w.file.Close(); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

func (w *Log) backupPath(gen uint64) string {
	return fmt.Sprintf("%s.%06d", w.path, gen)
}

// generations lists existing backup generations in ascending order.
func (w *Log) generations() ([]uint64, error) {
	dir, base := filepath.Split(w.path)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: list backups: %w", err)
	}

	prefix := base + "."
	var gens []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		g, err := strconv.ParseUint(name[len(prefix):], 10, 64)
		if err != nil || g == 0 {
			continue
		}
		gens = append(gens, g)
	}
	slices.Sort(gens)
	return gens, nil
}
