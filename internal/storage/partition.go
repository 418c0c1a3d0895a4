package storage

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/myuser/shardkv/internal/metrics"
)

// Partition holds one copy of a shard: key -> compressed value.
// It is only reached through the Store, which owns the locking.
// Methods named read/write/remove/ascend expect the caller to hold mu.
type Partition struct {
	mu   sync.RWMutex
	tree *btree.BTree
	size int // compressed bytes held

	shard int
	index int // position in siblings; 0 is the primary

	// siblings is the replica set this partition belongs to, shared by
	// every member and fixed after construction.
	siblings []*Partition

	degraded atomic.Bool
	logger   *slog.Logger

	// writeHook runs before every write or remove. Tests use it to inject
	// replica failures.
	writeHook func(key []byte) error
}

type item struct {
	key   []byte
	value []byte
}

func (i *item) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*item).key) < 0
}

func newPartition(shard, index int, logger *slog.Logger) *Partition {
	return &Partition{
		tree:   btree.New(32),
		shard:  shard,
		index:  index,
		logger: logger,
	}
}

// guard runs fn as a critical section. A panic inside fn marks the
// partition degraded and comes back as ErrPartitionDegraded; the caller's
// deferred unlock still runs, so the lock stays usable.
func (p *Partition) guard(op string, fn func() error) (err error) {
	if p.degraded.Load() {
		return p.degradedErr()
	}
	defer func() {
		if r := recover(); r != nil {
			p.degraded.Store(true)
			metrics.Inc(metrics.StoreDegraded)
			p.logger.Error("partition degraded",
				"shard", p.shard, "replica", p.index, "op", op, "panic", r)
			err = fmt.Errorf("%w: shard %d replica %d: %v", ErrPartitionDegraded, p.shard, p.index, r)
		}
	}()
	return fn()
}

func (p *Partition) degradedErr() error {
	return fmt.Errorf("%w: shard %d replica %d", ErrPartitionDegraded, p.shard, p.index)
}

func (p *Partition) read(key []byte) ([]byte, bool) {
	i := p.tree.Get(&item{key: key})
	if i == nil {
		return nil, false
	}
	return i.(*item).value, true
}

// write inserts or overwrites key. value is shared between replicas and
// must not be modified afterwards.
func (p *Partition) write(key, value []byte) error {
	if p.writeHook != nil {
		if err := p.writeHook(key); err != nil {
			return err
		}
	}
	k := make([]byte, len(key))
	copy(k, key)
	if old := p.tree.ReplaceOrInsert(&item{key: k, value: value}); old != nil {
		p.size -= len(old.(*item).value)
	}
	p.size += len(value)
	return nil
}

func (p *Partition) remove(key []byte) error {
	if p.writeHook != nil {
		if err := p.writeHook(key); err != nil {
			return err
		}
	}
	if old := p.tree.Delete(&item{key: key}); old != nil {
		p.size -= len(old.(*item).value)
	}
	return nil
}

func (p *Partition) ascend(fn func(key, value []byte) bool) {
	p.tree.Ascend(func(i btree.Item) bool {
		it := i.(*item)
		return fn(it.key, it.value)
	})
}

// replaceFrom makes p an exact copy of src. Both locks must be held.
func (p *Partition) replaceFrom(src *Partition) {
	tree := btree.New(32)
	src.tree.Ascend(func(i btree.Item) bool {
		tree.ReplaceOrInsert(i)
		return true
	})
	p.tree = tree
	p.size = src.size
	p.degraded.Store(false)
}
