package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/myuser/shardkv/internal/codec"
	"github.com/myuser/shardkv/internal/metrics"
	"github.com/myuser/shardkv/internal/router"
)

// Store shards keys across a fixed number of replica sets.
//
// Reads go to the primary of the key's shard only. A put or delete holds the
// primary's write lock for the whole fan-out and takes each replica's write
// lock in turn, in replica order. A writer therefore blocks every reader and
// writer of that shard until all replicas are written.
type Store struct {
	router    *router.Router
	primaries []*Partition // one per shard; replicas reachable via siblings
	replicas  int
	logger    *slog.Logger
}

// Stats summarises the primaries of every shard.
type Stats struct {
	Shards   int
	Replicas int
	Keys     int // keys across all primaries
	Bytes    int // compressed bytes across all primaries
	Degraded int // degraded partitions, primaries and replicas
}

type options struct {
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger used for degraded-partition and repair events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New builds shards replica sets of replicas partitions each.
func New(shards, replicas int, opts ...Option) (*Store, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("%w: shard count must be positive, got %d", ErrInvalidConfig, shards)
	}
	if replicas <= 0 {
		return nil, fmt.Errorf("%w: replica count must be positive, got %d", ErrInvalidConfig, replicas)
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	r, err := router.New(shards)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s := &Store{
		router:    r,
		primaries: make([]*Partition, shards),
		replicas:  replicas,
		logger:    o.logger,
	}
	for shard := 0; shard < shards; shard++ {
		set := make([]*Partition, replicas)
		for i := range set {
			set[i] = newPartition(shard, i, o.logger)
		}
		for _, p := range set {
			p.siblings = set
		}
		s.primaries[shard] = set[0]
	}
	return s, nil
}

// ShardOf returns the shard that owns key.
func (s *Store) ShardOf(key []byte) int {
	return s.router.ShardOf(key)
}

func (s *Store) Shards() int {
	return len(s.primaries)
}

func (s *Store) Replicas() int {
	return s.replicas
}

// Get reads key from its shard's primary.
func (s *Store) Get(key []byte) ([]byte, error) {
	metrics.Inc(metrics.StoreGets)
	p := s.primaries[s.ShardOf(key)]

	p.mu.RLock()
	defer p.mu.RUnlock()
	return s.readLocked(p, key)
}

// ReadReplica reads key directly from one replica of shard, bypassing the
// primary-only read path. Replica 0 is the primary.
func (s *Store) ReadReplica(shard, replica int, key []byte) ([]byte, error) {
	p, err := s.partition(shard, replica)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return s.readLocked(p, key)
}

func (s *Store) readLocked(p *Partition, key []byte) ([]byte, error) {
	var (
		compressed []byte
		found      bool
	)
	err := p.guard("get", func() error {
		compressed, found = p.read(key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		metrics.Inc(metrics.StoreNotFound)
		return nil, ErrKeyNotFound
	}

	value, err := codec.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("shard %d replica %d key %q: %w", p.shard, p.index, key, err)
	}
	return value, nil
}

// Put stores value under key on every replica of the key's shard.
// The value is compressed once and the same bytes go to each replica.
// On failure the returned error carries a *WriteError naming the first
// failed replica. Nothing is rolled back: the primary stays authoritative and
// every replica that succeeded keeps the new value. A failed primary write
// stops the fan-out before any replica is touched.
func (s *Store) Put(key, value []byte) error {
	metrics.Inc(metrics.StorePuts)
	compressed := codec.Compress(value)
	return s.fanOut("put", key, func(p *Partition) error {
		return p.write(key, compressed)
	})
}

// Delete removes key from every replica of its shard using the same
// fan-out protocol as Put.
func (s *Store) Delete(key []byte) error {
	metrics.Inc(metrics.StoreDeletes)
	return s.fanOut("delete", key, func(p *Partition) error {
		return p.remove(key)
	})
}

func (s *Store) fanOut(op string, key []byte, apply func(p *Partition) error) error {
	shard := s.ShardOf(key)
	primary := s.primaries[shard]

	primary.mu.Lock()
	defer primary.mu.Unlock()

	if err := primary.guard(op, func() error { return apply(primary) }); err != nil {
		metrics.Inc(metrics.StoreWriteFailures)
		return &WriteError{Shard: shard, Replica: 0, Err: err}
	}

	// A failed replica does not stop the fan-out; the others still get the write.
	var errs []error
	for _, replica := range primary.siblings[1:] {
		if err := s.applyReplica(op, replica, apply); err != nil {
			metrics.Inc(metrics.StoreWriteFailures)
			errs = append(errs, &WriteError{Shard: shard, Replica: replica.index, Err: err})
		}
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

func (s *Store) applyReplica(op string, p *Partition, apply func(p *Partition) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.guard(op, func() error { return apply(p) })
}

// Keys returns the keys held by shard's primary in ascending order.
func (s *Store) Keys(shard int) ([][]byte, error) {
	p, err := s.partition(shard, 0)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var keys [][]byte
	err = p.guard("keys", func() error {
		p.ascend(func(key, _ []byte) bool {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return true
		})
		return nil
	})
	return keys, err
}

// Stats returns key and byte counts of the primaries.
func (s *Store) Stats() Stats {
	st := Stats{Shards: len(s.primaries), Replicas: s.replicas}
	for _, primary := range s.primaries {
		for _, p := range primary.siblings {
			if p.degraded.Load() {
				st.Degraded++
			}
		}
		primary.mu.RLock()
		st.Keys += primary.tree.Len()
		st.Bytes += primary.size
		primary.mu.RUnlock()
	}
	return st
}

// Repair rebuilds the degraded partitions of shard from a healthy member of
// its replica set, the primary when it is healthy. It returns the number of
// partitions repaired. Every partition of the set is locked in replica
// order for the duration, the same order Put uses.
func (s *Store) Repair(shard int) (int, error) {
	primary, err := s.partition(shard, 0)
	if err != nil {
		return 0, err
	}
	set := primary.siblings

	for _, p := range set {
		p.mu.Lock()
	}
	defer func() {
		for i := len(set) - 1; i >= 0; i-- {
			set[i].mu.Unlock()
		}
	}()

	var src *Partition
	for _, p := range set {
		if !p.degraded.Load() {
			src = p
			break
		}
	}
	if src == nil {
		return 0, fmt.Errorf("%w: shard %d has no healthy replica", ErrPartitionDegraded, shard)
	}

	repaired := 0
	for _, p := range set {
		if !p.degraded.Load() {
			continue
		}
		p.replaceFrom(src)
		repaired++
		metrics.Inc(metrics.StoreRepaired)
		s.logger.Info("partition repaired",
			"shard", shard, "replica", p.index, "source", src.index, "keys", p.tree.Len())
	}
	return repaired, nil
}

func (s *Store) partition(shard, replica int) (*Partition, error) {
	if shard < 0 || shard >= len(s.primaries) || replica < 0 || replica >= s.replicas {
		return nil, fmt.Errorf("%w: shard %d replica %d", ErrShardOutOfRange, shard, replica)
	}
	return s.primaries[shard].siblings[replica], nil
}
