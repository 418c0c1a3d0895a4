package router

import (
	"errors"
	"fmt"
	"hash/fnv"
)

// ErrInvalidShardCount is returned when a router is built with no shards.
var ErrInvalidShardCount = errors.New("shard count must be positive")

// Router maps keys to a fixed number of shards.
// Placement is hash(key) mod shards, so changing the shard count moves
// almost every key. There is no rebalancing.
type Router struct {
	shards int
}

func New(shards int) (*Router, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidShardCount, shards)
	}
	return &Router{shards: shards}, nil
}

// ShardOf returns the shard index for key.
func (r *Router) ShardOf(key []byte) int {
	h := fnv.New64a()
	h.Write(key)
	return int(h.Sum64() % uint64(r.shards))
}

// Shards returns the configured shard count.
func (r *Router) Shards() int {
	return r.shards
}
