package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := New(n)
		assert.ErrorIs(t, err, ErrInvalidShardCount)
	}

	r, err := New(3)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Shards())
}

func TestShardOfDeterministic(t *testing.T) {
	r, err := New(7)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		first := r.ShardOf(key)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 7)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, r.ShardOf(key))
		}
	}
}

func TestShardOfSpreadsKeys(t *testing.T) {
	r, err := New(4)
	require.NoError(t, err)

	seen := make(map[int]int)
	for i := 0; i < 1000; i++ {
		seen[r.ShardOf([]byte(fmt.Sprintf("user:%d", i)))]++
	}
	assert.Len(t, seen, 4)
}

func TestSingleShard(t *testing.T) {
	r, err := New(1)
	require.NoError(t, err)
	assert.Equal(t, 0, r.ShardOf(nil))
	assert.Equal(t, 0, r.ShardOf([]byte("anything")))
}
