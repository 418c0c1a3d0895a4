package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myuser/shardkv/internal/storage"
	"github.com/myuser/shardkv/internal/storage/wal"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.New(3, 2)
	require.NoError(t, err)
	return s
}

func TestPutAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	log, err := wal.Open(path, 1<<20, 3)
	require.NoError(t, err)

	j, err := Open(log, newStore(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), j.Index())

	require.NoError(t, j.Put([]byte("a"), []byte("1")))
	require.NoError(t, j.Put([]byte("b"), []byte("2")))
	require.NoError(t, j.Put([]byte("a"), []byte("3")))
	require.NoError(t, j.Delete([]byte("b")))
	assert.Equal(t, uint64(4), j.Index())
	require.NoError(t, log.Close())

	log2, err := wal.Open(path, 1<<20, 3)
	require.NoError(t, err)
	defer log2.Close()

	restored := newStore(t)
	j2, err := Open(log2, restored)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), j2.Index())

	got, err := restored.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)

	_, err = restored.Get([]byte("b"))
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	// The sequence continues where the log left off.
	require.NoError(t, j2.Put([]byte("c"), []byte("4")))
	assert.Equal(t, uint64(5), j2.Index())
}

func TestReplayAcrossRotations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	log, err := wal.Open(path, 256, 100)
	require.NoError(t, err)

	j := New(log, newStore(t), 0)
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%d", i%30))
		require.NoError(t, j.Put(key, []byte(fmt.Sprintf("value-%d", i))))
	}
	require.NoError(t, log.Close())

	log2, err := wal.Open(path, 256, 100)
	require.NoError(t, err)
	defer log2.Close()
	files, err := log2.Files()
	require.NoError(t, err)
	require.Greater(t, len(files), 2, "expected several rotated files")

	restored := newStore(t)
	last, err := Replay(files, restored)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), last)

	// Last writer wins: key-i holds the value of the final put to it.
	for k := 0; k < 30; k++ {
		final := k
		for i := k; i < 100; i += 30 {
			final = i
		}
		got, err := restored.Get([]byte(fmt.Sprintf("key-%d", k)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("value-%d", final), string(got))
	}
}

func TestReplayTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	log, err := wal.Open(path, 1<<20, 3)
	require.NoError(t, err)
	j := New(log, newStore(t), 0)
	require.NoError(t, j.Put([]byte("kept"), []byte("yes")))
	require.NoError(t, log.Close())

	rec, err := encode(2, Mutation{Op: OpPut, Key: []byte("torn"), Value: []byte("no")})
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write(rec[:len(rec)-3])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	restored := newStore(t)
	last, err := Replay([]string{path}, restored)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)

	_, err = restored.Get([]byte("kept"))
	assert.NoError(t, err)
	_, err = restored.Get([]byte("torn"))
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestReplayTruncatedBackupIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	rec, err := encode(1, Mutation{Op: OpPut, Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)

	backup := filepath.Join(dir, "journal.log.000001")
	active := filepath.Join(dir, "journal.log")
	require.NoError(t, os.WriteFile(backup, rec[:5], 0644))
	require.NoError(t, os.WriteFile(active, nil, 0644))

	_, err = Replay([]string{backup, active}, newStore(t))
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestReplayChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	rec, err := encode(1, Mutation{Op: OpPut, Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)
	rec[6] ^= 0xff
	require.NoError(t, os.WriteFile(path, rec, 0644))

	_, err = Replay([]string{path}, newStore(t))
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestReplaySkipsMissingFiles(t *testing.T) {
	last, err := Replay([]string{filepath.Join(t.TempDir(), "nope")}, newStore(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)
}

type failingLog struct{ err error }

func (f failingLog) Append([]byte) error { return f.err }

func TestAppendFailureSkipsStore(t *testing.T) {
	boom := errors.New("disk full")
	s := newStore(t)
	j := New(failingLog{err: boom}, s, 7)

	err := j.Put([]byte("k"), []byte("v"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(7), j.Index())

	_, err = s.Get([]byte("k"))
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestRotationFailureStillApplies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	log, err := wal.Open(path, 8, 3)
	require.NoError(t, err)
	defer log.Close()

	blocker := path + ".000001"
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "x"), 0755))

	live := newStore(t)
	j := New(log, live, 0)

	err = j.Put([]byte("k"), []byte("v1"))
	assert.ErrorIs(t, err, wal.ErrRotate)
	assert.Equal(t, uint64(1), j.Index())

	got, err := live.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, os.RemoveAll(blocker))
	require.NoError(t, j.Put([]byte("k"), []byte("v2")))
	assert.Equal(t, uint64(2), j.Index())

	files, err := log.Files()
	require.NoError(t, err)
	var indexes []uint64
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = decodeFrames(data, func(index uint64, _ Mutation) error {
			indexes = append(indexes, index)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2}, indexes)

	restored := newStore(t)
	last, err := Replay(files, restored)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
	got, err = restored.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestEncodeRoundTrip(t *testing.T) {
	m := Mutation{Op: OpPut, Key: []byte{0x00, 0xff}, Value: []byte("binary\x00value")}
	rec, err := encode(42, m)
	require.NoError(t, err)

	var got []Mutation
	var idx uint64
	n, err := decodeFrames(rec, func(index uint64, m Mutation) error {
		idx = index
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(rec), n)
	assert.Equal(t, uint64(42), idx)
	require.Len(t, got, 1)
	assert.Equal(t, m, got[0])
}
