package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"

	"go.etcd.io/etcd/raft/v3/raftpb"
)

// ErrCorruptRecord is returned when a journal frame fails its checksum or
// cannot be decoded.
var ErrCorruptRecord = errors.New("journal: corrupt record")

// errTruncated marks a frame cut short at the end of a file.
var errTruncated = errors.New("journal: truncated record")

// Op is a mutation kind.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Mutation is one store change as recorded in the log.
type Mutation struct {
	Op    Op     `json:"op"`
	Key   []byte `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// encode wraps m in a raft entry carrying its sequence number and frames it.
// Format: Len(4) | Entry(N) | CRC(4)
func encode(index uint64, m Mutation) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	ent := raftpb.Entry{Type: raftpb.EntryNormal, Index: index, Data: data}
	payload, err := ent.Marshal()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 4+len(payload)+4)
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	binary.BigEndian.PutUint32(buf[4+len(payload):], crc32.ChecksumIEEE(payload))
	return buf, nil
}

// decodeFrames calls fn for every frame in data. A frame cut short at the
// end of data yields errTruncated along with the offset where it starts.
func decodeFrames(data []byte, fn func(index uint64, m Mutation) error) (int, error) {
	off := 0
	for off < len(data) {
		if len(data)-off < 4 {
			return off, errTruncated
		}
		length := int(binary.BigEndian.Uint32(data[off:]))
		if len(data)-off-4 < length+4 {
			return off, errTruncated
		}
		payload := data[off+4 : off+4+length]
		expected := binary.BigEndian.Uint32(data[off+4+length:])
		if crc32.ChecksumIEEE(payload) != expected {
			return off, fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorruptRecord, off)
		}

		var ent raftpb.Entry
		if err := ent.Unmarshal(payload); err != nil {
			return off, fmt.Errorf("%w: offset %d: %v", ErrCorruptRecord, off, err)
		}
		var m Mutation
		if err := json.Unmarshal(ent.Data, &m); err != nil {
			return off, fmt.Errorf("%w: offset %d: %v", ErrCorruptRecord, off, err)
		}
		if err := fn(ent.Index, m); err != nil {
			return off, err
		}
		off += 4 + length + 4
	}
	return off, nil
}
