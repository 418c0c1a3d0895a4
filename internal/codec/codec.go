// Package codec compresses stored values with the snappy block format.
package codec

import (
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// ErrCorruptData is returned when a compressed block cannot be decoded.
var ErrCorruptData = errors.New("corrupt compressed data")

// Compress encodes src as a single snappy block.
func Compress(src []byte) []byte {
	return snappy.Encode(nil, src)
}

// Decompress decodes a block produced by Compress.
// The result is never nil, so an empty value stays distinguishable from a missing one.
func Decompress(src []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	dst, err := snappy.Decode(make([]byte, n), src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if dst == nil {
		dst = []byte{}
	}
	return dst, nil
}
