package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", []byte{}},
		{"ascii", []byte("test_value")},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80, 0x00, 0x7f}},
		{"repetitive", bytes.Repeat([]byte("abcd"), 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decompress(Compress(tt.input))
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Equal(t, tt.input, got)
		})
	}
}

func TestCompressShrinksRepetitiveInput(t *testing.T) {
	in := bytes.Repeat([]byte("x"), 10000)
	assert.Less(t, len(Compress(in)), len(in))
}

func TestDecompressGarbage(t *testing.T) {
	tests := [][]byte{
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		[]byte("this is not a snappy block"),
		{0x0a, 0x00},
	}
	for _, in := range tests {
		_, err := Decompress(in)
		assert.ErrorIs(t, err, ErrCorruptData, "input %x", in)
	}
}
