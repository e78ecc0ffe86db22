package acquisition

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interleave(samples [][]int32) []byte {
	var out []byte
	for _, row := range samples {
		for _, v := range row {
			out = binary.LittleEndian.AppendUint32(out, uint32(v))
		}
	}
	return out
}

func TestDecodeFrame(t *testing.T) {
	// Three samples of two channels, interleaved.
	raw := interleave([][]int32{{1, -1}, {2, -2}, {3, -3}})

	got, err := DecodeFrame(raw, 2, false)
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{1, 2, 3}, {-1, -2, -3}}, got)
}

func TestDecodeFrame_Counter(t *testing.T) {
	raw := interleave([][]int32{{100, 5, 6}, {101, 7, 8}})

	got, err := DecodeFrame(raw, 3, true)
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{5, 7}, {6, 8}}, got)
}

func TestDecodeFrame_Errors(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		channels int
		counter  bool
	}{
		{"empty", nil, 2, false},
		{"ragged", make([]byte, 12), 2, false},
		{"partial sample", make([]byte, 7), 1, false},
		{"no channels", make([]byte, 8), 0, false},
		{"counter only", make([]byte, 8), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.raw, tt.channels, tt.counter)
			assert.ErrorIs(t, err, ErrFrameSize)
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	channels := [][]int32{{1, 2, 3}, {0x7FFFFF, -0x7FFFFF, 0}}

	got, err := DecodeFrame(EncodeFrame(channels), 2, false)
	require.NoError(t, err)
	assert.Equal(t, channels, got)
	assert.Nil(t, EncodeFrame(nil))
}
