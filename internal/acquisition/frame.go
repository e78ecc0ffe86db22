package acquisition

import (
	"encoding/binary"
	"fmt"
)

// DecodeFrame converts a transfer buffer of little-endian int32 samples,
// interleaved as samples x channels, into one row per channel. When counter
// is set the first channel carries the sample counter and is dropped.
func DecodeFrame(raw []byte, channels int, counter bool) ([][]int32, error) {
	if channels < 1 || (counter && channels < 2) {
		return nil, fmt.Errorf("%w: %d channels (counter=%t)", ErrFrameSize, channels, counter)
	}

	stride := 4 * channels
	if len(raw) == 0 || len(raw)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d channels", ErrFrameSize, len(raw), channels)
	}

	samples := len(raw) / stride
	first := 0
	if counter {
		first = 1
	}

	out := make([][]int32, channels-first)
	for c := range out {
		out[c] = make([]int32, samples)
	}

	for s := range samples {
		row := raw[s*stride:]
		for c := first; c < channels; c++ {
			out[c-first][s] = int32(binary.LittleEndian.Uint32(row[4*c:]))
		}
	}

	return out, nil
}

// EncodeFrame is the inverse of DecodeFrame without a counter channel.
func EncodeFrame(channels [][]int32) []byte {
	if len(channels) == 0 {
		return nil
	}
	samples := len(channels[0])
	out := make([]byte, 0, 4*samples*len(channels))
	for s := range samples {
		for _, ch := range channels {
			out = binary.LittleEndian.AppendUint32(out, uint32(ch[s]))
		}
	}
	return out
}
