package beamformer

import (
	"fmt"

	"github.com/cwbudde/algo-vecmath"
)

// FullScale is the largest magnitude of a signed 24-bit MEMS sample.
const FullScale = 0x7FFFFF

// SignalBlock is a rectangular block of samples, one row per microphone.
type SignalBlock struct {
	channels [][]float64
}

// NewSignalBlock wraps channels without copying them. All channels must have
// the same length.
func NewSignalBlock(channels [][]float64) (SignalBlock, error) {
	if len(channels) == 0 {
		return SignalBlock{}, fmt.Errorf("%w: block has no channels", ErrChannelMismatch)
	}
	n := len(channels[0])
	for i, ch := range channels[1:] {
		if len(ch) != n {
			return SignalBlock{}, fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d",
				ErrChannelMismatch, i+1, len(ch), n)
		}
	}
	return SignalBlock{channels: channels}, nil
}

// ZeroBlock returns a silent block.
func ZeroBlock(channels, samples int) SignalBlock {
	out := make([][]float64, channels)
	for i := range out {
		out[i] = make([]float64, samples)
	}
	return SignalBlock{channels: out}
}

// NormalizeInt32 converts raw 24-bit samples to amplitudes in [-1, 1].
func NormalizeInt32(raw [][]int32) (SignalBlock, error) {
	channels := make([][]float64, len(raw))
	for i, r := range raw {
		ch := make([]float64, len(r))
		for j, v := range r {
			ch[j] = float64(v)
		}
		vecmath.ScaleBlock(ch, ch, 1.0/FullScale)
		channels[i] = ch
	}
	return NewSignalBlock(channels)
}

// NumChannels returns the channel count.
func (s SignalBlock) NumChannels() int { return len(s.channels) }

// Len returns the number of samples per channel.
func (s SignalBlock) Len() int {
	if len(s.channels) == 0 {
		return 0
	}
	return len(s.channels[0])
}

// Channel returns channel i. The slice aliases the block.
func (s SignalBlock) Channel(i int) []float64 { return s.channels[i] }

// Channels returns all channels. The slices alias the block.
func (s SignalBlock) Channels() [][]float64 { return s.channels }

// Slice returns the samples [from, to) of every channel without copying.
func (s SignalBlock) Slice(from, to int) SignalBlock {
	out := make([][]float64, len(s.channels))
	for i, ch := range s.channels {
		out[i] = ch[from:to]
	}
	return SignalBlock{channels: out}
}

// Append returns a block holding the samples of s followed by those of o.
func (s SignalBlock) Append(o SignalBlock) (SignalBlock, error) {
	if s.NumChannels() == 0 {
		return o, nil
	}
	if o.NumChannels() != s.NumChannels() {
		return SignalBlock{}, fmt.Errorf("%w: cannot append %d channels to %d",
			ErrChannelMismatch, o.NumChannels(), s.NumChannels())
	}
	out := make([][]float64, len(s.channels))
	for i := range s.channels {
		ch := make([]float64, 0, s.Len()+o.Len())
		ch = append(ch, s.channels[i]...)
		out[i] = append(ch, o.channels[i]...)
	}
	return SignalBlock{channels: out}, nil
}
