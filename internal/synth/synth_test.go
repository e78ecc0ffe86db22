package synth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-mudoa/internal/beamformer"
)

const fs = 50000.0

func TestTone(t *testing.T) {
	tone := Tone(1000, 0.5)

	assert.InDelta(t, 0, tone.Eval(0), 1e-12)
	assert.InDelta(t, 0.5, tone.Eval(0.25e-3), 1e-12)
	assert.InDelta(t, -0.5, tone.Eval(0.75e-3), 1e-12)
}

func TestAdditive_Defaults(t *testing.T) {
	// Second partial has no magnitude or phase: 1 and 0.
	a := Additive{
		Frequencies: []float64{100, 250},
		Magnitudes:  []float64{2},
		Phases:      []float64{math.Pi / 2},
	}

	tt := 1e-3
	want := 2*math.Sin(2*math.Pi*100*tt+math.Pi/2) + math.Sin(2*math.Pi*250*tt)
	assert.InDelta(t, want, a.Eval(tt), 1e-12)
	assert.InDelta(t, 2, a.Eval(0), 1e-12)
}

func TestGenerate(t *testing.T) {
	tone := Tone(440, 1)

	out := tone.Generate(fs, 0.1)
	require.Len(t, out, 5000)
	for _, i := range []int{0, 17, 4999} {
		assert.InDelta(t, tone.Eval(float64(i)/fs), out[i], 1e-12)
	}

	assert.Nil(t, tone.Generate(fs, 0))
	assert.Nil(t, tone.Generate(fs, -1))
}

func TestPlaneWave_Broadside(t *testing.T) {
	g := beamformer.NewLinearArray([3]float64{}, 8, 0, 0.045)
	block := PlaneWave(g, 0, Tone(1000, 1).Eval, fs, 1000)

	require.Equal(t, 8, block.NumChannels())
	require.Equal(t, 1000, block.Len())
	for m := 1; m < 8; m++ {
		assert.InDeltaSlice(t, block.Channel(0), block.Channel(m), 1e-12, "mic %d", m)
	}
}

func TestPlaneWave_Endfire(t *testing.T) {
	g := beamformer.NewLinearArray([3]float64{}, 4, 0, 0.1)
	src := Tone(300, 1).Eval
	block := PlaneWave(g, math.Pi/2, src, fs, 200)

	offsets := g.ArrivalOffsets(math.Pi/2, beamformer.SoundSpeed)

	// Mics further along the axis hear the wavefront first.
	for m := 1; m < len(offsets); m++ {
		assert.Greater(t, offsets[m], offsets[m-1])
	}

	for m, off := range offsets {
		for _, i := range []int{0, 50, 199} {
			assert.InDelta(t, src(float64(i)/fs+off), block.Channel(m)[i], 1e-12)
		}
	}
}

func TestFreeField(t *testing.T) {
	g := beamformer.NewLinearArray([3]float64{}, 4, 0, 0.1)
	src := []float64{1, 2, 3}

	// One meter broadside: outer mics are further than inner ones.
	block := FreeField(g, [3]float64{0, 1, 0}, src, fs)

	require.Equal(t, 4, block.NumChannels())

	delays := make([]int, 4)
	for m, p := range g.Positions() {
		d := math.Hypot(p[0], 1-p[1])
		delays[m] = int(math.Round(d / beamformer.SoundSpeed * fs))
	}
	assert.Equal(t, delays[0], delays[3])
	assert.Equal(t, delays[1], delays[2])
	assert.Greater(t, delays[0], delays[1])

	assert.Equal(t, len(src)+delays[0], block.Len())
	for m, d := range delays {
		ch := block.Channel(m)
		assert.Equal(t, src, ch[d:d+len(src)], "mic %d", m)
		for _, v := range ch[:d] {
			assert.Zero(t, v)
		}
	}
}

func TestAddNoise(t *testing.T) {
	a := beamformer.ZeroBlock(2, 1000)
	b := beamformer.ZeroBlock(2, 1000)

	AddNoise(a, 7, 0.1)
	AddNoise(b, 7, 0.1)

	assert.Equal(t, a.Channels(), b.Channels(), "same seed must give the same noise")

	var nonZero int
	for _, ch := range a.Channels() {
		for _, v := range ch {
			assert.LessOrEqual(t, math.Abs(v), 0.1)
			if v != 0 {
				nonZero++
			}
		}
	}
	assert.Greater(t, nonZero, 1900)

	c := beamformer.ZeroBlock(2, 1000)
	AddNoise(c, 8, 0.1)
	assert.NotEqual(t, a.Channels(), c.Channels())
}

func TestQuantize(t *testing.T) {
	block, err := beamformer.NewSignalBlock([][]float64{
		{0, 0.5, -0.5, 1},
		{2, -2, 1e-9, -1},
	})
	require.NoError(t, err)

	raw := Quantize(block)

	half := int32(math.Round(0.5 * beamformer.FullScale))
	assert.Equal(t, []int32{0, half, -half, beamformer.FullScale}, raw[0])
	assert.Equal(t, []int32{beamformer.FullScale, -beamformer.FullScale, 0, -beamformer.FullScale}, raw[1])

	back, err := beamformer.NormalizeInt32(raw)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, back.Channel(0)[1], 1e-6)
}
