// Package synth generates synthetic array recordings: additive tones,
// far-field plane waves and free-field point sources.
package synth

import (
	"math"
	"math/rand"

	"github.com/teslashibe/go-mudoa/internal/beamformer"
)

// Additive is a sum of sinusoids.
type Additive struct {
	Frequencies []float64 // Hz
	Magnitudes  []float64
	Phases      []float64 // radians
}

// Tone returns a single sinusoid.
func Tone(freq, magnitude float64) Additive {
	return Additive{
		Frequencies: []float64{freq},
		Magnitudes:  []float64{magnitude},
		Phases:      []float64{0},
	}
}

// Eval returns the value of the sound at time t (seconds).
// Missing magnitudes default to 1 and missing phases to 0.
func (a Additive) Eval(t float64) float64 {
	var v float64
	for i, f := range a.Frequencies {
		mag, phase := 1.0, 0.0
		if i < len(a.Magnitudes) {
			mag = a.Magnitudes[i]
		}
		if i < len(a.Phases) {
			phase = a.Phases[i]
		}
		v += mag * math.Sin(2*math.Pi*f*t+phase)
	}
	return v
}

// Generate samples the sound for duration seconds.
func (a Additive) Generate(sampleRate, duration float64) []float64 {
	n := int(duration * sampleRate)
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = a.Eval(float64(i) / sampleRate)
	}
	return out
}

// PlaneWave records a far-field source arriving from theta on every
// microphone of g. Delays are exact, src is evaluated at fractional times.
func PlaneWave(g beamformer.Geometry, theta float64, src func(t float64) float64, sampleRate float64, samples int) beamformer.SignalBlock {
	offsets := g.ArrivalOffsets(theta, beamformer.SoundSpeed)
	block := beamformer.ZeroBlock(g.Mics, samples)
	for m, off := range offsets {
		ch := block.Channel(m)
		for i := range ch {
			ch[i] = src(float64(i)/sampleRate + off)
		}
	}
	return block
}

// FreeField records a sampled point source at location. Propagation delays
// are rounded to whole samples and every channel is padded to the same length.
func FreeField(g beamformer.Geometry, location [3]float64, source []float64, sampleRate float64) beamformer.SignalBlock {
	pos := g.Positions()
	delays := make([]int, len(pos))
	longest := 0
	for m, p := range pos {
		dx, dy, dz := location[0]-p[0], location[1]-p[1], location[2]-p[2]
		d := math.Sqrt(dx*dx + dy*dy + dz*dz)
		delays[m] = int(math.Round(d / beamformer.SoundSpeed * sampleRate))
		longest = max(longest, delays[m])
	}

	block := beamformer.ZeroBlock(g.Mics, len(source)+longest)
	for m, d := range delays {
		copy(block.Channel(m)[d:], source)
	}
	return block
}

// AddNoise adds deterministic uniform noise in [-amplitude, amplitude] to
// every sample of block, in place.
func AddNoise(block beamformer.SignalBlock, seed int64, amplitude float64) {
	rng := rand.New(rand.NewSource(seed))
	for _, ch := range block.Channels() {
		for i := range ch {
			ch[i] += (rng.Float64()*2 - 1) * amplitude
		}
	}
}

// Quantize converts amplitudes to signed 24-bit integers, clipping at full scale.
func Quantize(block beamformer.SignalBlock) [][]int32 {
	out := make([][]int32, block.NumChannels())
	for m, ch := range block.Channels() {
		raw := make([]int32, len(ch))
		for i, v := range ch {
			q := math.Round(v * beamformer.FullScale)
			q = math.Max(-beamformer.FullScale, math.Min(beamformer.FullScale, q))
			raw[i] = int32(q)
		}
		out[m] = raw
	}
	return out
}
