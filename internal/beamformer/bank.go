package beamformer

import (
	"fmt"
	"math"
	"sync"
)

const (
	// DefaultSamplingFrequency is the MegaMicro maximum sampling frequency in Hz.
	DefaultSamplingFrequency = 50000.0

	// DefaultWindowDuration is the default analysis window in seconds.
	DefaultWindowDuration = 0.1

	// SoundSpeed is the speed of sound in air used by default, in m/s.
	SoundSpeed = 340.29
)

// Beam is one steered direction of a Bank.
type Beam struct {
	Index        int       `json:"index"`
	Angle        float64   `json:"angle"`         // Steering angle (radians)
	Delays       []float64 `json:"delays"`        // Per-microphone alignment delay (seconds, >= 0)
	DelaySamples []int     `json:"delay_samples"` // Delays rounded to whole samples
}

// Option configures Build.
type Option func(*buildConfig)

type buildConfig struct {
	soundSpeed float64
}

// WithSoundSpeed overrides the propagation speed used to derive delays.
func WithSoundSpeed(c float64) Option {
	return func(cfg *buildConfig) {
		cfg.soundSpeed = c
	}
}

// Bank is an immutable set of delay-and-sum beams for one array and one
// analysis configuration.
type Bank struct {
	geometry       Geometry
	positions      [][3]float64
	beams          []Beam
	sampleRate     float64
	windowDuration float64
	windowSamples  int
	fftSize        int
	soundSpeed     float64

	// weights[beam*mics+mic] holds the steering weight of every half-spectrum bin.
	weights [][]complex128

	pool sync.Pool
}

// Build precomputes the steering delays and weights of beams uniformly spread
// over the field of view of g.
func Build(g Geometry, beams int, sampleRate, windowDuration float64, opts ...Option) (*Bank, error) {
	cfg := buildConfig{soundSpeed: SoundSpeed}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	if beams < 1 {
		return nil, fmt.Errorf("%w: beams must be >= 1, got %d", ErrInvalidConfig, beams)
	}
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("%w: sampling frequency must be > 0, got %g", ErrInvalidConfig, sampleRate)
	}
	if !(windowDuration > 0) || math.IsInf(windowDuration, 0) {
		return nil, fmt.Errorf("%w: window duration must be > 0, got %g", ErrInvalidConfig, windowDuration)
	}
	if !(cfg.soundSpeed > 0) || math.IsInf(cfg.soundSpeed, 0) {
		return nil, fmt.Errorf("%w: sound speed must be > 0, got %g", ErrInvalidConfig, cfg.soundSpeed)
	}

	windowSamples := WindowSamples(sampleRate, windowDuration)
	if windowSamples < 1 {
		return nil, fmt.Errorf("%w: window of %gs is shorter than one sample at %g Hz",
			ErrInvalidConfig, windowDuration, sampleRate)
	}

	b := &Bank{
		geometry:       g,
		positions:      g.Positions(),
		sampleRate:     sampleRate,
		windowDuration: windowDuration,
		windowSamples:  windowSamples,
		fftSize:        nextPowerOf2(max(windowSamples, 2)),
		soundSpeed:     cfg.soundSpeed,
	}

	b.beams = b.designBeams(beams)
	b.weights = b.steeringWeights()

	return b, nil
}

// WindowSamples returns the number of samples in an analysis window.
func WindowSamples(sampleRate, windowDuration float64) int {
	return int(math.Round(sampleRate * windowDuration))
}

func (b *Bank) designBeams(n int) []Beam {
	angles := b.geometry.BeamAngles(n)
	beams := make([]Beam, n)

	for i, theta := range angles {
		// Microphones the wavefront reaches first are delayed the most so
		// that every channel lines up with the last one reached.
		offsets := b.geometry.ArrivalOffsets(theta, b.soundSpeed)
		lowest := offsets[0]
		for _, o := range offsets[1:] {
			lowest = math.Min(lowest, o)
		}

		delays := make([]float64, len(offsets))
		samples := make([]int, len(offsets))
		for m, o := range offsets {
			delays[m] = o - lowest
			samples[m] = int(math.Round(delays[m] * b.sampleRate))
		}

		beams[i] = Beam{
			Index:        i,
			Angle:        theta,
			Delays:       delays,
			DelaySamples: samples,
		}
	}

	return beams
}

func (b *Bank) steeringWeights() [][]complex128 {
	bins := b.fftSize/2 + 1
	mics := b.geometry.Mics
	out := make([][]complex128, len(b.beams)*mics)

	for bi, beam := range b.beams {
		for m, d := range beam.Delays {
			w := make([]complex128, bins)
			for k := range w {
				f := float64(k) * b.sampleRate / float64(b.fftSize)
				s, c := math.Sincos(-2 * math.Pi * f * d)
				if k == b.fftSize/2 {
					s = 0
				}
				w[k] = complex(c, s)
			}
			out[bi*mics+m] = w
		}
	}

	return out
}

// Geometry returns the array geometry the bank was built for.
func (b *Bank) Geometry() Geometry { return b.geometry }

// Positions returns a copy of the microphone positions.
func (b *Bank) Positions() [][3]float64 {
	out := make([][3]float64, len(b.positions))
	copy(out, b.positions)
	return out
}

// NumBeams returns the beam count.
func (b *Bank) NumBeams() int { return len(b.beams) }

// NumMics returns the microphone count.
func (b *Bank) NumMics() int { return b.geometry.Mics }

// SampleRate returns the sampling frequency in Hz.
func (b *Bank) SampleRate() float64 { return b.sampleRate }

// WindowDuration returns the analysis window duration in seconds.
func (b *Bank) WindowDuration() float64 { return b.windowDuration }

// WindowSamples returns the analysis window length in samples.
func (b *Bank) WindowSamples() int { return b.windowSamples }

// FFTSize returns the zero-padded transform length used per window.
func (b *Bank) FFTSize() int { return b.fftSize }

// SoundSpeed returns the propagation speed used for the delays.
func (b *Bank) SoundSpeed() float64 { return b.soundSpeed }

// Beams returns a deep copy of the beam descriptions.
func (b *Bank) Beams() []Beam {
	out := make([]Beam, len(b.beams))
	for i, beam := range b.beams {
		out[i] = Beam{
			Index:        beam.Index,
			Angle:        beam.Angle,
			Delays:       append([]float64(nil), beam.Delays...),
			DelaySamples: append([]int(nil), beam.DelaySamples...),
		}
	}
	return out
}

// Beam returns the description of beam i.
func (b *Bank) Beam(i int) (Beam, bool) {
	if i < 0 || i >= len(b.beams) {
		return Beam{}, false
	}
	return b.Beams()[i], true
}

// Angles returns the steering angle of every beam.
func (b *Bank) Angles() []float64 {
	out := make([]float64, len(b.beams))
	for i, beam := range b.beams {
		out[i] = beam.Angle
	}
	return out
}

// Weights returns a copy of the half-spectrum steering weights of one beam and microphone.
func (b *Bank) Weights(beam, mic int) []complex128 {
	if beam < 0 || beam >= len(b.beams) || mic < 0 || mic >= b.geometry.Mics {
		return nil
	}
	return append([]complex128(nil), b.weights[beam*b.geometry.Mics+mic]...)
}

// Matches reports whether the bank was built for the given estimation parameters.
func (b *Bank) Matches(sampleRate, windowDuration float64) bool {
	return sameParam(b.sampleRate, sampleRate) && sameParam(b.windowDuration, windowDuration)
}

func sameParam(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
