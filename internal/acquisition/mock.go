package acquisition

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-mudoa/internal/beamformer"
	"github.com/teslashibe/go-mudoa/internal/synth"
)

// MockConfig configures the synthetic array.
type MockConfig struct {
	Frequency float64 // Tone frequency (Hz)
	Amplitude float64 // Tone amplitude in full-scale units
	Noise     float64 // Uniform noise amplitude
	Angle     float64 // Source direction (radians)
	Sweep     bool    // Move the source ±45° around Angle
	Realtime  bool    // Pace blocks at the acquisition rate
}

// DefaultMockConfig returns a 1 kHz broadside tone.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		Frequency: 1000,
		Amplitude: 0.5,
		Noise:     0.01,
		Realtime:  true,
	}
}

// MockSource synthesizes plane-wave recordings on a virtual array.
type MockSource struct {
	mu       sync.Mutex
	geometry beamformer.Geometry
	fs       float64
	samples  int
	cfg      MockConfig
	healthy  bool
	closed   bool
	seq      uint64
	start    time.Time
}

// NewMockSource creates a synthetic source for geometry g.
func NewMockSource(cfg Config, g beamformer.Geometry) *MockSource {
	return &MockSource{
		geometry: g,
		fs:       cfg.SampleRate,
		samples:  max(cfg.BlockSamples(), 1),
		cfg:      cfg.Mock,
		healthy:  true,
		start:    time.Now(),
	}
}

// Next returns the next synthetic block.
func (m *MockSource) Next(ctx context.Context) (Block, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Block{}, ErrQueueClosed
	}
	seq := m.seq
	m.seq++
	cfg := m.cfg
	m.mu.Unlock()

	blockDur := time.Duration(float64(m.samples) / m.fs * float64(time.Second))
	if cfg.Realtime {
		due := m.start.Add(time.Duration(seq+1) * blockDur)
		timer := time.NewTimer(time.Until(due))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Block{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Block{}, err
	}

	t0 := float64(seq) * float64(m.samples) / m.fs
	angle := cfg.Angle
	if cfg.Sweep {
		angle += math.Sin(t0) * math.Pi / 4
	}

	tone := synth.Tone(cfg.Frequency, cfg.Amplitude)
	signal := synth.PlaneWave(m.geometry, angle, func(t float64) float64 {
		return tone.Eval(t0 + t)
	}, m.fs, m.samples)
	synth.AddNoise(signal, int64(seq)+1, cfg.Noise)

	// Round-trip through 24-bit integers like real transfer buffers.
	normalized, err := beamformer.NormalizeInt32(synth.Quantize(signal))
	if err != nil {
		return Block{}, err
	}

	return Block{
		Seq:        seq,
		Timestamp:  time.Now(),
		SampleRate: m.fs,
		Signal:     normalized,
	}, nil
}

// Close stops the source.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Healthy returns true if the source is operational.
func (m *MockSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy && !m.closed
}

// Name returns the source type name.
func (m *MockSource) Name() string {
	return "mock"
}

// SetAngle moves the synthetic source.
func (m *MockSource) SetAngle(angle float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Angle = angle
}

// SetAmplitude changes the tone level. Zero yields noise only.
func (m *MockSource) SetAmplitude(amplitude float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Amplitude = amplitude
}

// SetHealthy sets the mock health state.
func (m *MockSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}
