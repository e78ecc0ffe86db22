package doa

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-mudoa/internal/acquisition"
	"github.com/teslashibe/go-mudoa/internal/beamformer"
)

// BeamformerSource estimates DOA readings from acquired blocks with a beam bank.
// Samples that do not fill a whole window are carried over to the next block,
// so GetDOA must be called from a single goroutine.
type BeamformerSource struct {
	bank      *beamformer.Bank
	acq       acquisition.Source
	threshold float64
	logger    *slog.Logger

	mu      sync.RWMutex
	pending beamformer.SignalBlock
	latest  *beamformer.PowerMatrix

	blocks    atomic.Uint64
	estimates atomic.Uint64
}

// NewBeamformerSource creates a DOA source. Readings whose peak power reaches
// threshold are marked active.
func NewBeamformerSource(bank *beamformer.Bank, acq acquisition.Source, threshold float64, logger *slog.Logger) *BeamformerSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &BeamformerSource{
		bank:      bank,
		acq:       acq,
		threshold: threshold,
		logger:    logger,
	}
}

// GetDOA pulls blocks until at least one analysis window is available and
// returns the direction of the loudest beam.
func (s *BeamformerSource) GetDOA(ctx context.Context) (Reading, error) {
	ws := s.bank.WindowSamples()

	s.mu.Lock()
	signal := s.pending
	s.mu.Unlock()

	for signal.Len() < ws {
		block, err := s.acq.Next(ctx)
		if err != nil {
			// Keep what was read so the next call resumes from it
			s.mu.Lock()
			s.pending = signal
			s.mu.Unlock()
			return Reading{}, err
		}
		s.blocks.Add(1)

		if !s.bank.Matches(block.SampleRate, s.bank.WindowDuration()) {
			return Reading{}, fmt.Errorf("%w: block sampled at %g Hz, bank built for %g Hz",
				beamformer.ErrConfigMismatch, block.SampleRate, s.bank.SampleRate())
		}

		signal, err = signal.Append(block.Signal)
		if err != nil {
			return Reading{}, err
		}
	}

	used := signal.Len() / ws * ws
	pm, _, err := beamformer.Estimate(s.bank, signal.Slice(0, used), s.bank.SampleRate(), s.bank.WindowDuration())
	if err != nil {
		return Reading{}, err
	}
	s.estimates.Add(1)
	s.logger.Debug("beam powers estimated", "frames", pm.Frames, "carry", signal.Len()-used)

	s.mu.Lock()
	s.pending = signal.Slice(used, signal.Len())
	s.latest = pm
	s.mu.Unlock()

	return s.reduce(pm), nil
}

func (s *BeamformerSource) reduce(pm *beamformer.PowerMatrix) Reading {
	powers := pm.MeanPower()

	peak := 0
	for b := 1; b < len(powers); b++ {
		if powers[b] > powers[peak] {
			peak = b
		}
	}

	beam, _ := s.bank.Beam(peak)
	return Reading{
		Angle:     beam.Angle,
		Beam:      peak,
		Power:     powers[peak],
		Powers:    powers,
		Active:    powers[peak] >= s.threshold,
		Frames:    pm.Frames,
		Timestamp: time.Now(),
	}
}

// Latest returns the power matrix of the most recent estimate, or nil.
func (s *BeamformerSource) Latest() *beamformer.PowerMatrix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Bank returns the beam bank used for estimation
func (s *BeamformerSource) Bank() *beamformer.Bank {
	return s.bank
}

// Counts returns the number of blocks consumed and estimates made
func (s *BeamformerSource) Counts() (blocks, estimates uint64) {
	return s.blocks.Load(), s.estimates.Load()
}

// Close releases the acquisition source
func (s *BeamformerSource) Close() error {
	return s.acq.Close()
}

// Healthy returns true if acquisition is delivering data
func (s *BeamformerSource) Healthy() bool {
	return s.acq.Healthy()
}

// Name returns the source type name
func (s *BeamformerSource) Name() string {
	return "beamformer/" + s.acq.Name()
}
