// Package acquisition delivers blocks of microphone samples from a remote
// acquisition server or from a synthetic array.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-mudoa/internal/beamformer"
)

var (
	// ErrQueueClosed is returned once a queue is closed and drained.
	ErrQueueClosed = errors.New("acquisition: queue closed")

	// ErrFrameSize is returned when a transfer buffer is not a whole number of samples.
	ErrFrameSize = errors.New("acquisition: ragged frame")

	// ErrRemote is returned when the acquisition server rejects a request.
	ErrRemote = errors.New("acquisition: remote error")

	// ErrNoRemote is returned by NewSource when no remote server is configured.
	ErrNoRemote = errors.New("acquisition: no remote server configured")
)

// Block is one transfer buffer of normalized samples.
type Block struct {
	Seq        uint64
	Timestamp  time.Time
	SampleRate float64
	Signal     beamformer.SignalBlock
}

// Source provides blocks of samples.
type Source interface {
	// Next blocks until a block is available or ctx is done.
	Next(ctx context.Context) (Block, error)

	// Close releases resources.
	Close() error

	// Healthy returns true if the source is delivering data.
	Healthy() bool

	// Name returns the source type name.
	Name() string
}

// Config selects and configures a source.
type Config struct {
	SampleRate    float64 // Hz
	BlockDuration float64 // Seconds of signal per block
	QueueSize     int
	Remote        RemoteConfig
	Mock          MockConfig
}

// BlockSamples returns the number of samples per channel in a block.
func (c Config) BlockSamples() int {
	return beamformer.WindowSamples(c.SampleRate, c.BlockDuration)
}

// NewSource creates a remote source for the configured server and starts it.
func NewSource(ctx context.Context, cfg Config, g beamformer.Geometry, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Remote.URL == "" {
		return nil, ErrNoRemote
	}
	if cfg.BlockSamples() < 1 {
		return nil, fmt.Errorf("acquisition: block of %gs at %g Hz is empty", cfg.BlockDuration, cfg.SampleRate)
	}

	remote := NewRemoteSource(cfg, g.Mics, logger)
	if err := remote.Start(ctx); err != nil {
		return nil, err
	}
	return remote, nil
}

// NewSourceWithFallback creates a source with a synthetic fallback.
// Use this for development when no acquisition server is available.
func NewSourceWithFallback(ctx context.Context, cfg Config, g beamformer.Geometry, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}

	source, err := NewSource(ctx, cfg, g, logger)
	if err == nil {
		return source
	}

	logger.Warn("using mock acquisition source", "reason", err)
	return NewMockSource(cfg, g)
}
