package beamformer

import "errors"

var (
	// ErrInvalidGeometry is returned when the array geometry cannot describe a usable array.
	ErrInvalidGeometry = errors.New("beamformer: invalid geometry")

	// ErrInvalidConfig is returned for non-positive beam counts, sampling frequencies or windows.
	ErrInvalidConfig = errors.New("beamformer: invalid config")

	// ErrChannelMismatch is returned when a block does not carry one channel per microphone.
	ErrChannelMismatch = errors.New("beamformer: channel mismatch")

	// ErrEmptyBlock is returned when a block is shorter than one analysis window.
	ErrEmptyBlock = errors.New("beamformer: block shorter than one window")

	// ErrConfigMismatch is returned when estimation parameters differ from the ones the bank was built with.
	ErrConfigMismatch = errors.New("beamformer: parameters differ from bank")
)
