package beamformer

import (
	"fmt"
	"math"
)

// SourceCue describes how one point source reaches every microphone.
type SourceCue struct {
	Location    [3]float64 `json:"location"`
	Distances   []float64  `json:"distances"`    // Source to microphone (meters)
	DelayDiffs  []float64  `json:"delay_diffs"`  // Arrival after the closest microphone (seconds)
	SampleDiffs []int      `json:"sample_diffs"` // DelayDiffs in whole samples
}

// Cues summarizes the arrival differences an array sees for a set of sources.
type Cues struct {
	Sources       []SourceCue `json:"sources"`
	MaxSampleDiff int         `json:"max_sample_diff"`
	MinDistance   float64     `json:"min_distance"`
	MaxDistance   float64     `json:"max_distance"`

	// LocalizableBelowHz bounds the frequencies that can be fully localized
	// given the microphone inter-distances. Zero means unbounded.
	LocalizableBelowHz float64 `json:"localizable_below_hz"`

	// CoherentBelowHz bounds the frequencies for which the phase map stays
	// coherent over the array dimensions. Zero means unbounded.
	CoherentBelowHz float64 `json:"coherent_below_hz"`
}

// RoomCues computes arrival differences between microphones for sources at
// the given locations.
func RoomCues(g Geometry, locations [][3]float64, sampleRate float64, opts ...Option) (Cues, error) {
	cfg := buildConfig{soundSpeed: SoundSpeed}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := g.Validate(); err != nil {
		return Cues{}, err
	}
	if !(sampleRate > 0) {
		return Cues{}, fmt.Errorf("%w: sampling frequency must be > 0, got %g", ErrInvalidConfig, sampleRate)
	}
	if !(cfg.soundSpeed > 0) {
		return Cues{}, fmt.Errorf("%w: sound speed must be > 0, got %g", ErrInvalidConfig, cfg.soundSpeed)
	}
	if len(locations) == 0 {
		return Cues{}, fmt.Errorf("%w: no source locations", ErrInvalidConfig)
	}

	mics := g.Positions()
	cues := Cues{Sources: make([]SourceCue, len(locations))}

	for i, loc := range locations {
		dists := make([]float64, len(mics))
		nearest, farthest := math.Inf(1), 0.0
		for m, p := range mics {
			dists[m] = distance(loc, p)
			nearest = math.Min(nearest, dists[m])
			farthest = math.Max(farthest, dists[m])
		}

		if i == 0 {
			cues.MinDistance, cues.MaxDistance = nearest, farthest
		} else {
			cues.MinDistance = math.Min(cues.MinDistance, nearest)
			cues.MaxDistance = math.Max(cues.MaxDistance, farthest)
		}

		delays := make([]float64, len(mics))
		samples := make([]int, len(mics))
		for m, d := range dists {
			diff := d - nearest
			delays[m] = diff / cfg.soundSpeed
			samples[m] = int(math.Floor(diff * sampleRate / cfg.soundSpeed))
			cues.MaxSampleDiff = max(cues.MaxSampleDiff, samples[m])
		}

		cues.Sources[i] = SourceCue{
			Location:    loc,
			Distances:   dists,
			DelayDiffs:  delays,
			SampleDiffs: samples,
		}
	}

	if cues.MaxSampleDiff > 0 {
		cues.LocalizableBelowHz = sampleRate / float64(cues.MaxSampleDiff)
	}

	if spread := cues.MaxDistance - cues.MinDistance; spread > 0 {
		cues.CoherentBelowHz = cfg.soundSpeed / spread
	}

	return cues, nil
}
