package beamformer

import "encoding/json"

// PowerMatrix holds the power of every beam in every analysis window.
// Values are stored row-major, one row per beam.
type PowerMatrix struct {
	Beams  int
	Frames int
	data   []float64
}

// NewPowerMatrix returns a zeroed beams x frames matrix.
func NewPowerMatrix(beams, frames int) *PowerMatrix {
	return &PowerMatrix{
		Beams:  beams,
		Frames: frames,
		data:   make([]float64, beams*frames),
	}
}

// At returns the power of beam b in frame f.
func (p *PowerMatrix) At(b, f int) float64 {
	return p.data[b*p.Frames+f]
}

func (p *PowerMatrix) set(b, f int, v float64) {
	p.data[b*p.Frames+f] = v
}

// Row returns a copy of the powers of beam b over all frames.
func (p *PowerMatrix) Row(b int) []float64 {
	return append([]float64(nil), p.data[b*p.Frames:(b+1)*p.Frames]...)
}

// Rows returns the matrix as one slice per beam.
func (p *PowerMatrix) Rows() [][]float64 {
	out := make([][]float64, p.Beams)
	for b := range out {
		out[b] = p.Row(b)
	}
	return out
}

// Frame returns the power of every beam in frame f.
func (p *PowerMatrix) Frame(f int) []float64 {
	out := make([]float64, p.Beams)
	for b := range out {
		out[b] = p.At(b, f)
	}
	return out
}

// PeakBeam returns the beam with the highest power in frame f.
// Ties resolve to the lowest beam index.
func (p *PowerMatrix) PeakBeam(f int) int {
	best := 0
	for b := 1; b < p.Beams; b++ {
		if p.At(b, f) > p.At(best, f) {
			best = b
		}
	}
	return best
}

// PeakBeams returns PeakBeam for every frame.
func (p *PowerMatrix) PeakBeams() []int {
	out := make([]int, p.Frames)
	for f := range out {
		out[f] = p.PeakBeam(f)
	}
	return out
}

// MeanPower returns the power of every beam averaged over all frames.
func (p *PowerMatrix) MeanPower() []float64 {
	out := make([]float64, p.Beams)
	if p.Frames == 0 {
		return out
	}
	for b := range out {
		var sum float64
		for _, v := range p.data[b*p.Frames : (b+1)*p.Frames] {
			sum += v
		}
		out[b] = sum / float64(p.Frames)
	}
	return out
}

// Max returns the largest value of the matrix.
func (p *PowerMatrix) Max() float64 {
	var m float64
	for _, v := range p.data {
		if v > m {
			m = v
		}
	}
	return m
}

type powerMatrixJSON struct {
	Beams  int         `json:"beams"`
	Frames int         `json:"frames"`
	Power  [][]float64 `json:"power"`
}

// MarshalJSON encodes the matrix as nested rows.
func (p *PowerMatrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(powerMatrixJSON{
		Beams:  p.Beams,
		Frames: p.Frames,
		Power:  p.Rows(),
	})
}
