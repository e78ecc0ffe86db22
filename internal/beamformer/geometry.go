package beamformer

import (
	"fmt"
	"math"
	"strings"
)

// Layout selects how microphones are arranged around the array origin.
type Layout int

const (
	// LayoutLinear places microphones on a line centered on the origin.
	LayoutLinear Layout = iota
	// LayoutCircular places microphones on a circle centered on the origin.
	LayoutCircular
)

// String returns the config name of the layout.
func (l Layout) String() string {
	switch l {
	case LayoutLinear:
		return "linear"
	case LayoutCircular:
		return "circular"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout parses a layout name as used in configuration files.
func ParseLayout(name string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear":
		return LayoutLinear, nil
	case "circular":
		return LayoutCircular, nil
	default:
		return 0, fmt.Errorf("%w: unknown layout %q", ErrInvalidGeometry, name)
	}
}

// Geometry describes a planar microphone array.
type Geometry struct {
	Origin  [3]float64 // Array center in meters
	Mics    int        // Microphone count
	Angle   float64    // Rotation of the array axis in the xy-plane (radians)
	Spacing float64    // Distance between neighbouring microphones (meters)
	Layout  Layout
}

// NewLinearArray returns the geometry of a linear array.
func NewLinearArray(origin [3]float64, mics int, angle, spacing float64) Geometry {
	return Geometry{
		Origin:  origin,
		Mics:    mics,
		Angle:   angle,
		Spacing: spacing,
		Layout:  LayoutLinear,
	}
}

// Validate reports whether the geometry describes a usable array.
func (g Geometry) Validate() error {
	if g.Mics < 2 {
		return fmt.Errorf("%w: need at least 2 microphones, got %d", ErrInvalidGeometry, g.Mics)
	}
	if !(g.Spacing > 0) || math.IsInf(g.Spacing, 0) {
		return fmt.Errorf("%w: spacing must be > 0, got %g", ErrInvalidGeometry, g.Spacing)
	}
	if !finite(g.Angle) {
		return fmt.Errorf("%w: angle must be finite, got %g", ErrInvalidGeometry, g.Angle)
	}
	for i, v := range g.Origin {
		if !finite(v) {
			return fmt.Errorf("%w: origin[%d] must be finite, got %g", ErrInvalidGeometry, i, v)
		}
	}
	if g.Layout != LayoutLinear && g.Layout != LayoutCircular {
		return fmt.Errorf("%w: unsupported layout %s", ErrInvalidGeometry, g.Layout)
	}
	return nil
}

// Positions returns the 3D coordinates of every microphone.
func (g Geometry) Positions() [][3]float64 {
	if g.Mics <= 0 {
		return nil
	}

	out := make([][3]float64, g.Mics)

	switch g.Layout {
	case LayoutCircular:
		r := g.Radius()
		for i := range out {
			phi := g.Angle + 2*math.Pi*float64(i)/float64(g.Mics)
			out[i] = [3]float64{
				g.Origin[0] + r*math.Cos(phi),
				g.Origin[1] + r*math.Sin(phi),
				g.Origin[2],
			}
		}
	default:
		axis := g.Axis()
		half := float64(g.Mics-1) * g.Spacing / 2
		for i := range out {
			x := float64(i)*g.Spacing - half
			out[i] = [3]float64{
				g.Origin[0] + x*axis[0],
				g.Origin[1] + x*axis[1],
				g.Origin[2],
			}
		}
	}

	return out
}

// Radius returns the circle radius of a circular layout whose neighbouring
// microphones are Spacing apart. It is half the aperture for linear arrays.
func (g Geometry) Radius() float64 {
	if g.Layout == LayoutCircular && g.Mics >= 2 {
		return g.Spacing / (2 * math.Sin(math.Pi/float64(g.Mics)))
	}
	return g.Aperture() / 2
}

// Aperture returns the largest distance between two microphones.
func (g Geometry) Aperture() float64 {
	if g.Mics < 2 {
		return 0
	}
	if g.Layout == LayoutCircular {
		return 2 * g.Radius()
	}
	return float64(g.Mics-1) * g.Spacing
}

// Axis returns the unit vector along the array axis.
func (g Geometry) Axis() [3]float64 {
	return [3]float64{math.Cos(g.Angle), math.Sin(g.Angle), 0}
}

// Broadside returns the unit vector perpendicular to the array axis in the xy-plane.
func (g Geometry) Broadside() [3]float64 {
	return [3]float64{-math.Sin(g.Angle), math.Cos(g.Angle), 0}
}

// Direction returns the unit vector pointing toward a far-field source at theta.
func (g Geometry) Direction(theta float64) [3]float64 {
	a := g.Axis()
	n := g.Broadside()
	s, c := math.Sincos(theta)
	return [3]float64{
		c*n[0] + s*a[0],
		c*n[1] + s*a[1],
		c*n[2] + s*a[2],
	}
}

// FieldOfView returns the angular span covered by the beams of this layout.
// Linear arrays cannot tell front from back, so they cover a half plane.
func (g Geometry) FieldOfView() (lo, hi float64) {
	if g.Layout == LayoutCircular {
		return -math.Pi, math.Pi
	}
	return -math.Pi / 2, math.Pi / 2
}

// BeamAngles returns n uniformly spaced steering angles starting at the low
// edge of the field of view.
func (g Geometry) BeamAngles(n int) []float64 {
	if n <= 0 {
		return nil
	}
	lo, hi := g.FieldOfView()
	step := (hi - lo) / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

// ArrivalOffsets returns, for a far-field source at theta, the projection of
// every microphone onto the source direction divided by the sound speed.
// Larger values mean the wavefront reaches that microphone earlier.
func (g Geometry) ArrivalOffsets(theta, soundSpeed float64) []float64 {
	u := g.Direction(theta)
	pos := g.Positions()
	out := make([]float64, len(pos))
	for i, p := range pos {
		out[i] = dot(sub(p, g.Origin), u) / soundSpeed
	}
	return out
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func distance(a, b [3]float64) float64 {
	d := sub(a, b)
	return math.Sqrt(dot(d, d))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
