// Package geo provides the radial geometry used by the field-of-view
// estimator: per-pixel distance and compass direction from an analysis
// window's reference cell, and the look-angle classification of a viewer's
// position relative to a turbine's orientation.
package geo

import (
	"fmt"
	"math"
)

// Field holds two co-indexed row-major grids derived once per analysis-window
// shape. Distance is in units of pixels (multiply by the raster resolution to
// get meters); Direction is degrees clockwise from north in [0, 360).
type Field struct {
	Rows, Cols int
	Distance   []float64
	Direction  []float64
}

// DistanceDirection computes the distance and direction from the window's
// reference cell to every cell. The reference cell is the true center for odd
// dimensions and the average of the two center cells for even dimensions.
func DistanceDirection(rows, cols int) *Field {
	centerRow := float64(rows / 2)
	if rows%2 == 0 {
		centerRow = float64(rows-1) / 2
	}
	centerCol := float64(cols / 2)
	if cols%2 == 0 {
		centerCol = float64(cols-1) / 2
	}

	f := &Field{
		Rows:      rows,
		Cols:      cols,
		Distance:  make([]float64, rows*cols),
		Direction: make([]float64, rows*cols),
	}
	for r := 0; r < rows; r++ {
		dy := float64(r) - centerRow
		for c := 0; c < cols; c++ {
			dx := float64(c) - centerCol
			i := r*cols + c
			f.Distance[i] = math.Hypot(dy, dx)
			// atan2(row offset, col offset) rotated so 0=north, 90=east.
			deg := math.Atan2(dy, dx)*180/math.Pi + 90
			if deg < 0 {
				deg += 360
			}
			f.Direction[i] = deg
		}
	}
	return f
}

// LookAngle returns the undirected angle in [0, 180] between the viewer's
// bearing from the turbine and the turbine's facing bearing. It is computed
// from the arccosine of the bearings' unit-vector dot product rather than by
// subtraction, so wraparound at 0/360 cannot distort the result. The dot
// product is clamped to [-1, 1] before the arccosine; floating-point overshoot
// on identical bearings would otherwise produce NaN.
func LookAngle(viewerBearing, turbineBearing float64) float64 {
	vr := viewerBearing * math.Pi / 180
	tr := turbineBearing * math.Pi / 180
	dot := math.Sin(vr)*math.Sin(tr) + math.Cos(vr)*math.Cos(tr)
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	// Rounding to float32 keeps mirrored bearings on the same side of the
	// class boundaries; at full precision the two dot products can straddle
	// them by one ulp.
	return math.Acos(float64(float32(dot))) * 180 / math.Pi
}

// Aspect is the coarse viewing-angle class of a turbine: facing the viewer,
// diagonal to them, or side-on.
type Aspect int8

const (
	AspectFront    Aspect = 1
	AspectDiagonal Aspect = 2
	AspectSide     Aspect = 3
)

func (a Aspect) String() string {
	switch a {
	case AspectFront:
		return "FRONT"
	case AspectDiagonal:
		return "DIAGONAL"
	case AspectSide:
		return "SIDE"
	}
	return fmt.Sprintf("Aspect(%d)", int8(a))
}

// ParseAspect converts the textual rotation class used by the FOV lookup
// table into an Aspect.
func ParseAspect(s string) (Aspect, error) {
	switch s {
	case "FRONT":
		return AspectFront, nil
	case "DIAGONAL":
		return AspectDiagonal, nil
	case "SIDE":
		return AspectSide, nil
	}
	return 0, fmt.Errorf("unknown rotation class %q", s)
}

// Aspects returns every aspect class in order.
func Aspects() []Aspect {
	return []Aspect{AspectFront, AspectDiagonal, AspectSide}
}

// ClassifyAspect buckets a look angle into an aspect class. Angles above 90
// are folded back as 180-angle (front/back symmetry). A folded angle outside
// [0, 90] is an invariant violation and returns an error rather than a
// default class.
func ClassifyAspect(lookAngle float64) (Aspect, error) {
	if lookAngle > 90 {
		lookAngle = 180 - lookAngle
	}
	switch {
	case lookAngle >= 0 && lookAngle < 22.5:
		return AspectFront, nil
	case lookAngle >= 22.5 && lookAngle <= 67.5:
		return AspectDiagonal, nil
	case lookAngle > 67.5 && lookAngle <= 90:
		return AspectSide, nil
	}
	return 0, fmt.Errorf("look angle %g outside [0, 90] after folding", lookAngle)
}

// ClassifyAspects classifies the look angle of every direction in the field
// against a fixed turbine bearing.
func ClassifyAspects(directions []float64, turbineBearing float64) ([]Aspect, error) {
	out := make([]Aspect, len(directions))
	for i, d := range directions {
		a, err := ClassifyAspect(LookAngle(d, turbineBearing))
		if err != nil {
			return nil, fmt.Errorf("turbine bearing %g: %w", turbineBearing, err)
		}
		out[i] = a
	}
	return out, nil
}
