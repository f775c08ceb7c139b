package fov

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"viawind/pkg/geo"
	"viawind/pkg/turbines"
	"viawind/pkg/visibility"
)

// BinDistances snaps each distance (in meters) to the nearest table level.
// Exact midpoint ties go to the lower level, matching argmin semantics over
// ascending levels.
func BinDistances(levels []float64, distances []float64) []float64 {
	out := make([]float64, len(distances))
	for i, d := range distances {
		best := levels[0]
		bestDiff := math.Abs(d - levels[0])
		for _, level := range levels[1:] {
			diff := math.Abs(d - level)
			if diff < bestDiff {
				bestDiff = diff
				best = level
			}
		}
		out[i] = best
	}
	return out
}

// Estimate computes the wind-direction-weighted FOV percentage for every
// pixel of one turbine's analysis window. composite is the minimum-visible-
// height grid (sentinel = not visible), distanceBins the per-pixel table
// distance level, directions the per-pixel bearing from the turbine. All
// three are co-indexed row-major grids of equal length.
//
// For each wind bucket with positive weight the turbine faces opposite the
// wind, pixels are classified by aspect, and the table is joined on
// (obstruction height, distance bin, aspect) for the turbine's dimensions.
// Pixels flagged not visible get 0% without a lookup. The result is the
// weight-normalized sum across buckets.
func Estimate(t *Table, tb turbines.Turbine, composite, distanceBins, directions []float64) ([]float64, error) {
	if len(composite) != len(distanceBins) || len(composite) != len(directions) {
		return nil, fmt.Errorf("turbine gid %d: input grids have mismatched lengths %d/%d/%d",
			tb.GID, len(composite), len(distanceBins), len(directions))
	}

	acc := make([]float64, len(composite))
	bucket := make([]float64, len(composite))
	var weightSum float64

	for _, w := range tb.WindWeights {
		if w.Weight <= 0 {
			continue
		}

		// The turbine faces into the wind: its bearing is opposite the
		// direction the wind blows from.
		bearing := math.Mod(w.BearingDeg+180, 360)
		aspects, err := geo.ClassifyAspects(directions, bearing)
		if err != nil {
			return nil, fmt.Errorf("turbine gid %d: %w", tb.GID, err)
		}

		for i, obs := range composite {
			if obs == visibility.NotVisible {
				bucket[i] = 0
				continue
			}
			pct, ok := t.Lookup(tb.RotorDiameterM, tb.HubHeightM, obs, distanceBins[i], aspects[i])
			if !ok {
				return nil, fmt.Errorf(
					"turbine gid %d: no FOV lookup entry for rd=%g hh=%g obstruction=%g distance=%g rotation=%s",
					tb.GID, tb.RotorDiameterM, tb.HubHeightM, obs, distanceBins[i], aspects[i])
			}
			bucket[i] = pct
		}

		floats.AddScaled(acc, w.Weight, bucket)
		weightSum += w.Weight
	}

	if weightSum <= 0 {
		return nil, fmt.Errorf("turbine gid %d: total wind direction weight is zero", tb.GID)
	}
	floats.Scale(1/weightSum, acc)
	return acc, nil
}
