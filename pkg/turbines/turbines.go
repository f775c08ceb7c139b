// Package turbines loads and validates the turbine point dataset: one record
// per turbine with its identity, dimensions, location, and wind-direction
// frequency weights.
package turbines

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// WindDirPrefix is the attribute-name pattern for wind-direction frequency
// columns; the suffix is the compass bearing of the bucket in degrees
// (wdfreq_0, wdfreq_45, ...). Kept short enough for the 10-character DBF
// field-name limit.
const WindDirPrefix = "wdfreq_"

// WindWeight is the frequency weight for wind blowing from one compass
// bucket. Weights need not sum to 1; they are renormalized during FOV
// weighting. Buckets with weight <= 0 are skipped entirely.
type WindWeight struct {
	BearingDeg float64
	Weight     float64
}

// Turbine is a single validated turbine record.
type Turbine struct {
	GID            int
	RotorDiameterM float64
	HubHeightM     float64
	Location       orb.Point // in the elevation raster's CRS
	WindWeights    []WindWeight
}

// MaxTipHeight returns hub height plus rotor radius.
func (t Turbine) MaxTipHeight() float64 {
	return t.HubHeightM + t.RotorDiameterM/2
}

// ObstructionHeights returns the ladder of heights at which visibility is
// sampled: multiples of the interval from the ground up, always including 0
// and the max tip height, in ascending order.
func (t Turbine) ObstructionHeights(intervalM float64) []float64 {
	maxTip := t.MaxTipHeight()
	var heights []float64
	for h := 0.0; h < maxTip; h += intervalM {
		heights = append(heights, h)
	}
	if len(heights) == 0 || heights[len(heights)-1] != maxTip {
		heights = append(heights, maxTip)
	}
	return heights
}

// TotalWindWeight sums the positive bucket weights.
func (t Turbine) TotalWindWeight() float64 {
	var sum float64
	for _, w := range t.WindWeights {
		if w.Weight > 0 {
			sum += w.Weight
		}
	}
	return sum
}

// Dimensions returns the distinct (rotor diameter, hub height) pairs in the
// set, in stable order.
func Dimensions(ts []Turbine) [][2]float64 {
	seen := make(map[[2]float64]bool)
	var dims [][2]float64
	for _, t := range ts {
		d := [2]float64{t.RotorDiameterM, t.HubHeightM}
		if !seen[d] {
			seen[d] = true
			dims = append(dims, d)
		}
	}
	sort.Slice(dims, func(i, j int) bool {
		if dims[i][0] != dims[j][0] {
			return dims[i][0] < dims[j][0]
		}
		return dims[i][1] < dims[j][1]
	})
	return dims
}

// Load reads a turbine shapefile. Records must be points with integer gid,
// numeric rd_m and hh_m, and at least one wdfreq_### column. Turbine
// coordinates must already be in the elevation raster's CRS; no reprojection
// is performed here.
func Load(path string) ([]Turbine, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open turbines dataset: %w", err)
	}
	defer reader.Close()

	fields := reader.Fields()
	cols := make(map[string]int, len(fields))
	var windCols []windCol
	for i, f := range fields {
		name := f.String()
		cols[name] = i
		if strings.HasPrefix(name, WindDirPrefix) {
			bearing, err := strconv.ParseFloat(strings.TrimPrefix(name, WindDirPrefix), 64)
			if err != nil {
				return nil, fmt.Errorf("wind direction column %q: suffix is not a bearing", name)
			}
			if bearing < 0 || bearing > 360 {
				return nil, fmt.Errorf("wind direction column %q: bearing outside 0 to 360", name)
			}
			windCols = append(windCols, windCol{field: i, bearing: bearing})
		}
	}

	var missing []string
	for _, required := range []string{"gid", "rd_m", "hh_m"} {
		if _, ok := cols[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("turbines dataset is missing required columns: %s", strings.Join(missing, ", "))
	}
	if len(windCols) == 0 {
		return nil, fmt.Errorf("turbines dataset has no columns matching the expected wind direction frequency format: %s###", WindDirPrefix)
	}
	sort.Slice(windCols, func(i, j int) bool { return windCols[i].bearing < windCols[j].bearing })

	var out []Turbine
	seen := make(map[int]bool)
	for reader.Next() {
		n, geom := reader.Shape()
		pt, ok := geom.(*shp.Point)
		if !ok {
			return nil, fmt.Errorf("turbines dataset record %d: geometry must be a point, got %T", n, geom)
		}

		gid, err := strconv.Atoi(strings.TrimSpace(reader.ReadAttribute(n, cols["gid"])))
		if err != nil {
			return nil, fmt.Errorf("turbines dataset record %d: gid must be an integer: %w", n, err)
		}
		if seen[gid] {
			return nil, fmt.Errorf("turbines dataset record %d: duplicate gid %d", n, gid)
		}
		seen[gid] = true

		rd, err := parseNumeric(reader.ReadAttribute(n, cols["rd_m"]))
		if err != nil {
			return nil, fmt.Errorf("turbine gid %d: rd_m must be numeric: %w", gid, err)
		}
		hh, err := parseNumeric(reader.ReadAttribute(n, cols["hh_m"]))
		if err != nil {
			return nil, fmt.Errorf("turbine gid %d: hh_m must be numeric: %w", gid, err)
		}

		t := Turbine{
			GID:            gid,
			RotorDiameterM: rd,
			HubHeightM:     hh,
			Location:       orb.Point{pt.X, pt.Y},
		}
		for _, wc := range windCols {
			weight, err := parseNumeric(reader.ReadAttribute(n, wc.field))
			if err != nil {
				return nil, fmt.Errorf("turbine gid %d: %s%g must be numeric: %w", gid, WindDirPrefix, wc.bearing, err)
			}
			t.WindWeights = append(t.WindWeights, WindWeight{BearingDeg: wc.bearing, Weight: weight})
		}
		if t.TotalWindWeight() <= 0 {
			return nil, fmt.Errorf("turbine gid %d: total wind direction weight is zero", gid)
		}
		out = append(out, t)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("read turbines dataset: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("turbines dataset %s contains no records", path)
	}
	return out, nil
}

type windCol struct {
	field   int
	bearing float64
}

func parseNumeric(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("value is NaN")
	}
	return v, nil
}
