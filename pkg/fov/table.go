// Package fov implements the lookup-table-driven estimation of how much of a
// viewer's field of view a turbine occupies: table loading and completeness
// validation, distance binning, and the wind-direction-weighted per-pixel
// estimate.
package fov

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"viawind/pkg/geo"
	"viawind/pkg/turbines"
)

// Row is one lookup entry: the percent of the field of view occupied by a
// turbine of the given dimensions, seen from the given distance and aspect,
// with visibility starting at the given obstruction height.
type Row struct {
	RotorDiameterM     float64
	HubHeightM         float64
	ObstructionHeightM float64
	DistanceM          float64
	Rotation           geo.Aspect
	PctFov             float64
}

type tableKey struct {
	rd, hh, obs, dist float64
	aspect            geo.Aspect
}

// Table is the in-memory FOV lookup table. It is built once and read-only
// thereafter.
type Table struct {
	rows   []Row
	levels []float64 // sorted distinct distance levels
	index  map[tableKey]float64
}

var requiredColumns = []string{
	"rotor_diameter_m",
	"hub_height_m",
	"obstruction_height_m",
	"distance_m",
	"rotation",
	"pct_fov",
}

// LoadTable reads the lookup table CSV. A missing column, a non-numeric
// value, or an unknown rotation class is fatal at load time.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open FOV lookup table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read FOV lookup table header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("FOV lookup table is missing required columns: %s", strings.Join(missing, ", "))
	}

	t := &Table{index: make(map[tableKey]float64)}
	levelSet := make(map[float64]bool)
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read FOV lookup table line %d: %w", line, err)
		}

		row := Row{}
		numeric := []struct {
			name string
			dst  *float64
		}{
			{"rotor_diameter_m", &row.RotorDiameterM},
			{"hub_height_m", &row.HubHeightM},
			{"obstruction_height_m", &row.ObstructionHeightM},
			{"distance_m", &row.DistanceM},
			{"pct_fov", &row.PctFov},
		}
		for _, n := range numeric {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[cols[n.name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("FOV lookup table line %d: column %s must be numeric: %w", line, n.name, err)
			}
			*n.dst = v
		}
		row.Rotation, err = geo.ParseAspect(strings.TrimSpace(record[cols["rotation"]]))
		if err != nil {
			return nil, fmt.Errorf("FOV lookup table line %d: %w", line, err)
		}

		t.rows = append(t.rows, row)
		t.index[tableKey{row.RotorDiameterM, row.HubHeightM, row.ObstructionHeightM, row.DistanceM, row.Rotation}] = row.PctFov
		levelSet[row.DistanceM] = true
	}
	if len(t.rows) == 0 {
		return nil, fmt.Errorf("FOV lookup table %s contains no rows", path)
	}

	for d := range levelSet {
		t.levels = append(t.levels, d)
	}
	sort.Float64s(t.levels)
	return t, nil
}

// DistanceLevels returns the table's distinct distance levels in ascending
// order. The returned slice must not be modified.
func (t *Table) DistanceLevels() []float64 {
	return t.levels
}

// MaxDistance returns the table's largest distance level.
func (t *Table) MaxDistance() float64 {
	return t.levels[len(t.levels)-1]
}

// Lookup returns the FOV percentage for an exact key combination.
func (t *Table) Lookup(rd, hh, obsHeight, distance float64, a geo.Aspect) (float64, bool) {
	pct, ok := t.index[tableKey{rd, hh, obsHeight, distance, a}]
	return pct, ok
}

// maxMissingListed caps how many missing combinations a completeness error
// enumerates before switching to a count.
const maxMissingListed = 20

// CheckComplete validates that the table holds an exact row for every
// combination that estimation will query: each distinct turbine dimension
// pair, every obstruction height its ladder implies, every table distance
// level within the analysis distance, and every aspect class. Interpolation
// is never used; partial coverage is a fatal configuration error.
func (t *Table) CheckComplete(ts []turbines.Turbine, obstructionIntervalM, maxDistanceKM float64) error {
	maxDistanceM := maxDistanceKM * 1000
	if t.MaxDistance() < maxDistanceM {
		return fmt.Errorf(
			"FOV lookup table maximum distance %gm is smaller than the maximum analysis distance %gm; "+
				"the table cannot cover the analysis radius", t.MaxDistance(), maxDistanceM)
	}

	var distances []float64
	for _, d := range t.levels {
		if d <= maxDistanceM {
			distances = append(distances, d)
		}
	}
	if len(distances) == 0 {
		return fmt.Errorf(
			"FOV lookup table has no distance level within the maximum analysis distance %gm (smallest level is %gm)",
			maxDistanceM, t.levels[0])
	}

	var missing []string
	missingCount := 0
	for _, dim := range turbines.Dimensions(ts) {
		rd, hh := dim[0], dim[1]
		ladder := turbines.Turbine{RotorDiameterM: rd, HubHeightM: hh}.ObstructionHeights(obstructionIntervalM)
		for _, obs := range ladder {
			for _, dist := range distances {
				for _, aspect := range geo.Aspects() {
					if _, ok := t.Lookup(rd, hh, obs, dist, aspect); !ok {
						missingCount++
						if len(missing) < maxMissingListed {
							missing = append(missing, fmt.Sprintf(
								"rd=%g hh=%g obstruction=%g distance=%g rotation=%s",
								rd, hh, obs, dist, aspect))
						}
					}
				}
			}
		}
	}
	if missingCount > 0 {
		return fmt.Errorf("FOV lookup table is missing %d required combinations, including:\n\t%s",
			missingCount, strings.Join(missing, "\n\t"))
	}
	return nil
}
