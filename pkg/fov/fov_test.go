package fov

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viawind/pkg/geo"
	"viawind/pkg/turbines"
	"viawind/pkg/visibility"
)

// pctFor derives a distinct, predictable pct_fov for a combination so tests
// can verify exactly which row a lookup hit.
func pctFor(obs, dist float64, a geo.Aspect) float64 {
	return obs/10 + dist/100 + float64(a)
}

func writeTableCSV(t *testing.T, rows []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fov_lookup.csv")
	header := "rotor_diameter_m,hub_height_m,obstruction_height_m,distance_m,rotation,pct_fov\n"
	require.NoError(t, os.WriteFile(path, []byte(header+strings.Join(rows, "\n")+"\n"), 0o644))
	return path
}

// fullTableCSV writes a table covering every combination of the given
// obstruction heights and distances for one turbine dimension pair.
func fullTableCSV(t *testing.T, rd, hh float64, obsHeights, dists []float64) string {
	t.Helper()
	var rows []string
	for _, obs := range obsHeights {
		for _, dist := range dists {
			for _, a := range geo.Aspects() {
				rows = append(rows, fmt.Sprintf("%g,%g,%g,%g,%s,%g", rd, hh, obs, dist, a, pctFor(obs, dist, a)))
			}
		}
	}
	return writeTableCSV(t, rows)
}

func TestLoadTable(t *testing.T) {
	path := fullTableCSV(t, 80, 80, []float64{0, 120}, []float64{500, 1000})

	tbl, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{500, 1000}, tbl.DistanceLevels())
	assert.Equal(t, 1000.0, tbl.MaxDistance())

	pct, ok := tbl.Lookup(80, 80, 120, 1000, geo.AspectDiagonal)
	require.True(t, ok)
	assert.Equal(t, pctFor(120, 1000, geo.AspectDiagonal), pct)

	_, ok = tbl.Lookup(80, 80, 55, 1000, geo.AspectDiagonal)
	assert.False(t, ok, "no entry for an unsampled obstruction height")
}

func TestLoadTableMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fov_lookup.csv")
	require.NoError(t, os.WriteFile(path, []byte("rotor_diameter_m,hub_height_m\n80,80\n"), 0o644))

	_, err := LoadTable(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required columns")
	assert.Contains(t, err.Error(), "obstruction_height_m")
}

func TestLoadTableBadValues(t *testing.T) {
	tests := []struct {
		name string
		row  string
		want string
	}{
		{"non-numeric distance", "80,80,0,near,FRONT,1.5", "must be numeric"},
		{"unknown rotation", "80,80,0,500,BACK,1.5", "unknown rotation class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTable(writeTableCSV(t, []string{tt.row}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "line 2")
		})
	}
}

func TestLoadTableEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fov_lookup.csv")
	header := "rotor_diameter_m,hub_height_m,obstruction_height_m,distance_m,rotation,pct_fov\n"
	require.NoError(t, os.WriteFile(path, []byte(header), 0o644))

	_, err := LoadTable(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rows")
}

func TestBinDistances(t *testing.T) {
	levels := []float64{0, 500, 1000, 5000, 7500, 10000}

	tests := []struct {
		dist float64
		want float64
	}{
		{0, 0},
		{100, 0},
		{250, 0}, // exact midpoint snaps to the lower level
		{251, 500},
		{499, 500},
		{750, 500},
		{751, 1000},
		{3000, 1000},
		{3001, 5000},
		{6250, 5000},
		{8750, 7500},
		{9000, 10000},
		{25000, 10000},
	}
	var distances []float64
	for _, tt := range tests {
		distances = append(distances, tt.dist)
	}

	got := BinDistances(levels, distances)
	for i, tt := range tests {
		assert.Equal(t, tt.want, got[i], "distance %g", tt.dist)
	}

	// Every binned value must be one of the table levels.
	levelSet := make(map[float64]bool)
	for _, l := range levels {
		levelSet[l] = true
	}
	for i, v := range got {
		assert.True(t, levelSet[v], "bin %d produced %g, not a table level", i, v)
	}
}

func TestCheckComplete(t *testing.T) {
	ladder := []float64{0, 20, 40, 60, 80, 100, 120}
	tbl, err := LoadTable(fullTableCSV(t, 80, 80, ladder, []float64{500, 1000}))
	require.NoError(t, err)

	ts := []turbines.Turbine{{GID: 1, RotorDiameterM: 80, HubHeightM: 80}}
	assert.NoError(t, tbl.CheckComplete(ts, 20, 1))
}

func TestCheckCompleteMissingCombinations(t *testing.T) {
	// Ladder for rd=80 hh=80 at interval 20 reaches 120, but the table only
	// samples obstruction heights up to 100.
	tbl, err := LoadTable(fullTableCSV(t, 80, 80, []float64{0, 20, 40, 60, 80, 100}, []float64{500, 1000}))
	require.NoError(t, err)

	ts := []turbines.Turbine{{GID: 1, RotorDiameterM: 80, HubHeightM: 80}}
	err = tbl.CheckComplete(ts, 20, 1)
	require.Error(t, err)
	// One missing obstruction height, two distances, three aspects.
	assert.Contains(t, err.Error(), "missing 6 required combinations")
	assert.Contains(t, err.Error(), "obstruction=120")
}

func TestCheckCompleteMaxDistanceTooSmall(t *testing.T) {
	tbl, err := LoadTable(fullTableCSV(t, 80, 80, []float64{0, 120}, []float64{500, 1000}))
	require.NoError(t, err)

	ts := []turbines.Turbine{{GID: 1, RotorDiameterM: 80, HubHeightM: 80}}
	err = tbl.CheckComplete(ts, 20, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot cover the analysis radius")
}

func TestCheckCompleteNoLevelInRange(t *testing.T) {
	// Every sampled distance sits beyond the analysis radius: the table spans
	// the radius but can never answer a lookup, which must fail up front
	// instead of leaving estimation with no level to bin against.
	tbl, err := LoadTable(fullTableCSV(t, 80, 80, []float64{0, 120}, []float64{15000}))
	require.NoError(t, err)

	ts := []turbines.Turbine{{GID: 1, RotorDiameterM: 80, HubHeightM: 80}}
	err = tbl.CheckComplete(ts, 20, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no distance level within")
	assert.Contains(t, err.Error(), "15000")
}

func TestEstimate(t *testing.T) {
	tbl, err := LoadTable(fullTableCSV(t, 80, 80, []float64{0, 120}, []float64{500, 1000}))
	require.NoError(t, err)

	tb := turbines.Turbine{
		GID:            7,
		RotorDiameterM: 80,
		HubHeightM:     80,
		WindWeights: []turbines.WindWeight{
			{BearingDeg: 0, Weight: 3},  // turbine faces 180
			{BearingDeg: 90, Weight: 1}, // turbine faces 270
		},
	}

	composite := []float64{0, visibility.NotVisible, 120}
	distanceBins := []float64{500, 500, 1000}
	directions := []float64{0, 0, 45}

	got, err := Estimate(tbl, tb, composite, distanceBins, directions)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Pixel 0 looks FRONT against bearing 180 and SIDE against bearing 270.
	want0 := (3*pctFor(0, 500, geo.AspectFront) + 1*pctFor(0, 500, geo.AspectSide)) / 4
	assert.InDelta(t, want0, got[0], 1e-12)

	// Not visible pixels contribute 0 regardless of wind bucket.
	assert.Equal(t, 0.0, got[1])

	// Pixel 2 at direction 45 is DIAGONAL against both bearings.
	assert.InDelta(t, pctFor(120, 1000, geo.AspectDiagonal), got[2], 1e-12)
}

func TestEstimateZeroWeight(t *testing.T) {
	tbl, err := LoadTable(fullTableCSV(t, 80, 80, []float64{0}, []float64{500}))
	require.NoError(t, err)

	tb := turbines.Turbine{GID: 3, RotorDiameterM: 80, HubHeightM: 80,
		WindWeights: []turbines.WindWeight{{BearingDeg: 0, Weight: 0}}}
	_, err = Estimate(tbl, tb, []float64{0}, []float64{500}, []float64{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total wind direction weight is zero")
}

func TestEstimateMissingLookupEntry(t *testing.T) {
	tbl, err := LoadTable(fullTableCSV(t, 80, 80, []float64{0}, []float64{500}))
	require.NoError(t, err)

	tb := turbines.Turbine{GID: 9, RotorDiameterM: 80, HubHeightM: 80,
		WindWeights: []turbines.WindWeight{{BearingDeg: 0, Weight: 1}}}
	// Obstruction height 55 was never sampled by the table.
	_, err = Estimate(tbl, tb, []float64{55}, []float64{500}, []float64{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gid 9")
	assert.Contains(t, err.Error(), "obstruction=55")
}

func TestEstimateMismatchedLengths(t *testing.T) {
	tbl, err := LoadTable(fullTableCSV(t, 80, 80, []float64{0}, []float64{500}))
	require.NoError(t, err)

	tb := turbines.Turbine{GID: 2, RotorDiameterM: 80, HubHeightM: 80,
		WindWeights: []turbines.WindWeight{{BearingDeg: 0, Weight: 1}}}
	_, err = Estimate(tbl, tb, []float64{0, 0}, []float64{500}, []float64{0, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched lengths")
}
