package mosaic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viawind/pkg/raster"
)

const testRes = 30

func writeSource(t *testing.T, dir, name string, originX, originY float64, width, height int, pixels []float64) string {
	t.Helper()
	g := raster.New(raster.Profile{
		Width:  width,
		Height: height,
		DType:  raster.Float32,
		Transform: raster.Transform{
			OriginX: originX,
			OriginY: originY,
			Res:     testRes,
		},
		CRS:  "EPSG:32613",
		Unit: "m",
	})
	copy(g.Pixels, pixels)
	path := filepath.Join(dir, name)
	require.NoError(t, raster.Write(path, g))
	return path
}

func TestIndexSources(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "fov-pct_gid1.grd", 0, 60, 2, 2, []float64{1, 2, 3, 4})
	writeSource(t, dir, "fov-pct_gid2.grd", 30, 30, 2, 2, []float64{5, 6, 7, 8})

	idx, err := IndexSources(dir, "fov-pct*.grd")
	require.NoError(t, err)

	assert.Equal(t, 3, idx.Profile.Width)
	assert.Equal(t, 3, idx.Profile.Height)
	assert.Equal(t, raster.Transform{OriginX: 0, OriginY: 60, Res: testRes}, idx.Profile.Transform)
	assert.Equal(t, "EPSG:32613", idx.Profile.CRS)

	require.Len(t, idx.Sources, 2)
	assert.Equal(t, 0, idx.Sources[0].ColOff)
	assert.Equal(t, 0, idx.Sources[0].RowOff)
	assert.Equal(t, 1, idx.Sources[1].ColOff)
	assert.Equal(t, 1, idx.Sources[1].RowOff)
}

func TestIndexSourcesNoMatches(t *testing.T) {
	_, err := IndexSources(t.TempDir(), "fov-pct*.grd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rasters matching")
}

func TestIndexSourcesMismatchedProfile(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.grd", 0, 60, 2, 2, make([]float64, 4))

	g := raster.New(raster.Profile{
		Width: 2, Height: 2, DType: raster.Float32,
		Transform: raster.Transform{OriginX: 0, OriginY: 60, Res: 10},
		CRS:       "EPSG:32613", Unit: "m",
	})
	require.NoError(t, raster.Write(filepath.Join(dir, "b.grd"), g))

	_, err := IndexSources(dir, "*.grd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match the mosaic profile")
}

func TestBlockOffsets(t *testing.T) {
	idx := &Index{Profile: raster.Profile{Width: 5, Height: 4}}
	assert.Equal(t, [][2]int{
		{0, 0}, {0, 2}, {0, 4},
		{2, 0}, {2, 2}, {2, 4},
	}, idx.BlockOffsets(2))
}

func TestMosaicSumsIdenticalSources(t *testing.T) {
	dir := t.TempDir()
	pixels := []float64{1, 2, 3, 4}
	writeSource(t, dir, "fov-pct_gid1.grd", 0, 60, 2, 2, pixels)
	writeSource(t, dir, "fov-pct_gid2.grd", 0, 60, 2, 2, pixels)

	idx, err := IndexSources(dir, "fov-pct*.grd")
	require.NoError(t, err)

	blocksDir := filepath.Join(dir, "blocks")
	_, err = MosaicBlock(idx, blocksDir, 0, 0, 2)
	require.NoError(t, err)

	outPath := filepath.Join(dir, "fov-pct_sum.grd")
	require.NoError(t, MergeBlocks(blocksDir, outPath))

	got, err := raster.Read(outPath)
	require.NoError(t, err)
	// Two bit-identical inputs sum to exactly double either one.
	assert.Equal(t, []float64{2, 4, 6, 8}, got.Pixels)
	assert.Equal(t, idx.Profile.Transform, got.Transform)
}

func TestMosaicSumsOverlap(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "fov-pct_gid1.grd", 0, 60, 2, 2, []float64{1, 2, 3, 4})
	// Shifted one column east: its west column overlaps gid1's east column.
	writeSource(t, dir, "fov-pct_gid2.grd", 30, 60, 2, 2, []float64{10, 20, 30, 40})

	idx, err := IndexSources(dir, "fov-pct*.grd")
	require.NoError(t, err)
	require.Equal(t, 3, idx.Profile.Width)
	require.Equal(t, 2, idx.Profile.Height)

	blocksDir := filepath.Join(dir, "blocks")
	_, err = MosaicBlock(idx, blocksDir, 0, 0, 3)
	require.NoError(t, err)

	outPath := filepath.Join(dir, "fov-pct_sum.grd")
	require.NoError(t, MergeBlocks(blocksDir, outPath))

	got, err := raster.Read(outPath)
	require.NoError(t, err)
	assert.Equal(t, []float64{
		1, 2 + 10, 20,
		3, 4 + 30, 40,
	}, got.Pixels)
}

func TestMosaicBlockSeams(t *testing.T) {
	// A single 4x4 source split into four 2x2 blocks must reassemble exactly,
	// including at the seams where the extra read row is trimmed.
	dir := t.TempDir()
	pixels := []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}
	writeSource(t, dir, "fov-pct_gid1.grd", 0, 120, 4, 4, pixels)

	idx, err := IndexSources(dir, "fov-pct*.grd")
	require.NoError(t, err)

	blocksDir := filepath.Join(dir, "blocks")
	offsets := idx.BlockOffsets(2)
	require.Len(t, offsets, 4)
	// Produce blocks in reverse order; merge must not care.
	for i := len(offsets) - 1; i >= 0; i-- {
		_, err := MosaicBlock(idx, blocksDir, offsets[i][0], offsets[i][1], 2)
		require.NoError(t, err)
	}

	outPath := filepath.Join(dir, "fov-pct_sum.grd")
	require.NoError(t, MergeBlocks(blocksDir, outPath))

	got, err := raster.Read(outPath)
	require.NoError(t, err)
	assert.Equal(t, pixels, got.Pixels)
	assert.Equal(t, idx.Profile.Transform, got.Transform)
	assert.Equal(t, idx.Profile.Width, got.Width)
	assert.Equal(t, idx.Profile.Height, got.Height)

	// Merging again is idempotent down to the bytes.
	first, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.NoError(t, MergeBlocks(blocksDir, outPath))
	second, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMosaicBlockName(t *testing.T) {
	assert.Equal(t, "block_0_3600.grd", BlockName(0, 3600))

	dir := t.TempDir()
	writeSource(t, dir, "fov-pct_gid1.grd", 0, 60, 2, 2, []float64{1, 2, 3, 4})
	idx, err := IndexSources(dir, "fov-pct*.grd")
	require.NoError(t, err)

	blocksDir := filepath.Join(dir, "blocks")
	path, err := MosaicBlock(idx, blocksDir, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(blocksDir, "block_0_0.grd"), path)

	// Re-running the same block overwrites it deterministically.
	again, err := MosaicBlock(idx, blocksDir, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestMosaicBlockOutsideExtent(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "fov-pct_gid1.grd", 0, 60, 2, 2, make([]float64, 4))
	idx, err := IndexSources(dir, "fov-pct*.grd")
	require.NoError(t, err)

	_, err = MosaicBlock(idx, filepath.Join(dir, "blocks"), 10, 0, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the mosaic extent")
}
