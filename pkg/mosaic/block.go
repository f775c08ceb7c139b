package mosaic

import (
	"fmt"
	"path/filepath"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"

	"viawind/pkg/raster"
)

// BlockName returns the deterministic file name for a block at the given
// offsets, so concurrent writers never collide and merge is idempotent.
func BlockName(rowOff, colOff int) string {
	return fmt.Sprintf("block_%d_%d.grd", rowOff, colOff)
}

// MosaicBlock mosaics one block of the virtual mosaic: every indexed source
// intersecting the block is windowed-read and *summed* into a zero-filled
// buffer (summation is how per-turbine FOV rasters accumulate into the
// cumulative raster). The block file is written to outDir keyed by its
// offsets.
//
// One extra row beyond the nominal block height is read and trimmed before
// the final write. This mirrors a boundary artifact workaround in the
// windowed-read path at block seams; the extra row never reaches the output.
func MosaicBlock(idx *Index, outDir string, rowOff, colOff, blockSize int) (string, error) {
	if err := ensureDir(outDir); err != nil {
		return "", fmt.Errorf("block %d_%d: %w", rowOff, colOff, err)
	}

	width := min(blockSize, idx.Profile.Width-colOff)
	height := min(blockSize, idx.Profile.Height-rowOff)
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("block %d_%d lies outside the mosaic extent", rowOff, colOff)
	}
	// Extended bounds: one extra row, discarded before the write.
	extended := pixelBound(colOff, rowOff, width, height+1)

	buf := make([]float64, (height+1)*width)
	for _, src := range idx.Sources {
		if !src.Bounds().Intersects(extended) {
			continue
		}
		overlap := intersect(src.Bounds(), extended)
		oCol, oRow := int(overlap.Min.X()), int(overlap.Min.Y())
		oWidth := int(overlap.Max.X()) - oCol
		oHeight := int(overlap.Max.Y()) - oRow
		if oWidth <= 0 || oHeight <= 0 {
			continue
		}

		win, err := raster.ReadWindow(src.Path, raster.Window{
			Col:    oCol - src.ColOff,
			Row:    oRow - src.RowOff,
			Width:  oWidth,
			Height: oHeight,
		})
		if err != nil {
			return "", fmt.Errorf("block %d_%d: source %s: %w", rowOff, colOff, src.Path, err)
		}

		for r := 0; r < oHeight; r++ {
			dst := (oRow - rowOff + r) * width
			dst += oCol - colOff
			floats.Add(buf[dst:dst+oWidth], win.Row(r))
		}
	}

	prof := idx.Profile
	prof.Width = width
	prof.Height = height
	prof.Transform = idx.Profile.Transform.Shift(rowOff, colOff)
	block := &raster.Grid{Profile: prof, Pixels: buf[:height*width]}

	outPath := filepath.Join(outDir, BlockName(rowOff, colOff))
	if err := raster.Write(outPath, block); err != nil {
		return "", fmt.Errorf("block %d_%d: %w", rowOff, colOff, err)
	}
	return outPath, nil
}

// intersect clips two pixel-space bounds to their common rectangle.
func intersect(a, b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{max(a.Min.X(), b.Min.X()), max(a.Min.Y(), b.Min.Y())},
		Max: orb.Point{min(a.Max.X(), b.Max.X()), min(a.Max.Y(), b.Max.Y())},
	}
}
