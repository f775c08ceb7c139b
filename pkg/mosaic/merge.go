package mosaic

import (
	"fmt"

	"viawind/pkg/raster"
)

// MergeBlocks stitches the non-overlapping block files in blocksDir into one
// seamless raster at outPath. Blocks carry final values, so this is pure
// placement; no arithmetic combination happens here. Because every block is
// keyed by its offsets and blocks never overlap, the result is byte-identical
// regardless of the order blocks were produced.
func MergeBlocks(blocksDir, outPath string) error {
	idx, err := IndexSources(blocksDir, "block_*.grd")
	if err != nil {
		return fmt.Errorf("merge blocks: %w", err)
	}

	out := raster.New(idx.Profile)
	for _, src := range idx.Sources {
		g, err := raster.Read(src.Path)
		if err != nil {
			return fmt.Errorf("merge blocks: %w", err)
		}
		for r := 0; r < g.Height; r++ {
			dst := (src.RowOff+r)*out.Width + src.ColOff
			copy(out.Pixels[dst:dst+g.Width], g.Row(r))
		}
	}
	return raster.Write(outPath, out)
}
