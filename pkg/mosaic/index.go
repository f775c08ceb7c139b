// Package mosaic assembles directories of overlapping per-turbine rasters
// into a single landscape-scale raster without loading the full extent into
// memory: an index of source bounds is built once, blocks are mosaicked
// independently (summing overlaps), and the block files are merged by
// placement.
package mosaic

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulmach/orb"

	"viawind/pkg/raster"
)

// Source is one raster in the mosaic with its pixel-space bounding box
// relative to the common mosaic extent.
type Source struct {
	Path   string
	ColOff int
	RowOff int
	Width  int
	Height int
}

// Bounds returns the source's pixel-space bounding box.
func (s Source) Bounds() orb.Bound {
	return pixelBound(s.ColOff, s.RowOff, s.Width, s.Height)
}

// Index is the virtual mosaic: the union profile of all sources and their
// pixel bounds relative to it. Built once and reused for every block.
type Index struct {
	Profile raster.Profile
	Sources []Source
}

// IndexSources scans dir for raster files matching pattern (glob syntax,
// e.g. "fov-pct*.grd"), computes the union extent, and records each source's
// pixel bounds relative to it. All sources must share resolution, CRS, and
// dtype.
func IndexSources(dir, pattern string) (*Index, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("index sources: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no rasters matching %q found in %s", pattern, dir)
	}
	sort.Strings(matches)

	profiles := make([]*raster.Profile, len(matches))
	for i, path := range matches {
		p, err := raster.ReadProfile(path)
		if err != nil {
			return nil, err
		}
		profiles[i] = p
	}

	ref := profiles[0]
	minX, maxY := ref.Transform.OriginX, ref.Transform.OriginY
	maxX := ref.Transform.OriginX + float64(ref.Width)*ref.Transform.Res
	minY := ref.Transform.OriginY - float64(ref.Height)*ref.Transform.Res
	for i, p := range profiles[1:] {
		if p.Transform.Res != ref.Transform.Res || p.CRS != ref.CRS || p.DType != ref.DType {
			return nil, fmt.Errorf("source %s does not match the mosaic profile (res/CRS/dtype)", matches[i+1])
		}
		minX = math.Min(minX, p.Transform.OriginX)
		maxY = math.Max(maxY, p.Transform.OriginY)
		maxX = math.Max(maxX, p.Transform.OriginX+float64(p.Width)*p.Transform.Res)
		minY = math.Min(minY, p.Transform.OriginY-float64(p.Height)*p.Transform.Res)
	}

	res := ref.Transform.Res
	idx := &Index{
		Profile: raster.Profile{
			Width:     int(math.Round((maxX - minX) / res)),
			Height:    int(math.Round((maxY - minY) / res)),
			DType:     ref.DType,
			Transform: raster.Transform{OriginX: minX, OriginY: maxY, Res: res},
			CRS:       ref.CRS,
			Unit:      ref.Unit,
		},
	}
	for i, p := range profiles {
		idx.Sources = append(idx.Sources, Source{
			Path:   matches[i],
			ColOff: int(math.Round((p.Transform.OriginX - minX) / res)),
			RowOff: int(math.Round((maxY - p.Transform.OriginY) / res)),
			Width:  p.Width,
			Height: p.Height,
		})
	}
	return idx, nil
}

// BlockOffsets returns the (row, col) offsets of every block covering the
// mosaic extent.
func (idx *Index) BlockOffsets(blockSize int) [][2]int {
	var offsets [][2]int
	for row := 0; row < idx.Profile.Height; row += blockSize {
		for col := 0; col < idx.Profile.Width; col += blockSize {
			offsets = append(offsets, [2]int{row, col})
		}
	}
	return offsets
}

// pixelBound builds an orb.Bound in pixel space; x = column, y = row.
func pixelBound(col, row, width, height int) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(col), float64(row)},
		Max: orb.Point{float64(col + width), float64(row + height)},
	}
}

// ensureDir creates dir if needed.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
