package visibility

import (
	"context"
	"fmt"

	"viawind/pkg/raster"
)

// CompositeParams describes one turbine's compositing run.
type CompositeParams struct {
	ElevationPath      string
	ObserverX          float64
	ObserverY          float64
	ViewerHeightM      float64
	MaxDistanceM       float64
	ObstructionHeights []float64 // ascending ladder, 0 to max tip
	WindowSize         int       // expected rows and cols of every oracle result

	// OnViewshed, when set, receives each recoded height raster before it is
	// folded into the composite. Used to persist intermediate outputs.
	OnViewshed func(height float64, g *raster.Grid) error
}

// Composite invokes the oracle once per obstruction height and folds the
// binary results into the minimum height at which the turbine is visible
// from each pixel. Lower obstruction heights are strictly easier to see, so
// the elementwise minimum across heights is the true answer regardless of
// fold order. Pixels never visible hold the NotVisible sentinel.
//
// The composite carries the transform and CRS of the oracle's output
// verbatim. An oracle result whose shape differs from WindowSize means the
// elevation source does not cover the analysis radius; that is a fatal
// configuration error, not a retryable one.
func Composite(ctx context.Context, oracle Oracle, p CompositeParams) (*raster.Grid, error) {
	if len(p.ObstructionHeights) == 0 {
		return nil, fmt.Errorf("no obstruction heights to sample")
	}

	var composite *raster.Grid
	for _, height := range p.ObstructionHeights {
		vs, err := oracle.Viewshed(ctx, Request{
			ElevationPath:  p.ElevationPath,
			ObserverX:      p.ObserverX,
			ObserverY:      p.ObserverY,
			ObserverHeight: height,
			TargetHeight:   p.ViewerHeightM,
			MaxDistance:    p.MaxDistanceM,
		})
		if err != nil {
			return nil, fmt.Errorf("viewshed at obstruction height %g: %w", height, err)
		}
		if vs.Width != p.WindowSize || vs.Height != p.WindowSize {
			return nil, fmt.Errorf(
				"viewshed at obstruction height %g has shape %dx%d, expected %dx%d; "+
					"the elevation source may not fully cover the analysis area",
				height, vs.Height, vs.Width, p.WindowSize, p.WindowSize)
		}

		// Recode in place: visible pixels take this height, the rest the
		// sentinel. The oracle's binary dtype cannot hold either value, so
		// the recoded grid is widened to float32.
		for i, v := range vs.Pixels {
			if v == 1 {
				vs.Pixels[i] = height
			} else {
				vs.Pixels[i] = NotVisible
			}
		}
		vs.DType = raster.Float32
		nd := float64(NotVisible)
		vs.NoData = &nd
		if p.OnViewshed != nil {
			if err := p.OnViewshed(height, vs); err != nil {
				return nil, fmt.Errorf("persist viewshed at obstruction height %g: %w", height, err)
			}
		}

		if composite == nil {
			composite = raster.NewFilled(vs.Profile, NotVisible)
		}
		for i, v := range vs.Pixels {
			if v < composite.Pixels[i] {
				composite.Pixels[i] = v
			}
		}
	}
	return composite, nil
}
