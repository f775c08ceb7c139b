// Package raster provides the single-band grid container used throughout the
// pipeline: a typed pixel array with an affine transform and CRS, persisted in
// a compact binary format. GeoTIFF/VRT codecs are external collaborators; this
// container is the persistence boundary between them and the analysis code.
package raster

import (
	"fmt"
	"strings"
)

// DType identifies the on-disk pixel type of a grid. In memory all pixel math
// is float64; the dtype controls encoding on write and decoding on read.
type DType uint8

const (
	Uint8 DType = iota + 1
	Int16
	Uint16
	Int32
	Float32
	Float64
)

// Size returns the per-pixel byte size.
func (d DType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// Transform maps pixel coordinates to world coordinates for a north-up grid
// with square pixels: x = OriginX + col*Res, y = OriginY - row*Res. The origin
// is the top-left corner of the top-left pixel.
type Transform struct {
	OriginX float64
	OriginY float64
	Res     float64
}

// PixelOrigin returns the world coordinates of the top-left corner of the
// pixel at (row, col).
func (t Transform) PixelOrigin(row, col int) (x, y float64) {
	return t.OriginX + float64(col)*t.Res, t.OriginY - float64(row)*t.Res
}

// Shift returns the transform of a sub-window starting at (row, col).
func (t Transform) Shift(row, col int) Transform {
	x, y := t.PixelOrigin(row, col)
	return Transform{OriginX: x, OriginY: y, Res: t.Res}
}

// Profile describes a grid without its pixel data.
type Profile struct {
	Width     int
	Height    int
	DType     DType
	Transform Transform
	CRS       string // CRS identifier or WKT, carried verbatim
	Unit      string // linear unit of the CRS, e.g. "metre"
	NoData    *float64
}

// metricUnits are the accepted spellings for a CRS in linear meters.
var metricUnits = map[string]bool{"m": true, "meter": true, "metre": true}

// Validate checks the invariants every analysis grid must satisfy: positive
// dimensions, a positive square resolution, and a CRS in linear meters.
func (p *Profile) Validate() error {
	var problems []string
	if p.Width <= 0 || p.Height <= 0 {
		problems = append(problems, fmt.Sprintf("invalid dimensions %dx%d", p.Width, p.Height))
	}
	if p.DType.Size() == 0 {
		problems = append(problems, fmt.Sprintf("unknown dtype %d", uint8(p.DType)))
	}
	if p.Transform.Res <= 0 {
		problems = append(problems, fmt.Sprintf("resolution must be positive, got %g", p.Transform.Res))
	}
	if !metricUnits[strings.ToLower(p.Unit)] {
		problems = append(problems, fmt.Sprintf("CRS must have linear units of meters, got %q", p.Unit))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid raster profile: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Grid is a single-band raster held in memory as float64 pixels in row-major
// order. The DType in the profile controls how pixels are written to disk.
type Grid struct {
	Profile
	Pixels []float64
}

// New allocates a zero-filled grid.
func New(p Profile) *Grid {
	return &Grid{
		Profile: p,
		Pixels:  make([]float64, p.Width*p.Height),
	}
}

// NewFilled allocates a grid with every pixel set to v.
func NewFilled(p Profile, v float64) *Grid {
	g := New(p)
	for i := range g.Pixels {
		g.Pixels[i] = v
	}
	return g
}

// At returns the pixel value at (row, col).
func (g *Grid) At(row, col int) float64 {
	return g.Pixels[row*g.Width+col]
}

// Set assigns the pixel value at (row, col).
func (g *Grid) Set(row, col int, v float64) {
	g.Pixels[row*g.Width+col] = v
}

// Row returns the pixel slice for one row. The slice aliases the grid.
func (g *Grid) Row(row int) []float64 {
	return g.Pixels[row*g.Width : (row+1)*g.Width]
}
