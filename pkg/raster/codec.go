package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// On-disk layout (little-endian): fixed header, unit string, CRS string, then
// row-major pixel data in the profile's dtype.
var magic = [4]byte{'V', 'W', 'G', 'R'}

const formatVersion = 1

type fileHeader struct {
	Magic   [4]byte
	Version uint8
	DType   uint8
	Flags   uint8 // bit 0: nodata present
	_       uint8
	Width   uint32
	Height  uint32
	OriginX float64
	OriginY float64
	Res     float64
	NoData  float64
	UnitLen uint16
	CRSLen  uint16
}

const headerSize = 4 + 4 + 8 + 8*4 + 4

// Write persists a grid, truncating any existing file at path.
func Write(path string, g *Grid) error {
	if g.DType.Size() == 0 {
		return fmt.Errorf("write %s: unknown dtype %d", path, uint8(g.DType))
	}
	if len(g.Pixels) != g.Width*g.Height {
		return fmt.Errorf("write %s: pixel count %d does not match %dx%d",
			path, len(g.Pixels), g.Width, g.Height)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write raster: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	hdr := fileHeader{
		Magic:   magic,
		Version: formatVersion,
		DType:   uint8(g.DType),
		Width:   uint32(g.Width),
		Height:  uint32(g.Height),
		OriginX: g.Transform.OriginX,
		OriginY: g.Transform.OriginY,
		Res:     g.Transform.Res,
		UnitLen: uint16(len(g.Unit)),
		CRSLen:  uint16(len(g.CRS)),
	}
	if g.NoData != nil {
		hdr.Flags |= 1
		hdr.NoData = *g.NoData
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write raster header: %w", err)
	}
	if _, err := w.WriteString(g.Unit); err != nil {
		return fmt.Errorf("write raster header: %w", err)
	}
	if _, err := w.WriteString(g.CRS); err != nil {
		return fmt.Errorf("write raster header: %w", err)
	}

	buf := make([]byte, g.Width*g.DType.Size())
	for row := 0; row < g.Height; row++ {
		encodeRow(buf, g.Row(row), g.DType)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write raster row %d: %w", row, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write raster: %w", err)
	}
	return nil
}

// Read loads a full grid from path.
func Read(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	defer f.Close()

	p, dataOff, err := readHeader(f, path)
	if err != nil {
		return nil, err
	}

	if _, err := f.Seek(dataOff, io.SeekStart); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	g := New(*p)
	r := bufio.NewReader(f)
	buf := make([]byte, p.Width*p.DType.Size())
	for row := 0; row < p.Height; row++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", path, row, err)
		}
		decodeRow(g.Row(row), buf, p.DType)
	}
	return g, nil
}

// ReadProfile reads only the header of a raster file.
func ReadProfile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read raster profile: %w", err)
	}
	defer f.Close()

	p, _, err := readHeader(f, path)
	return p, err
}

// Window is a rectangular pixel-space sub-region of a raster.
type Window struct {
	Col, Row      int
	Width, Height int
}

// ReadWindow reads only the pixels inside w, which must lie fully within the
// raster's extent. The returned grid carries the shifted transform.
func ReadWindow(path string, w Window) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read raster window: %w", err)
	}
	defer f.Close()

	p, dataOff, err := readHeader(f, path)
	if err != nil {
		return nil, err
	}
	if w.Col < 0 || w.Row < 0 || w.Width <= 0 || w.Height <= 0 ||
		w.Col+w.Width > p.Width || w.Row+w.Height > p.Height {
		return nil, fmt.Errorf("read %s: window %+v outside raster %dx%d",
			path, w, p.Width, p.Height)
	}

	sub := *p
	sub.Width = w.Width
	sub.Height = w.Height
	sub.Transform = p.Transform.Shift(w.Row, w.Col)
	g := New(sub)

	px := p.DType.Size()
	buf := make([]byte, w.Width*px)
	for row := 0; row < w.Height; row++ {
		off := dataOff + int64((w.Row+row)*p.Width+w.Col)*int64(px)
		if _, err := f.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("read %s window row %d: %w", path, row, err)
		}
		decodeRow(g.Row(row), buf, p.DType)
	}
	return g, nil
}

func readHeader(f *os.File, path string) (*Profile, int64, error) {
	var hdr fileHeader
	if err := binary.Read(io.NewSectionReader(f, 0, headerSize), binary.LittleEndian, &hdr); err != nil {
		return nil, 0, fmt.Errorf("read %s header: %w", path, err)
	}
	if hdr.Magic != magic {
		return nil, 0, fmt.Errorf("read %s: not a raster grid file", path)
	}
	if hdr.Version != formatVersion {
		return nil, 0, fmt.Errorf("read %s: unsupported format version %d", path, hdr.Version)
	}
	dt := DType(hdr.DType)
	if dt.Size() == 0 {
		return nil, 0, fmt.Errorf("read %s: unknown dtype %d", path, hdr.DType)
	}

	strs := make([]byte, int(hdr.UnitLen)+int(hdr.CRSLen))
	if _, err := f.ReadAt(strs, headerSize); err != nil {
		return nil, 0, fmt.Errorf("read %s header: %w", path, err)
	}

	p := &Profile{
		Width:  int(hdr.Width),
		Height: int(hdr.Height),
		DType:  dt,
		Transform: Transform{
			OriginX: hdr.OriginX,
			OriginY: hdr.OriginY,
			Res:     hdr.Res,
		},
		Unit: string(strs[:hdr.UnitLen]),
		CRS:  string(strs[hdr.UnitLen:]),
	}
	if hdr.Flags&1 != 0 {
		nd := hdr.NoData
		p.NoData = &nd
	}
	return p, headerSize + int64(len(strs)), nil
}

func encodeRow(dst []byte, src []float64, dt DType) {
	switch dt {
	case Uint8:
		for i, v := range src {
			dst[i] = uint8(v)
		}
	case Int16:
		for i, v := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(v)))
		}
	case Uint16:
		for i, v := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
		}
	case Int32:
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(v)))
		}
	case Float32:
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(float32(v)))
		}
	case Float64:
		for i, v := range src {
			binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(v))
		}
	}
}

func decodeRow(dst []float64, src []byte, dt DType) {
	switch dt {
	case Uint8:
		for i := range dst {
			dst[i] = float64(src[i])
		}
	case Int16:
		for i := range dst {
			dst[i] = float64(int16(binary.LittleEndian.Uint16(src[i*2:])))
		}
	case Uint16:
		for i := range dst {
			dst[i] = float64(binary.LittleEndian.Uint16(src[i*2:]))
		}
	case Int32:
		for i := range dst {
			dst[i] = float64(int32(binary.LittleEndian.Uint32(src[i*4:])))
		}
	case Float32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:])))
		}
	case Float64:
		for i := range dst {
			dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:]))
		}
	}
}
