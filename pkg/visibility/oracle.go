// Package visibility drives the external line-of-sight oracle and folds its
// binary viewshed rasters into a per-turbine "minimum visible height"
// composite. The viewshed algorithm itself is an external collaborator and is
// never implemented here.
package visibility

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"viawind/pkg/raster"
)

// NotVisible is the reserved sentinel for pixels where the turbine is not
// visible at any sampled obstruction height. The value fits uint16 and
// float32 exactly.
const NotVisible = 58368

// WindowShape returns the square analysis-window size (rows == cols) the
// oracle must produce for the given maximum distance and elevation
// resolution.
func WindowShape(maxDistanceKM, resolutionM float64) int {
	return int(math.Ceil(maxDistanceKM*1000/resolutionM))*2 + 1
}

// Request describes one oracle invocation: line-of-sight visibility of a
// target at TargetHeight above ground at the observer location, for every
// cell within MaxDistance. All units are meters in the elevation source's
// CRS.
type Request struct {
	ElevationPath  string
	ObserverX      float64
	ObserverY      float64
	ObserverHeight float64 // height of the turbine section being tested
	TargetHeight   float64 // height of the viewer above ground
	MaxDistance    float64
}

// Oracle computes a binary visibility grid (1 = visible, 0 = not) centered on
// the observer. The returned grid's transform and CRS are authoritative and
// must be carried verbatim onto all derived rasters.
type Oracle interface {
	Viewshed(ctx context.Context, req Request) (*raster.Grid, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, req Request) (*raster.Grid, error)

func (f OracleFunc) Viewshed(ctx context.Context, req Request) (*raster.Grid, error) {
	return f(ctx, req)
}

// ExecOracle invokes an external viewshed command. The command template is
// expanded per request: {elevation}, {x}, {y}, {z}, {tz}, {md} and {out} are
// replaced with the request parameters and a temporary output path, which the
// command must write in the raster grid format.
type ExecOracle struct {
	Command []string
	TempDir string // defaults to the OS temp dir
}

// NewExecOracle validates the command template.
func NewExecOracle(command []string, tempDir string) (*ExecOracle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("viewshed oracle command is empty")
	}
	joined := strings.Join(command, " ")
	if !strings.Contains(joined, "{out}") {
		return nil, fmt.Errorf("viewshed oracle command must contain the {out} placeholder")
	}
	return &ExecOracle{Command: command, TempDir: tempDir}, nil
}

func (o *ExecOracle) Viewshed(ctx context.Context, req Request) (*raster.Grid, error) {
	dir := o.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	outPath := filepath.Join(dir, fmt.Sprintf("viewshed_%s.grd", uuid.NewString()))
	defer os.Remove(outPath)

	repl := strings.NewReplacer(
		"{elevation}", req.ElevationPath,
		"{x}", strconv.FormatFloat(req.ObserverX, 'f', -1, 64),
		"{y}", strconv.FormatFloat(req.ObserverY, 'f', -1, 64),
		"{z}", strconv.FormatFloat(req.ObserverHeight, 'f', -1, 64),
		"{tz}", strconv.FormatFloat(req.TargetHeight, 'f', -1, 64),
		"{md}", strconv.FormatFloat(req.MaxDistance, 'f', -1, 64),
		"{out}", outPath,
	)
	args := make([]string, len(o.Command))
	for i, a := range o.Command {
		args[i] = repl.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("viewshed command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	g, err := raster.Read(outPath)
	if err != nil {
		return nil, fmt.Errorf("read viewshed command output: %w", err)
	}
	return g, nil
}
