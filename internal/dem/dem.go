// Package dem builds the per-item elevation model the terrain-correction
// stages need, either by mosaicking 1x1 degree tiles from a directory or by
// subsetting a single raster, using gdalwarp.
package dem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jackzampolin/sarproc/internal/proc"
)

const (
	// DefaultWarp is the GDAL warp tool.
	DefaultWarp = "gdalwarp"
	// DefaultBuffer is added on every side when subsetting a single raster.
	DefaultBuffer = 0.02
	// TileExt is the extension of elevation tiles.
	TileExt = ".hgt"
)

// ErrNoDEMTiles is returned when no tile covers the requested extent.
var ErrNoDEMTiles = errors.New("no DEM tiles to mosaic")

// Generator produces the elevation model for one work item.
// A nonzero exit in the result means generation failed.
type Generator interface {
	Generate(ctx context.Context, sidecars []string, output string) (proc.Result, error)
}

// GDAL generates elevation models with gdalwarp.
type GDAL struct {
	source string
	warp   string
	buffer float64
	runner *proc.Runner
	logger *slog.Logger
}

// GDALConfig configures a GDAL generator.
type GDALConfig struct {
	// Source is a directory of tiles or a single raster file.
	Source string
	Warp   string
	Buffer float64
	Runner *proc.Runner
	Logger *slog.Logger
}

// NewGDAL creates a GDAL generator.
func NewGDAL(cfg GDALConfig) *GDAL {
	if cfg.Warp == "" {
		cfg.Warp = DefaultWarp
	}
	if cfg.Buffer == 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = &proc.Runner{Logger: cfg.Logger}
	}
	return &GDAL{
		source: cfg.Source,
		warp:   cfg.Warp,
		buffer: cfg.Buffer,
		runner: cfg.Runner,
		logger: cfg.Logger,
	}
}

// Generate writes the elevation model covering the sidecars' footprints to output.
func (g *GDAL) Generate(ctx context.Context, sidecars []string, output string) (proc.Result, error) {
	cmd, err := g.Command(sidecars, output)
	if err != nil {
		return proc.Result{ExitCode: proc.ExitNotStarted}, err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return proc.Result{ExitCode: proc.ExitNotStarted}, fmt.Errorf("failed to create DEM directory: %w", err)
	}

	g.logger.Info("generating DEM", "output", output, "source", g.source)
	return g.runner.Run(ctx, cmd)
}

// Command builds the gdalwarp invocation for the given scenes.
func (g *GDAL) Command(sidecars []string, output string) (proc.Command, error) {
	ext, err := Footprints(sidecars)
	if err != nil {
		return proc.Command{}, err
	}

	info, err := os.Stat(g.source)
	if err != nil {
		return proc.Command{}, fmt.Errorf("DEM source: %w", err)
	}

	if info.IsDir() {
		tiles := Tiles(g.source, ext)
		if len(tiles) == 0 {
			return proc.Command{}, fmt.Errorf("%w in %s", ErrNoDEMTiles, g.source)
		}
		args := append([]string{"-dstnodata", "0"}, tiles...)
		args = append(args, output)
		return proc.Command{Path: g.warp, Args: args}, nil
	}

	b := ext.Buffer(g.buffer)
	return proc.Command{
		Path: g.warp,
		Args: []string{
			"-dstnodata", "0",
			"-te", ftoa(b.LonMin), ftoa(b.LatMin), ftoa(b.LonMax), ftoa(b.LatMax),
			"-te_srs", "EPSG:4326",
			g.source, output,
		},
	}, nil
}

// Tiles returns the existing tiles in dir covering e, in lon-major order.
func Tiles(dir string, e Extent) []string {
	var found []string
	for lon := int(math.Floor(e.LonMin)); lon <= int(math.Floor(e.LonMax)); lon++ {
		for lat := int(math.Floor(e.LatMin)); lat <= int(math.Floor(e.LatMax)); lat++ {
			for _, name := range TileNames(lat, lon) {
				p := filepath.Join(dir, name)
				if _, err := os.Stat(p); err == nil {
					found = append(found, p)
					break
				}
			}
		}
	}
	return found
}

// TileNames returns the candidate file names for the tile whose south-west
// corner is at (lat, lon): the standard SRTM name, then the unpadded
// southern-hemisphere name older tile stores use.
func TileNames(lat, lon int) []string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns = "S"
	}
	if lon < 0 {
		ew = "W"
	}
	names := []string{fmt.Sprintf("%s%02d%s%03d%s", ns, abs(lat), ew, abs(lon), TileExt)}

	if lat < 0 && lon >= 0 {
		legacy := "S" + strconv.Itoa(-lat) + "E" + strconv.Itoa(lon) + TileExt
		if legacy != names[0] {
			names = append(names, legacy)
		}
	}
	return names
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
