package dem

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrNoFootprint is returned when a scene sidecar carries no POLYGON footprint.
var ErrNoFootprint = errors.New("no footprint polygon")

// Extent is a lon/lat bounding box in degrees.
type Extent struct {
	LonMin float64 `json:"lon_min" yaml:"lon_min"`
	LonMax float64 `json:"lon_max" yaml:"lon_max"`
	LatMin float64 `json:"lat_min" yaml:"lat_min"`
	LatMax float64 `json:"lat_max" yaml:"lat_max"`
}

// Union returns the smallest extent covering e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		LonMin: math.Min(e.LonMin, o.LonMin),
		LonMax: math.Max(e.LonMax, o.LonMax),
		LatMin: math.Min(e.LatMin, o.LatMin),
		LatMax: math.Max(e.LatMax, o.LatMax),
	}
}

// Buffer grows e by d degrees on every side.
func (e Extent) Buffer(d float64) Extent {
	return Extent{
		LonMin: e.LonMin - d,
		LonMax: e.LonMax + d,
		LatMin: e.LatMin - d,
		LatMax: e.LatMax + d,
	}
}

// Footprint reads the scene extent from its metadata sidecar: the first line
// containing POLYGON holds "lon lat" vertex pairs.
func Footprint(sidecar string) (Extent, error) {
	f, err := os.Open(sidecar)
	if err != nil {
		return Extent{}, fmt.Errorf("failed to open scene metadata: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, "POLYGON") {
			return parsePolygon(line)
		}
	}
	if err := sc.Err(); err != nil {
		return Extent{}, fmt.Errorf("failed to read scene metadata: %w", err)
	}
	return Extent{}, fmt.Errorf("%w in %s", ErrNoFootprint, sidecar)
}

// Footprints returns the union of the footprints of all sidecars.
func Footprints(sidecars []string) (Extent, error) {
	if len(sidecars) == 0 {
		return Extent{}, ErrNoFootprint
	}
	var out Extent
	for i, s := range sidecars {
		e, err := Footprint(s)
		if err != nil {
			return Extent{}, err
		}
		if i == 0 {
			out = e
			continue
		}
		out = out.Union(e)
	}
	return out, nil
}

func parsePolygon(line string) (Extent, error) {
	i := strings.Index(line, "POLYGON")
	body := line[i+len("POLYGON"):]
	// Drop any markup after the closing parenthesis
	if j := strings.LastIndex(body, ")"); j >= 0 {
		body = body[:j]
	}
	body = strings.NewReplacer("(", " ", ")", " ", ",", " ").Replace(body)

	fields := strings.Fields(body)
	if len(fields) < 2 || len(fields)%2 != 0 {
		return Extent{}, fmt.Errorf("%w: malformed polygon %q", ErrNoFootprint, strings.TrimSpace(line))
	}

	e := Extent{
		LonMin: math.Inf(1), LonMax: math.Inf(-1),
		LatMin: math.Inf(1), LatMax: math.Inf(-1),
	}
	for k := 0; k < len(fields); k += 2 {
		lon, err := strconv.ParseFloat(fields[k], 64)
		if err != nil {
			return Extent{}, fmt.Errorf("%w: %v", ErrNoFootprint, err)
		}
		lat, err := strconv.ParseFloat(fields[k+1], 64)
		if err != nil {
			return Extent{}, fmt.Errorf("%w: %v", ErrNoFootprint, err)
		}
		e.LonMin = math.Min(e.LonMin, lon)
		e.LonMax = math.Max(e.LonMax, lon)
		e.LatMin = math.Min(e.LatMin, lat)
		e.LatMax = math.Max(e.LatMax, lat)
	}
	return e, nil
}
