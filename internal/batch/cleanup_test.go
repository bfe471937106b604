package batch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/sarproc/internal/paths"
)

func TestFileCleaner(t *testing.T) {
	dir := t.TempDir()
	inter := paths.Intermediate{Stage: "calibrate", Path: filepath.Join(dir, "x_calibrate.dim")}
	p := paths.Paths{
		Artifact:      filepath.Join(dir, "x.dim"),
		DEM:           filepath.Join(dir, "x_dem.tif"),
		Intermediates: []paths.Intermediate{inter},
	}

	for _, f := range []string{inter.Path, p.DEM, p.Artifact} {
		if err := os.WriteFile(f, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(inter.DataDir(), "vector_data"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := &FileCleaner{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Attempts: 1, Delay: time.Millisecond}
	c.Clean(p)

	for _, f := range p.Temporaries() {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Errorf("%s still exists", f)
		}
	}
	if _, err := os.Stat(p.Artifact); err != nil {
		t.Errorf("artifact removed: %v", err)
	}

	// Cleaning again is a no-op.
	c.Clean(p)
}
