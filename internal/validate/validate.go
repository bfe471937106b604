// Package validate decides whether a work item produced a complete product.
//
// Validation is existence-only: the artifact, its data directory and one
// file per expected band pattern must be present. The external tool can
// exit cleanly while omitting outputs, so a clean exit alone never counts
// as success.
package validate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackzampolin/sarproc/internal/paths"
	"github.com/jackzampolin/sarproc/internal/product"
)

// Report lists what a product is missing.
type Report struct {
	Artifact string   `json:"artifact" yaml:"artifact"`
	DataDir  string   `json:"data_dir" yaml:"data_dir"`
	Missing  []string `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// OK reports whether nothing is missing.
func (r Report) OK() bool {
	return len(r.Missing) == 0
}

// Validator checks a product's outputs.
type Validator interface {
	Validate(def *product.Definition, p paths.Paths) Report
}

// Files checks outputs on the local filesystem.
type Files struct{}

// Validate checks the artifact, data directory and band patterns of def.
func (Files) Validate(def *product.Definition, p paths.Paths) Report {
	return Check(def.Bands, p.Artifact, p.DataDir)
}

// Check validates an artifact against band patterns. Patterns use
// filepath.Match syntax and are matched inside dataDir.
func Check(bands []string, artifact, dataDir string) Report {
	r := Report{Artifact: artifact, DataDir: dataDir}

	if info, err := os.Stat(artifact); err != nil || info.IsDir() {
		r.Missing = append(r.Missing, artifact)
	}

	info, err := os.Stat(dataDir)
	if err != nil || !info.IsDir() {
		r.Missing = append(r.Missing, dataDir)
		for _, b := range bands {
			r.Missing = append(r.Missing, filepath.Join(dataDir, b))
		}
		return r
	}

	for _, b := range bands {
		matches, err := filepath.Glob(filepath.Join(dataDir, b))
		if err != nil || len(matches) == 0 {
			r.Missing = append(r.Missing, filepath.Join(dataDir, b))
		}
	}
	return r
}

// DataDirFor derives the data directory of an artifact named on the
// command line, using the template's extensions.
func DataDirFor(t paths.Template, artifact string) (string, error) {
	ext := filepath.Ext(artifact)
	if ext != t.ArtifactExt {
		return "", fmt.Errorf("%s is not a %s product", artifact, t.ArtifactExt)
	}
	return artifact[:len(artifact)-len(ext)] + t.DataExt, nil
}
