// Package paths maps scene references to the output, intermediate and
// record locations a work item uses.
//
// Outputs mirror the source archive tree: everything up to and including the
// marker segment is stripped and the remainder is re-rooted under the base
// output directory, so downstream tools can find a scene's products from its
// source location alone.
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/sarproc/internal/product"
	"github.com/jackzampolin/sarproc/internal/scene"
)

// ErrMalformedIdentifier is returned when a scene reference does not contain
// the marker segment.
var ErrMalformedIdentifier = errors.New("malformed scene identifier")

// Template holds the naming convention shared by every product type.
type Template struct {
	// Marker is the source-tree segment after which the mirrored part begins.
	Marker string
	// SourceExt is the scene container extension.
	SourceExt string
	// SidecarExt is the extension of the scene's metadata sidecar.
	SidecarExt string
	// ArtifactExt is the extension of processed products.
	ArtifactExt string
	// DataExt replaces ArtifactExt to name a product's band directory.
	DataExt string
	// RecordSuffix replaces ArtifactExt to name the run record.
	RecordSuffix string
}

// DefaultTemplate returns the archive convention used on the clusters.
func DefaultTemplate() Template {
	return Template{
		Marker:       "Copernicus",
		SourceExt:    ".zip",
		SidecarExt:   ".xml",
		ArtifactExt:  ".dim",
		DataExt:      ".data",
		RecordSuffix: "_yaml.info",
	}
}

// Intermediate is the output of a non-final stage.
type Intermediate struct {
	Stage    string
	Subswath string
	Path     string
}

// DataDir returns the band directory the external tool writes next to Path.
func (i Intermediate) DataDir() string {
	return strings.TrimSuffix(i.Path, filepath.Ext(i.Path)) + ".data"
}

// Paths are the locations used by one work item.
type Paths struct {
	Inputs   []string `json:"inputs" yaml:"inputs"`
	Sidecars []string `json:"sidecars" yaml:"sidecars"`

	OutputDir string `json:"output_dir" yaml:"output_dir"`
	Stem      string `json:"stem" yaml:"stem"`
	Artifact  string `json:"artifact" yaml:"artifact"`
	DataDir   string `json:"data_dir" yaml:"data_dir"`
	Record    string `json:"record" yaml:"record"`
	DEM       string `json:"dem" yaml:"dem"`

	FinalStage    string         `json:"final_stage" yaml:"final_stage"`
	Intermediates []Intermediate `json:"intermediates,omitempty" yaml:"intermediates,omitempty"`
}

// StageOutput returns the output path of a stage. The final stage writes the
// artifact; subswath is ignored for stages that do not run per sub-swath.
func (p Paths) StageOutput(stage, subswath string) (string, bool) {
	if stage == p.FinalStage {
		return p.Artifact, true
	}
	for _, im := range p.Intermediates {
		if im.Stage == stage && im.Subswath == subswath {
			return im.Path, true
		}
	}
	return "", false
}

// Temporaries lists everything cleanup removes: intermediate products with
// their band directories, and the DEM.
func (p Paths) Temporaries() []string {
	out := make([]string, 0, 2*len(p.Intermediates)+1)
	for _, im := range p.Intermediates {
		out = append(out, im.Path, im.DataDir())
	}
	if p.DEM != "" {
		out = append(out, p.DEM)
	}
	return out
}

// Deriver computes Paths for work items.
type Deriver struct {
	Template Template
	// ScratchDir holds intermediates and the DEM. Defaults to the output directory.
	ScratchDir string
}

// Derive computes the paths for item processed as def under base.
// For pairs the first scene sets the directory and the item's output name sets the leaf.
func (d *Deriver) Derive(def *product.Definition, base string, item scene.Item) (Paths, error) {
	t := d.Template
	if t == (Template{}) {
		t = DefaultTemplate()
	}
	if len(item.Refs) == 0 {
		return Paths{}, fmt.Errorf("%w: no scene reference", ErrMalformedIdentifier)
	}

	var p Paths
	for _, ref := range item.Refs {
		if _, err := t.relative(ref); err != nil {
			return Paths{}, err
		}
		p.Inputs = append(p.Inputs, ref)
		p.Sidecars = append(p.Sidecars, replaceExt(ref, t.SourceExt, t.SidecarExt))
	}

	rel, _ := t.relative(item.Primary())
	mirrored := filepath.Join(base, rel)
	p.OutputDir = filepath.Dir(mirrored)

	if item.IsPair() {
		p.Stem = strings.TrimSuffix(filepath.Base(item.OutputName), t.ArtifactExt)
	} else {
		p.Stem = strings.TrimSuffix(filepath.Base(mirrored), t.SourceExt)
	}
	if p.Stem == "" || p.Stem == "." {
		return Paths{}, fmt.Errorf("%w: empty output name for %s", ErrMalformedIdentifier, item.Primary())
	}

	prefix := filepath.Join(p.OutputDir, p.Stem)
	p.Artifact = prefix + t.ArtifactExt
	p.DataDir = prefix + t.DataExt
	p.Record = prefix + t.RecordSuffix

	scratch := d.ScratchDir
	if scratch == "" {
		scratch = p.OutputDir
	}
	p.DEM = filepath.Join(scratch, p.Stem+"_dem.tif")

	if def != nil && len(def.Stages) > 0 {
		last := len(def.Stages) - 1
		p.FinalStage = def.Stages[last].Name
		for _, s := range def.Stages[:last] {
			if s.PerSubswath {
				for _, sw := range def.Subswaths {
					p.Intermediates = append(p.Intermediates, Intermediate{
						Stage:    s.Name,
						Subswath: sw,
						Path:     filepath.Join(scratch, p.Stem+"_"+s.Name+"_"+sw+t.ArtifactExt),
					})
				}
				continue
			}
			p.Intermediates = append(p.Intermediates, Intermediate{
				Stage: s.Name,
				Path:  filepath.Join(scratch, p.Stem+"_"+s.Name+t.ArtifactExt),
			})
		}
	}

	return p, nil
}

// relative returns the part of ref after the marker segment.
func (t Template) relative(ref string) (string, error) {
	segs := strings.Split(filepath.ToSlash(filepath.Clean(ref)), "/")
	for i, s := range segs {
		if s == t.Marker && i < len(segs)-1 {
			return filepath.Join(segs[i+1:]...), nil
		}
	}
	return "", fmt.Errorf("%w: %q has no %q segment", ErrMalformedIdentifier, ref, t.Marker)
}

func replaceExt(path, from, to string) string {
	if strings.HasSuffix(path, from) {
		return strings.TrimSuffix(path, from) + to
	}
	return path + to
}
