// Package product describes the supported product types: the ordered
// processing stages run for each and the band files a finished product
// must contain.
//
// Product definitions are declarative. The built-in catalog is embedded in
// the binary; a replacement catalog can be loaded from a file and is
// validated against the same JSON schema.
package product

// Type names a product type.
type Type string

// Built-in product types.
const (
	Backscatter              Type = "backscatter"
	DualPolDecomposition     Type = "dualpol"
	InterferometricCoherence Type = "intcoh"
)

// Scene input references usable in Stage.Inputs.
const (
	InputScene1 = "scene1"
	InputScene2 = "scene2"
)

// Definition is one product type's processing recipe.
type Definition struct {
	Name        Type     `yaml:"name" json:"name"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`

	// Scenes is the number of scene references per work item (1 or 2).
	Scenes int `yaml:"scenes" json:"scenes"`

	// Subswaths lists the sub-swaths per_subswath stages run over.
	Subswaths []string `yaml:"subswaths,omitempty" json:"subswaths,omitempty"`

	Stages []Stage `yaml:"stages" json:"stages"`

	// Bands are file name patterns (filepath.Match syntax) expected inside
	// the artifact's data directory.
	Bands []string `yaml:"bands" json:"bands"`

	// Modules are the external-tool module names recorded in run records.
	Modules []string `yaml:"modules,omitempty" json:"modules,omitempty"`
}

// Stage is one external graph invocation in a product's pipeline.
type Stage struct {
	Name        string            `yaml:"name" json:"name"`
	Graph       string            `yaml:"graph" json:"graph"`
	Inputs      []string          `yaml:"inputs" json:"inputs"`
	PerSubswath bool              `yaml:"per_subswath,omitempty" json:"per_subswath,omitempty"`
	Params      map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// IsPair reports whether work items for this product are scene pairs.
func (d *Definition) IsPair() bool {
	return d.Scenes == 2
}

// Graphs returns the distinct graph files referenced by the stages, in stage order.
func (d *Definition) Graphs() []string {
	seen := make(map[string]bool)
	var graphs []string
	for _, s := range d.Stages {
		if !seen[s.Graph] {
			seen[s.Graph] = true
			graphs = append(graphs, s.Graph)
		}
	}
	return graphs
}

// Stage returns the stage with the given name and its 1-based ordinal.
func (d *Definition) Stage(name string) (Stage, int, bool) {
	for i, s := range d.Stages {
		if s.Name == name {
			return s, i + 1, true
		}
	}
	return Stage{}, 0, false
}
