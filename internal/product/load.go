package product

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

//go:embed catalog.schema.json
var catalogSchema []byte

// ErrInvalidCatalog is returned when a catalog fails schema or semantic validation.
var ErrInvalidCatalog = errors.New("invalid product catalog")

type catalog struct {
	Products []*Definition `yaml:"products"`
}

// Builtin returns a registry holding the embedded product catalog.
func Builtin() (*Registry, error) {
	return Load(bytes.NewReader(builtinCatalog))
}

// LoadFile reads a catalog file. An empty path yields the built-in catalog.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Builtin()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open product catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a YAML catalog, validates it, and returns a registry of its products.
func Load(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read product catalog: %w", err)
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var cat catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("failed to decode product catalog: %w", err)
	}

	reg := NewRegistry()
	for _, def := range cat.Products {
		if err := checkDefinition(def); err != nil {
			return nil, fmt.Errorf("%w: product %q: %v", ErrInvalidCatalog, def.Name, err)
		}
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// validateSchema checks the raw YAML against the embedded JSON schema.
// The document goes through JSON so the validator sees JSON-typed values.
func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode product catalog: %w", err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert product catalog: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(asJSON, &jsonDoc); err != nil {
		return fmt.Errorf("failed to convert product catalog: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("catalog.schema.json", bytes.NewReader(catalogSchema)); err != nil {
		return fmt.Errorf("failed to load catalog schema: %w", err)
	}
	schema, err := compiler.Compile("catalog.schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile catalog schema: %w", err)
	}

	if err := schema.Validate(jsonDoc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return nil
}

// checkDefinition enforces the rules the schema cannot express: stage inputs
// must reference scenes or earlier stages, and sub-swath stages need sub-swaths.
func checkDefinition(def *Definition) error {
	seen := make(map[string]bool)
	last := len(def.Stages) - 1

	for i, s := range def.Stages {
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage %q", s.Name)
		}

		if s.PerSubswath && len(def.Subswaths) == 0 {
			return fmt.Errorf("stage %q runs per sub-swath but no subswaths are declared", s.Name)
		}
		if s.PerSubswath && i == last {
			return fmt.Errorf("final stage %q cannot run per sub-swath", s.Name)
		}

		for _, in := range s.Inputs {
			switch in {
			case InputScene1:
			case InputScene2:
				if def.Scenes != 2 {
					return fmt.Errorf("stage %q uses %s but product takes one scene", s.Name, in)
				}
			default:
				if !seen[in] {
					return fmt.Errorf("stage %q input %q is not an earlier stage", s.Name, in)
				}
			}
		}

		seen[s.Name] = true
	}
	return nil
}
