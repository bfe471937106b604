package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackzampolin/sarproc/internal/gpt"
	"github.com/jackzampolin/sarproc/internal/paths"
	"github.com/jackzampolin/sarproc/internal/product"
)

// Block is a run of stages executed together. Blocks of per-sub-swath
// stages hold one lane per sub-swath; every other block holds a single lane
// with a single stage.
type Block struct {
	Lanes [][]gpt.StageSpec
}

// PerSubswath reports whether the block fans out over sub-swaths.
func (b Block) PerSubswath() bool {
	return len(b.Lanes) > 0 && len(b.Lanes[0]) > 0 && b.Lanes[0][0].Subswath != ""
}

// Plan is the resolved stage sequence for one work item.
type Plan struct {
	Blocks []Block
}

// Stages returns every stage in execution order, sub-swath major.
func (p Plan) Stages() []gpt.StageSpec {
	var out []gpt.StageSpec
	for _, b := range p.Blocks {
		for _, lane := range b.Lanes {
			out = append(out, lane...)
		}
	}
	return out
}

// Vars are the values substituted into stage parameters.
type Vars struct {
	PixelRes float64
	DEM      string
}

// BuildPlan resolves def's stages against the item's paths. Stage inputs
// naming a per-sub-swath stage resolve to the same sub-swath's output, or to
// every sub-swath's output when the consuming stage runs once.
func BuildPlan(def *product.Definition, p paths.Paths, graphDir string, vars Vars) (Plan, error) {
	var plan Plan

	for i := 0; i < len(def.Stages); {
		s := def.Stages[i]
		if !s.PerSubswath {
			spec, err := resolve(def, p, graphDir, vars, i, "")
			if err != nil {
				return Plan{}, err
			}
			plan.Blocks = append(plan.Blocks, Block{Lanes: [][]gpt.StageSpec{{spec}}})
			i++
			continue
		}

		// Group consecutive per-sub-swath stages
		end := i
		for end < len(def.Stages) && def.Stages[end].PerSubswath {
			end++
		}
		var block Block
		for _, sw := range def.Subswaths {
			var lane []gpt.StageSpec
			for j := i; j < end; j++ {
				spec, err := resolve(def, p, graphDir, vars, j, sw)
				if err != nil {
					return Plan{}, err
				}
				lane = append(lane, spec)
			}
			block.Lanes = append(block.Lanes, lane)
		}
		plan.Blocks = append(plan.Blocks, block)
		i = end
	}

	return plan, nil
}

func resolve(def *product.Definition, p paths.Paths, graphDir string, vars Vars, idx int, sw string) (gpt.StageSpec, error) {
	s := def.Stages[idx]

	out, ok := p.StageOutput(s.Name, sw)
	if !ok {
		return gpt.StageSpec{}, fmt.Errorf("no output path for stage %s", s.Name)
	}

	spec := gpt.StageSpec{
		Ordinal:  idx + 1,
		Name:     s.Name,
		Subswath: sw,
		Graph:    graphPath(graphDir, s.Graph),
		Output:   out,
	}

	for _, in := range s.Inputs {
		switch in {
		case product.InputScene1:
			spec.Inputs = append(spec.Inputs, p.Inputs[0])
		case product.InputScene2:
			if len(p.Inputs) < 2 {
				return gpt.StageSpec{}, fmt.Errorf("stage %s needs a second scene", s.Name)
			}
			spec.Inputs = append(spec.Inputs, p.Inputs[1])
		default:
			src, _, found := def.Stage(in)
			if !found {
				return gpt.StageSpec{}, fmt.Errorf("stage %s input %s is not a stage", s.Name, in)
			}
			switch {
			case src.PerSubswath && sw != "":
				o, _ := p.StageOutput(src.Name, sw)
				spec.Inputs = append(spec.Inputs, o)
			case src.PerSubswath:
				for _, each := range def.Subswaths {
					o, _ := p.StageOutput(src.Name, each)
					spec.Inputs = append(spec.Inputs, o)
				}
			default:
				o, _ := p.StageOutput(src.Name, "")
				spec.Inputs = append(spec.Inputs, o)
			}
		}
	}

	if len(s.Params) > 0 {
		r := strings.NewReplacer(
			"{pixel_res}", strconv.FormatFloat(vars.PixelRes, 'f', -1, 64),
			"{dem}", vars.DEM,
			"{subswath}", sw,
		)
		spec.Params = make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			spec.Params[k] = r.Replace(v)
		}
	}

	return spec, nil
}

func graphPath(dir, graph string) string {
	if filepath.IsAbs(graph) || dir == "" {
		return graph
	}
	return filepath.Join(dir, graph)
}

// CheckGraphs verifies that every graph def references exists under graphDir.
func CheckGraphs(def *product.Definition, graphDir string) error {
	var missing []string
	for _, g := range def.Graphs() {
		path := graphPath(graphDir, g)
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing processing graphs: %s", strings.Join(missing, ", "))
	}
	return nil
}
