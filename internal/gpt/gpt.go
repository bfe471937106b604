// Package gpt runs processing-graph stages through the external graph
// processing tool.
//
// Every stage is rendered to the tool's command line by Args, so local and
// container runners invoke the tool identically:
//
//	gpt <graph.xml> -Pinput=<in> -Poutput=<out> [-P<key>=<value>...] [-q <threads>]
//
// Multi-input stages number their inputs (-Pinput1, -Pinput2, ...).
package gpt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/jackzampolin/sarproc/internal/proc"
)

// DefaultExecutable is looked up on PATH when no executable is configured.
const DefaultExecutable = "gpt"

// ErrInvalidExecutable is returned when the configured executable is not the graph tool.
var ErrInvalidExecutable = errors.New("invalid gpt executable")

// StageSpec is one fully resolved stage invocation.
type StageSpec struct {
	// Ordinal is the 1-based position of the stage in the product pipeline.
	Ordinal int
	Name    string
	// Subswath is set for stages that run once per sub-swath.
	Subswath string
	Graph    string
	Inputs   []string
	Output   string
	Params   map[string]string
}

// Label returns the stage name, qualified by sub-swath if set.
func (s StageSpec) Label() string {
	if s.Subswath == "" {
		return s.Name
	}
	return s.Name + "@" + s.Subswath
}

// Args renders spec to the tool's argument list. Parameters are sorted by
// name so the same spec always yields the same command line. threads > 0
// adds the tool's parallelism option.
func Args(spec StageSpec, threads int) []string {
	args := make([]string, 0, 4+len(spec.Inputs)+len(spec.Params))
	args = append(args, spec.Graph)

	switch len(spec.Inputs) {
	case 0:
	case 1:
		args = append(args, "-Pinput="+spec.Inputs[0])
	default:
		for i, in := range spec.Inputs {
			args = append(args, fmt.Sprintf("-Pinput%d=%s", i+1, in))
		}
	}
	args = append(args, "-Poutput="+spec.Output)

	keys := make([]string, 0, len(spec.Params))
	for k := range spec.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-P"+k+"="+spec.Params[k])
	}

	if threads > 0 {
		args = append(args, "-q", strconv.Itoa(threads))
	}
	return args
}

// Executor runs one stage and reports the tool's exit status.
// A nonzero exit is reported in the result, never as an error.
type Executor interface {
	Run(ctx context.Context, spec StageSpec) (proc.Result, error)
}

// ResolveExecutable returns the graph tool to run. An empty path looks up
// DefaultExecutable on PATH. A configured path must exist and resolve,
// through any symlinks, to a file named gpt.
func ResolveExecutable(path string) (string, error) {
	if path == "" {
		found, err := exec.LookPath(DefaultExecutable)
		if err != nil {
			return "", fmt.Errorf("%w: %s not found on PATH", ErrInvalidExecutable, DefaultExecutable)
		}
		return found, nil
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExecutable, err)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExecutable, err)
	}
	if filepath.Base(resolved) != DefaultExecutable {
		return "", fmt.Errorf("%w: %s does not point to an executable named %s", ErrInvalidExecutable, path, DefaultExecutable)
	}
	return path, nil
}
