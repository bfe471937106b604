package record

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
)

// Module is one tool module named in an artifact's processing history.
type Module struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

const processingGraph = "Processing_Graph"

// ScanModules returns the distinct module name/version pairs recorded in
// the Processing_Graph metadata of a DIMAP artifact, in order of first
// appearance.
func ScanModules(artifact string) ([]Module, error) {
	f, err := os.Open(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()
	return scanModules(f)
}

func scanModules(r io.Reader) ([]Module, error) {
	dec := xml.NewDecoder(r)
	// DIMAP headers declare ISO-8859-1
	dec.CharsetReader = charset.NewReaderLabel

	var (
		stack   []string // MDElem names, outermost first
		graph   = -1     // stack depth of the Processing_Graph element
		attr    string   // MDATTR being read, if any
		node    Module
		modules []Module
		seen    = make(map[Module]bool)
	)

	flush := func() {
		node.Name = strings.TrimSpace(node.Name)
		node.Version = strings.TrimSpace(node.Version)
		if node.Name != "" && !seen[node] {
			seen[node] = true
			modules = append(modules, node)
		}
		node = Module{}
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse artifact metadata: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "MDElem":
				name := attrValue(t, "name")
				stack = append(stack, name)
				if name == processingGraph && graph < 0 {
					graph = len(stack)
				}
			case "MDATTR":
				// Only attributes directly on a graph node
				if graph >= 0 && len(stack) == graph+1 {
					attr = attrValue(t, "name")
				}
			}
		case xml.CharData:
			switch attr {
			case "moduleName":
				node.Name += string(t)
			case "moduleVersion":
				node.Version += string(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "MDATTR":
				attr = ""
			case "MDElem":
				if graph >= 0 && len(stack) == graph+1 {
					flush()
				}
				if len(stack) == graph {
					graph = -1
				}
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
		}
	}
	return modules, nil
}

// WithExpected appends a NotFound entry for each expected module name
// absent from found.
func WithExpected(found []Module, expected []string) []Module {
	have := make(map[string]bool, len(found))
	for _, m := range found {
		have[m.Name] = true
	}
	out := append([]Module(nil), found...)
	for _, name := range expected {
		if !have[name] {
			out = append(out, Module{Name: name, Version: NotFound})
			have[name] = true
		}
	}
	return out
}

func attrValue(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
