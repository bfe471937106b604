// Package scene parses batch input lists into work items.
//
// A batch input list holds one item per line. Single-scene products use
//
//	<scene-reference> [<catalogue-id>]
//
// and pair products use
//
//	<scene-reference-1> <scene-reference-2> <output-basename> [<catalogue-id-1> <catalogue-id-2>]
//
// Blank lines and lines starting with '#' are ignored.
package scene

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMalformedLine is returned when a list line has the wrong number of fields.
var ErrMalformedLine = errors.New("malformed batch list line")

// Item is one unit of work read from a batch input list. Items are immutable
// once parsed.
type Item struct {
	// Refs holds the scene references, one for single-scene products and two
	// (in list order) for pair products.
	Refs []string

	// CatalogueIDs holds the optional external catalogue identifiers, parallel to Refs.
	CatalogueIDs []string

	// OutputName is the caller-supplied output basename (pair products only).
	OutputName string

	// LineNo is the 1-based line number in the source list.
	LineNo int

	// Raw is the original line, trimmed. It is reused verbatim in retry lists.
	Raw string
}

// IsPair reports whether the item references a scene pair.
func (it Item) IsPair() bool {
	return len(it.Refs) == 2
}

// Primary returns the first scene reference.
func (it Item) Primary() string {
	if len(it.Refs) == 0 {
		return ""
	}
	return it.Refs[0]
}

// CatalogueID returns the catalogue id for the i-th scene, or "" if none was given.
func (it Item) CatalogueID(i int) string {
	if i < 0 || i >= len(it.CatalogueIDs) {
		return ""
	}
	return it.CatalogueIDs[i]
}

// String returns a short label for logging.
func (it Item) String() string {
	if it.IsPair() {
		return it.OutputName
	}
	return it.Primary()
}

// ParseList reads all items from r. scenes is the number of scene references
// per item (1 or 2). Any malformed line fails the whole list.
func ParseList(r io.Reader, scenes int) ([]Item, error) {
	if scenes != 1 && scenes != 2 {
		return nil, fmt.Errorf("unsupported scenes per item: %d", scenes)
	}

	var items []Item
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		item, err := parseLine(line, scenes)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		item.LineNo = lineNo
		items = append(items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch list: %w", err)
	}

	return items, nil
}

// ReadListFile opens and parses a batch input list file.
func ReadListFile(path string, scenes int) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch list: %w", err)
	}
	defer f.Close()

	return ParseList(f, scenes)
}

func parseLine(line string, scenes int) (Item, error) {
	fields := strings.Fields(line)
	item := Item{Raw: line}

	switch scenes {
	case 1:
		switch len(fields) {
		case 1:
			item.Refs = []string{fields[0]}
		case 2:
			item.Refs = []string{fields[0]}
			item.CatalogueIDs = []string{fields[1]}
		default:
			return Item{}, fmt.Errorf("%w: expected 1 or 2 fields, got %d", ErrMalformedLine, len(fields))
		}
	case 2:
		switch len(fields) {
		case 3:
			item.Refs = []string{fields[0], fields[1]}
			item.OutputName = fields[2]
		case 5:
			item.Refs = []string{fields[0], fields[1]}
			item.OutputName = fields[2]
			item.CatalogueIDs = []string{fields[3], fields[4]}
		default:
			return Item{}, fmt.Errorf("%w: expected 3 or 5 fields, got %d", ErrMalformedLine, len(fields))
		}
	}

	return item, nil
}

// WriteList writes items back out in batch-list format, one per line.
func WriteList(w io.Writer, items []Item) error {
	for _, it := range items {
		if _, err := fmt.Fprintln(w, it.Raw); err != nil {
			return err
		}
	}
	return nil
}
