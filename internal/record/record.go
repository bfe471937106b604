// Package record writes the per-item run record read by the downstream
// cataloguing tools.
//
// A run record is plain "key: value" lines stored next to the artifact.
// Key names are fixed by the indexers that parse them, which split each
// line on the first ": ", so values never contain that sequence.
package record

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DateFormat is the layout of the "proc date" value.
const DateFormat = "2006-01-02 15:04:05"

// NoJobID is recorded when the item did not run under a scheduler job.
const NoJobID = "processed on VDI"

// NotFound is recorded for an expected module absent from the artifact.
const NotFound = "not found"

// Input is one scene an item consumed.
type Input struct {
	Ref         string `json:"ref" yaml:"ref"`
	Sidecar     string `json:"sidecar" yaml:"sidecar"`
	CatalogueID string `json:"catalogue_id,omitempty" yaml:"catalogue_id,omitempty"`
}

// Record is the provenance of one processed item.
type Record struct {
	LogFile   string
	Status    string
	Date      time.Time
	JobID     string
	Inputs    []Input
	Artifact  string
	OutputDir string
	Modules   []Module
}

// Writer persists run records.
type Writer interface {
	Write(path string, rec Record) error
}

// FileWriter writes run records to the local filesystem.
type FileWriter struct{}

// Write renders rec to path, replacing any earlier record.
func (FileWriter) Write(path string, rec Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := Render(bw, rec); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return f.Close()
}

// Render writes rec in run-record format. Input keys carry a " N" suffix
// only when the item has more than one input.
func Render(w io.Writer, rec Record) error {
	pair := len(rec.Inputs) > 1

	processed := "scene processed"
	if pair {
		processed = "scene pair processed"
	}
	jobID := rec.JobID
	if jobID == "" {
		jobID = NoJobID
	}

	lines := [][2]string{
		{"proc log file", rec.LogFile},
		{processed, rec.Status},
		{"proc date", rec.Date.Format(DateFormat)},
		{"NCI job ID", jobID},
	}
	for i, in := range rec.Inputs {
		suffix := ""
		if pair {
			suffix = fmt.Sprintf(" %d", i+1)
		}
		if in.CatalogueID != "" {
			lines = append(lines, [2]string{"input SARA ID" + suffix, in.CatalogueID})
		}
		lines = append(lines,
			[2]string{"input scene" + suffix, in.Ref},
			[2]string{"input xml" + suffix, in.Sidecar},
		)
	}
	lines = append(lines,
		[2]string{"output file", rec.Artifact},
		[2]string{"output dir", rec.OutputDir},
	)
	for _, m := range rec.Modules {
		lines = append(lines, [2]string{m.Name, m.Version})
	}

	for _, kv := range lines {
		if _, err := fmt.Fprintf(w, "%s: %s\n", kv[0], sanitize(kv[1])); err != nil {
			return err
		}
	}
	return nil
}

// sanitize keeps a value on one line and free of the key separator.
func sanitize(v string) string {
	v = strings.NewReplacer("\n", " ", "\r", " ", ": ", " - ").Replace(v)
	return strings.TrimSpace(v)
}
