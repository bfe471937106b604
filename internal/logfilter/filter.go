// Package logfilter elides the external tool's repetitive diagnostic
// chatter from stored logs.
//
// Noise lines are never dropped silently: a run of identical noise lines is
// written once, followed by a marker giving the number of repeats. Lines
// that match no noise pattern always pass through unchanged.
package logfilter

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sync"
)

// DefaultNoisePatterns match the high-volume lines the graph tool and its
// JVM emit during long runs.
var DefaultNoisePatterns = []string{
	`^(INFO|WARNING): org\.esa\.(snap|s1tbx)\.`,
	`^SEVERE: org\.esa\.snap\.core\.dataop\.dem\.`,
	`^INFO: org\.hsqldb\.`,
	`^WARNING: .*Failed to (load|initialise) .*native`,
	`^\s*at [\w$./<>]+\(.*\)$`,
	`^\s*\.*\d+%(\.*\d+%)*\.*\s*$`,
}

// maxLine caps the partial-line buffer. Longer lines are written as-is.
const maxLine = 64 * 1024

// Filter classifies log lines as noise.
type Filter struct {
	patterns []*regexp.Regexp
}

// New compiles a filter from the given patterns. No patterns yields
// DefaultNoisePatterns.
func New(patterns []string) (*Filter, error) {
	if len(patterns) == 0 {
		patterns = DefaultNoisePatterns
	}
	f := &Filter{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid noise pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// MustDefault returns a filter for DefaultNoisePatterns.
func MustDefault() *Filter {
	f, err := New(nil)
	if err != nil {
		panic(err)
	}
	return f
}

// IsNoise reports whether line matches any noise pattern.
func (f *Filter) IsNoise(line []byte) bool {
	for _, re := range f.patterns {
		if re.Match(line) {
			return true
		}
	}
	return false
}

// Stats counts what a Writer has seen.
type Stats struct {
	Lines  int64 `json:"lines" yaml:"lines"`
	Elided int64 `json:"elided" yaml:"elided"`
}

// Writer filters a line stream into an underlying writer.
// It is safe for concurrent use, so a subprocess's stdout and stderr can
// share one Writer.
type Writer struct {
	mu      sync.Mutex
	dst     io.Writer
	filter  *Filter
	partial []byte

	last    []byte
	repeats int64
	stats   Stats
}

// NewWriter returns a Writer that filters into dst.
func NewWriter(dst io.Writer, f *Filter) *Writer {
	if f == nil {
		f = MustDefault()
	}
	return &Writer{dst: dst, filter: f}
}

// Write implements io.Writer. Complete lines are filtered immediately; a
// trailing partial line is held until its newline arrives or Close.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.partial = append(w.partial, p...)
			if len(w.partial) >= maxLine {
				if err := w.line(w.partial); err != nil {
					return n, err
				}
				w.partial = w.partial[:0]
			}
			break
		}

		var line []byte
		if len(w.partial) > 0 {
			line = append(w.partial, p[:i]...)
			w.partial = w.partial[:0]
		} else {
			line = p[:i]
		}
		if err := w.line(line); err != nil {
			return n, err
		}
		p = p[i+1:]
	}
	return n, nil
}

// Close flushes any partial line and pending repeat marker. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 {
		if err := w.line(w.partial); err != nil {
			return err
		}
		w.partial = w.partial[:0]
	}
	return w.flushRepeats()
}

// Stats returns the counts so far.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Writer) line(line []byte) error {
	w.stats.Lines++

	if w.filter.IsNoise(line) {
		if w.last != nil && bytes.Equal(line, w.last) {
			w.repeats++
			w.stats.Elided++
			return nil
		}
		if err := w.flushRepeats(); err != nil {
			return err
		}
		w.last = append(w.last[:0], line...)
		return w.emit(line)
	}

	if err := w.flushRepeats(); err != nil {
		return err
	}
	w.last = nil
	return w.emit(line)
}

func (w *Writer) flushRepeats() error {
	if w.repeats == 0 {
		return nil
	}
	n := w.repeats
	w.repeats = 0
	_, err := fmt.Fprintf(w.dst, "[previous line repeated %d more times]\n", n)
	return err
}

func (w *Writer) emit(line []byte) error {
	if _, err := w.dst.Write(line); err != nil {
		return err
	}
	_, err := w.dst.Write([]byte{'\n'})
	return err
}
