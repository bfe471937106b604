package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/sarproc/internal/scene"
)

// OutputFormat selects how a summary is rendered.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatText, OutputFormatYAML, OutputFormatJSON:
		return f, nil
	case "":
		return OutputFormatText, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// Render renders the summary to w in the given format.
func (s *Summary) Render(w io.Writer, format OutputFormat) error {
	switch format {
	case OutputFormatText, "":
		return s.writeText(w)
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(s)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// WriteFailedList writes the failed items in batch-list format.
func (s *Summary) WriteFailedList(w io.Writer) error {
	return scene.WriteList(w, s.FailedItems)
}

func (s *Summary) writeText(w io.Writer) error {
	var b strings.Builder

	b.WriteString("====================================================\n")
	fmt.Fprintf(&b, "Batch summary: %s\n", s.Product)
	b.WriteString("====================================================\n")
	if s.JobID != "" {
		fmt.Fprintf(&b, "Job ID: %s\n", s.JobID)
	}
	fmt.Fprintf(&b, "Started: %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration: %.1fs\n", s.Duration)
	fmt.Fprintf(&b, "Total items: %d\n", s.Total)
	fmt.Fprintf(&b, "Processed: %d\n", s.Processed)
	fmt.Fprintf(&b, "Succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(&b, "Failed: %d\n", s.Failed())
	if s.Skipped > 0 {
		fmt.Fprintf(&b, "Skipped: %d\n", s.Skipped)
	}
	if s.Interrupted {
		b.WriteString("Run interrupted before all items were processed\n")
	}

	if len(s.Stages) > 0 {
		b.WriteString("\nElapsed times (seconds, one value per successful item):\n")
		for _, st := range s.Stages {
			fmt.Fprintf(&b, "  %s real:   %s\n", st.Stage, joinSeconds(st.Real))
			fmt.Fprintf(&b, "  %s user:   %s\n", st.Stage, joinSeconds(st.User))
			fmt.Fprintf(&b, "  %s system: %s\n", st.Stage, joinSeconds(st.System))
		}
	}

	if len(s.Failures) > 0 {
		b.WriteString("\nFailed inputs:\n")
		for _, it := range s.FailedItems {
			b.WriteString(it.Raw)
			b.WriteByte('\n')
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func joinSeconds(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	return strings.Join(parts, " ")
}
