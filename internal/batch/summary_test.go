package batch

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/sarproc/internal/proc"
	"github.com/jackzampolin/sarproc/internal/scene"
)

func testSummary() *Summary {
	started := time.Date(2018, 6, 4, 10, 0, 0, 0, time.UTC)
	a := NewAccountant("backscatter", 3, started)

	ok := Outcome{
		Item:   singleItem(1),
		Input:  sceneRef(1),
		Status: StatusSucceeded,
		Timings: []StageTiming{
			{Stage: DEMStage, Elapsed: proc.Elapsed{Real: time.Second}},
			{Stage: "calibrate", Elapsed: proc.Elapsed{Real: 1500 * time.Millisecond, User: 3 * time.Second}},
		},
	}
	failed := Outcome{
		Item:    singleItem(2),
		Input:   sceneRef(2),
		Status:  StatusStageFailed,
		Stage:   2,
		Timings: []StageTiming{{Stage: DEMStage, Elapsed: proc.Elapsed{Real: 99 * time.Second}}},
	}
	a.Record(ok)
	a.Record(failed)
	a.Record(Outcome{Item: singleItem(3), Status: StatusSkipped})

	s := a.Summary(started.Add(90 * time.Second))
	s.JobID = "1234.gadi-pbs"
	return s
}

func TestAccountant(t *testing.T) {
	s := testSummary()

	if s.Total != 3 || s.Processed != 3 || s.Succeeded != 1 || s.Skipped != 1 || s.Failed() != 1 {
		t.Errorf("counts total %d processed %d succeeded %d skipped %d failed %d",
			s.Total, s.Processed, s.Succeeded, s.Skipped, s.Failed())
	}
	if s.Duration != 90 {
		t.Errorf("duration = %v, want 90", s.Duration)
	}
	if len(s.Stages) != 2 || len(s.Stages[0].Real) != 1 || s.Stages[0].Real[0] != 1 {
		t.Errorf("stages = %+v, want failed item timings excluded", s.Stages)
	}
	if s.Failures[0].Reason != "stage_failed(2)" {
		t.Errorf("reason = %q", s.Failures[0].Reason)
	}
}

func TestSummary_RenderText(t *testing.T) {
	var buf bytes.Buffer
	if err := testSummary().Render(&buf, OutputFormatText); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Batch summary: backscatter",
		"Job ID: 1234.gadi-pbs",
		"Started: 2018-06-04 10:00:00",
		"Total items: 3",
		"Succeeded: 1",
		"Failed: 1",
		"Skipped: 1",
		"  calibrate real:   1.50",
		"  calibrate user:   3.00",
		"  dem system: 0.00",
		"Failed inputs:\n" + sceneRef(2) + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text summary missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "interrupted") {
		t.Error("uninterrupted run reported as interrupted")
	}
}

func TestSummary_RenderStructured(t *testing.T) {
	s := testSummary()

	var js bytes.Buffer
	if err := s.Render(&js, OutputFormatJSON); err != nil {
		t.Fatalf("Render(json) error = %v", err)
	}
	var fromJSON Summary
	if err := json.Unmarshal(js.Bytes(), &fromJSON); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if fromJSON.Succeeded != 1 || len(fromJSON.Failures) != 1 || fromJSON.FailedItems != nil {
		t.Errorf("json summary = %+v", fromJSON)
	}

	var ys bytes.Buffer
	if err := s.Render(&ys, OutputFormatYAML); err != nil {
		t.Fatalf("Render(yaml) error = %v", err)
	}
	var fromYAML map[string]any
	if err := yaml.Unmarshal(ys.Bytes(), &fromYAML); err != nil {
		t.Fatalf("invalid yaml: %v", err)
	}
	if fromYAML["product"] != "backscatter" || fromYAML["skipped"] != 1 {
		t.Errorf("yaml summary = %v", fromYAML)
	}

	if err := s.Render(&bytes.Buffer{}, OutputFormat("xml")); err == nil {
		t.Error("Render(xml) expected error")
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputFormatText, false},
		{"text", OutputFormatText, false},
		{"JSON", OutputFormatJSON, false},
		{"yaml", OutputFormatYAML, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOutputFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseOutputFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummary_WriteFailedList(t *testing.T) {
	item := pairItem()
	s := &Summary{FailedItems: []scene.Item{item, singleItem(4)}}

	var buf bytes.Buffer
	if err := s.WriteFailedList(&buf); err != nil {
		t.Fatal(err)
	}
	want := item.Raw + "\n" + sceneRef(4) + "\n"
	if buf.String() != want {
		t.Errorf("failed list = %q, want %q", buf.String(), want)
	}
}

func TestOutcome_Reason(t *testing.T) {
	tests := []struct {
		o      Outcome
		reason string
		record string
	}{
		{Outcome{Status: StatusSucceeded}, "succeeded", "success"},
		{Outcome{Status: StatusDEMGenerationFailed}, "dem_generation_failed", "FAILED [dem_generation_failed]"},
		{Outcome{Status: StatusStageFailed, Stage: 3}, "stage_failed(3)", "FAILED [stage_failed(3)]"},
		{Outcome{Status: StatusStageFailed, Stage: 1, TimedOut: true}, "stage_failed(1) timed out", "FAILED [stage_failed(1) timed out]"},
		{Outcome{Status: StatusOutputIncomplete}, "output_incomplete", "FAILED [output_incomplete]"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			if got := tt.o.Reason(); got != tt.reason {
				t.Errorf("Reason() = %q, want %q", got, tt.reason)
			}
			if got := tt.o.RecordStatus(); got != tt.record {
				t.Errorf("RecordStatus() = %q, want %q", got, tt.record)
			}
		})
	}
}
