package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/sarproc/internal/gpt"
	"github.com/jackzampolin/sarproc/internal/paths"
	"github.com/jackzampolin/sarproc/internal/scene"
	"github.com/jackzampolin/sarproc/internal/validate"
)

const artifactDoc = `<?xml version="1.0" encoding="ISO-8859-1"?>
<Dimap_Document>
  <Dataset_Sources>
    <MDElem name="metadata">
      <MDElem name="Processing_Graph">
        <MDElem name="node.0">
          <MDATTR name="moduleName" type="ascii">SNAP Graph Processing Framework (GPF)</MDATTR>
          <MDATTR name="moduleVersion" type="ascii">6.0.0</MDATTR>
        </MDElem>
        <MDElem name="node.1">
          <MDATTR name="moduleName" type="ascii">S1TBX Calibration</MDATTR>
          <MDATTR name="moduleVersion" type="ascii">6.0.2</MDATTR>
        </MDElem>
      </MDElem>
    </MDElem>
  </Dataset_Sources>
</Dimap_Document>
`

func derive(t *testing.T, d *Driver, it scene.Item) paths.Paths {
	t.Helper()
	all, err := d.Derive([]scene.Item{it})
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	return all[0]
}

// writeProduct creates the artifact and the named bands under the data dir.
func writeProduct(t *testing.T, artifact, dataDir string, bands ...string) {
	t.Helper()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(artifact, []byte(artifactDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, b := range bands {
		if err := os.WriteFile(filepath.Join(dataDir, b), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNewDriver_Required(t *testing.T) {
	h := newHarness(t, "backscatter")

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no product", func(c *Config) { c.Product = nil }},
		{"no executor", func(c *Config) { c.Executor = nil }},
		{"no dem", func(c *Config) { c.DEM = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := h.cfg
			tt.mutate(&cfg)
			if _, err := NewDriver(cfg); err == nil {
				t.Error("NewDriver() expected error")
			}
		})
	}
}

func TestRun_DEMFailure(t *testing.T) {
	h := newHarness(t, "backscatter")
	first, second := singleItem(1), singleItem(2)
	h.dem.fail[sidecar(first.Refs[0])] = true

	d := h.driver(t)
	s, err := d.Run(context.Background(), []scene.Item{first, second})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if s.Total != 2 || s.Processed != 2 || s.Succeeded != 1 || s.Failed() != 1 {
		t.Errorf("summary counts = total %d processed %d succeeded %d failed %d",
			s.Total, s.Processed, s.Succeeded, s.Failed())
	}
	if s.Failures[0].Input != first.Refs[0] {
		t.Errorf("failure input = %q, want %q", s.Failures[0].Input, first.Refs[0])
	}
	if s.Failures[0].Reason != "dem_generation_failed" {
		t.Errorf("failure reason = %q", s.Failures[0].Reason)
	}

	want := "FAILED [dem_generation_failed] " + first.Refs[0] + "\n"
	if got := h.out.String(); got != want {
		t.Errorf("out = %q, want %q", got, want)
	}

	p1 := derive(t, d, first)
	calls := h.exec.count(func(gpt.StageSpec) bool { return true })
	if calls != 2 {
		t.Errorf("executor calls = %d, want 2 (second item only)", calls)
	}
	if n := h.exec.count(func(s gpt.StageSpec) bool { return strings.Contains(s.Output, p1.Stem) }); n != 0 {
		t.Errorf("stages run for failed item = %d, want 0", n)
	}
}

func TestProcess_StageFailure(t *testing.T) {
	for _, ordinal := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("stage %d", ordinal), func(t *testing.T) {
			h := newHarness(t, "dualpol")
			h.exec.fail = func(s gpt.StageSpec) bool { return s.Ordinal == ordinal }
			d := h.driver(t)
			it := singleItem(1)
			p := derive(t, d, it)

			o := d.Process(context.Background(), it, p)

			if o.Status != StatusStageFailed || o.Stage != ordinal {
				t.Errorf("outcome = %s stage %d, want stage_failed stage %d", o.Status, o.Stage, ordinal)
			}
			if n := h.exec.count(func(s gpt.StageSpec) bool { return s.Ordinal > ordinal }); n != 0 {
				t.Errorf("stages after failure invoked %d times", n)
			}
			if n := h.exec.count(func(gpt.StageSpec) bool { return true }); n != ordinal {
				t.Errorf("executor calls = %d, want %d", n, ordinal)
			}
			wantStatus := fmt.Sprintf("FAILED [stage_failed(%d)]", ordinal)
			if rec := h.records.written[p.Record]; rec.Status != wantStatus {
				t.Errorf("record status = %q, want %q", rec.Status, wantStatus)
			}
		})
	}
}

func TestProcess_CoherenceStopsAtFirstSubswath(t *testing.T) {
	h := newHarness(t, "intcoh")
	h.exec.fail = func(s gpt.StageSpec) bool { return s.Ordinal == 1 && s.Subswath == "IW2" }
	d := h.driver(t)
	it := pairItem()
	p := derive(t, d, it)

	o := d.Process(context.Background(), it, p)

	var labels []string
	for _, c := range h.exec.calls {
		labels = append(labels, c.Label())
	}
	want := []string{"split_coregister@IW1", "coherence_deburst@IW1", "split_coregister@IW2"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("calls = %v, want %v", labels, want)
	}
	if o.Status != StatusStageFailed || o.Stage != 1 {
		t.Errorf("outcome = %s stage %d", o.Status, o.Stage)
	}
	if !reflect.DeepEqual(o.Subswaths, []string{"IW2"}) {
		t.Errorf("failed subswaths = %v", o.Subswaths)
	}
	if got := o.Reason(); got != "stage_failed(1)" {
		t.Errorf("Reason() = %q", got)
	}
}

func TestProcess_ParallelSubswaths(t *testing.T) {
	t.Run("merge withheld after lane failure", func(t *testing.T) {
		h := newHarness(t, "intcoh")
		h.cfg.ParallelSubswaths = true
		h.exec.fail = func(s gpt.StageSpec) bool { return s.Ordinal == 1 && s.Subswath == "IW2" }
		d := h.driver(t)
		it := pairItem()
		o := d.Process(context.Background(), it, derive(t, d, it))

		bySubswath := func(sw string) int {
			return h.exec.count(func(s gpt.StageSpec) bool { return s.Subswath == sw })
		}
		if n := bySubswath("IW1"); n != 2 {
			t.Errorf("IW1 calls = %d, want 2", n)
		}
		if n := bySubswath("IW2"); n != 1 {
			t.Errorf("IW2 calls = %d, want 1", n)
		}
		if n := bySubswath("IW3"); n != 2 {
			t.Errorf("IW3 calls = %d, want 2", n)
		}
		if n := h.exec.count(func(s gpt.StageSpec) bool { return s.Ordinal >= 3 }); n != 0 {
			t.Errorf("merge or later invoked %d times", n)
		}
		if o.Stage != 1 || !reflect.DeepEqual(o.Subswaths, []string{"IW2"}) {
			t.Errorf("outcome stage %d subswaths %v", o.Stage, o.Subswaths)
		}
	})

	t.Run("earliest stage reported", func(t *testing.T) {
		h := newHarness(t, "intcoh")
		h.cfg.ParallelSubswaths = true
		h.exec.fail = func(s gpt.StageSpec) bool {
			return (s.Ordinal == 2 && s.Subswath == "IW1") || (s.Ordinal == 1 && s.Subswath == "IW3")
		}
		d := h.driver(t)
		it := pairItem()
		o := d.Process(context.Background(), it, derive(t, d, it))

		if o.Stage != 1 || o.StageName != "split_coregister" {
			t.Errorf("outcome stage = %d %s, want 1 split_coregister", o.Stage, o.StageName)
		}
		if !reflect.DeepEqual(o.Subswaths, []string{"IW1", "IW3"}) {
			t.Errorf("failed subswaths = %v", o.Subswaths)
		}
	})

	t.Run("all lanes succeed", func(t *testing.T) {
		h := newHarness(t, "intcoh")
		h.cfg.ParallelSubswaths = true
		d := h.driver(t)
		it := pairItem()
		o := d.Process(context.Background(), it, derive(t, d, it))

		if !o.Succeeded() {
			t.Fatalf("outcome = %s, want succeeded", o.Status)
		}
		if n := h.exec.count(func(gpt.StageSpec) bool { return true }); n != 8 {
			t.Errorf("executor calls = %d, want 8", n)
		}
	})
}

func TestProcess_OutputIncomplete(t *testing.T) {
	h := newHarness(t, "backscatter")
	h.cfg.Validator = validate.Files{}
	d := h.driver(t)
	it := singleItem(1)
	p := derive(t, d, it)

	h.exec.onRun = func(s gpt.StageSpec) {
		if s.Output == p.Artifact {
			writeProduct(t, p.Artifact, p.DataDir, "Gamma0_VH.img")
		}
	}

	o := d.Process(context.Background(), it, p)

	if o.Status != StatusOutputIncomplete {
		t.Fatalf("status = %s, want output_incomplete", o.Status)
	}
	want := []string{filepath.Join(p.DataDir, "Gamma0_VV.img")}
	if !reflect.DeepEqual(o.Missing, want) {
		t.Errorf("missing = %v, want %v", o.Missing, want)
	}
	if got := h.out.String(); !strings.HasPrefix(got, "FAILED [output_incomplete] ") {
		t.Errorf("out = %q", got)
	}
}

func TestProcess_CleanupOnce(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, h *harness, it scene.Item)
		status Status
	}{
		{
			name:   "success",
			status: StatusSucceeded,
		},
		{
			name: "dem failure",
			setup: func(t *testing.T, h *harness, it scene.Item) {
				h.dem.fail[sidecar(it.Refs[0])] = true
			},
			status: StatusDEMGenerationFailed,
		},
		{
			name: "stage failure",
			setup: func(t *testing.T, h *harness, it scene.Item) {
				h.exec.fail = func(s gpt.StageSpec) bool { return s.Ordinal == 2 }
			},
			status: StatusStageFailed,
		},
		{
			name: "output incomplete",
			setup: func(t *testing.T, h *harness, it scene.Item) {
				h.cfg.Validator = fakeValidator{missing: []string{"Gamma0_VV.img"}}
			},
			status: StatusOutputIncomplete,
		},
		{
			name: "setup failure",
			setup: func(t *testing.T, h *harness, it scene.Item) {
				file := filepath.Join(t.TempDir(), "not-a-dir")
				if err := os.WriteFile(file, nil, 0o644); err != nil {
					t.Fatal(err)
				}
				h.cfg.BaseDir = file
			},
			status: StatusSetupFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "backscatter")
			it := singleItem(1)
			if tt.setup != nil {
				tt.setup(t, h, it)
			}
			d := h.driver(t)
			p := derive(t, d, it)

			o := d.Process(context.Background(), it, p)

			if o.Status != tt.status {
				t.Errorf("status = %s, want %s", o.Status, tt.status)
			}
			if n := h.cleaner.counts[p.Artifact]; n != 1 {
				t.Errorf("cleanup ran %d times, want 1", n)
			}
			if n := h.trans.count(it.Raw, StateCleaningUp); n != 1 {
				t.Errorf("cleaning_up transitions = %d, want 1", n)
			}
			terminal := h.trans.count(it.Raw, StateSucceeded) + h.trans.count(it.Raw, StateFailed)
			if terminal != 1 {
				t.Errorf("terminal transitions = %d, want 1", terminal)
			}
			if _, ok := h.records.written[p.Record]; !ok {
				t.Error("run record not written")
			}
		})
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	h := newHarness(t, "backscatter")
	var items []scene.Item
	for i := 1; i <= 5; i++ {
		items = append(items, singleItem(i))
	}
	h.dem.fail[sidecar(items[1].Refs[0])] = true
	h.dem.fail[sidecar(items[3].Refs[0])] = true

	s, err := h.driver(t).Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if s.Processed != 5 || s.Succeeded != 3 || s.Failed() != 2 {
		t.Errorf("processed %d succeeded %d failed %d", s.Processed, s.Succeeded, s.Failed())
	}
	var failed []string
	for _, it := range s.FailedItems {
		failed = append(failed, it.Raw)
	}
	if want := []string{items[1].Raw, items[3].Raw}; !reflect.DeepEqual(failed, want) {
		t.Errorf("failed items = %v, want %v", failed, want)
	}
	if h.dem.calls != 5 {
		t.Errorf("DEM calls = %d, want 5", h.dem.calls)
	}
	if n := h.exec.count(func(gpt.StageSpec) bool { return true }); n != 6 {
		t.Errorf("executor calls = %d, want 6", n)
	}
}

func TestRun_Timings(t *testing.T) {
	h := newHarness(t, "backscatter")
	h.exec.fail = func(s gpt.StageSpec) bool { return strings.Contains(s.Output, "20180602") && s.Ordinal == 2 }

	s, err := h.driver(t).Run(context.Background(), []scene.Item{singleItem(1), singleItem(2), singleItem(3)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var stages []string
	for _, st := range s.Stages {
		stages = append(stages, st.Stage)
		if len(st.Real) != 2 || len(st.User) != 2 || len(st.System) != 2 {
			t.Errorf("%s has %d values, want 2 (successful items only)", st.Stage, len(st.Real))
		}
	}
	if want := []string{DEMStage, "calibrate", "terrain_correct"}; !reflect.DeepEqual(stages, want) {
		t.Errorf("series = %v, want %v", stages, want)
	}
	if got := s.Stages[1].User[0]; got != 3 {
		t.Errorf("calibrate user = %v, want 3", got)
	}
}

func TestProcess_SuccessLogsTotalElapsed(t *testing.T) {
	h := newHarness(t, "backscatter")
	var logs bytes.Buffer
	h.cfg.Logger = slog.New(slog.NewJSONHandler(&logs, nil))

	if _, err := h.driver(t).Run(context.Background(), []scene.Item{singleItem(1)}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var entry map[string]any
	sc := bufio.NewScanner(&logs)
	for sc.Scan() {
		var e map[string]any
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		if e["msg"] == "item succeeded" {
			entry = e
		}
	}
	if entry == nil {
		t.Fatalf("no success line in logs:\n%s", logs.String())
	}

	// DEM (1s real) plus two stages of 2s real, 3s user, 1s system
	want := map[string]time.Duration{"real": 5 * time.Second, "user": 6 * time.Second, "system": 2 * time.Second}
	for key, d := range want {
		got, ok := entry[key].(float64)
		if !ok || time.Duration(got) != d {
			t.Errorf("%s = %v, want %v", key, entry[key], d)
		}
	}
}

func TestRun_SkipExisting(t *testing.T) {
	h := newHarness(t, "backscatter")
	h.cfg.SkipExisting = true

	s, err := h.driver(t).Run(context.Background(), []scene.Item{singleItem(1), singleItem(2)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if s.Skipped != 2 || s.Succeeded != 0 || s.Failed() != 0 {
		t.Errorf("skipped %d succeeded %d failed %d", s.Skipped, s.Succeeded, s.Failed())
	}
	if h.dem.calls != 0 || len(h.exec.calls) != 0 {
		t.Errorf("work done for skipped items: dem %d stages %d", h.dem.calls, len(h.exec.calls))
	}
	if len(h.cleaner.counts) != 0 || len(h.records.written) != 0 {
		t.Error("skipped items should not be cleaned or recorded")
	}
}

func TestRun_MalformedIdentifier(t *testing.T) {
	h := newHarness(t, "backscatter")
	bad := scene.Item{Refs: []string{"/g/data/elsewhere/S1A.zip"}, Raw: "/g/data/elsewhere/S1A.zip", LineNo: 2}

	_, err := h.driver(t).Run(context.Background(), []scene.Item{singleItem(1), bad})
	if !errors.Is(err, paths.ErrMalformedIdentifier) {
		t.Fatalf("Run() error = %v, want ErrMalformedIdentifier", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q does not name the line", err)
	}
	if h.dem.calls != 0 || len(h.exec.calls) != 0 {
		t.Error("no item should be processed")
	}
}

func TestRun_Interrupted(t *testing.T) {
	t.Run("during item", func(t *testing.T) {
		h := newHarness(t, "backscatter")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.exec.onRun = func(gpt.StageSpec) { cancel() }
		h.exec.fail = func(gpt.StageSpec) bool { return true }

		it := singleItem(1)
		s, err := h.driver(t).Run(ctx, []scene.Item{it, singleItem(2), singleItem(3)})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !s.Interrupted || s.Processed != 1 || s.Total != 3 {
			t.Errorf("interrupted %v processed %d total %d", s.Interrupted, s.Processed, s.Total)
		}
		if n := h.trans.count(it.Raw, StateCleaningUp); n != 1 {
			t.Errorf("interrupted item cleaned %d times, want 1", n)
		}
	})

	t.Run("before start", func(t *testing.T) {
		h := newHarness(t, "backscatter")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		s, err := h.driver(t).Run(ctx, []scene.Item{singleItem(1)})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !s.Interrupted || s.Processed != 0 {
			t.Errorf("interrupted %v processed %d", s.Interrupted, s.Processed)
		}
	})
}

func TestProcess_RunRecord(t *testing.T) {
	h := newHarness(t, "backscatter")
	h.cfg.Validator = validate.Files{}
	h.cfg.JobID = "1234.gadi-pbs"
	h.cfg.LogFile = "/logs/batch.log"
	d := h.driver(t)

	it := singleItem(1)
	it.CatalogueIDs = []string{"SARA-42"}
	p := derive(t, d, it)
	h.exec.onRun = func(s gpt.StageSpec) {
		if s.Output == p.Artifact {
			writeProduct(t, p.Artifact, p.DataDir, "Gamma0_VH.img", "Gamma0_VV.img")
		}
	}

	o := d.Process(context.Background(), it, p)
	if !o.Succeeded() {
		t.Fatalf("status = %s, want succeeded", o.Status)
	}

	rec, ok := h.records.written[p.Record]
	if !ok {
		t.Fatal("run record not written")
	}
	if rec.Status != "success" || rec.JobID != "1234.gadi-pbs" || rec.LogFile != "/logs/batch.log" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Artifact != p.Artifact || rec.OutputDir != p.OutputDir {
		t.Errorf("record artifact %q dir %q", rec.Artifact, rec.OutputDir)
	}
	if len(rec.Inputs) != 1 || rec.Inputs[0].CatalogueID != "SARA-42" || rec.Inputs[0].Sidecar != p.Sidecars[0] {
		t.Errorf("record inputs = %+v", rec.Inputs)
	}

	versions := make(map[string]string)
	for _, m := range rec.Modules {
		versions[m.Name] = m.Version
	}
	if versions["S1TBX Calibration"] != "6.0.2" {
		t.Errorf("calibration module = %q", versions["S1TBX Calibration"])
	}
	if versions["S1TBX SAR Processing"] != "not found" {
		t.Errorf("expected-but-absent module = %q", versions["S1TBX SAR Processing"])
	}
	if h.out.Len() != 0 {
		t.Errorf("unexpected failure output %q", h.out.String())
	}
}
