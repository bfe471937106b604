package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/sarproc/internal/gpt"
	"github.com/jackzampolin/sarproc/internal/paths"
	"github.com/jackzampolin/sarproc/internal/proc"
	"github.com/jackzampolin/sarproc/internal/product"
	"github.com/jackzampolin/sarproc/internal/record"
	"github.com/jackzampolin/sarproc/internal/scene"
	"github.com/jackzampolin/sarproc/internal/validate"
)

var stageElapsed = proc.Elapsed{Real: 2 * time.Second, User: 3 * time.Second, System: time.Second}

// fakeExecutor records calls and fails stages selected by fail.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []gpt.StageSpec
	fail  func(gpt.StageSpec) bool
	onRun func(gpt.StageSpec)
}

func (f *fakeExecutor) Run(ctx context.Context, spec gpt.StageSpec) (proc.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()

	if f.onRun != nil {
		f.onRun(spec)
	}
	if f.fail != nil && f.fail(spec) {
		return proc.Result{ExitCode: 1, Elapsed: stageElapsed}, nil
	}
	return proc.Result{Elapsed: stageElapsed}, nil
}

func (f *fakeExecutor) count(pred func(gpt.StageSpec) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if pred(c) {
			n++
		}
	}
	return n
}

// fakeDEM fails for items whose first sidecar is in fail.
type fakeDEM struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (f *fakeDEM) Generate(ctx context.Context, sidecars []string, output string) (proc.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[sidecars[0]] {
		return proc.Result{ExitCode: 1, Elapsed: proc.Elapsed{Real: time.Second}}, nil
	}
	return proc.Result{Elapsed: proc.Elapsed{Real: time.Second}}, nil
}

// fakeValidator reports every product complete unless missing is set.
type fakeValidator struct {
	missing []string
}

func (f fakeValidator) Validate(def *product.Definition, p paths.Paths) validate.Report {
	return validate.Report{Artifact: p.Artifact, DataDir: p.DataDir, Missing: f.missing}
}

type fakeRecords struct {
	mu      sync.Mutex
	written map[string]record.Record
}

func (f *fakeRecords) Write(path string, rec record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.written == nil {
		f.written = make(map[string]record.Record)
	}
	f.written[path] = rec
	return nil
}

type countingCleaner struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingCleaner) Clean(p paths.Paths) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[p.Artifact]++
}

// transitions collects observer events per item.
type transitions struct {
	mu     sync.Mutex
	events map[string][]State
}

func (tr *transitions) observe(t Transition) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.events == nil {
		tr.events = make(map[string][]State)
	}
	tr.events[t.Item.Raw] = append(tr.events[t.Item.Raw], t.State)
}

func (tr *transitions) count(raw string, s State) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for _, e := range tr.events[raw] {
		if e == s {
			n++
		}
	}
	return n
}

type harness struct {
	exec    *fakeExecutor
	dem     *fakeDEM
	records *fakeRecords
	cleaner *countingCleaner
	trans   *transitions
	out     *bytes.Buffer
	cfg     Config
}

func newHarness(t *testing.T, productName string) *harness {
	t.Helper()
	reg, err := product.Builtin()
	if err != nil {
		t.Fatalf("Builtin() error = %v", err)
	}
	def, err := reg.Get(productName)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	h := &harness{
		exec:    &fakeExecutor{},
		dem:     &fakeDEM{fail: make(map[string]bool)},
		records: &fakeRecords{},
		cleaner: &countingCleaner{},
		trans:   &transitions{},
		out:     &bytes.Buffer{},
	}
	h.cfg = Config{
		Product:   def,
		BaseDir:   t.TempDir(),
		GraphDir:  "/graphs",
		PixelRes:  25,
		Deriver:   &paths.Deriver{ScratchDir: t.TempDir()},
		Executor:  h.exec,
		DEM:       h.dem,
		Validator: fakeValidator{},
		Records:   h.records,
		Cleaner:   h.cleaner,
		Out:       h.out,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer:  h.trans.observe,
	}
	return h
}

func (h *harness) driver(t *testing.T) *Driver {
	t.Helper()
	d, err := NewDriver(h.cfg)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	return d
}

func singleItem(n int) scene.Item {
	ref := sceneRef(n)
	return scene.Item{Refs: []string{ref}, Raw: ref, LineNo: n}
}

func sceneRef(n int) string {
	return fmt.Sprintf("/g/data/fj7/Copernicus/Sentinel-1/C-SAR/GRD/2018/2018-06/35S145E-40S150E/S1A_IW_GRDH_1SDV_201806%02dT192810.zip", n)
}

func sidecar(ref string) string {
	return ref[:len(ref)-len(".zip")] + ".xml"
}

func pairItem() scene.Item {
	a := "/g/data/fj7/Copernicus/Sentinel-1/C-SAR/SLC/2018/2018-06/35S145E-40S150E/S1A_IW_SLC__1SDV_20180604T192809.zip"
	b := "/g/data/fj7/Copernicus/Sentinel-1/C-SAR/SLC/2018/2018-05/35S145E-40S150E/S1A_IW_SLC__1SDV_20180523T192809.zip"
	out := "S1A_IW_SLC__1SDV_20180523_20180604_IntCoh.dim"
	return scene.Item{Refs: []string{a, b}, OutputName: out, Raw: a + " " + b + " " + out, LineNo: 1}
}
