// Package batch drives a list of work items through a product's stage
// pipeline.
//
// Each item moves through
//
//	pending -> generating_auxiliary_data -> staging(i)... -> validating
//	        -> succeeded | failed -> cleaning_up
//
// A failed item never stops the batch: its outcome is recorded and the next
// item starts. Only configuration problems found before the loop are
// returned as errors.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/sarproc/internal/dem"
	"github.com/jackzampolin/sarproc/internal/gpt"
	"github.com/jackzampolin/sarproc/internal/paths"
	"github.com/jackzampolin/sarproc/internal/proc"
	"github.com/jackzampolin/sarproc/internal/product"
	"github.com/jackzampolin/sarproc/internal/record"
	"github.com/jackzampolin/sarproc/internal/scene"
	"github.com/jackzampolin/sarproc/internal/validate"
)

// DEMStage labels auxiliary-data timings.
const DEMStage = "dem"

// Config configures a Driver.
type Config struct {
	Product  *product.Definition
	BaseDir  string
	GraphDir string
	PixelRes float64

	Deriver   *paths.Deriver
	Executor  gpt.Executor
	DEM       dem.Generator
	Validator validate.Validator
	Records   record.Writer
	Cleaner   Cleaner

	// LogFile and JobID are written to run records.
	LogFile string
	JobID   string

	// SkipExisting skips items whose product already validates.
	SkipExisting bool
	// ParallelSubswaths runs the lanes of per-sub-swath blocks concurrently.
	// Every lane runs to completion or its own first failure before the
	// item is judged.
	ParallelSubswaths bool

	// Out receives failure lines as they happen. Defaults to os.Stdout.
	Out      io.Writer
	Logger   *slog.Logger
	Observer func(Transition)
	Now      func() time.Time
}

// Driver runs batches.
type Driver struct {
	cfg    Config
	logger *slog.Logger
}

// NewDriver creates a Driver, filling in defaults for optional collaborators.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Product == nil {
		return nil, errors.New("batch: product is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("batch: stage executor is required")
	}
	if cfg.DEM == nil {
		return nil, errors.New("batch: DEM generator is required")
	}
	if cfg.Deriver == nil {
		cfg.Deriver = &paths.Deriver{}
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.Files{}
	}
	if cfg.Records == nil {
		cfg.Records = record.FileWriter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cleaner == nil {
		cfg.Cleaner = &FileCleaner{Logger: cfg.Logger}
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Driver{cfg: cfg, logger: cfg.Logger}, nil
}

// Derive computes the paths of every item. A malformed identifier fails the
// whole batch before any processing starts.
func (d *Driver) Derive(items []scene.Item) ([]paths.Paths, error) {
	out := make([]paths.Paths, len(items))
	for i, it := range items {
		p, err := d.cfg.Deriver.Derive(d.cfg.Product, d.cfg.BaseDir, it)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", it.LineNo, err)
		}
		out[i] = p
	}
	return out, nil
}

// Run processes items in order and returns the batch summary.
// If ctx is cancelled the current item is finished as failed, the loop
// stops and the summary is marked interrupted.
func (d *Driver) Run(ctx context.Context, items []scene.Item) (*Summary, error) {
	all, err := d.Derive(items)
	if err != nil {
		return nil, err
	}

	acct := NewAccountant(string(d.cfg.Product.Name), len(items), d.cfg.Now())
	d.logger.Info("starting batch", "product", d.cfg.Product.Name, "items", len(items))

	for i, it := range items {
		if ctx.Err() != nil {
			acct.Interrupt()
			break
		}
		o := d.Process(ctx, it, all[i])
		acct.Record(o)
		if o.Interrupted {
			acct.Interrupt()
			break
		}
	}

	s := acct.Summary(d.cfg.Now())
	s.JobID = d.cfg.JobID
	d.logger.Info("batch finished",
		"total", s.Total,
		"succeeded", s.Succeeded,
		"failed", s.Failed(),
		"skipped", s.Skipped,
		"interrupted", s.Interrupted,
	)
	return s, nil
}

// Process runs one item through the state machine. Cleanup runs exactly
// once for every item that leaves pending.
func (d *Driver) Process(ctx context.Context, it scene.Item, p paths.Paths) Outcome {
	logger := d.logger.With("item", it.String())
	o := Outcome{
		Item:     it,
		Input:    strings.Join(it.Refs, " "),
		Artifact: p.Artifact,
	}
	d.transition(it, StatePending, 0, "")

	if d.cfg.SkipExisting {
		if rep := d.cfg.Validator.Validate(d.cfg.Product, p); rep.OK() {
			o.Status = StatusSkipped
			logger.Info("skipping processed item", "artifact", p.Artifact)
			return o
		}
	}

	start := d.cfg.Now()
	d.execute(ctx, logger, &o, p)
	d.finish(logger, &o, p, start)

	d.transition(it, StateCleaningUp, 0, "")
	d.cfg.Cleaner.Clean(p)
	return o
}

// execute sets o's terminal status.
func (d *Driver) execute(ctx context.Context, logger *slog.Logger, o *Outcome, p paths.Paths) {
	def := d.cfg.Product

	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		o.Status = StatusSetupFailed
		o.Error = fmt.Sprintf("failed to create output directory: %v", err)
		return
	}
	plan, err := BuildPlan(def, p, d.cfg.GraphDir, Vars{PixelRes: d.cfg.PixelRes, DEM: p.DEM})
	if err != nil {
		o.Status = StatusSetupFailed
		o.Error = err.Error()
		return
	}
	logger.Debug("plan built", "stages", len(plan.Stages()), "blocks", len(plan.Blocks))

	d.transition(o.Item, StateGeneratingAuxiliaryData, 0, "")
	res, err := d.cfg.DEM.Generate(ctx, p.Sidecars, p.DEM)
	o.Timings = append(o.Timings, StageTiming{Stage: DEMStage, Elapsed: res.Elapsed})
	if err != nil || !res.OK() {
		o.Status = StatusDEMGenerationFailed
		o.ExitCode = res.ExitCode
		o.TimedOut = res.TimedOut
		if err != nil {
			o.Error = err.Error()
		}
		o.Interrupted = ctx.Err() != nil
		return
	}
	logger.Debug("DEM ready", "dem", p.DEM, "real", res.Elapsed.Real)

	for _, block := range plan.Blocks {
		var failures []stageFailure
		if d.cfg.ParallelSubswaths && block.PerSubswath() && len(block.Lanes) > 1 {
			failures = d.runParallel(ctx, o, block)
		} else {
			failures = d.runSequential(ctx, o, block)
		}
		if len(failures) > 0 {
			applyFailures(o, failures)
			o.Interrupted = ctx.Err() != nil
			return
		}
	}

	d.transition(o.Item, StateValidating, 0, "")
	rep := d.cfg.Validator.Validate(def, p)
	if !rep.OK() {
		o.Status = StatusOutputIncomplete
		o.Missing = rep.Missing
		return
	}
	o.Status = StatusSucceeded
}

type stageFailure struct {
	spec     gpt.StageSpec
	exitCode int
	timedOut bool
	err      error
}

// runLane runs a lane's stages in order, stopping at the first failure.
func (d *Driver) runLane(ctx context.Context, it scene.Item, lane []gpt.StageSpec) ([]StageTiming, *stageFailure) {
	var timings []StageTiming
	for _, spec := range lane {
		d.transition(it, StateStaging, spec.Ordinal, spec.Subswath)
		res, err := d.cfg.Executor.Run(ctx, spec)
		timings = append(timings, StageTiming{Stage: spec.Label(), Elapsed: res.Elapsed})
		if err != nil || !res.OK() {
			return timings, &stageFailure{spec: spec, exitCode: res.ExitCode, timedOut: res.TimedOut, err: err}
		}
	}
	return timings, nil
}

// runSequential runs lanes one after another and stops at the first failed lane.
func (d *Driver) runSequential(ctx context.Context, o *Outcome, block Block) []stageFailure {
	for _, lane := range block.Lanes {
		timings, f := d.runLane(ctx, o.Item, lane)
		o.Timings = append(o.Timings, timings...)
		if f != nil {
			return []stageFailure{*f}
		}
	}
	return nil
}

// runParallel runs every lane concurrently and collects all failures.
// Each lane writes distinct intermediate paths.
func (d *Driver) runParallel(ctx context.Context, o *Outcome, block Block) []stageFailure {
	timings := make([][]StageTiming, len(block.Lanes))
	failed := make([]*stageFailure, len(block.Lanes))

	var g errgroup.Group
	for i, lane := range block.Lanes {
		g.Go(func() error {
			timings[i], failed[i] = d.runLane(ctx, o.Item, lane)
			return nil
		})
	}
	_ = g.Wait()

	var failures []stageFailure
	for i := range block.Lanes {
		o.Timings = append(o.Timings, timings[i]...)
		if failed[i] != nil {
			failures = append(failures, *failed[i])
		}
	}
	return failures
}

func applyFailures(o *Outcome, failures []stageFailure) {
	first := failures[0]
	for _, f := range failures[1:] {
		if f.spec.Ordinal < first.spec.Ordinal {
			first = f
		}
	}

	o.Status = StatusStageFailed
	o.Stage = first.spec.Ordinal
	o.StageName = first.spec.Name
	o.ExitCode = first.exitCode
	o.TimedOut = first.timedOut

	var errs []string
	for _, f := range failures {
		if f.spec.Subswath != "" {
			o.Subswaths = append(o.Subswaths, f.spec.Subswath)
		}
		if f.err != nil {
			errs = append(errs, f.err.Error())
		}
	}
	o.Error = strings.Join(errs, "; ")
}

// finish reports the terminal state and writes the run record.
func (d *Driver) finish(logger *slog.Logger, o *Outcome, p paths.Paths, start time.Time) {
	if o.Succeeded() {
		d.transition(o.Item, StateSucceeded, 0, "")
		var total proc.Elapsed
		for _, st := range o.Timings {
			total = total.Add(st.Elapsed)
		}
		logger.Info("item succeeded",
			"artifact", p.Artifact,
			"elapsed", d.cfg.Now().Sub(start),
			"real", total.Real,
			"user", total.User,
			"system", total.System,
		)
	} else {
		d.transition(o.Item, StateFailed, o.Stage, "")
		attrs := []any{"reason", o.Reason(), "stage", o.StageName}
		if o.Error != "" {
			attrs = append(attrs, "error", o.Error)
		}
		if len(o.Missing) > 0 {
			attrs = append(attrs, "missing", o.Missing)
		}
		logger.Warn("item failed", attrs...)
		fmt.Fprintf(d.cfg.Out, "FAILED [%s] %s\n", o.Reason(), o.Input)
	}

	rec := record.Record{
		LogFile:   d.cfg.LogFile,
		Status:    o.RecordStatus(),
		Date:      d.cfg.Now(),
		JobID:     d.cfg.JobID,
		Artifact:  p.Artifact,
		OutputDir: p.OutputDir,
	}
	for i, ref := range p.Inputs {
		rec.Inputs = append(rec.Inputs, record.Input{
			Ref:         ref,
			Sidecar:     p.Sidecars[i],
			CatalogueID: o.Item.CatalogueID(i),
		})
	}
	if _, err := os.Stat(p.Artifact); err == nil {
		mods, err := record.ScanModules(p.Artifact)
		if err != nil {
			logger.Debug("could not read artifact modules", "error", err)
		}
		rec.Modules = mods
	}
	rec.Modules = record.WithExpected(rec.Modules, d.cfg.Product.Modules)

	if err := d.cfg.Records.Write(p.Record, rec); err != nil {
		logger.Warn("failed to write run record", "record", p.Record, "error", err)
	}
}

func (d *Driver) transition(it scene.Item, s State, stage int, subswath string) {
	d.logger.Debug("state", "item", it.String(), "state", s, "stage", stage, "subswath", subswath)
	if d.cfg.Observer != nil {
		d.cfg.Observer(Transition{Item: it, State: s, Stage: stage, Subswath: subswath})
	}
}
