package gpt

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jackzampolin/sarproc/internal/logfilter"
	"github.com/jackzampolin/sarproc/internal/proc"
)

// LocalRunner runs the graph tool as a local subprocess.
type LocalRunner struct {
	exec        string
	threads     int
	constrained bool
	timeout     time.Duration
	output      io.Writer
	filter      *logfilter.Filter
	logger      *slog.Logger
}

// LocalConfig configures a LocalRunner.
type LocalConfig struct {
	// Exec is the tool path, as returned by ResolveExecutable.
	Exec string
	// Threads is forwarded only when Constrained is set. On batch-scheduled
	// nodes the tool uses the whole allocation.
	Threads     int
	Constrained bool
	Timeout     time.Duration
	Output      io.Writer
	Filter      *logfilter.Filter
	Logger      *slog.Logger
}

// NewLocalRunner creates a LocalRunner.
func NewLocalRunner(cfg LocalConfig) *LocalRunner {
	if cfg.Exec == "" {
		cfg.Exec = DefaultExecutable
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LocalRunner{
		exec:        cfg.Exec,
		threads:     cfg.Threads,
		constrained: cfg.Constrained,
		timeout:     cfg.Timeout,
		output:      cfg.Output,
		filter:      cfg.Filter,
		logger:      cfg.Logger,
	}
}

// Run executes one stage.
func (r *LocalRunner) Run(ctx context.Context, spec StageSpec) (proc.Result, error) {
	threads := 0
	if r.constrained {
		threads = r.threads
	}

	w := logfilter.NewWriter(r.output, r.filter)
	defer w.Close()

	runner := &proc.Runner{Output: w, Logger: r.logger}
	cmd := proc.Command{
		Path:    r.exec,
		Args:    Args(spec, threads),
		Timeout: r.timeout,
	}
	r.logger.Info("running stage", "stage", spec.Label(), "ordinal", spec.Ordinal, "graph", spec.Graph)

	return runner.Run(ctx, cmd)
}
