package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sarproc/internal/batch"
	"github.com/jackzampolin/sarproc/internal/config"
	"github.com/jackzampolin/sarproc/internal/dem"
	"github.com/jackzampolin/sarproc/internal/gpt"
	"github.com/jackzampolin/sarproc/internal/logfilter"
	"github.com/jackzampolin/sarproc/internal/paths"
	"github.com/jackzampolin/sarproc/internal/proc"
	"github.com/jackzampolin/sarproc/internal/record"
	"github.com/jackzampolin/sarproc/internal/scene"
	"github.com/jackzampolin/sarproc/internal/scratch"
)

var (
	runOutput     string
	runFailedList string
)

// runFlags maps config keys to the run command's flags.
var runFlags = map[string]string{
	"product":            "product",
	"arg_file_list":      "list",
	"base_save_dir":      "base-save-dir",
	"pixel_res":          "pixel-res",
	"dem_source":         "dem-source",
	"gpt_exec":           "gpt-exec",
	"graph_dir":          "graph-dir",
	"products_file":      "products-file",
	"scratch_dir":        "scratch-dir",
	"log_file":           "log-file",
	"skip_existing":      "skip-existing",
	"parallel_subswaths": "parallel-subswaths",
	"stage_timeout":      "stage-timeout",
	"executor.kind":      "executor",
}

var runCmd = &cobra.Command{
	Use:   "run [list-file]",
	Short: "Process a batch input list",
	Long: `Process every item of a batch input list.

Single-scene products take one scene per line:
  <scene.zip> [<catalogue-id>]
Pair products take two scenes and an output name:
  <scene1.zip> <scene2.zip> <output.dim> [<catalogue-id-1> <catalogue-id-2>]

Required parameters come from the config file, SARPROC_* variables, the job
environment (BASE_SAVE_DIR, PIX_RES, DEM_SOURCE) or flags.

Item failures are reported in the summary and do not change the exit status.
The command fails only on configuration errors or when interrupted.
With --output yaml or json only the summary is written to stdout; logs and
tool output go to stderr.

Examples:
  sarproc run --product backscatter scenes.list
  sarproc run --product intcoh --failed-list retry.list pairs.list
  sarproc run --output json --executor docker scenes.list`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatch,
}

func init() {
	f := runCmd.Flags()
	f.String("product", "", "product type or alias")
	f.String("list", "", "batch input list (alternative to the argument)")
	f.String("base-save-dir", "", "base output directory")
	f.Float64("pixel-res", 0, "target pixel resolution in metres")
	f.String("dem-source", "", "SRTM tile directory or elevation raster")
	f.String("gpt-exec", "", "path to the gpt executable")
	f.String("graph-dir", "", "directory holding the processing graphs")
	f.String("products-file", "", "product catalog replacing the built-in one")
	f.String("scratch-dir", "", "root for intermediate files")
	f.String("log-file", "", "batch log file named in run records")
	f.Bool("skip-existing", false, "skip items whose product already validates")
	f.Bool("parallel-subswaths", false, "run per-sub-swath stages concurrently")
	f.Duration("stage-timeout", 0, "maximum duration of one stage")
	f.String("executor", "", "stage executor: local or docker")
	f.StringVarP(&runOutput, "output", "o", "text", "summary format: text, yaml or json")
	f.StringVar(&runFailedList, "failed-list", "", "write failed items to this file in input list format")

	rootCmd.AddCommand(runCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	mgr, err := loadConfig(cmd, runFlags)
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	if err := cfg.Validate(); err != nil {
		return err
	}

	format, err := batch.ParseOutputFormat(runOutput)
	if err != nil {
		return err
	}

	// Structured summaries own stdout; everything else goes to stderr
	logOut := out
	if format != batch.OutputFormatText {
		logOut = cmd.ErrOrStderr()
	}

	logger, err := newLogger(logOut, cfg.LogLevel)
	if err != nil {
		return err
	}

	def, err := loadProduct(cfg, cfg.Product)
	if err != nil {
		return err
	}

	listFile := cfg.ArgFileList
	if len(args) == 1 {
		listFile = args[0]
	}
	if listFile == "" {
		return fmt.Errorf("%w: arg_file_list", config.ErrMissingParameter)
	}
	items, err := scene.ReadListFile(listFile, def.Scenes)
	if err != nil {
		return err
	}

	if err := config.CheckWritable(cfg.BaseSaveDir); err != nil {
		return err
	}
	if err := batch.CheckGraphs(def, cfg.GraphDir); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.DEMSource); err != nil {
		return fmt.Errorf("DEM source: %w", err)
	}

	filter, err := logfilter.New(cfg.NoisePatterns)
	if err != nil {
		return err
	}

	executor, closeExecutor, err := newExecutor(cfg, logOut, filter, logger)
	if err != nil {
		return err
	}
	defer closeExecutor()

	sd, err := scratch.New(cfg.ScratchDir, "")
	if err != nil {
		return err
	}
	if err := sd.EnsureExists(); err != nil {
		return err
	}
	defer func() {
		if err := sd.Remove(); err != nil {
			logger.Warn("failed to remove scratch directory", "path", sd.Path(), "error", err)
		}
	}()

	demOut := logfilter.NewWriter(logOut, filter)
	defer demOut.Close()

	tmpl := paths.DefaultTemplate()
	tmpl.Marker = cfg.SourceMarker

	jobID := cfg.JobID
	if cfg.VDIJob || jobID == "" {
		jobID = record.NoJobID
	}

	driver, err := batch.NewDriver(batch.Config{
		Product:  def,
		BaseDir:  cfg.BaseSaveDir,
		GraphDir: cfg.GraphDir,
		PixelRes: cfg.PixelRes,
		Deriver:  &paths.Deriver{Template: tmpl, ScratchDir: sd.Path()},
		Executor: executor,
		DEM: dem.NewGDAL(dem.GDALConfig{
			Source: cfg.DEMSource,
			Warp:   cfg.DEM.Warp,
			Buffer: cfg.DEM.Buffer,
			Runner: &proc.Runner{Output: demOut, Logger: logger},
			Logger: logger,
		}),
		Cleaner:           &batch.FileCleaner{Logger: logger},
		LogFile:           cfg.LogFile,
		JobID:             jobID,
		SkipExisting:      cfg.SkipExisting,
		ParallelSubswaths: cfg.ParallelSubswaths,
		Out:               logOut,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	logger.Info("run configured",
		"run_id", sd.RunID(),
		"product", def.Name,
		"list", listFile,
		"items", len(items),
		"base_save_dir", cfg.BaseSaveDir,
		"executor", cfg.Executor.Kind,
		"config", mgr.ConfigFile(),
	)

	summary, err := driver.Run(ctx, items)
	if err != nil {
		return err
	}

	if err := summary.Render(out, format); err != nil {
		return err
	}
	if runFailedList != "" {
		if err := writeFailedList(runFailedList, summary); err != nil {
			return err
		}
	}

	if summary.Interrupted {
		return errors.New("batch interrupted")
	}
	return nil
}

// newExecutor builds the configured stage executor and its cleanup func.
func newExecutor(cfg *config.Config, out io.Writer, filter *logfilter.Filter, logger *slog.Logger) (gpt.Executor, func(), error) {
	switch cfg.Executor.Kind {
	case config.ExecutorDocker:
		r, err := gpt.NewDockerRunner(gpt.DockerConfig{
			Image:       cfg.Executor.Image,
			Exec:        cfg.GPTExec,
			Mounts:      cfg.Executor.Mounts,
			Threads:     cfg.Threads,
			Constrained: cfg.Constrained,
			Timeout:     cfg.StageTimeout,
			Output:      out,
			Filter:      filter,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	default:
		exec, err := gpt.ResolveExecutable(cfg.GPTExec)
		if err != nil {
			return nil, nil, err
		}
		r := gpt.NewLocalRunner(gpt.LocalConfig{
			Exec:        exec,
			Threads:     cfg.Threads,
			Constrained: cfg.Constrained,
			Timeout:     cfg.StageTimeout,
			Output:      out,
			Filter:      filter,
			Logger:      logger,
		})
		return r, func() {}, nil
	}
}

func writeFailedList(path string, s *batch.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create failed list: %w", err)
	}
	if err := s.WriteFailedList(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write failed list: %w", err)
	}
	return f.Close()
}
