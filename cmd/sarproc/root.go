package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sarproc/internal/config"
	"github.com/jackzampolin/sarproc/internal/product"
	"github.com/jackzampolin/sarproc/version"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sarproc",
	Short: "Batch processing of Sentinel-1 scenes into analysis ready products",
	Long: `sarproc drives batches of Sentinel-1 scenes through the SNAP graph
processing tool (gpt) to produce analysis ready SAR products.

For every item of a batch input list it:
  - Builds an elevation model covering the scene footprint
  - Runs the product's processing graphs in order
  - Validates the output product and its band files
  - Writes a run record for downstream cataloguing
  - Removes intermediate files

A failed item never stops the batch. Failures are listed in the summary
and can be written out as a new input list for resubmission.`,
	Version:       version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./sarproc.yaml or ~/.sarproc/sarproc.yaml)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and environment, then binds the given
// command flags (config key to flag name) on top.
func loadConfig(cmd *cobra.Command, flags map[string]string) (*config.Manager, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	if len(flags) > 0 {
		if err := mgr.BindFlags(cmd.Flags(), flags); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if verbose {
		lvl = slog.LevelDebug
	} else if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// loadProduct resolves a product name or alias against the configured catalog.
func loadProduct(cfg *config.Config, name string) (*product.Definition, error) {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	return reg.Get(name)
}

func loadRegistry(cfg *config.Config) (*product.Registry, error) {
	if cfg.ProductsFile != "" {
		return product.LoadFile(cfg.ProductsFile)
	}
	return product.Builtin()
}
