package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/sarproc/internal/batch"
	"github.com/jackzampolin/sarproc/internal/config"
	"github.com/jackzampolin/sarproc/internal/paths"
	"github.com/jackzampolin/sarproc/internal/scene"
)

var pathsOutput string

// pathsEntry pairs a list line with its derived paths.
type pathsEntry struct {
	Line  int         `json:"line" yaml:"line"`
	Item  string      `json:"item" yaml:"item"`
	Paths paths.Paths `json:"paths" yaml:"paths"`
}

var pathsCmd = &cobra.Command{
	Use:   "paths [list-file]",
	Short: "Show the paths derived for each item of a batch input list",
	Long: `Show where each item's output, run record and temporary files will be
written, without processing anything.

Without a scratch_dir, intermediates are shown next to the output.

Examples:
  sarproc paths --product backscatter --base-save-dir /g/data/out scenes.list`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig(cmd, map[string]string{
			"product":       "product",
			"base_save_dir": "base-save-dir",
			"arg_file_list": "list",
		})
		if err != nil {
			return err
		}
		cfg := mgr.Get()
		if cfg.BaseSaveDir == "" {
			return fmt.Errorf("%w: base_save_dir", config.ErrMissingParameter)
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

		tmpl := paths.DefaultTemplate()
		tmpl.Marker = cfg.SourceMarker
		d := &paths.Deriver{Template: tmpl, ScratchDir: cfg.ScratchDir}

		entries := make([]pathsEntry, 0, len(items))
		for _, it := range items {
			p, err := d.Derive(def, cfg.BaseSaveDir, it)
			if err != nil {
				return fmt.Errorf("line %d: %w", it.LineNo, err)
			}
			entries = append(entries, pathsEntry{Line: it.LineNo, Item: it.String(), Paths: p})
		}

		format, err := batch.ParseOutputFormat(pathsOutput)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch format {
		case batch.OutputFormatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		case batch.OutputFormatYAML:
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(entries)
		}

		for _, e := range entries {
			fmt.Fprintf(out, "%d: %s\n", e.Line, e.Item)
			fmt.Fprintf(out, "  artifact: %s\n", e.Paths.Artifact)
			fmt.Fprintf(out, "  data dir: %s\n", e.Paths.DataDir)
			fmt.Fprintf(out, "  record:   %s\n", e.Paths.Record)
			fmt.Fprintf(out, "  dem:      %s\n", e.Paths.DEM)
			for _, im := range e.Paths.Intermediates {
				fmt.Fprintf(out, "  temp:     %s\n", im.Path)
			}
		}
		return nil
	},
}

func init() {
	f := pathsCmd.Flags()
	f.String("product", "", "product type or alias")
	f.String("base-save-dir", "", "base output directory")
	f.String("list", "", "batch input list (alternative to the argument)")
	f.StringVarP(&pathsOutput, "output", "o", "text", "output format: text, yaml or json")
	rootCmd.AddCommand(pathsCmd)
}
