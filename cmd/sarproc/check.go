package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sarproc/internal/paths"
	"github.com/jackzampolin/sarproc/internal/validate"
)

var checkCmd = &cobra.Command{
	Use:   "check <artifact.dim>...",
	Short: "Validate existing output products",
	Long: `Check that output products contain every expected band file.

Exits non-zero if any product is incomplete.

Examples:
  sarproc check --product backscatter /g/data/out/.../S1A_IW_GRDH_1SDV_20180604T192810.dim`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig(cmd, map[string]string{"product": "product"})
		if err != nil {
			return err
		}
		cfg := mgr.Get()
		def, err := loadProduct(cfg, cfg.Product)
		if err != nil {
			return err
		}

		tmpl := paths.DefaultTemplate()
		out := cmd.OutOrStdout()
		incomplete := 0
		for _, artifact := range args {
			dataDir, err := validate.DataDirFor(tmpl, artifact)
			if err != nil {
				return err
			}
			rep := validate.Check(def.Bands, artifact, dataDir)
			if rep.OK() {
				fmt.Fprintf(out, "OK %s\n", artifact)
				continue
			}
			incomplete++
			fmt.Fprintf(out, "INCOMPLETE %s\n", artifact)
			for _, m := range rep.Missing {
				fmt.Fprintf(out, "  missing: %s\n", m)
			}
		}

		if incomplete > 0 {
			return fmt.Errorf("%d of %d products incomplete", incomplete, len(args))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().String("product", "", "product type or alias")
	rootCmd.AddCommand(checkCmd)
}
