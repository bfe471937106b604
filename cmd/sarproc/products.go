package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/sarproc/internal/batch"
	"github.com/jackzampolin/sarproc/internal/product"
)

var productsOutput string

var productsCmd = &cobra.Command{
	Use:   "products [name]",
	Short: "List product types and their stages",
	Long: `List the product types of the active catalog.

With a name or alias, only that product is shown.

Examples:
  sarproc products
  sarproc products intcoh -o yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		reg, err := loadRegistry(mgr.Get())
		if err != nil {
			return err
		}

		defs := reg.List()
		if len(args) == 1 {
			def, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			defs = []*product.Definition{def}
		}

		format, err := batch.ParseOutputFormat(productsOutput)
		if err != nil {
			return err
		}
		return writeProducts(cmd.OutOrStdout(), defs, format)
	},
}

func init() {
	productsCmd.Flags().StringVarP(&productsOutput, "output", "o", "text", "output format: text, yaml or json")
	rootCmd.AddCommand(productsCmd)
}

func writeProducts(w io.Writer, defs []*product.Definition, format batch.OutputFormat) error {
	switch format {
	case batch.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	case batch.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(defs)
	}

	for i, def := range defs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s", def.Name)
		if len(def.Aliases) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(def.Aliases, ", "))
		}
		fmt.Fprintln(w)
		if def.Description != "" {
			fmt.Fprintf(w, "  %s\n", def.Description)
		}
		fmt.Fprintf(w, "  scenes per item: %d\n", def.Scenes)
		if len(def.Subswaths) > 0 {
			fmt.Fprintf(w, "  sub-swaths: %s\n", strings.Join(def.Subswaths, " "))
		}
		for n, s := range def.Stages {
			per := ""
			if s.PerSubswath {
				per = " [per sub-swath]"
			}
			fmt.Fprintf(w, "  %d. %s: %s%s\n", n+1, s.Name, s.Graph, per)
		}
		fmt.Fprintf(w, "  bands: %s\n", strings.Join(def.Bands, " "))
	}
	return nil
}
