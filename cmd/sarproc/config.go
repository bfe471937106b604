package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sarproc/internal/config"
)

var (
	configForce bool
	configWatch bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "sarproc.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration and where each key can be set",
	Long: `Show every configuration key with its effective value, after merging
the config file, environment and defaults.

With --watch the configuration is printed again whenever the config file
changes, until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		showConfig(out, mgr)

		if !configWatch {
			return nil
		}
		if mgr.ConfigFile() == "" {
			return errors.New("no config file to watch")
		}
		mgr.OnChange(func(*config.Config) {
			fmt.Fprintf(out, "\n# reloaded %s\n", mgr.ConfigFile())
			showConfig(out, mgr)
		})
		mgr.WatchConfig()
		<-cmd.Context().Done()
		return nil
	},
}

func showConfig(w io.Writer, mgr *config.Manager) {
	file := mgr.ConfigFile()
	if file == "" {
		file = "(none)"
	}
	fmt.Fprintf(w, "# config file: %s\n", file)

	for _, e := range config.DefaultEntries() {
		req := ""
		if e.Required {
			req = " (required)"
		}
		fmt.Fprintf(w, "%s: %v\n", e.Key, mgr.Value(e.Key))
		fmt.Fprintf(w, "    %s%s\n", e.Description, req)
		fmt.Fprintf(w, "    env: %s\n", strings.Join(e.Env(), ", "))
	}
	if err := mgr.Get().Validate(); err != nil {
		fmt.Fprintf(w, "\n# not ready to run:\n# %s\n", strings.ReplaceAll(err.Error(), "\n", "\n# "))
	}
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configShowCmd.Flags().BoolVar(&configWatch, "watch", false, "print again when the config file changes")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
