package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sarproc/internal/logfilter"
)

var (
	logsWait time.Duration
	logsOut  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Batch log utilities",
}

var logsCleanCmd = &cobra.Command{
	Use:   "clean <log-file>",
	Short: "Write a copy of a batch log without external tool noise",
	Long: `Write <log-file>.clean with the external tool's diagnostic chatter
removed. Runs of identical noise lines are collapsed into one line with a
repeat count.

With --wait the command first waits for the log to appear, for job scripts
that run it before the scheduler has copied the log back.

Examples:
  sarproc logs clean batch.log
  sarproc logs clean --wait 30m batch.log`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := args[0]

		mgr, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		filter, err := logfilter.New(mgr.Get().NoisePatterns)
		if err != nil {
			return err
		}

		if logsWait > 0 {
			ctx, cancel := context.WithTimeout(cmd.Context(), logsWait)
			defer cancel()
			if err := logfilter.WaitForFile(ctx, src); err != nil {
				return err
			}
		}

		stats, err := logfilter.Clean(src, logsOut, filter)
		if err != nil {
			return err
		}

		dst := logsOut
		if dst == "" {
			dst = src + logfilter.CleanSuffix
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d lines, %d elided\n", dst, stats.Lines, stats.Elided)
		return nil
	},
}

func init() {
	logsCleanCmd.Flags().DurationVar(&logsWait, "wait", 0, "wait up to this long for the log to appear")
	logsCleanCmd.Flags().StringVar(&logsOut, "out", "", "output file (default: <log-file>.clean)")

	logsCmd.AddCommand(logsCleanCmd)
	rootCmd.AddCommand(logsCmd)
}
