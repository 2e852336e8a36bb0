package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/finetune-harness/internal/report"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-dir]",
		Short: "Summarize stored scenario results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				return report.Generate(args[0], flagFormat, cmd.OutOrStdout())
			}
			// latest is a symlink; WalkDir does not follow a symlinked root
			latest, err := filepath.EvalSymlinks(filepath.Join(cfg.Results.Dir, "latest"))
			if err != nil {
				return fmt.Errorf("no runs under %s: %w", cfg.Results.Dir, err)
			}
			return report.Generate(latest, flagFormat, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}
