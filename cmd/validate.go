package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/finetune-harness/internal/validation"
)

var flagChecks []string

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <output-dir>",
		Short: "Re-run checks over an existing trainer output directory",
		Long:  "Load trainer_state.json and the prediction files from a kept output directory and evaluate the named checks against them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			outputDir := args[0]
			if info, err := os.Stat(outputDir); err != nil {
				return err
			} else if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", outputDir)
			}

			in := validation.NewInput(outputDir)
			if in.StateErr != nil {
				logger.Warn("trainer state unavailable", zap.Error(in.StateErr))
			}
			checks, err := validation.Run(flagChecks, in)
			if err != nil {
				return err
			}
			for _, c := range checks {
				status := "PASS"
				if !c.Passed {
					status = "FAIL"
				}
				fmt.Printf("  %s %-22s %s\n", status, c.Name, c.Detail)
			}
			if !validation.AllPassed(checks) {
				return fmt.Errorf("checks failed in %s", outputDir)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&flagChecks, "checks", []string{"state_log", "eval_has_bleu"}, "checks to run")
	return cmd
}
