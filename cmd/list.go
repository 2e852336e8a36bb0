package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/finetune-harness/internal/device"
	"github.com/signalnine/finetune-harness/internal/validation"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured scenarios, checks and visible devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			fmt.Println("Scenarios:")
			for _, sc := range cfg.Scenarios {
				slow := ""
				if sc.Slow {
					slow = " [slow]"
				}
				fmt.Printf("  - %s%s: %s, eval_steps=%d max_len=%s epochs=%d checks=%s\n",
					sc.Name, slow, sc.ModelName, sc.EvalSteps, sc.MaxLen, sc.NumTrainEpochs,
					strings.Join(sc.Checks, ","))
			}
			fmt.Printf("\nChecks: %s\n", strings.Join(validation.Names(), ", "))

			n, err := device.Auto{Override: cfg.Launch.Devices}.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("counting devices: %w", err)
			}
			fmt.Printf("Devices: %d (launch mode %s)\n", n, cfg.Launch.Mode)
			return nil
		},
	}
}
