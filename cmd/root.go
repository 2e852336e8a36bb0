package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/finetune-harness/internal/config"
	"github.com/signalnine/finetune-harness/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "finetune-harness",
		Short:        "Launch and check seq2seq fine-tuning runs",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (defaults built in when empty)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	return root
}

// setup loads the config and builds the logger it describes.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Encoding: cfg.Logging.Encoding,
		Output:   cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
