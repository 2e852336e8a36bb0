package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/finetune-harness/internal/archive"
	"github.com/signalnine/finetune-harness/internal/config"
	"github.com/signalnine/finetune-harness/internal/metrics"
	"github.com/signalnine/finetune-harness/internal/report"
	"github.com/signalnine/finetune-harness/internal/result"
	"github.com/signalnine/finetune-harness/internal/runner"
)

var (
	flagScenarios   []string
	flagSlow        bool
	flagParallel    int
	flagKeepOutputs bool
	flagMode        string
	flagDevices     int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run trainer scenarios and check their outputs",
		RunE:  runScenarios,
	}
	cmd.Flags().StringSliceVar(&flagScenarios, "scenario", nil, "run only the named scenarios")
	cmd.Flags().BoolVar(&flagSlow, "slow", false, "include slow scenarios (also enabled by RUN_SLOW)")
	cmd.Flags().IntVar(&flagParallel, "parallel", 1, "max scenarios running at once")
	cmd.Flags().BoolVar(&flagKeepOutputs, "keep-outputs", false, "keep trainer output directories")
	cmd.Flags().StringVar(&flagMode, "mode", "", "override launch.mode (auto, inprocess, distributed, container)")
	cmd.Flags().IntVar(&flagDevices, "devices", -1, "override the detected device count")
	return cmd
}

func runScenarios(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if flagMode != "" {
		cfg.Launch.Mode = flagMode
	}
	if flagDevices >= 0 {
		cfg.Launch.Devices = flagDevices
	}
	if flagKeepOutputs {
		cfg.Results.KeepOutputs = true
	}

	scenarios, err := filterScenarios(cfg.Scenarios, flagScenarios, flagSlow || slowEnabled(os.Getenv("RUN_SLOW")))
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios selected (slow scenarios need --slow or RUN_SLOW=1)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := runner.New(cfg, logger)
	h.Archive, err = archiveStores(ctx, cfg)
	if err != nil {
		return err
	}
	h.Metrics = metrics.NewRecorder()

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", runDir)

	var (
		mu     sync.Mutex
		failed []string
	)
	runOne := func(ctx context.Context, sc config.Scenario) error {
		fmt.Printf("Running %s (%s)...\n", sc.Name, sc.ModelName)
		meta, err := h.RunScenario(ctx, runDir, &sc)
		if err != nil {
			logger.Error("scenario not recorded", zap.String("scenario", sc.Name), zap.Error(err))
			mu.Lock()
			failed = append(failed, sc.Name)
			mu.Unlock()
			return fmt.Errorf("%s: %w", sc.Name, err)
		}
		status := "PASS"
		if !meta.Passed {
			status = "FAIL"
			mu.Lock()
			failed = append(failed, sc.Name)
			mu.Unlock()
		}
		fmt.Printf("  %s %s (%s, %.1fs)\n", status, sc.Name, meta.ExitReason, meta.DurationS)
		return nil
	}

	if flagParallel > 1 {
		var jobs []runner.Job
		for _, sc := range scenarios {
			jobs = append(jobs, func(ctx context.Context) error { return runOne(ctx, sc) })
		}
		for _, err := range runner.RunPool(ctx, flagParallel, jobs) {
			if err != nil {
				fmt.Printf("  ERROR: %v\n", err)
			}
		}
	} else {
		for _, sc := range scenarios {
			if err := runOne(ctx, sc); err != nil {
				fmt.Printf("  ERROR: %v\n", err)
			}
		}
	}

	fmt.Println("\n--- Results ---")
	if err := report.Generate(runDir, "table", os.Stdout); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d scenario(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// filterScenarios keeps the named scenarios (all when names is empty) and
// drops slow ones unless slow is set.
func filterScenarios(all []config.Scenario, names []string, slow bool) ([]config.Scenario, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var selected []config.Scenario
	for _, sc := range all {
		if len(want) > 0 && !want[sc.Name] {
			continue
		}
		delete(want, sc.Name)
		if sc.Slow && !slow {
			continue
		}
		selected = append(selected, sc)
	}
	for _, n := range names {
		if want[n] {
			return nil, fmt.Errorf("unknown scenario %q", n)
		}
	}
	return selected, nil
}

// slowEnabled reports whether a RUN_SLOW value turns slow scenarios on.
func slowEnabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func archiveStores(ctx context.Context, cfg *config.Config) (archive.Multi, error) {
	var stores archive.Multi
	if cfg.Archive.Dir != "" {
		stores = append(stores, &archive.LocalStore{Root: cfg.Archive.Dir})
	}
	if s3cfg := cfg.Archive.S3; s3cfg.Bucket != "" {
		store, err := archive.NewS3Store(ctx, archive.S3Config{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
	}
	return stores, nil
}
