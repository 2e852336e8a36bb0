package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalnine/finetune-harness/internal/archive"
	"github.com/signalnine/finetune-harness/internal/config"
	"github.com/signalnine/finetune-harness/internal/device"
	"github.com/signalnine/finetune-harness/internal/gitops"
	"github.com/signalnine/finetune-harness/internal/launch"
	"github.com/signalnine/finetune-harness/internal/metrics"
	"github.com/signalnine/finetune-harness/internal/result"
	"github.com/signalnine/finetune-harness/internal/trainer"
	"github.com/signalnine/finetune-harness/internal/trainerstate"
	"github.com/signalnine/finetune-harness/internal/validation"
)

// Harness launches the trainer for a scenario and checks what it left
// behind.
type Harness struct {
	Config  *config.Config
	Devices device.Counter
	// Entry runs the trainer when a single device (or none) is available.
	Entry   launch.EntryPoint
	Logger  *zap.Logger
	Archive archive.Multi
	Metrics *metrics.Recorder
	// Echo receives subprocess output while it runs; nil discards it.
	Echo io.Writer

	// Multi overrides the launcher used for more than one device.
	Multi func(nproc int, outputDir string) launch.Launcher
}

// New wires a Harness from cfg with the default device detection and a
// script entry point.
func New(cfg *config.Config, logger *zap.Logger) *Harness {
	h := &Harness{
		Config:  cfg,
		Devices: device.Auto{Override: cfg.Launch.Devices},
		Logger:  logger,
	}
	script := &trainer.Script{
		Python:     cfg.Trainer.Python,
		Path:       cfg.Trainer.Script,
		PythonPath: cfg.Trainer.PythonPath,
	}
	h.Entry = script.Main
	if !cfg.Launch.Quiet {
		h.Echo = os.Stdout
	}
	return h
}

func (h *Harness) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Harness) multi(nproc int, outputDir string) launch.Launcher {
	if h.Multi != nil {
		return h.Multi(nproc, outputDir)
	}
	cfg := h.Config
	if cfg.Launch.Mode == launch.ModeContainer {
		return &launch.Container{
			Image:      cfg.Trainer.Image,
			Python:     cfg.Trainer.Python,
			Script:     cfg.Trainer.Script,
			NProc:      nproc,
			PythonPath: cfg.Trainer.PythonPath,
			Timeout:    cfg.Launch.Timeout,
			DataDir:    cfg.Trainer.DataDir,
			OutputDir:  outputDir,
		}
	}
	return &launch.Distributed{
		Python:     cfg.Trainer.Python,
		Script:     cfg.Trainer.Script,
		NProc:      nproc,
		PythonPath: cfg.Trainer.PythonPath,
		Timeout:    cfg.Launch.Timeout,
		Echo:       h.Echo,
	}
}

// commander is implemented by launchers that run a command line.
type commander interface {
	Command(args []string) []string
}

// Launch is the outcome of RunTrainer.
type Launch struct {
	OutputDir string
	Devices   int
	Launcher  string
	Result    *launch.Result
}

// RunTrainer builds the trainer arguments for sc, allocates a fresh output
// directory under parent and launches the trainer on the strategy picked by
// the device count. The returned Launch is non-nil whenever an output
// directory was allocated, even if the launch failed.
func (h *Harness) RunTrainer(ctx context.Context, parent string, sc *config.Scenario) (*Launch, error) {
	outputDir, err := result.AllocateOutputDir(parent)
	if err != nil {
		return nil, err
	}
	out := &Launch{OutputDir: outputDir}

	inv := trainer.NewInvocation(sc, h.Config.Hyperparameters, h.Config.Trainer.DataDir, outputDir)
	args := trainer.BuildArgs(inv)

	devices, err := h.Devices.Count(ctx)
	if err != nil {
		return out, fmt.Errorf("counting devices: %w", err)
	}
	out.Devices = devices

	l, err := launch.Select(h.Config.Launch.Mode, devices, &launch.InProcess{Entry: h.Entry},
		func(n int) launch.Launcher { return h.multi(n, outputDir) })
	if err != nil {
		return out, err
	}
	out.Launcher = l.Name()

	h.logger().Info("launching trainer",
		zap.String("scenario", sc.Name),
		zap.String("launcher", l.Name()),
		zap.Int("devices", devices),
		zap.String("output_dir", outputDir),
	)
	if c, ok := l.(commander); ok {
		h.logger().Info("running", zap.String("command", strings.Join(c.Command(args), " ")))
	} else {
		h.logger().Debug("trainer arguments", zap.Strings("args", args))
	}

	res, err := l.Launch(ctx, args)
	out.Result = res
	if err != nil {
		return out, fmt.Errorf("%s launch: %w", l.Name(), err)
	}
	return out, nil
}

// RunScenario runs sc, checks its outputs and writes meta.json under the
// scenario directory of runDir. The error is non-nil only when the run
// could not be recorded; trainer failures and failed checks are reported
// through RunMeta.Passed.
func (h *Harness) RunScenario(ctx context.Context, runDir string, sc *config.Scenario) (*result.RunMeta, error) {
	if err := validation.Known(sc.Checks); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	scenarioDir := result.ScenarioDir(runDir, sc.Name)
	log := h.logger().With(zap.String("scenario", sc.Name))

	meta := &result.RunMeta{
		RunID:     uuid.NewString(),
		Scenario:  sc.Name,
		Model:     sc.ModelName,
		StartedAt: time.Now().UTC(),
		Metrics:   result.Metrics{EvalSteps: sc.EvalSteps},
		Host:      hostSnapshot(),
	}
	if rev, err := gitops.Describe(filepath.Dir(h.Config.Trainer.Script)); err == nil {
		meta.TrainerRevision = rev.String()
	} else {
		log.Debug("trainer revision unavailable", zap.Error(err))
	}

	start := time.Now()
	l, launchErr := h.RunTrainer(ctx, scenarioDir, sc)
	meta.DurationS = time.Since(start).Seconds()
	if l == nil {
		return nil, launchErr
	}
	meta.OutputDir = l.OutputDir
	meta.Devices = l.Devices
	meta.Launcher = l.Launcher
	if l.Result != nil {
		meta.ExitCode = l.Result.ExitCode
		meta.ExitReason = launch.ExitReasonFromCode(l.Result.ExitCode, l.Result.TimedOut)
	}
	if launchErr != nil {
		meta.Error = launchErr.Error()
		if meta.ExitReason == "" || meta.ExitReason == "completed" {
			meta.ExitReason = "error"
		}
		switch {
		case errors.Is(launchErr, context.DeadlineExceeded):
			meta.ExitReason = "timeout"
		case errors.Is(launchErr, context.Canceled):
			meta.ExitReason = "interrupted"
		}
		log.Error("trainer launch failed", zap.Error(launchErr))
	}

	in := validation.NewInput(l.OutputDir)
	checks, err := validation.Run(sc.Checks, in)
	if err != nil {
		return nil, err
	}
	meta.Checks = checks
	meta.Passed = launchErr == nil && validation.AllPassed(checks)
	recordBleu(meta, in)
	if res, err := trainerstate.LoadResults(filepath.Join(l.OutputDir, trainerstate.ResultsFile)); err == nil {
		meta.Metrics.Test = res
	}

	for _, c := range checks {
		if c.Passed {
			log.Debug("check passed", zap.String("check", c.Name), zap.String("detail", c.Detail))
		} else {
			log.Warn("check failed", zap.String("check", c.Name), zap.String("detail", c.Detail))
		}
	}

	if len(h.Archive) > 0 {
		key := filepath.ToSlash(filepath.Join(filepath.Base(runDir), sc.Name))
		locs, err := h.Archive.Save(ctx, key, l.OutputDir)
		meta.ArchivedTo = locs
		if err != nil {
			log.Warn("archiving outputs failed", zap.Error(err))
		}
	}

	meta.OutputKept = h.Config.Results.KeepOutputs
	if !meta.OutputKept {
		if err := os.RemoveAll(l.OutputDir); err != nil {
			log.Warn("removing output dir failed", zap.String("output_dir", l.OutputDir), zap.Error(err))
		}
	}

	if err := result.WriteRunMeta(scenarioDir, meta); err != nil {
		return meta, fmt.Errorf("writing meta: %w", err)
	}

	if h.Metrics != nil {
		h.Metrics.Observe(meta)
		if path := h.Config.Metrics.Textfile; path != "" {
			if err := h.Metrics.WriteTextfile(path); err != nil {
				log.Warn("exporting metrics failed", zap.Error(err))
			}
		}
	}
	return meta, nil
}

func recordBleu(meta *result.RunMeta, in *validation.Input) {
	if in.StateErr != nil {
		return
	}
	evals := in.State.EvalMetrics()
	if len(evals) == 0 {
		return
	}
	// meta.json cannot hold NaN or Inf
	finite := func(e trainerstate.LogEntry) (*float64, bool) {
		f, ok := e.Float("eval_bleu")
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return &f, true
	}
	if f, ok := finite(evals[0]); ok {
		meta.Metrics.FirstBleu = f
	}
	if f, ok := finite(evals[len(evals)-1]); ok {
		meta.Metrics.LastBleu = f
	}
}
