package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/signalnine/finetune-harness/internal/archive"
	"github.com/signalnine/finetune-harness/internal/config"
	"github.com/signalnine/finetune-harness/internal/device"
	"github.com/signalnine/finetune-harness/internal/launch"
	"github.com/signalnine/finetune-harness/internal/metrics"
	"github.com/signalnine/finetune-harness/internal/result"
	"github.com/signalnine/finetune-harness/internal/runner"
	"github.com/signalnine/finetune-harness/internal/trainer"
	"github.com/signalnine/finetune-harness/internal/trainerstate"
)

const fastState = `{"global_step": 2, "log_history": [
  {"loss": 10.7, "step": 1},
  {"eval_loss": 10.6, "eval_bleu": 0.0, "step": 1},
  {"eval_loss": 10.4, "eval_bleu": 0.25, "step": 2}
]}`

func outputDirArg(args []string) string {
	for i, a := range args {
		if a == "--output_dir" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// fakeTrainer writes the files a successful trainer run leaves behind.
type fakeTrainer struct {
	calls   int
	args    [][]string
	state   string
	predict bool
	err     error
}

func (f *fakeTrainer) Main(_ context.Context, args []string) error {
	f.calls++
	f.args = append(f.args, args)
	if f.err != nil {
		return f.err
	}
	dir := outputDirArg(args)
	if err := os.WriteFile(filepath.Join(dir, trainerstate.StateFile), []byte(f.state), 0o644); err != nil {
		return err
	}
	if f.predict {
		os.WriteFile(filepath.Join(dir, trainerstate.GenerationsFile), []byte("Salut\n"), 0o644)
		os.WriteFile(filepath.Join(dir, trainerstate.ResultsFile), []byte(`{"test_bleu": 3.5}`), 0o644)
	}
	return nil
}

func newHarness(t *testing.T, devices int, ft *fakeTrainer) *runner.Harness {
	t.Helper()
	cfg := config.DefaultConfig()
	return &runner.Harness{
		Config:  cfg,
		Devices: device.Fixed(devices),
		Entry:   ft.Main,
	}
}

func fastScenario(t *testing.T, cfg *config.Config) *config.Scenario {
	t.Helper()
	sc, ok := cfg.Scenario("fast")
	require.True(t, ok)
	return sc
}

func TestRunTrainerSingleDeviceCallsEntryOnce(t *testing.T) {
	for _, devices := range []int{0, 1} {
		ft := &fakeTrainer{state: fastState}
		h := newHarness(t, devices, ft)
		h.Multi = func(int, string) launch.Launcher {
			t.Fatal("multi-device launcher must not be used")
			return nil
		}
		sc := fastScenario(t, h.Config)

		out, err := h.RunTrainer(context.Background(), t.TempDir(), sc)
		require.NoError(t, err)
		assert.Equal(t, 1, ft.calls)
		assert.Equal(t, "inprocess", out.Launcher)

		want := trainer.BuildArgs(trainer.NewInvocation(sc, h.Config.Hyperparameters, h.Config.Trainer.DataDir, out.OutputDir))
		assert.Equal(t, want, ft.args[0])
		assert.FileExists(t, filepath.Join(out.OutputDir, trainerstate.StateFile))
	}
}

type recordingLauncher struct {
	calls int
	args  []string
	res   *launch.Result
	err   error
}

func (r *recordingLauncher) Name() string { return "distributed" }
func (r *recordingLauncher) Launch(_ context.Context, args []string) (*launch.Result, error) {
	r.calls++
	r.args = args
	return r.res, r.err
}

func TestRunTrainerMultiDeviceSpawnsOneDistributedLaunch(t *testing.T) {
	ft := &fakeTrainer{state: fastState}
	h := newHarness(t, 4, ft)
	rec := &recordingLauncher{res: &launch.Result{Stdout: []byte("ok")}}
	var nprocs []int
	h.Multi = func(n int, _ string) launch.Launcher {
		nprocs = append(nprocs, n)
		return rec
	}

	out, err := h.RunTrainer(context.Background(), t.TempDir(), fastScenario(t, h.Config))
	require.NoError(t, err)
	assert.Equal(t, 0, ft.calls, "entry point must not run in-process")
	assert.Equal(t, []int{4}, nprocs)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, out.OutputDir, outputDirArg(rec.args))
	assert.Equal(t, 4, out.Devices)
}

func TestRunTrainerDistributedFailure(t *testing.T) {
	py := filepath.Join(t.TempDir(), "python")
	require.NoError(t, os.WriteFile(py, []byte("#!/bin/sh\necho \"$@\"\nexit 2\n"), 0o755))

	h := newHarness(t, 2, &fakeTrainer{})
	h.Config.Trainer.Python = py
	h.Config.Launch.Timeout = 10 * time.Second

	out, err := h.RunTrainer(context.Background(), t.TempDir(), fastScenario(t, h.Config))
	require.Error(t, err)
	var exitErr *launch.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, "distributed", out.Launcher)
	assert.Contains(t, string(out.Result.Stdout), "--nproc_per_node=2")
}

func TestRunTrainerLogsDistributedCommand(t *testing.T) {
	py := filepath.Join(t.TempDir(), "python")
	require.NoError(t, os.WriteFile(py, []byte("#!/bin/sh\necho ok\n"), 0o755))

	core, logs := observer.New(zap.InfoLevel)
	h := newHarness(t, 2, &fakeTrainer{})
	h.Logger = zap.New(core)
	h.Config.Trainer.Python = py
	h.Config.Launch.Timeout = 10 * time.Second

	out, err := h.RunTrainer(context.Background(), t.TempDir(), fastScenario(t, h.Config))
	require.NoError(t, err)

	running := logs.FilterMessage("running").All()
	require.Len(t, running, 1)
	cmd := running[0].ContextMap()["command"].(string)
	assert.Contains(t, cmd, py+" -m torch.distributed.launch --nproc_per_node=2 "+config.DefaultScript)
	assert.Contains(t, cmd, "--output_dir "+out.OutputDir)
}

func TestRunTrainerFreshOutputDirs(t *testing.T) {
	ft := &fakeTrainer{state: fastState}
	h := newHarness(t, 1, ft)
	parent := t.TempDir()
	sc := fastScenario(t, h.Config)

	first, err := h.RunTrainer(context.Background(), parent, sc)
	require.NoError(t, err)
	second, err := h.RunTrainer(context.Background(), parent, sc)
	require.NoError(t, err)
	assert.NotEqual(t, first.OutputDir, second.OutputDir)
}

func TestRunScenarioFastPasses(t *testing.T) {
	ft := &fakeTrainer{state: fastState}
	h := newHarness(t, 1, ft)
	h.Metrics = metrics.NewRecorder()
	h.Config.Metrics.Textfile = filepath.Join(t.TempDir(), "finetune.prom")
	runDir := t.TempDir()

	meta, err := h.RunScenario(context.Background(), runDir, fastScenario(t, h.Config))
	require.NoError(t, err)
	assert.True(t, meta.Passed, "%+v", meta.Checks)
	assert.Equal(t, "completed", meta.ExitReason)
	assert.Equal(t, "inprocess", meta.Launcher)
	assert.NotEmpty(t, meta.RunID)
	require.NotNil(t, meta.Metrics.LastBleu)
	assert.Equal(t, 0.25, *meta.Metrics.LastBleu)

	assert.NoDirExists(t, meta.OutputDir, "output dir is removed after the run")
	stored, err := result.ReadRunMeta(filepath.Join(result.ScenarioDir(runDir, "fast"), result.MetaFile))
	require.NoError(t, err)
	assert.Equal(t, meta.RunID, stored.RunID)
	assert.FileExists(t, h.Config.Metrics.Textfile)
}

func TestRunScenarioSlowKeepsAndArchivesOutputs(t *testing.T) {
	state := `{"log_history": [
  {"eval_loss": 5.0, "eval_bleu": 1.5},
  {"eval_loss": 3.0, "eval_bleu": 9.25}
]}`
	ft := &fakeTrainer{state: state, predict: true}
	h := newHarness(t, 1, ft)
	h.Config.Results.KeepOutputs = true
	archiveRoot := t.TempDir()
	h.Archive = archive.Multi{&archive.LocalStore{Root: archiveRoot}}
	runDir := filepath.Join(t.TempDir(), "2026-10-19T10-00-00-abc123")

	sc, ok := h.Config.Scenario("slow")
	require.True(t, ok)
	meta, err := h.RunScenario(context.Background(), runDir, sc)
	require.NoError(t, err)

	assert.True(t, meta.Passed, "%+v", meta.Checks)
	assert.Len(t, meta.Checks, 4)
	assert.Equal(t, map[string]float64{"test_bleu": 3.5}, meta.Metrics.Test)
	assert.DirExists(t, meta.OutputDir)
	require.Len(t, meta.ArchivedTo, 1)
	assert.FileExists(t, filepath.Join(archiveRoot, "2026-10-19T10-00-00-abc123", "slow", trainerstate.ResultsFile))
}

func TestRunScenarioRecordsEntryPointFailure(t *testing.T) {
	ft := &fakeTrainer{err: errors.New("tokenizer not found")}
	h := newHarness(t, 0, ft)

	meta, err := h.RunScenario(context.Background(), t.TempDir(), fastScenario(t, h.Config))
	require.NoError(t, err)
	assert.False(t, meta.Passed)
	assert.Equal(t, "error", meta.ExitReason)
	assert.Contains(t, meta.Error, "tokenizer not found")
	assert.False(t, meta.Checks[0].Passed, "state log cannot exist")
}

func TestRunScenarioFailedCheck(t *testing.T) {
	ft := &fakeTrainer{state: `{"log_history": [{"eval_loss": 3.0}]}`}
	h := newHarness(t, 1, ft)

	meta, err := h.RunScenario(context.Background(), t.TempDir(), fastScenario(t, h.Config))
	require.NoError(t, err)
	assert.False(t, meta.Passed)
	assert.Equal(t, "completed", meta.ExitReason)
}

func TestRunScenarioDivergedLossStillChecked(t *testing.T) {
	state := `{"log_history": [
  {"loss": NaN, "step": 1},
  {"eval_loss": NaN, "eval_bleu": NaN, "step": 1},
  {"eval_loss": 9.1, "eval_bleu": 0.5, "step": 2}
]}`
	h := newHarness(t, 1, &fakeTrainer{state: state})
	runDir := t.TempDir()

	meta, err := h.RunScenario(context.Background(), runDir, fastScenario(t, h.Config))
	require.NoError(t, err, "meta.json must be writable")
	assert.True(t, meta.Passed, "%+v", meta.Checks)
	assert.Nil(t, meta.Metrics.FirstBleu)
	require.NotNil(t, meta.Metrics.LastBleu)
	assert.Equal(t, 0.5, *meta.Metrics.LastBleu)
	assert.FileExists(t, filepath.Join(result.ScenarioDir(runDir, "fast"), result.MetaFile))
}

func TestRunScenarioUnknownCheck(t *testing.T) {
	h := newHarness(t, 1, &fakeTrainer{state: fastState})
	sc := &config.Scenario{Name: "odd", ModelName: "m", EvalSteps: 1, MaxLen: "8", NumTrainEpochs: 1, Checks: []string{"rouge"}}
	_, err := h.RunScenario(context.Background(), t.TempDir(), sc)
	assert.Error(t, err)
}
