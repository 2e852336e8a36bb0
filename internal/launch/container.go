package launch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signalnine/finetune-harness/internal/docker"
	"github.com/signalnine/finetune-harness/internal/trainer"
)

// Container runs the distributed command inside a trainer image. Host
// paths are mounted at the same location so the argument list needs no
// rewriting.
type Container struct {
	Image      string
	Python     string
	Script     string
	NProc      int
	PythonPath []string
	Timeout    time.Duration
	DataDir    string
	OutputDir  string

	run func(context.Context, *docker.RunOpts) (*docker.RunResult, error)
}

func (c *Container) Name() string { return "container" }

// RunOpts builds the container request for args.
func (c *Container) RunOpts(args []string) (*docker.RunOpts, error) {
	d := &Distributed{Python: c.Python, Script: c.Script, NProc: c.NProc}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working dir: %w", err)
	}
	mounts := []docker.Mount{{Source: wd, Target: wd, ReadOnly: true}}
	for _, p := range []struct {
		path string
		ro   bool
	}{{c.DataDir, true}, {c.OutputDir, false}} {
		if p.path == "" {
			continue
		}
		abs, err := filepath.Abs(p.path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p.path, err)
		}
		mounts = append(mounts, docker.Mount{Source: abs, Target: abs, ReadOnly: p.ro})
	}

	gpus := c.NProc
	if gpus < 1 {
		gpus = 0
	}
	return &docker.RunOpts{
		Image:   c.Image,
		Command: d.Command(args),
		WorkDir: wd,
		Env:     trainer.WithPythonPath(nil, c.PythonPath),
		Mounts:  mounts,
		GPUs:    gpus,
		Timeout: c.Timeout,
		UserID:  fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		ShmSize: 2 << 30,
	}, nil
}

func (c *Container) Launch(ctx context.Context, args []string) (*Result, error) {
	opts, err := c.RunOpts(args)
	if err != nil {
		return nil, err
	}
	run := c.run
	if run == nil {
		run = docker.RunContainer
	}
	out, err := run(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("running container: %w", err)
	}
	res := &Result{
		Launcher: c.Name(),
		Command:  opts.Command,
		ExitCode: out.ExitCode,
		TimedOut: out.TimedOut,
		Duration: out.Duration,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
	}
	if res.TimedOut {
		return res, fmt.Errorf("%s timed out after %s: %w", c.Name(), c.Timeout, context.DeadlineExceeded)
	}
	if err := checkOutput(res); err != nil {
		return res, err
	}
	if out.LogErr != nil {
		return res, fmt.Errorf("container output incomplete: %w", out.LogErr)
	}
	return res, nil
}
