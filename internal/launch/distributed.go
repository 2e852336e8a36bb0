package launch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/signalnine/finetune-harness/internal/trainer"
)

// waitDelay bounds how long Launch waits for the output pipes to close after
// the process group was killed.
const waitDelay = 5 * time.Second

// Distributed runs the trainer script under torch.distributed.launch with
// one worker per device.
type Distributed struct {
	Python     string
	Script     string
	NProc      int
	PythonPath []string
	Timeout    time.Duration
	// Echo receives a copy of the child's stdout and stderr while it runs.
	Echo io.Writer
}

func (d *Distributed) Name() string { return "distributed" }

// Command returns the full command line for args.
func (d *Distributed) Command(args []string) []string {
	cmd := []string{
		d.Python,
		"-m", "torch.distributed.launch",
		fmt.Sprintf("--nproc_per_node=%d", d.NProc),
		d.Script,
	}
	return append(cmd, args...)
}

func (d *Distributed) Launch(ctx context.Context, args []string) (*Result, error) {
	argv := d.Command(args)

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = trainer.WithPythonPath(os.Environ(), d.PythonPath)
	// workers forked by torch.distributed.launch share the launcher's
	// process group and hold the output pipes open; kill all of them
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	if d.Echo != nil {
		cmd.Stdout = io.MultiWriter(&stdout, d.Echo)
		cmd.Stderr = io.MultiWriter(&stderr, d.Echo)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Launcher: d.Name(),
		Command:  argv,
		Duration: time.Since(start),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}
	switch ctx.Err() {
	case context.DeadlineExceeded:
		res.TimedOut = true
		res.ExitCode = -1
		return res, fmt.Errorf("%s timed out after %s: %w", d.Name(), d.Timeout, context.DeadlineExceeded)
	case context.Canceled:
		res.ExitCode = -1
		return res, fmt.Errorf("%s interrupted: %w", d.Name(), context.Canceled)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("running %s: %w", argv[0], err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, checkOutput(res)
}
