package trainer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Script runs the trainer script as a single process attached to the
// harness's stdio.
type Script struct {
	Python     string
	Path       string
	PythonPath []string
}

// Main executes the script with args and waits for it to exit.
func (s *Script) Main(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, s.Python, append([]string{s.Path}, args...)...)
	cmd.Env = WithPythonPath(os.Environ(), s.PythonPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", s.Path, err)
	}
	return nil
}
