// Package launch runs the external trainer. Each Launcher is one way of
// getting a trainer process to consume an argument list; Select chooses
// between them from the detected device count.
package launch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoOutput is returned when a launched trainer wrote nothing to stdout.
var ErrNoOutput = errors.New("produced no output")

// ExitError reports a trainer process that exited with a positive code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("failed with returncode %d", e.Code)
}

// Result is what a launch leaves behind for pass/fail decisions.
type Result struct {
	Launcher string
	Command  []string
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Stdout   []byte
	Stderr   []byte
}

// Launcher runs the trainer with args and waits for it to finish.
type Launcher interface {
	Name() string
	Launch(ctx context.Context, args []string) (*Result, error)
}

func ExitReasonFromCode(code int, timedOut bool) string {
	if timedOut {
		return "timeout"
	}
	switch {
	case code == 0:
		return "completed"
	case code < 0:
		return "signaled"
	default:
		return "failed"
	}
}

// checkOutput applies the subprocess pass rules: empty stdout is a failure
// first, then any positive exit code. Negative codes (signals) are not
// flagged on their own.
func checkOutput(res *Result) error {
	if len(res.Stdout) == 0 {
		return ErrNoOutput
	}
	if res.ExitCode > 0 {
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}
