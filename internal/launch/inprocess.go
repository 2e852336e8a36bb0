package launch

import (
	"context"
	"fmt"
	"time"
)

// EntryPoint is a trainer main function that takes its arguments
// explicitly.
type EntryPoint func(ctx context.Context, args []string) error

// InProcess calls Entry once per launch.
type InProcess struct {
	Entry EntryPoint
}

func (p *InProcess) Name() string { return "inprocess" }

func (p *InProcess) Launch(ctx context.Context, args []string) (*Result, error) {
	if p.Entry == nil {
		return nil, fmt.Errorf("inprocess launcher has no entry point")
	}
	start := time.Now()
	if err := p.Entry(ctx, args); err != nil {
		return nil, fmt.Errorf("trainer entry point: %w", err)
	}
	return &Result{
		Launcher: p.Name(),
		Command:  args,
		Duration: time.Since(start),
	}, nil
}
