package runner

import (
	"context"
	"sync"
)

type Job func(ctx context.Context) error

// RunPool runs jobs with at most maxWorkers in flight. errs[i] is the
// error of jobs[i]; jobs not started because ctx ended get ctx.Err().
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = job(ctx)
		}()
	}
	wg.Wait()
	return errs
}
