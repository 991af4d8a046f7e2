// Package limiter runs queued tasks with a bounded number in flight.
package limiter

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is a deferred unit of work. Tasks handle their own failures.
type Task func(ctx context.Context)

// Run admits tasks in queue order, keeping at most limit of them in flight,
// and returns once every admitted task has finished. Completion order is not
// defined. When ctx is cancelled no further tasks are admitted and ctx.Err()
// is returned after the in-flight tasks finish.
func Run(ctx context.Context, limit int, tasks []Task) error {
	if limit < 1 {
		limit = 1
	}

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup

	var admitErr error
	for _, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			admitErr = err
			break
		}

		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			defer sem.Release(1)
			task(ctx)
		}(task)
	}

	wg.Wait()
	return admitErr
}
