package orchestrator

import (
	"context"
	"time"
)

// Task is one unit of a fan-out. Timeout bounds Run on its own; zero means only the
// fan-out deadline applies.
type Task[T any] struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (T, error)
}

// Result is the outcome of one task.
type Result[T any] struct {
	Name     string
	Value    T
	Err      error
	Started  time.Time
	Finished time.Time
}

// Duration returns how long the task ran.
func (r Result[T]) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// FanOut runs every task concurrently and collects results until all finished or the
// deadline passed. Tasks still running at the deadline are cancelled and returned in
// pending; whatever they send later is dropped. The results channel holds one slot per
// task, so no sender blocks after the collector leaves.
func FanOut[T any](ctx context.Context, deadline time.Time, tasks []Task[T]) (map[string]Result[T], []string) {
	fanCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	results := make(chan Result[T], len(tasks))
	for _, task := range tasks {
		go func(t Task[T]) {
			taskCtx := fanCtx
			if t.Timeout > 0 {
				var taskCancel context.CancelFunc
				taskCtx, taskCancel = context.WithTimeout(fanCtx, t.Timeout)
				defer taskCancel()
			}

			res := Result[T]{Name: t.Name, Started: time.Now()}
			res.Value, res.Err = t.Run(taskCtx)
			if res.Err == nil && taskCtx.Err() != nil {
				res.Err = taskCtx.Err()
			}
			res.Finished = time.Now()
			results <- res
		}(task)
	}

	collected := make(map[string]Result[T], len(tasks))
collect:
	for len(collected) < len(tasks) {
		select {
		case res := <-results:
			collected[res.Name] = res
		case <-fanCtx.Done():
			break collect
		}
	}

	// Results that finished before the deadline may still be buffered.
drain:
	for len(collected) < len(tasks) {
		select {
		case res := <-results:
			if res.Finished.After(deadline) {
				continue
			}
			collected[res.Name] = res
		default:
			break drain
		}
	}

	var pending []string
	for _, task := range tasks {
		if _, ok := collected[task.Name]; !ok {
			pending = append(pending, task.Name)
		}
	}
	return collected, pending
}
