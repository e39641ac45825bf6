// Package runner runs a fixed set of independent pipeline tasks
// concurrently behind a join-all barrier.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pys60/pysbuild/internal/logging"
)

// Task is one named unit of work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Report is the outcome of one task.
type Report struct {
	Name     string
	Started  time.Time
	Finished time.Time
	Err      error
}

// Duration returns how long the task ran.
func (r Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// TaskError ties a task failure to the task's name.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %s: %v", e.Task, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }

// now is replaced in tests.
var now = time.Now

// RunAll starts every task in its own goroutine and returns only after all
// of them have returned. A failing task does not cancel its siblings. The
// error joins one *TaskError per failed task; reports are in task order.
// A panicking task is reported as a failure.
func RunAll(ctx context.Context, tasks []Task) ([]Report, error) {
	log := logging.FromContext(ctx)
	reports := make([]Report, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep := Report{Name: task.Name, Started: now()}
			log.Info("task started", "task", task.Name)
			rep.Err = runTask(ctx, task)
			rep.Finished = now()
			if rep.Err != nil {
				log.Error("task failed", "task", task.Name, "duration", rep.Duration(), "err", rep.Err)
			} else {
				log.Info("task finished", "task", task.Name, "duration", rep.Duration())
			}
			reports[i] = rep
		}()
	}
	wg.Wait()

	var errs []error
	for _, rep := range reports {
		if rep.Err != nil {
			errs = append(errs, &TaskError{Task: rep.Name, Err: rep.Err})
		}
	}
	return reports, errors.Join(errs...)
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}
