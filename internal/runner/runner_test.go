package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRunAll_WaitsForSlowTaskEvenWhenSiblingFails(t *testing.T) {
	var mu sync.Mutex
	var slowDone time.Time

	tasks := []Task{
		{Name: "generate_docs", Run: func(ctx context.Context) error {
			return errors.New("docs failed")
		}},
		{Name: "test_device_remote", Run: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			mu.Lock()
			slowDone = time.Now()
			mu.Unlock()
			return nil
		}},
	}

	reports, err := RunAll(context.Background(), tasks)
	dependentStart := time.Now()

	if err == nil {
		t.Fatal("expected error")
	}
	mu.Lock()
	defer mu.Unlock()
	if slowDone.IsZero() {
		t.Fatal("RunAll returned before the slow task finished")
	}
	if !dependentStart.After(slowDone) {
		t.Errorf("dependent phase started at %v, slow task finished at %v", dependentStart, slowDone)
	}
	if reports[1].Err != nil || reports[1].Finished.Before(reports[1].Started) {
		t.Errorf("slow task report = %+v", reports[1])
	}
}

func TestRunAll_JoinsEveryError(t *testing.T) {
	errDocs := errors.New("docs failed")
	errCov := errors.New("coverage failed")
	tasks := []Task{
		{Name: "generate_docs", Run: func(context.Context) error { return errDocs }},
		{Name: "coverage", Run: func(context.Context) error { return errCov }},
		{Name: "ensymble", Run: func(context.Context) error { return nil }},
	}

	reports, err := RunAll(context.Background(), tasks)
	if !errors.Is(err, errDocs) || !errors.Is(err, errCov) {
		t.Fatalf("err = %v, want both failures", err)
	}
	for _, name := range []string{"generate_docs", "coverage"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
	var te *TaskError
	if !errors.As(err, &te) {
		t.Error("error is not a *TaskError")
	}
	if len(reports) != 3 || reports[2].Name != "ensymble" || reports[2].Err != nil {
		t.Errorf("reports = %+v", reports)
	}
}

func TestRunAll_RunsConcurrently(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	task := func(context.Context) error {
		started.Done()
		<-release
		return nil
	}
	done := make(chan struct{})
	go func() {
		RunAll(context.Background(), []Task{{Name: "a", Run: task}, {Name: "b", Run: task}})
		close(done)
	}()

	started.Wait()
	select {
	case <-done:
		t.Fatal("RunAll returned while tasks were blocked")
	default:
	}
	close(release)
	<-done
}

func TestRunAll_PanicBecomesError(t *testing.T) {
	_, err := RunAll(context.Background(), []Task{{Name: "boom", Run: func(context.Context) error {
		panic("broken tool")
	}}})
	if err == nil || !strings.Contains(err.Error(), "broken tool") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunAll_Empty(t *testing.T) {
	reports, err := RunAll(context.Background(), nil)
	if err != nil || len(reports) != 0 {
		t.Fatalf("RunAll(nil) = %v, %v", reports, err)
	}
}
