package cluster

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"hwfingerprint/internal/logging"
)

// TaskOutcome is the message a worker sends back to the collector. Workers
// share nothing with each other or the collector beyond this message.
type TaskOutcome struct {
	WorkerID   int
	DurationMs float64
	Err        error
}

// Runner is the parallel execution substrate: spawn identical tasks,
// collect their outcome messages, release everything on Close. Run returns
// the outcomes that arrived before each task's deadline; missing entries
// are abandoned tasks.
type Runner interface {
	Run(ctx context.Context, tasks int, timeout time.Duration, workload Workload) []TaskOutcome
	Close()
}

// GoroutineRunner executes tasks as plain goroutines communicating over a
// buffered channel. The buffer is sized to the task count so an abandoned
// worker can always deliver its late message and exit; nothing blocks
// forever and nothing is shared.
type GoroutineRunner struct {
	inflight atomic.Int64
}

func NewGoroutineRunner() *GoroutineRunner {
	return &GoroutineRunner{}
}

func (r *GoroutineRunner) Run(ctx context.Context, tasks int, timeout time.Duration, workload Workload) []TaskOutcome {
	if tasks <= 0 || workload == nil {
		return nil
	}

	results := make(chan TaskOutcome, tasks)
	started := time.Now()

	for i := 0; i < tasks; i++ {
		r.inflight.Add(1)
		go func(id int) {
			defer r.inflight.Add(-1)
			results <- runTask(id, workload)
		}(i)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	outcomes := make([]TaskOutcome, 0, tasks)
	for len(outcomes) < tasks {
		select {
		case outcome := <-results:
			outcomes = append(outcomes, outcome)
		case <-deadline.C:
			logging.GetLogger().WithField("abandoned", tasks-len(outcomes)).
				Warn("Worker tasks missed their deadline and were abandoned")
			return outcomes
		case <-ctx.Done():
			return outcomes
		}
	}

	logging.GetProbeLogger().WithField("elapsed_ms", time.Since(started).Seconds()*1000).
		Debug("All worker tasks collected")
	return outcomes
}

// Close releases the substrate. Goroutine contexts free themselves once
// their workload returns; any still running at this point have already
// been abandoned by their deadline and only get logged.
func (r *GoroutineRunner) Close() {
	if n := r.inflight.Load(); n > 0 {
		logging.GetLogger().WithField("running", n).
			Debug("Abandoned worker tasks still draining at teardown")
	}
}

// runTask times one workload execution and converts panics and non-finite
// results into task-level errors, which exclude the task from clustering
// without failing the whole operation.
func runTask(id int, workload Workload) (outcome TaskOutcome) {
	outcome.WorkerID = id

	defer func() {
		if rec := recover(); rec != nil {
			outcome.Err = fmt.Errorf("workload panic: %v", rec)
		}
	}()

	start := time.Now()
	value := workload()
	elapsed := time.Since(start).Seconds() * 1000

	if math.IsNaN(value) || math.IsInf(value, 0) {
		outcome.Err = fmt.Errorf("workload returned a non-finite value")
		return outcome
	}

	outcome.DurationMs = elapsed
	return outcome
}
