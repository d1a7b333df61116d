package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quillworks/draftd/internal/logging"
	"github.com/quillworks/draftd/internal/persona"
	"github.com/quillworks/draftd/internal/retry"
	"github.com/quillworks/draftd/internal/workflow"
)

// Executor runs the workers of a single phase and merges their outputs.
type Executor struct {
	provider persona.Provider
	retry    *retry.Controller
	logger   *logging.Logger
	metrics  *metrics
}

// NewExecutor creates an executor over a worker provider.
func NewExecutor(provider persona.Provider, controller *retry.Controller, logger *logging.Logger, m *metrics) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		provider: provider,
		retry:    controller,
		logger:   logger,
		metrics:  m,
	}
}

// workerOutcome is one worker's terminal result within a phase.
type workerOutcome struct {
	role     workflow.Role
	artifact *workflow.Artifact
	attempts int
	err      error
}

// ExecutePhase invokes every required worker of the phase and merges their
// artifacts. Parallel phases run all workers to completion even when some
// fail; sequential phases stop at the first failure. Any worker failure
// discards all sibling outputs and returns a *workflow.PhaseFailure.
func (e *Executor) ExecutePhase(ctx context.Context, spec workflow.PhaseSpec, in persona.Input) (*workflow.Artifact, error) {
	workers := make([]persona.Worker, 0, len(spec.RequiredWorkers))
	for _, role := range spec.RequiredWorkers {
		w, err := e.provider.Worker(role)
		if err != nil {
			return nil, &workflow.PhaseFailure{
				Phase:    spec.ID,
				Failures: []workflow.WorkerFailure{{Role: role, Err: workflow.Fatal(err)}},
			}
		}
		workers = append(workers, w)
	}

	var outcomes []workerOutcome
	if spec.Parallel && len(workers) > 1 {
		outcomes = e.runParallel(ctx, workers, in)
	} else {
		outcomes = e.runSequential(ctx, workers, in)
	}

	var failures []workflow.WorkerFailure
	parts := make([]*workflow.Artifact, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, workflow.WorkerFailure{
				Role:     o.role,
				Attempts: o.attempts,
				Err:      o.err,
			})
			continue
		}
		parts = append(parts, o.artifact)
	}

	if len(failures) > 0 {
		e.logger.Warn(ctx, "phase execution failed",
			zap.String("phase", string(spec.ID)),
			zap.Int("failed_workers", len(failures)),
			zap.Int("discarded_artifacts", len(parts)),
		)
		return nil, &workflow.PhaseFailure{Phase: spec.ID, Failures: failures}
	}

	return workflow.MergeArtifacts(spec.ID, parts...), nil
}

// runParallel fans workers out on goroutines with isolated result slots and
// merges only after every worker has finished.
func (e *Executor) runParallel(ctx context.Context, workers []persona.Worker, in persona.Input) []workerOutcome {
	outcomes := make([]workerOutcome, len(workers))

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w persona.Worker) {
			defer wg.Done()
			outcomes[i] = e.invoke(ctx, w, in)
		}(i, w)
	}
	wg.Wait()

	return outcomes
}

// runSequential invokes workers in declaration order, stopping at the
// first failure.
func (e *Executor) runSequential(ctx context.Context, workers []persona.Worker, in persona.Input) []workerOutcome {
	var outcomes []workerOutcome
	for _, w := range workers {
		o := e.invoke(ctx, w, in)
		outcomes = append(outcomes, o)
		if o.err != nil {
			break
		}
	}
	return outcomes
}

// invoke runs one worker under the retry policy.
func (e *Executor) invoke(ctx context.Context, w persona.Worker, in persona.Input) workerOutcome {
	role := w.Role()
	var art *workflow.Artifact

	res, err := e.retry.Do(ctx, string(role), func(ctx context.Context) error {
		a, err := w.Invoke(ctx, in)
		if err != nil {
			return err
		}
		if a == nil {
			return workflow.Fatal(fmt.Errorf("worker %s returned no artifact", role))
		}
		art = a
		return nil
	})
	if e.metrics != nil {
		e.metrics.workerRetried(ctx, string(role), res.Attempts-1)
	}
	if err != nil {
		return workerOutcome{role: role, attempts: res.Attempts, err: err}
	}
	return workerOutcome{role: role, artifact: art, attempts: res.Attempts}
}
