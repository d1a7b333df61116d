package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/draftd/internal/checkpoint"
	"github.com/quillworks/draftd/internal/persona"
	"github.com/quillworks/draftd/internal/retry"
	"github.com/quillworks/draftd/internal/workflow"
)

const (
	roleAlpha workflow.Role = "alpha"
	roleBeta  workflow.Role = "beta"
)

// stubWorker scripts a worker's behavior for tests.
type stubWorker struct {
	role workflow.Role
	fn   func(ctx context.Context, in persona.Input) (*workflow.Artifact, error)
}

func (s stubWorker) Role() workflow.Role { return s.role }

func (s stubWorker) Invoke(ctx context.Context, in persona.Input) (*workflow.Artifact, error) {
	return s.fn(ctx, in)
}

func okWorker(role workflow.Role, phase workflow.PhaseID) stubWorker {
	return stubWorker{role: role, fn: func(ctx context.Context, in persona.Input) (*workflow.Artifact, error) {
		return &workflow.Artifact{
			Phase:     phase,
			Summary:   string(role),
			Producers: []workflow.Role{role},
		}, nil
	}}
}

func failingWorker(role workflow.Role, err error) stubWorker {
	return stubWorker{role: role, fn: func(ctx context.Context, in persona.Input) (*workflow.Artifact, error) {
		return nil, err
	}}
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		JitterFraction: 0.01,
	}
}

func testOptions(graph *workflow.Graph, workers ...persona.Worker) Options {
	return Options{
		Graph:    graph,
		Provider: persona.NewStaticProvider(workers...),
		Retry:    fastRetry(),
	}
}

func startRun(t *testing.T, opts Options) (*Registry, *Run) {
	t.Helper()
	reg := NewRegistry(opts)
	r, err := reg.Start(&workflow.BusinessRequirement{ProjectName: "test"})
	require.NoError(t, err)
	return reg, r
}

func waitDone(t *testing.T, r *Run) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func waitAwaiting(t *testing.T, r *Run, phase workflow.PhaseID) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.awaiting(phase)
	}, 5*time.Second, time.Millisecond)
}

func TestRun_CompletesUngatedPipeline(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "a", RequiredWorkers: []workflow.Role{roleAlpha}},
		workflow.PhaseSpec{ID: "b", RequiredWorkers: []workflow.Role{roleBeta}, DependsOn: []workflow.PhaseID{"a"}},
	)

	var sawUpstream atomic.Bool
	beta := stubWorker{role: roleBeta, fn: func(ctx context.Context, in persona.Input) (*workflow.Artifact, error) {
		sawUpstream.Store(in.Artifacts["a"] != nil)
		return &workflow.Artifact{Phase: "b", Producers: []workflow.Role{roleBeta}}, nil
	}}

	_, r := startRun(t, testOptions(graph, okWorker(roleAlpha, "a"), beta))
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
	assert.True(t, sawUpstream.Load(), "downstream phase sees finalized upstream artifact")
	require.Len(t, snap.Ledger, 2, "one approved entry per ungated phase")
	for _, e := range snap.Ledger {
		assert.Equal(t, workflow.DecisionApproved, e.Decision)
		assert.Equal(t, 1, e.Version)
	}
	assert.Empty(t, snap.Pending)
}

func TestRun_GatedApproveLifecycle(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "g", RequiredWorkers: []workflow.Role{roleAlpha}, Gated: true},
	)
	_, r := startRun(t, testOptions(graph, okWorker(roleAlpha, "g")))
	waitAwaiting(t, r, "g")

	// Inspect returns the pending artifact without changing anything.
	snap, err := r.SubmitDecision(context.Background(), "g", workflow.ReviewInspect, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingReview, snap.Status)
	require.NotNil(t, snap.Pending["g"])
	assert.Empty(t, snap.Artifacts)

	snap, err = r.SubmitDecision(context.Background(), "g", workflow.ReviewApprove, "ship it")
	require.NoError(t, err)
	require.NotNil(t, snap.Artifacts["g"])
	assert.Nil(t, snap.Pending["g"])

	waitDone(t, r)
	final := r.Snapshot()
	assert.Equal(t, workflow.StatusCompleted, final.Status)

	require.Len(t, final.Ledger, 2)
	assert.Equal(t, workflow.DecisionInitial, final.Ledger[0].Decision)
	assert.Equal(t, 1, final.Ledger[0].Version)
	assert.Equal(t, workflow.DecisionApproved, final.Ledger[1].Decision)
	assert.Equal(t, 2, final.Ledger[1].Version)
	assert.Equal(t, "ship it", final.Ledger[1].ReviewerNote)
}

func TestRun_GatedReviseReexecutesWithInstructions(t *testing.T) {
	var calls atomic.Int32
	var lastInstructions atomic.Value
	worker := stubWorker{role: roleAlpha, fn: func(ctx context.Context, in persona.Input) (*workflow.Artifact, error) {
		n := calls.Add(1)
		lastInstructions.Store(in.Instructions)
		return &workflow.Artifact{Phase: "g", Summary: fmt.Sprintf("draft %d", n)}, nil
	}}
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "g", RequiredWorkers: []workflow.Role{roleAlpha}, Gated: true},
	)
	_, r := startRun(t, testOptions(graph, worker))
	waitAwaiting(t, r, "g")

	_, err := r.SubmitDecision(context.Background(), "g", workflow.ReviewRevise, "needs more detail")
	require.NoError(t, err)
	waitAwaiting(t, r, "g")

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "needs more detail", lastInstructions.Load())

	_, err = r.SubmitDecision(context.Background(), "g", workflow.ReviewApprove, "better")
	require.NoError(t, err)
	waitDone(t, r)

	final := r.Snapshot()
	require.Len(t, final.Ledger, 3)
	assert.Equal(t, workflow.DecisionInitial, final.Ledger[0].Decision)
	assert.Equal(t, workflow.DecisionRevised, final.Ledger[1].Decision)
	assert.Equal(t, "draft 1", final.Ledger[1].Content.Summary, "revised entry preserves the discarded draft")
	assert.Equal(t, "needs more detail", final.Ledger[1].ReviewerNote)
	assert.Equal(t, workflow.DecisionApproved, final.Ledger[2].Decision)
	assert.Equal(t, "draft 2", final.Ledger[2].Content.Summary)
	for i, e := range final.Ledger {
		assert.Equal(t, i+1, e.Version)
	}
}

func TestRun_DecisionForWrongPhaseRejected(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "g", RequiredWorkers: []workflow.Role{roleAlpha}, Gated: true},
	)
	_, r := startRun(t, testOptions(graph, okWorker(roleAlpha, "g")))
	waitAwaiting(t, r, "g")

	_, err := r.SubmitDecision(context.Background(), "other", workflow.ReviewApprove, "")
	assert.ErrorIs(t, err, workflow.ErrInvalidDecision)

	// The run is still reviewable afterwards.
	_, err = r.SubmitDecision(context.Background(), "g", workflow.ReviewApprove, "")
	require.NoError(t, err)
	waitDone(t, r)
}

func TestRun_DecisionAfterFinishRejected(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "a", RequiredWorkers: []workflow.Role{roleAlpha}},
	)
	_, r := startRun(t, testOptions(graph, okWorker(roleAlpha, "a")))
	waitDone(t, r)

	_, err := r.SubmitDecision(context.Background(), "a", workflow.ReviewApprove, "")
	assert.ErrorIs(t, err, workflow.ErrInvalidDecision)
}

func TestRun_TransientFailuresRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := stubWorker{role: roleAlpha, fn: func(ctx context.Context, in persona.Input) (*workflow.Artifact, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return &workflow.Artifact{Phase: "a"}, nil
	}}
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "a", RequiredWorkers: []workflow.Role{roleAlpha}},
	)
	_, r := startRun(t, testOptions(graph, flaky))
	waitDone(t, r)

	assert.Equal(t, workflow.StatusCompleted, r.Status())
	assert.Equal(t, int32(3), calls.Load())
}

func TestRun_FatalErrorSkipsRetriesAndAborts(t *testing.T) {
	var calls atomic.Int32
	fatal := stubWorker{role: roleAlpha, fn: func(ctx context.Context, in persona.Input) (*workflow.Artifact, error) {
		calls.Add(1)
		return nil, workflow.Fatal(errors.New("bad input"))
	}}
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "a", RequiredWorkers: []workflow.Role{roleAlpha}},
	)
	opts := testOptions(graph, fatal)
	opts.ErrorThreshold = 0
	_, r := startRun(t, opts)
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, workflow.StatusAborted, snap.Status)
	assert.Contains(t, snap.AbortReason, "error threshold exceeded")
	assert.Equal(t, int32(1), calls.Load(), "fatal error spends a single attempt")
}

func TestRun_FailureBelowThresholdContinues(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "a", RequiredWorkers: []workflow.Role{roleAlpha}},
		workflow.PhaseSpec{ID: "b", RequiredWorkers: []workflow.Role{roleBeta}},
	)
	opts := testOptions(graph,
		failingWorker(roleAlpha, errors.New("boom")),
		okWorker(roleBeta, "b"),
	)
	opts.ErrorThreshold = 1
	_, r := startRun(t, opts)
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, workflow.StatusAborted, snap.Status)
	assert.Contains(t, snap.AbortReason, "no runnable phase remains")
	assert.Equal(t, 1, snap.ErrorCount)
	require.NotNil(t, snap.Artifacts["b"], "independent phase still ran after the failure")
	assert.Nil(t, snap.Artifacts["a"])
}

func TestRun_SecondFailureExceedsThreshold(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "a", RequiredWorkers: []workflow.Role{roleAlpha}},
		workflow.PhaseSpec{ID: "b", RequiredWorkers: []workflow.Role{roleBeta}},
	)
	opts := testOptions(graph,
		failingWorker(roleAlpha, errors.New("boom a")),
		failingWorker(roleBeta, errors.New("boom b")),
	)
	opts.ErrorThreshold = 1
	_, r := startRun(t, opts)
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, workflow.StatusAborted, snap.Status)
	assert.Contains(t, snap.AbortReason, "error threshold exceeded")
	assert.Equal(t, 2, snap.ErrorCount)
}

func TestRun_ParallelWorkersMergeInOrder(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "p", RequiredWorkers: []workflow.Role{roleAlpha, roleBeta}, Parallel: true},
	)
	_, r := startRun(t, testOptions(graph, okWorker(roleAlpha, "p"), okWorker(roleBeta, "p")))
	waitDone(t, r)

	snap := r.Snapshot()
	require.Equal(t, workflow.StatusCompleted, snap.Status)
	merged := snap.Artifacts["p"]
	require.NotNil(t, merged)
	assert.Equal(t, []workflow.Role{roleAlpha, roleBeta}, merged.Producers, "merge preserves declaration order")
}

func TestRun_PartialParallelSuccessIsDiscarded(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "p", RequiredWorkers: []workflow.Role{roleAlpha, roleBeta}, Parallel: true},
	)
	opts := testOptions(graph,
		okWorker(roleAlpha, "p"),
		failingWorker(roleBeta, errors.New("boom")),
	)
	opts.ErrorThreshold = 0
	_, r := startRun(t, opts)
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, workflow.StatusAborted, snap.Status)
	assert.Empty(t, snap.Artifacts, "sibling success never persists when the phase fails")
	assert.Empty(t, snap.Pending)
	assert.Empty(t, snap.Ledger)
}

func TestRun_CancelDuringReview(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "g", RequiredWorkers: []workflow.Role{roleAlpha}, Gated: true},
	)
	dir := t.TempDir()
	cps, err := checkpoint.NewService(dir, nil)
	require.NoError(t, err)

	opts := testOptions(graph, okWorker(roleAlpha, "g"))
	opts.Checkpoints = cps
	_, r := startRun(t, opts)
	waitAwaiting(t, r, "g")

	r.Cancel()
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, workflow.StatusAborted, snap.Status)
	assert.Equal(t, "run canceled", snap.AbortReason)
	assert.Empty(t, snap.Pending, "cancellation discards un-reviewed work")

	cp, err := cps.Load(context.Background(), r.ID)
	require.NoError(t, err, "aborted run leaves an emergency snapshot")
	assert.Equal(t, "run canceled", cp.Reason)
	require.NotNil(t, cp.Snapshot.Pending["g"], "snapshot preserves the pending artifact")
}

func TestRun_AutoApproveSkipsGates(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "g", RequiredWorkers: []workflow.Role{roleAlpha}, Gated: true},
	)
	opts := testOptions(graph, okWorker(roleAlpha, "g"))
	opts.AutoApprove = true
	_, r := startRun(t, opts)
	waitDone(t, r)

	snap := r.Snapshot()
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
	require.Len(t, snap.Ledger, 1, "auto-approved gate folds to a single approved entry")
	assert.Equal(t, workflow.DecisionApproved, snap.Ledger[0].Decision)
	assert.Equal(t, 1, snap.Ledger[0].Version)
}

func TestRun_EventsStream(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "a", RequiredWorkers: []workflow.Role{roleAlpha}},
	)
	_, r := startRun(t, testOptions(graph, okWorker(roleAlpha, "a")))

	var types []EventType
	for ev := range r.Events() {
		assert.Equal(t, r.ID, ev.RunID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventRunStarted, EventPhaseStarted, EventPhaseCompleted, EventRunCompleted}, types)
}
