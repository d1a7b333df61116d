package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/draftd/internal/orchestrator"
	"github.com/quillworks/draftd/internal/persona"
	"github.com/quillworks/draftd/internal/retry"
	"github.com/quillworks/draftd/internal/review"
	"github.com/quillworks/draftd/internal/workflow"
)

type draftWorker struct {
	role workflow.Role
}

func (w draftWorker) Role() workflow.Role { return w.role }

func (w draftWorker) Invoke(_ context.Context, _ persona.Input) (*workflow.Artifact, error) {
	return &workflow.Artifact{Summary: "draft", Producers: []workflow.Role{w.role}}, nil
}

func TestSuperviseRun_PromptsAfterDroppedGateEvent(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "g", RequiredWorkers: []workflow.Role{workflow.RoleSystemAnalyst}, Gated: true},
	)
	reg := orchestrator.NewRegistry(orchestrator.Options{
		Graph:       graph,
		Provider:    persona.NewStaticProvider(draftWorker{role: workflow.RoleSystemAnalyst}),
		Retry:       retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		EventBuffer: 1,
	})

	run, err := reg.Start(&workflow.BusinessRequirement{ProjectName: "demo"})
	require.NoError(t, err)

	// Let the run reach the gate with nobody consuming events. The tiny
	// buffer holds only run_started, so the review request is dropped.
	require.Eventually(t, func() bool {
		return run.Status() == workflow.StatusAwaitingReview
	}, 5*time.Second, time.Millisecond)

	var out bytes.Buffer
	console := review.NewConsole(strings.NewReader("approve\n"), &out)
	superviseRun(run, console, &out, &out, 10*time.Millisecond)

	snap := run.Snapshot()
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
	require.NotNil(t, snap.Artifacts["g"])
	assert.Contains(t, out.String(), "Review: g", "status poll must surface the gate prompt")
}

func TestSuperviseRun_CompletesWithoutGates(t *testing.T) {
	graph := workflow.MustGraph(
		workflow.PhaseSpec{ID: "a", RequiredWorkers: []workflow.Role{workflow.RoleSystemAnalyst}},
	)
	reg := orchestrator.NewRegistry(orchestrator.Options{
		Graph:    graph,
		Provider: persona.NewStaticProvider(draftWorker{role: workflow.RoleSystemAnalyst}),
		Retry:    retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	run, err := reg.Start(&workflow.BusinessRequirement{ProjectName: "demo"})
	require.NoError(t, err)

	var out bytes.Buffer
	console := review.NewConsole(strings.NewReader(""), &out)
	superviseRun(run, console, &out, &out, 10*time.Millisecond)

	assert.Equal(t, workflow.StatusCompleted, run.Status())
	assert.Contains(t, out.String(), "a done")
}
