package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() *BusinessRequirement {
	return &BusinessRequirement{
		ProjectName: "inventory-revamp",
		Description: "replace the legacy stock tracking spreadsheets",
	}
}

func TestState_AcceptRecordsSingleApprovedEntry(t *testing.T) {
	st := NewState(testRequest())
	art := &Artifact{Phase: PhaseSystemAnalysis, Summary: "baseline"}

	require.NoError(t, st.Accept(PhaseSystemAnalysis, art))
	assert.True(t, st.Finalized(PhaseSystemAnalysis))

	entries := st.Ledger().PhaseEntries(PhaseSystemAnalysis)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Version)
	assert.Equal(t, DecisionApproved, entries[0].Decision)
	assert.Empty(t, entries[0].ReviewerNote)

	// Double finalization is a programming error, not a silent overwrite.
	assert.Error(t, st.Accept(PhaseSystemAnalysis, art))
}

func TestState_GatedLifecycle(t *testing.T) {
	st := NewState(testRequest())
	phase := PhaseFunctionalRequirements

	v1 := &Artifact{Phase: phase, Summary: "first draft"}
	require.NoError(t, st.StagePending(phase, v1))
	assert.False(t, st.Finalized(phase))
	assert.Same(t, v1, st.Pending(phase))

	require.NoError(t, st.Revise(phase, "stories lack acceptance criteria"))
	assert.Nil(t, st.Pending(phase))
	assert.False(t, st.Finalized(phase))

	v2 := &Artifact{Phase: phase, Summary: "second draft"}
	require.NoError(t, st.StagePending(phase, v2))
	require.NoError(t, st.Approve(phase, "looks complete"))

	assert.True(t, st.Finalized(phase))
	assert.Nil(t, st.Pending(phase))
	assert.Same(t, v2, st.Artifact(phase))

	entries := st.Ledger().PhaseEntries(phase)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Version, "versions are gap-free and 1-based")
	}
	assert.Equal(t, DecisionInitial, entries[0].Decision)
	assert.Equal(t, DecisionRevised, entries[1].Decision)
	assert.Equal(t, "first draft", entries[1].Content.Summary, "revised entry preserves the discarded content")
	assert.Equal(t, "stories lack acceptance criteria", entries[1].ReviewerNote)
	assert.Equal(t, DecisionApproved, entries[2].Decision)
	assert.Equal(t, "looks complete", entries[2].ReviewerNote)
}

func TestState_ApproveWithoutPending(t *testing.T) {
	st := NewState(testRequest())
	assert.Error(t, st.Approve(PhaseFunctionalRequirements, ""))
	assert.Error(t, st.Revise(PhaseFunctionalRequirements, ""))
}

func TestState_PendingAndFinalizedStayDisjoint(t *testing.T) {
	st := NewState(testRequest())
	phase := PhaseSolutionArchitecture

	require.NoError(t, st.StagePending(phase, &Artifact{Phase: phase}))
	require.NoError(t, st.Approve(phase, ""))

	// Once finalized, the phase can never hold a pending artifact again.
	assert.Error(t, st.StagePending(phase, &Artifact{Phase: phase}))
}

func TestState_MarkFailed(t *testing.T) {
	st := NewState(testRequest())
	assert.Equal(t, 1, st.MarkFailed(PhaseSystemAnalysis))
	assert.Equal(t, 2, st.MarkFailed(PhaseDataArchitecture))
	assert.Equal(t, 2, st.ErrorCount())
	assert.True(t, st.FailedPhases()[PhaseSystemAnalysis])
	assert.True(t, st.FailedPhases()[PhaseDataArchitecture])
}

func TestState_SnapshotIsIsolated(t *testing.T) {
	st := NewState(testRequest())
	art := &Artifact{Phase: PhaseSystemAnalysis, Recommendations: []string{"one"}}
	require.NoError(t, st.Accept(PhaseSystemAnalysis, art))
	st.Status = StatusRunning
	st.Current = PhaseFunctionalRequirements

	snap := st.Snapshot("")
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, PhaseFunctionalRequirements, snap.CurrentPhase)
	require.Len(t, snap.Ledger, 1)

	// Mutating the live artifact must not leak into the snapshot.
	art.Recommendations[0] = "mutated"
	assert.Equal(t, "one", snap.Artifacts[PhaseSystemAnalysis].Recommendations[0])
}

func TestLedger_VersionsIndependentPerPhase(t *testing.T) {
	l := NewLedger()
	l.Append(PhaseSystemAnalysis, DecisionApproved, &Artifact{Phase: PhaseSystemAnalysis}, "")
	l.Append(PhaseFunctionalRequirements, DecisionInitial, &Artifact{Phase: PhaseFunctionalRequirements}, "")
	l.Append(PhaseFunctionalRequirements, DecisionRevised, &Artifact{Phase: PhaseFunctionalRequirements}, "redo")

	assert.Equal(t, 3, l.Len())
	sa := l.PhaseEntries(PhaseSystemAnalysis)
	require.Len(t, sa, 1)
	assert.Equal(t, 1, sa[0].Version)

	fr := l.PhaseEntries(PhaseFunctionalRequirements)
	require.Len(t, fr, 2)
	assert.Equal(t, 1, fr[0].Version)
	assert.Equal(t, 2, fr[1].Version)
}

func TestLedger_AppendSnapshotsContent(t *testing.T) {
	l := NewLedger()
	art := &Artifact{Phase: PhaseSystemAnalysis, Summary: "original"}
	entry := l.Append(PhaseSystemAnalysis, DecisionApproved, art, "")

	art.Summary = "changed later"
	assert.Equal(t, "original", entry.Content.Summary)
	assert.Equal(t, "original", l.Entries()[0].Content.Summary)
}
