package workflow

import (
	"fmt"
	"time"
)

// State is the evolving condition of one run. Finalized and pending
// artifacts occupy disjoint phase sets at all times: a pending artifact
// either gets accepted (moving it to finalized) or discarded, never both.
// State is not concurrency-safe; the owning run goroutine serializes access.
type State struct {
	Request   *BusinessRequirement
	Status    Status
	Current   PhaseID
	artifacts map[PhaseID]*Artifact
	pending   map[PhaseID]*Artifact
	failed    map[PhaseID]bool
	ledger    *Ledger
	errCount  int
	started   time.Time
}

// NewState seeds a run state from a validated request.
func NewState(req *BusinessRequirement) *State {
	return &State{
		Request:   req,
		Status:    StatusIdle,
		artifacts: make(map[PhaseID]*Artifact),
		pending:   make(map[PhaseID]*Artifact),
		failed:    make(map[PhaseID]bool),
		ledger:    NewLedger(),
		started:   time.Now().UTC(),
	}
}

// Ledger exposes the run's version history.
func (s *State) Ledger() *Ledger {
	return s.ledger
}

// StartedAt returns the creation time of the state.
func (s *State) StartedAt() time.Time {
	return s.started
}

// Finalized reports whether a phase has an accepted artifact.
func (s *State) Finalized(phase PhaseID) bool {
	_, ok := s.artifacts[phase]
	return ok
}

// FinalizedPhases returns the set of phases with accepted artifacts.
func (s *State) FinalizedPhases() map[PhaseID]bool {
	out := make(map[PhaseID]bool, len(s.artifacts))
	for id := range s.artifacts {
		out[id] = true
	}
	return out
}

// FailedPhases returns the set of phases that exhausted their retries.
func (s *State) FailedPhases() map[PhaseID]bool {
	out := make(map[PhaseID]bool, len(s.failed))
	for id := range s.failed {
		out[id] = true
	}
	return out
}

// Artifact returns the finalized artifact of a phase, or nil.
func (s *State) Artifact(phase PhaseID) *Artifact {
	return s.artifacts[phase]
}

// Artifacts returns the finalized artifacts keyed by phase. The map is a
// copy; the artifacts themselves are shared and must be treated read-only.
func (s *State) Artifacts() map[PhaseID]*Artifact {
	out := make(map[PhaseID]*Artifact, len(s.artifacts))
	for id, a := range s.artifacts {
		out[id] = a
	}
	return out
}

// Pending returns the pending artifact of a phase, or nil.
func (s *State) Pending(phase PhaseID) *Artifact {
	return s.pending[phase]
}

// Accept finalizes a phase artifact directly, recording a single approved
// ledger entry. Used for phases that pass no review gate.
func (s *State) Accept(phase PhaseID, art *Artifact) error {
	if s.Finalized(phase) {
		return fmt.Errorf("phase %s already finalized", phase)
	}
	s.artifacts[phase] = art
	s.ledger.Append(phase, DecisionApproved, art, "")
	return nil
}

// StagePending parks a gated phase's artifact for review. The first staging
// of a phase records an initial ledger entry; re-staging after a revise
// records nothing here because Revise already wrote the revised entry.
func (s *State) StagePending(phase PhaseID, art *Artifact) error {
	if s.Finalized(phase) {
		return fmt.Errorf("phase %s already finalized", phase)
	}
	first := len(s.ledger.PhaseEntries(phase)) == 0
	s.pending[phase] = art
	if first {
		s.ledger.Append(phase, DecisionInitial, art, "")
	}
	return nil
}

// Approve promotes a pending artifact to finalized and appends the approved
// entry with the reviewer's note.
func (s *State) Approve(phase PhaseID, note string) error {
	art, ok := s.pending[phase]
	if !ok {
		return fmt.Errorf("phase %s has no pending artifact", phase)
	}
	delete(s.pending, phase)
	s.artifacts[phase] = art
	s.ledger.Append(phase, DecisionApproved, art, note)
	return nil
}

// Revise discards the pending artifact, appending a revised entry that
// preserves the discarded content alongside the reviewer's note.
func (s *State) Revise(phase PhaseID, note string) error {
	art, ok := s.pending[phase]
	if !ok {
		return fmt.Errorf("phase %s has no pending artifact", phase)
	}
	delete(s.pending, phase)
	s.ledger.Append(phase, DecisionRevised, art, note)
	return nil
}

// DiscardPending drops all pending artifacts. Called on cancellation:
// finalized artifacts and the ledger survive, un-reviewed work does not.
func (s *State) DiscardPending() {
	s.pending = make(map[PhaseID]*Artifact)
}

// MarkFailed records that a phase spent its retry budget without producing
// an artifact and bumps the global error counter.
func (s *State) MarkFailed(phase PhaseID) int {
	s.failed[phase] = true
	s.errCount++
	return s.errCount
}

// ErrorCount returns the number of phase failures so far.
func (s *State) ErrorCount() int {
	return s.errCount
}

// Snapshot is a read-only copy of run state handed to external observers.
type Snapshot struct {
	Status       Status                `json:"status"`
	CurrentPhase PhaseID               `json:"current_phase,omitempty"`
	AbortReason  string                `json:"abort_reason,omitempty"`
	ErrorCount   int                   `json:"error_count"`
	Request      *BusinessRequirement  `json:"request"`
	Artifacts    map[PhaseID]*Artifact `json:"artifacts,omitempty"`
	Pending      map[PhaseID]*Artifact `json:"pending,omitempty"`
	Ledger       []VersionEntry        `json:"ledger,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
}

// Snapshot deep-copies the observable state. The caller may retain the
// result across run transitions.
func (s *State) Snapshot(abortReason string) Snapshot {
	snap := Snapshot{
		Status:       s.Status,
		CurrentPhase: s.Current,
		AbortReason:  abortReason,
		ErrorCount:   s.errCount,
		Request:      s.Request,
		Ledger:       s.ledger.Entries(),
		StartedAt:    s.started,
	}
	if len(s.artifacts) > 0 {
		snap.Artifacts = make(map[PhaseID]*Artifact, len(s.artifacts))
		for id, a := range s.artifacts {
			snap.Artifacts[id] = a.Clone()
		}
	}
	if len(s.pending) > 0 {
		snap.Pending = make(map[PhaseID]*Artifact, len(s.pending))
		for id, a := range s.pending {
			snap.Pending[id] = a.Clone()
		}
	}
	return snap
}
