// Package workflow defines the shared state threaded through a document
// pipeline run: the immutable business request, per-phase artifacts, the
// append-only version ledger, and the static phase graph.
package workflow

import (
	"fmt"
)

// PhaseID identifies one stage of the pipeline.
type PhaseID string

const (
	// PhaseSystemAnalysis establishes the analysis baseline for later phases.
	PhaseSystemAnalysis PhaseID = "system_analysis"

	// PhaseFunctionalRequirements defines user stories and acceptance criteria.
	PhaseFunctionalRequirements PhaseID = "functional_requirements"

	// PhaseNonFunctionalRequirements defines quality attributes and targets.
	PhaseNonFunctionalRequirements PhaseID = "non_functional_requirements"

	// PhaseDataArchitecture defines logical data models and table definitions.
	PhaseDataArchitecture PhaseID = "data_architecture"

	// PhaseSolutionArchitecture proposes system structure and technology stack.
	PhaseSolutionArchitecture PhaseID = "solution_architecture"
)

// Role identifies a persona worker kind. The set is closed: the worker
// provider resolves roles to implementations, never the other way around.
type Role string

const (
	RoleSystemAnalyst          Role = "system_analyst"
	RoleUXDesigner             Role = "ux_designer"
	RoleQAEngineer             Role = "qa_engineer"
	RoleInfrastructureEngineer Role = "infrastructure_engineer"
	RoleSecuritySpecialist     Role = "security_specialist"
	RoleDataArchitect          Role = "data_architect"
	RoleSolutionArchitect      Role = "solution_architect"
)

// Status represents the orchestrator state machine position for a run.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusRunning        Status = "running"
	StatusAwaitingReview Status = "awaiting_review"
	StatusCompleted      Status = "completed"
	StatusAborted        Status = "aborted"
)

// Terminal reports whether no transitions leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// ReviewDecision is a reviewer's verdict on a pending artifact.
type ReviewDecision string

const (
	// ReviewApprove finalizes the pending artifact and advances the run.
	ReviewApprove ReviewDecision = "approve"

	// ReviewRevise discards the pending artifact and re-executes the phase
	// with the reviewer's feedback as instructions.
	ReviewRevise ReviewDecision = "revise"

	// ReviewInspect returns the pending artifact in full without changing
	// any state; the run stays suspended.
	ReviewInspect ReviewDecision = "inspect"
)

// ParseReviewDecision validates a decision string from an external caller.
func ParseReviewDecision(s string) (ReviewDecision, error) {
	switch ReviewDecision(s) {
	case ReviewApprove, ReviewRevise, ReviewInspect:
		return ReviewDecision(s), nil
	}
	return "", fmt.Errorf("%w: unknown decision %q", ErrInvalidDecision, s)
}

// PhaseSpec declares one phase of the static graph. Specs are owned by the
// orchestrator's graph and read-only at runtime.
type PhaseSpec struct {
	ID              PhaseID   `json:"id"`
	Title           string    `json:"title"`
	RequiredWorkers []Role    `json:"required_workers"`
	Parallel        bool      `json:"parallel"`
	Gated           bool      `json:"gated"`
	DependsOn       []PhaseID `json:"depends_on,omitempty"`
}
