// Package persona defines the worker roles that draft a requirement
// document. A worker receives the immutable business request plus the
// finalized artifacts of upstream phases and produces its slice of the
// current phase's artifact.
package persona

import (
	"context"
	"fmt"

	"github.com/quillworks/draftd/internal/workflow"
)

// Input is everything a worker may read. Workers must treat all fields as
// read-only; sibling workers of the same phase receive the same maps.
type Input struct {
	// Request is the run's immutable business requirement.
	Request *workflow.BusinessRequirement

	// Artifacts holds the finalized artifacts of upstream phases, keyed by
	// phase. The current phase never appears here.
	Artifacts map[workflow.PhaseID]*workflow.Artifact

	// Instructions carries the reviewer's note when a gated phase
	// re-executes after a revise decision. Empty on first execution.
	Instructions string
}

// Worker produces one role's contribution to a phase artifact.
type Worker interface {
	// Role identifies the worker.
	Role() workflow.Role

	// Invoke produces the worker's artifact. A returned error is retried
	// unless marked fatal via workflow.Fatal.
	Invoke(ctx context.Context, in Input) (*workflow.Artifact, error)
}

// Provider resolves roles to worker implementations.
type Provider interface {
	// Worker returns the implementation for a role, or an error when the
	// role is unknown.
	Worker(role workflow.Role) (Worker, error)
}

// StaticProvider resolves roles from a fixed map.
type StaticProvider struct {
	workers map[workflow.Role]Worker
}

// NewStaticProvider builds a provider over the given workers. Later workers
// with the same role override earlier ones.
func NewStaticProvider(workers ...Worker) *StaticProvider {
	m := make(map[workflow.Role]Worker, len(workers))
	for _, w := range workers {
		m[w.Role()] = w
	}
	return &StaticProvider{workers: m}
}

// Worker implements Provider.
func (p *StaticProvider) Worker(role workflow.Role) (Worker, error) {
	w, ok := p.workers[role]
	if !ok {
		return nil, fmt.Errorf("no worker registered for role %s", role)
	}
	return w, nil
}
