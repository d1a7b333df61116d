package workflow

import (
	"fmt"
	"regexp"
)

// Graph is the static phase graph of a run. Declaration order breaks ties
// between phases whose dependencies are all satisfied.
type Graph struct {
	specs []PhaseSpec
	index map[PhaseID]int
}

const maxPhaseIDLen = 128

// phaseIDPattern allows alphanumeric, hyphen, underscore. Phase IDs flow
// into log field values and file names, so the charset is restricted here
// rather than at every consumer.
var phaseIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NewGraph builds and validates a graph from phase specs.
func NewGraph(specs ...PhaseSpec) (*Graph, error) {
	g := &Graph{
		specs: specs,
		index: make(map[PhaseID]int, len(specs)),
	}
	for i, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("phase %d has an empty id", i)
		}
		if len(spec.ID) > maxPhaseIDLen {
			return nil, fmt.Errorf("phase id %q exceeds max length %d", spec.ID, maxPhaseIDLen)
		}
		if !phaseIDPattern.MatchString(string(spec.ID)) {
			return nil, fmt.Errorf("phase id %q contains invalid characters (must be alphanumeric, hyphen, underscore)", spec.ID)
		}
		if _, dup := g.index[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate phase id %s", spec.ID)
		}
		if len(spec.RequiredWorkers) == 0 {
			return nil, fmt.Errorf("phase %s declares no workers", spec.ID)
		}
		g.index[spec.ID] = i
	}
	for _, spec := range specs {
		for _, dep := range spec.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("phase %s depends on unknown phase %s", spec.ID, dep)
			}
		}
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// MustGraph is NewGraph for statically known graphs.
func MustGraph(specs ...PhaseSpec) *Graph {
	g, err := NewGraph(specs...)
	if err != nil {
		panic(err)
	}
	return g
}

// checkAcyclic rejects dependency cycles via iterative DFS coloring.
func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[PhaseID]int, len(g.specs))

	var visit func(id PhaseID) error
	visit = func(id PhaseID) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("phase graph has a dependency cycle through %s", id)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range g.specs[g.index[id]].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, spec := range g.specs {
		if err := visit(spec.ID); err != nil {
			return err
		}
	}
	return nil
}

// Spec returns the spec for a phase id.
func (g *Graph) Spec(id PhaseID) (PhaseSpec, bool) {
	i, ok := g.index[id]
	if !ok {
		return PhaseSpec{}, false
	}
	return g.specs[i], true
}

// Phases returns all specs in declaration order.
func (g *Graph) Phases() []PhaseSpec {
	out := make([]PhaseSpec, len(g.specs))
	copy(out, g.specs)
	return out
}

// Len returns the number of phases.
func (g *Graph) Len() int {
	return len(g.specs)
}

// NextRunnable returns the first phase, in declaration order, that is not
// finalized, not failed, and whose dependencies are all finalized. The
// second result is false when no such phase exists.
func (g *Graph) NextRunnable(finalized map[PhaseID]bool, failed map[PhaseID]bool) (PhaseSpec, bool) {
	for _, spec := range g.specs {
		if finalized[spec.ID] || failed[spec.ID] {
			continue
		}
		ready := true
		for _, dep := range spec.DependsOn {
			if !finalized[dep] {
				ready = false
				break
			}
		}
		if ready {
			return spec, true
		}
	}
	return PhaseSpec{}, false
}

// DefaultGraph is the requirement-document pipeline: analysis feeds
// functional requirements, which feed non-functional requirements, then
// data architecture, then solution architecture. The requirement-defining
// phases and the architecture proposal carry review gates.
func DefaultGraph() *Graph {
	return MustGraph(
		PhaseSpec{
			ID:              PhaseSystemAnalysis,
			Title:           "System Analysis",
			RequiredWorkers: []Role{RoleSystemAnalyst},
		},
		PhaseSpec{
			ID:              PhaseFunctionalRequirements,
			Title:           "Functional Requirements",
			RequiredWorkers: []Role{RoleUXDesigner, RoleQAEngineer},
			Parallel:        true,
			Gated:           true,
			DependsOn:       []PhaseID{PhaseSystemAnalysis},
		},
		PhaseSpec{
			ID:              PhaseNonFunctionalRequirements,
			Title:           "Non-Functional Requirements",
			RequiredWorkers: []Role{RoleInfrastructureEngineer, RoleSecuritySpecialist},
			Parallel:        true,
			Gated:           true,
			DependsOn:       []PhaseID{PhaseFunctionalRequirements},
		},
		PhaseSpec{
			ID:              PhaseDataArchitecture,
			Title:           "Data Architecture",
			RequiredWorkers: []Role{RoleDataArchitect},
			DependsOn:       []PhaseID{PhaseNonFunctionalRequirements},
		},
		PhaseSpec{
			ID:              PhaseSolutionArchitecture,
			Title:           "Solution Architecture",
			RequiredWorkers: []Role{RoleSolutionArchitect},
			Gated:           true,
			DependsOn:       []PhaseID{PhaseDataArchitecture},
		},
	)
}
