package workflow

import "slices"

// FunctionalRequirement is one user story with its acceptance criteria.
type FunctionalRequirement struct {
	UserStory          string   `json:"user_story"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	Complexity         string   `json:"complexity,omitempty"`
}

// NonFunctionalRequirement is one quality-attribute requirement.
type NonFunctionalRequirement struct {
	Category    string `json:"category"`
	Requirement string `json:"requirement"`
	TargetValue string `json:"target_value,omitempty"`
	TestMethod  string `json:"test_method,omitempty"`
}

// DataModel is a logical entity with its attributes and relationships.
type DataModel struct {
	Entity        string   `json:"entity"`
	Attributes    []string `json:"attributes,omitempty"`
	Relationships []string `json:"relationships,omitempty"`
}

// ColumnDef is one column of a table definition.
type ColumnDef struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Constraint string `json:"constraint,omitempty"`
}

// TableDefinition is a physical table derived from a data model.
type TableDefinition struct {
	Name        string      `json:"name"`
	Columns     []ColumnDef `json:"columns,omitempty"`
	Constraints []string    `json:"constraints,omitempty"`
}

// SystemArchitecture is the proposed system structure.
type SystemArchitecture struct {
	Type               string            `json:"type"`
	Components         []string          `json:"components,omitempty"`
	TechnologyStack    map[string]string `json:"technology_stack,omitempty"`
	DeploymentStrategy string            `json:"deployment_strategy,omitempty"`
}

// SystemAnalysis is the analyst's assessment that seeds later phases.
type SystemAnalysis struct {
	CurrentState         string   `json:"current_state,omitempty"`
	ProblemAreas         []string `json:"problem_areas,omitempty"`
	ProposedCapabilities []string `json:"proposed_capabilities,omitempty"`
	ImpactedStakeholders []string `json:"impacted_stakeholders,omitempty"`
}

// Artifact is the structured output of a phase. Workers populate the
// fields their role owns; the executor merges sibling outputs by field
// union once every worker in the phase has succeeded.
type Artifact struct {
	Phase           PhaseID                    `json:"phase"`
	Summary         string                     `json:"summary,omitempty"`
	Producers       []Role                     `json:"producers,omitempty"`
	Functional      []FunctionalRequirement    `json:"functional,omitempty"`
	NonFunctional   []NonFunctionalRequirement `json:"non_functional,omitempty"`
	DataModels      []DataModel                `json:"data_models,omitempty"`
	Tables          []TableDefinition          `json:"tables,omitempty"`
	Architecture    *SystemArchitecture        `json:"architecture,omitempty"`
	Analysis        *SystemAnalysis            `json:"analysis,omitempty"`
	Recommendations []string                   `json:"recommendations,omitempty"`
	Concerns        []string                   `json:"concerns,omitempty"`
}

// Clone deep-copies the artifact so ledger snapshots stay immutable even
// if a later merge mutates the live copy.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := &Artifact{
		Phase:           a.Phase,
		Summary:         a.Summary,
		Producers:       slices.Clone(a.Producers),
		Functional:      cloneFunctional(a.Functional),
		NonFunctional:   slices.Clone(a.NonFunctional),
		DataModels:      cloneDataModels(a.DataModels),
		Tables:          cloneTables(a.Tables),
		Recommendations: slices.Clone(a.Recommendations),
		Concerns:        slices.Clone(a.Concerns),
	}
	if a.Architecture != nil {
		arch := *a.Architecture
		arch.Components = slices.Clone(a.Architecture.Components)
		arch.TechnologyStack = cloneStringMap(a.Architecture.TechnologyStack)
		c.Architecture = &arch
	}
	if a.Analysis != nil {
		an := *a.Analysis
		an.ProblemAreas = slices.Clone(a.Analysis.ProblemAreas)
		an.ProposedCapabilities = slices.Clone(a.Analysis.ProposedCapabilities)
		an.ImpactedStakeholders = slices.Clone(a.Analysis.ImpactedStakeholders)
		c.Analysis = &an
	}
	return c
}

func cloneFunctional(in []FunctionalRequirement) []FunctionalRequirement {
	if in == nil {
		return nil
	}
	out := make([]FunctionalRequirement, len(in))
	for i, fr := range in {
		fr.AcceptanceCriteria = slices.Clone(fr.AcceptanceCriteria)
		out[i] = fr
	}
	return out
}

func cloneDataModels(in []DataModel) []DataModel {
	if in == nil {
		return nil
	}
	out := make([]DataModel, len(in))
	for i, dm := range in {
		dm.Attributes = slices.Clone(dm.Attributes)
		dm.Relationships = slices.Clone(dm.Relationships)
		out[i] = dm
	}
	return out
}

func cloneTables(in []TableDefinition) []TableDefinition {
	if in == nil {
		return nil
	}
	out := make([]TableDefinition, len(in))
	for i, td := range in {
		td.Columns = slices.Clone(td.Columns)
		td.Constraints = slices.Clone(td.Constraints)
		out[i] = td
	}
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MergeArtifacts combines the outputs of a phase's workers into a single
// pending artifact. Slice fields concatenate in worker order; singular
// fields take the first non-nil value; summaries join with a separator.
func MergeArtifacts(phase PhaseID, parts ...*Artifact) *Artifact {
	merged := &Artifact{Phase: phase}
	for _, p := range parts {
		if p == nil {
			continue
		}
		if p.Summary != "" {
			if merged.Summary != "" {
				merged.Summary += " / "
			}
			merged.Summary += p.Summary
		}
		merged.Producers = append(merged.Producers, p.Producers...)
		merged.Functional = append(merged.Functional, p.Functional...)
		merged.NonFunctional = append(merged.NonFunctional, p.NonFunctional...)
		merged.DataModels = append(merged.DataModels, p.DataModels...)
		merged.Tables = append(merged.Tables, p.Tables...)
		merged.Recommendations = append(merged.Recommendations, p.Recommendations...)
		merged.Concerns = append(merged.Concerns, p.Concerns...)
		if merged.Architecture == nil {
			merged.Architecture = p.Architecture
		}
		if merged.Analysis == nil {
			merged.Analysis = p.Analysis
		}
	}
	return merged
}
