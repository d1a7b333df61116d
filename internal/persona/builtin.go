package persona

import (
	"context"
	"fmt"
	"strings"

	"github.com/quillworks/draftd/internal/workflow"
)

// DefaultProvider returns a provider with the built-in worker for every
// role. The built-ins derive their output deterministically from the
// request and upstream artifacts, which keeps runs reproducible without an
// LLM backend.
func DefaultProvider() *StaticProvider {
	return NewStaticProvider(
		SystemAnalyst{},
		UXDesigner{},
		QAEngineer{},
		InfrastructureEngineer{},
		SecuritySpecialist{},
		DataArchitect{},
		SolutionArchitect{},
	)
}

// noteRevision records the reviewer feedback a re-execution addressed.
func noteRevision(a *workflow.Artifact, in Input) {
	if in.Instructions == "" {
		return
	}
	a.Recommendations = append(a.Recommendations,
		fmt.Sprintf("Addressed review feedback: %s", in.Instructions))
}

// projectLabel names the project for human-readable output.
func projectLabel(req *workflow.BusinessRequirement) string {
	if req.ProjectName != "" {
		return req.ProjectName
	}
	return "the project"
}

// SystemAnalyst assesses the current state and proposes capabilities that
// seed every later phase.
type SystemAnalyst struct{}

func (SystemAnalyst) Role() workflow.Role { return workflow.RoleSystemAnalyst }

func (SystemAnalyst) Invoke(_ context.Context, in Input) (*workflow.Artifact, error) {
	req := in.Request
	if err := req.Validate(); err != nil {
		return nil, workflow.Fatal(err)
	}

	analysis := &workflow.SystemAnalysis{
		CurrentState: req.Background,
	}
	if analysis.CurrentState == "" {
		analysis.CurrentState = req.Description
	}
	for _, c := range req.Constraints {
		analysis.ProblemAreas = append(analysis.ProblemAreas, c.Description)
	}
	for _, r := range req.Risks {
		analysis.ProblemAreas = append(analysis.ProblemAreas, r.Situation)
	}
	for _, g := range req.Goals {
		analysis.ProposedCapabilities = append(analysis.ProposedCapabilities, g.Objective)
	}
	for _, s := range req.Stakeholders {
		analysis.ImpactedStakeholders = append(analysis.ImpactedStakeholders, s.Name)
	}

	a := &workflow.Artifact{
		Phase:     workflow.PhaseSystemAnalysis,
		Summary:   fmt.Sprintf("System analysis for %s", projectLabel(req)),
		Producers: []workflow.Role{workflow.RoleSystemAnalyst},
		Analysis:  analysis,
	}
	noteRevision(a, in)
	return a, nil
}

// UXDesigner turns goals and scope into user stories.
type UXDesigner struct{}

func (UXDesigner) Role() workflow.Role { return workflow.RoleUXDesigner }

func (UXDesigner) Invoke(_ context.Context, in Input) (*workflow.Artifact, error) {
	req := in.Request
	a := &workflow.Artifact{
		Phase:     workflow.PhaseFunctionalRequirements,
		Summary:   "User stories",
		Producers: []workflow.Role{workflow.RoleUXDesigner},
	}

	for _, g := range req.Goals {
		fr := workflow.FunctionalRequirement{
			UserStory: fmt.Sprintf("As a user, I want %s", lowerFirst(g.Objective)),
			Priority:  "high",
		}
		if g.KPI != "" {
			fr.AcceptanceCriteria = []string{fmt.Sprintf("Measured by %s", g.KPI)}
		}
		a.Functional = append(a.Functional, fr)
	}
	for _, s := range req.Scopes {
		a.Functional = append(a.Functional, workflow.FunctionalRequirement{
			UserStory: fmt.Sprintf("As a user, I can work with %s", lowerFirst(s.InScope)),
			Priority:  "medium",
		})
	}
	if len(a.Functional) == 0 {
		a.Functional = append(a.Functional, workflow.FunctionalRequirement{
			UserStory: fmt.Sprintf("As a user, I can accomplish the core workflow of %s", projectLabel(req)),
			Priority:  "high",
		})
	}
	noteRevision(a, in)
	return a, nil
}

// QAEngineer contributes verification-oriented requirements and flags
// testability gaps.
type QAEngineer struct{}

func (QAEngineer) Role() workflow.Role { return workflow.RoleQAEngineer }

func (QAEngineer) Invoke(_ context.Context, in Input) (*workflow.Artifact, error) {
	req := in.Request
	a := &workflow.Artifact{
		Phase:     workflow.PhaseFunctionalRequirements,
		Summary:   "Acceptance criteria",
		Producers: []workflow.Role{workflow.RoleQAEngineer},
	}

	for _, sc := range req.SuccessCriteria {
		a.Functional = append(a.Functional, workflow.FunctionalRequirement{
			UserStory:          fmt.Sprintf("As a stakeholder, I can verify that %s", lowerFirst(sc)),
			AcceptanceCriteria: []string{sc},
			Priority:           "high",
		})
	}
	if len(req.SuccessCriteria) == 0 {
		a.Concerns = append(a.Concerns, "No success criteria were provided; acceptance testing has no objective baseline")
	}
	if analysis := upstreamAnalysis(in); analysis != nil {
		for _, p := range analysis.ProblemAreas {
			a.Concerns = append(a.Concerns, fmt.Sprintf("Regression risk around: %s", p))
		}
	}
	noteRevision(a, in)
	return a, nil
}

// InfrastructureEngineer defines operability and performance requirements.
type InfrastructureEngineer struct{}

func (InfrastructureEngineer) Role() workflow.Role { return workflow.RoleInfrastructureEngineer }

func (InfrastructureEngineer) Invoke(_ context.Context, in Input) (*workflow.Artifact, error) {
	a := &workflow.Artifact{
		Phase:     workflow.PhaseNonFunctionalRequirements,
		Summary:   "Operability requirements",
		Producers: []workflow.Role{workflow.RoleInfrastructureEngineer},
		NonFunctional: []workflow.NonFunctionalRequirement{
			{
				Category:    "availability",
				Requirement: "The system stays available during business hours",
				TargetValue: "99.9% monthly uptime",
				TestMethod:  "uptime monitoring",
			},
			{
				Category:    "performance",
				Requirement: "Interactive operations respond promptly under expected load",
				TargetValue: "p95 latency under 500ms",
				TestMethod:  "load testing",
			},
			{
				Category:    "scalability",
				Requirement: "Capacity grows without redesign as usage increases",
				TargetValue: "10x current volume",
				TestMethod:  "capacity testing",
			},
		},
	}
	if in.Request.Schedule != nil && in.Request.Schedule.TargetRelease != "" {
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("Provision environments ahead of the %s target release", in.Request.Schedule.TargetRelease))
	}
	noteRevision(a, in)
	return a, nil
}

// SecuritySpecialist defines security and compliance requirements.
type SecuritySpecialist struct{}

func (SecuritySpecialist) Role() workflow.Role { return workflow.RoleSecuritySpecialist }

func (SecuritySpecialist) Invoke(_ context.Context, in Input) (*workflow.Artifact, error) {
	a := &workflow.Artifact{
		Phase:     workflow.PhaseNonFunctionalRequirements,
		Summary:   "Security requirements",
		Producers: []workflow.Role{workflow.RoleSecuritySpecialist},
		NonFunctional: []workflow.NonFunctionalRequirement{
			{
				Category:    "security",
				Requirement: "All access is authenticated and role-scoped",
				TestMethod:  "penetration testing",
			},
			{
				Category:    "security",
				Requirement: "Data is encrypted in transit and at rest",
				TargetValue: "TLS 1.2+ and AES-256",
				TestMethod:  "configuration audit",
			},
			{
				Category:    "compliance",
				Requirement: "Audit logs record every state-changing operation",
				TargetValue: "1 year retention",
				TestMethod:  "log review",
			},
		},
	}
	for _, r := range in.Request.Risks {
		if r.Mitigation != "" {
			a.Recommendations = append(a.Recommendations,
				fmt.Sprintf("Mitigate %q via: %s", r.Situation, r.Mitigation))
		}
	}
	noteRevision(a, in)
	return a, nil
}

// DataArchitect derives entities and table definitions from the approved
// functional requirements.
type DataArchitect struct{}

func (DataArchitect) Role() workflow.Role { return workflow.RoleDataArchitect }

func (DataArchitect) Invoke(_ context.Context, in Input) (*workflow.Artifact, error) {
	a := &workflow.Artifact{
		Phase:     workflow.PhaseDataArchitecture,
		Summary:   "Data design",
		Producers: []workflow.Role{workflow.RoleDataArchitect},
		DataModels: []workflow.DataModel{
			{
				Entity:     "User",
				Attributes: []string{"id", "name", "role"},
			},
		},
	}

	if fr := in.Artifacts[workflow.PhaseFunctionalRequirements]; fr != nil {
		for _, f := range fr.Functional {
			if entity := entityFromStory(f.UserStory); entity != "" {
				a.DataModels = append(a.DataModels, workflow.DataModel{
					Entity:        entity,
					Attributes:    []string{"id", "created_at"},
					Relationships: []string{"owned by User"},
				})
			}
		}
	}

	for _, dm := range a.DataModels {
		table := workflow.TableDefinition{
			Name: tableName(dm.Entity),
			Columns: []workflow.ColumnDef{
				{Name: "id", Type: "UUID", Constraint: "PRIMARY KEY"},
			},
			Constraints: []string{"PRIMARY KEY (id)"},
		}
		for _, attr := range dm.Attributes {
			if attr == "id" {
				continue
			}
			col := workflow.ColumnDef{Name: attr, Type: "TEXT"}
			if attr == "created_at" {
				col.Type = "TIMESTAMPTZ"
				col.Constraint = "NOT NULL DEFAULT now()"
			}
			table.Columns = append(table.Columns, col)
		}
		a.Tables = append(a.Tables, table)
	}
	noteRevision(a, in)
	return a, nil
}

// SolutionArchitect proposes the system structure from everything upstream.
type SolutionArchitect struct{}

func (SolutionArchitect) Role() workflow.Role { return workflow.RoleSolutionArchitect }

func (SolutionArchitect) Invoke(_ context.Context, in Input) (*workflow.Artifact, error) {
	arch := &workflow.SystemArchitecture{
		Type:       "modular monolith",
		Components: []string{"web frontend", "application services", "relational database"},
		TechnologyStack: map[string]string{
			"backend":  "Go",
			"database": "PostgreSQL",
		},
		DeploymentStrategy: "containerized, rolling deployments",
	}

	if nfr := in.Artifacts[workflow.PhaseNonFunctionalRequirements]; nfr != nil {
		for _, r := range nfr.NonFunctional {
			if r.Category == "scalability" {
				arch.Type = "modular monolith with extractable services"
				break
			}
		}
	}
	if da := in.Artifacts[workflow.PhaseDataArchitecture]; da != nil && len(da.Tables) > 3 {
		arch.Components = append(arch.Components, "reporting pipeline")
	}

	a := &workflow.Artifact{
		Phase:        workflow.PhaseSolutionArchitecture,
		Summary:      fmt.Sprintf("Architecture proposal for %s", projectLabel(in.Request)),
		Producers:    []workflow.Role{workflow.RoleSolutionArchitect},
		Architecture: arch,
		Recommendations: []string{
			"Start with the monolith and extract services only on measured need",
		},
	}
	noteRevision(a, in)
	return a, nil
}

// upstreamAnalysis fetches the finalized system analysis, if present.
func upstreamAnalysis(in Input) *workflow.SystemAnalysis {
	if a := in.Artifacts[workflow.PhaseSystemAnalysis]; a != nil {
		return a.Analysis
	}
	return nil
}

// entityFromStory extracts a candidate entity noun from a user story. The
// heuristic takes the last capitalizable word of the "I want/can ..." tail.
func entityFromStory(story string) string {
	const marker = "work with "
	if i := strings.Index(story, marker); i >= 0 {
		tail := strings.TrimSpace(story[i+len(marker):])
		if tail != "" {
			words := strings.Fields(tail)
			return upperFirst(words[len(words)-1])
		}
	}
	return ""
}

// tableName converts an entity name to a snake_case plural table name.
func tableName(entity string) string {
	var b strings.Builder
	for i, r := range entity {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	name := b.String()
	if !strings.HasSuffix(name, "s") {
		name += "s"
	}
	return name
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] += 'a' - 'A'
	}
	return string(r)
}
