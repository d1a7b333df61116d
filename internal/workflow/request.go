package workflow

import "errors"

// Goal is one project objective with its justification and success metric.
type Goal struct {
	Objective string `json:"objective" koanf:"objective"`
	Rationale string `json:"rationale,omitempty" koanf:"rationale"`
	KPI       string `json:"kpi,omitempty" koanf:"kpi"`
}

// Stakeholder names a party with an interest in the project outcome.
type Stakeholder struct {
	Name         string `json:"name" koanf:"name"`
	Role         string `json:"role,omitempty" koanf:"role"`
	Expectations string `json:"expectations,omitempty" koanf:"expectations"`
}

// ScopeItem pairs an in-scope deliverable with its explicit exclusions.
type ScopeItem struct {
	InScope    string `json:"in_scope" koanf:"in_scope"`
	OutOfScope string `json:"out_of_scope,omitempty" koanf:"out_of_scope"`
}

// Constraint is a budget, technical, or regulatory limitation.
type Constraint struct {
	Description string `json:"description" koanf:"description"`
}

// Risk is an anticipated problem with its assessed likelihood and impact.
type Risk struct {
	Situation   string `json:"situation" koanf:"situation"`
	Probability string `json:"probability,omitempty" koanf:"probability"`
	Impact      string `json:"impact,omitempty" koanf:"impact"`
	Mitigation  string `json:"mitigation,omitempty" koanf:"mitigation"`
}

// Budget is the expected project budget.
type Budget struct {
	Amount   float64 `json:"amount" koanf:"amount"`
	Currency string  `json:"currency" koanf:"currency"`
}

// Schedule holds the key dates for the project.
type Schedule struct {
	StartDate     string   `json:"start_date,omitempty" koanf:"start_date"`
	TargetRelease string   `json:"target_release,omitempty" koanf:"target_release"`
	Milestones    []string `json:"milestones,omitempty" koanf:"milestones"`
}

// BusinessRequirement is the immutable initial input of a run. It is owned
// by the caller and read-only to every worker.
type BusinessRequirement struct {
	ProjectName     string        `json:"project_name" koanf:"project_name"`
	Description     string        `json:"description,omitempty" koanf:"description"`
	Background      string        `json:"background,omitempty" koanf:"background"`
	Goals           []Goal        `json:"goals,omitempty" koanf:"goals"`
	Stakeholders    []Stakeholder `json:"stakeholders,omitempty" koanf:"stakeholders"`
	Scopes          []ScopeItem   `json:"scopes,omitempty" koanf:"scopes"`
	Constraints     []Constraint  `json:"constraints,omitempty" koanf:"constraints"`
	Budget          *Budget       `json:"budget,omitempty" koanf:"budget"`
	Schedule        *Schedule     `json:"schedule,omitempty" koanf:"schedule"`
	Assumptions     []string      `json:"assumptions,omitempty" koanf:"assumptions"`
	Risks           []Risk        `json:"risks,omitempty" koanf:"risks"`
	SuccessCriteria []string      `json:"success_criteria,omitempty" koanf:"success_criteria"`
}

// Validate checks the request carries enough substance to seed a run.
func (r *BusinessRequirement) Validate() error {
	if r == nil {
		return errors.New("business requirement is required")
	}
	if r.ProjectName == "" && r.Description == "" {
		return errors.New("business requirement needs a project name or description")
	}
	return nil
}
