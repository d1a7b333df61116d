package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/quillworks/draftd/internal/workflow"
)

// rolePrompts describes each role's charter for the model.
var rolePrompts = map[workflow.Role]string{
	workflow.RoleSystemAnalyst:          "You are a system analyst. Assess the current state, problem areas, proposed capabilities, and impacted stakeholders.",
	workflow.RoleUXDesigner:             "You are a UX designer. Write user stories with priorities for the functional requirements.",
	workflow.RoleQAEngineer:             "You are a QA engineer. Write verifiable acceptance criteria and flag testability concerns.",
	workflow.RoleInfrastructureEngineer: "You are an infrastructure engineer. Define availability, performance, and scalability requirements with measurable targets.",
	workflow.RoleSecuritySpecialist:     "You are a security specialist. Define security and compliance requirements with test methods.",
	workflow.RoleDataArchitect:          "You are a data architect. Derive data models and table definitions from the functional requirements.",
	workflow.RoleSolutionArchitect:      "You are a solution architect. Propose a system architecture with a technology stack and deployment strategy.",
}

// LLMWorker delegates a role's drafting to a language model. The model is
// asked for a JSON artifact matching the workflow.Artifact shape; malformed
// responses are returned as transient errors so the retry budget can
// re-prompt.
type LLMWorker struct {
	role  workflow.Role
	model llms.Model
}

// NewLLMWorker builds an LLM-backed worker for a role.
func NewLLMWorker(role workflow.Role, model llms.Model) (*LLMWorker, error) {
	if _, ok := rolePrompts[role]; !ok {
		return nil, fmt.Errorf("no prompt defined for role %s", role)
	}
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	return &LLMWorker{role: role, model: model}, nil
}

// Role implements Worker.
func (w *LLMWorker) Role() workflow.Role { return w.role }

// Invoke implements Worker.
func (w *LLMWorker) Invoke(ctx context.Context, in Input) (*workflow.Artifact, error) {
	if err := in.Request.Validate(); err != nil {
		return nil, workflow.Fatal(err)
	}

	prompt, err := w.buildPrompt(in)
	if err != nil {
		return nil, workflow.Fatal(err)
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, w.model, prompt,
		llms.WithTemperature(0.2),
	)
	if err != nil {
		return nil, fmt.Errorf("llm generation for %s: %w", w.role, err)
	}

	art, err := parseArtifact(completion)
	if err != nil {
		return nil, fmt.Errorf("llm response for %s: %w", w.role, err)
	}
	art.Producers = []workflow.Role{w.role}
	return art, nil
}

func (w *LLMWorker) buildPrompt(in Input) (string, error) {
	reqJSON, err := json.MarshalIndent(in.Request, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var b strings.Builder
	b.WriteString(rolePrompts[w.role])
	b.WriteString("\n\nBusiness requirement:\n")
	b.Write(reqJSON)

	if len(in.Artifacts) > 0 {
		b.WriteString("\n\nApproved upstream work:\n")
		for phase, art := range in.Artifacts {
			artJSON, err := json.Marshal(art)
			if err != nil {
				return "", fmt.Errorf("marshal %s artifact: %w", phase, err)
			}
			fmt.Fprintf(&b, "%s: %s\n", phase, artJSON)
		}
	}

	if in.Instructions != "" {
		b.WriteString("\n\nA reviewer rejected the previous draft. Address this feedback:\n")
		b.WriteString(in.Instructions)
	}

	b.WriteString("\n\nRespond with a single JSON object with these optional keys: " +
		"summary, functional, non_functional, data_models, tables, architecture, analysis, recommendations, concerns. " +
		"Use the same field shapes as the upstream work above. No prose outside the JSON.")
	return b.String(), nil
}

// parseArtifact decodes a model completion, tolerating a fenced code block.
func parseArtifact(completion string) (*workflow.Artifact, error) {
	s := strings.TrimSpace(completion)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	var art workflow.Artifact
	if err := json.Unmarshal([]byte(s), &art); err != nil {
		return nil, fmt.Errorf("decode artifact JSON: %w", err)
	}
	return &art, nil
}
