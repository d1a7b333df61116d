// Package render turns a completed run into a markdown requirement
// document and writes it to the output directory.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quillworks/draftd/internal/workflow"
)

// Document renders the requirement document for a run snapshot. The
// snapshot does not need to be complete; sections without artifacts are
// omitted.
func Document(snap workflow.Snapshot) string {
	var b strings.Builder

	title := "Requirement Document"
	if snap.Request != nil && snap.Request.ProjectName != "" {
		title = fmt.Sprintf("%s: Requirement Document", snap.Request.ProjectName)
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_Generated %s_\n\n", time.Now().UTC().Format("2006-01-02 15:04 MST"))

	writeOverview(&b, snap.Request)
	writeAnalysis(&b, snap.Artifacts[workflow.PhaseSystemAnalysis])
	writeFunctional(&b, snap.Artifacts[workflow.PhaseFunctionalRequirements])
	writeNonFunctional(&b, snap.Artifacts[workflow.PhaseNonFunctionalRequirements])
	writeDataDesign(&b, snap.Artifacts[workflow.PhaseDataArchitecture])
	writeArchitecture(&b, snap.Artifacts[workflow.PhaseSolutionArchitecture])
	writeNotes(&b, snap.Artifacts)
	writeRevisionHistory(&b, snap.Ledger)

	return b.String()
}

// WriteFile renders the document and writes it under dir with a
// timestamped file name. It returns the written path.
func WriteFile(dir string, snap workflow.Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	name := "requirements"
	if snap.Request != nil && snap.Request.ProjectName != "" {
		name = slugify(snap.Request.ProjectName)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.md", name, time.Now().UTC().Format("20060102_150405")))

	if err := os.WriteFile(path, []byte(Document(snap)), 0644); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	return path, nil
}

func writeOverview(b *strings.Builder, req *workflow.BusinessRequirement) {
	if req == nil {
		return
	}
	b.WriteString("## Overview\n\n")
	if req.Description != "" {
		fmt.Fprintf(b, "%s\n\n", req.Description)
	}
	if req.Background != "" {
		fmt.Fprintf(b, "**Background.** %s\n\n", req.Background)
	}
	if len(req.Goals) > 0 {
		b.WriteString("### Goals\n\n")
		for _, g := range req.Goals {
			line := fmt.Sprintf("- %s", g.Objective)
			if g.KPI != "" {
				line += fmt.Sprintf(" (KPI: %s)", g.KPI)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
	if len(req.Stakeholders) > 0 {
		b.WriteString("### Stakeholders\n\n")
		b.WriteString("| Name | Role | Expectations |\n|---|---|---|\n")
		for _, s := range req.Stakeholders {
			fmt.Fprintf(b, "| %s | %s | %s |\n", cell(s.Name), cell(s.Role), cell(s.Expectations))
		}
		b.WriteString("\n")
	}
	if len(req.Scopes) > 0 {
		b.WriteString("### Scope\n\n")
		b.WriteString("| In Scope | Out of Scope |\n|---|---|\n")
		for _, s := range req.Scopes {
			fmt.Fprintf(b, "| %s | %s |\n", cell(s.InScope), cell(s.OutOfScope))
		}
		b.WriteString("\n")
	}
	if len(req.Constraints) > 0 {
		b.WriteString("### Constraints\n\n")
		for _, c := range req.Constraints {
			fmt.Fprintf(b, "- %s\n", c.Description)
		}
		b.WriteString("\n")
	}
	if len(req.Risks) > 0 {
		b.WriteString("### Risks\n\n")
		b.WriteString("| Situation | Probability | Impact | Mitigation |\n|---|---|---|---|\n")
		for _, r := range req.Risks {
			fmt.Fprintf(b, "| %s | %s | %s | %s |\n", cell(r.Situation), cell(r.Probability), cell(r.Impact), cell(r.Mitigation))
		}
		b.WriteString("\n")
	}
}

func writeAnalysis(b *strings.Builder, art *workflow.Artifact) {
	if art == nil || art.Analysis == nil {
		return
	}
	a := art.Analysis
	b.WriteString("## System Analysis\n\n")
	if a.CurrentState != "" {
		fmt.Fprintf(b, "**Current state.** %s\n\n", a.CurrentState)
	}
	writeList(b, "Problem areas", a.ProblemAreas)
	writeList(b, "Proposed capabilities", a.ProposedCapabilities)
	writeList(b, "Impacted stakeholders", a.ImpactedStakeholders)
}

func writeFunctional(b *strings.Builder, art *workflow.Artifact) {
	if art == nil || len(art.Functional) == 0 {
		return
	}
	b.WriteString("## Functional Requirements\n\n")
	for i, fr := range art.Functional {
		fmt.Fprintf(b, "### FR-%02d\n\n%s\n\n", i+1, fr.UserStory)
		if fr.Priority != "" {
			fmt.Fprintf(b, "- Priority: %s\n", fr.Priority)
		}
		if fr.Complexity != "" {
			fmt.Fprintf(b, "- Complexity: %s\n", fr.Complexity)
		}
		for _, ac := range fr.AcceptanceCriteria {
			fmt.Fprintf(b, "- [ ] %s\n", ac)
		}
		b.WriteString("\n")
	}
}

func writeNonFunctional(b *strings.Builder, art *workflow.Artifact) {
	if art == nil || len(art.NonFunctional) == 0 {
		return
	}
	b.WriteString("## Non-Functional Requirements\n\n")

	byCategory := map[string][]workflow.NonFunctionalRequirement{}
	var categories []string
	for _, r := range art.NonFunctional {
		if _, seen := byCategory[r.Category]; !seen {
			categories = append(categories, r.Category)
		}
		byCategory[r.Category] = append(byCategory[r.Category], r)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		fmt.Fprintf(b, "### %s\n\n", titleCase(cat))
		b.WriteString("| Requirement | Target | Test Method |\n|---|---|---|\n")
		for _, r := range byCategory[cat] {
			fmt.Fprintf(b, "| %s | %s | %s |\n", cell(r.Requirement), cell(r.TargetValue), cell(r.TestMethod))
		}
		b.WriteString("\n")
	}
}

func writeDataDesign(b *strings.Builder, art *workflow.Artifact) {
	if art == nil || (len(art.DataModels) == 0 && len(art.Tables) == 0) {
		return
	}
	b.WriteString("## Data Design\n\n")
	for _, dm := range art.DataModels {
		fmt.Fprintf(b, "### %s\n\n", dm.Entity)
		writeList(b, "Attributes", dm.Attributes)
		writeList(b, "Relationships", dm.Relationships)
	}
	for _, tbl := range art.Tables {
		fmt.Fprintf(b, "### Table `%s`\n\n", tbl.Name)
		b.WriteString("| Column | Type | Constraint |\n|---|---|---|\n")
		for _, col := range tbl.Columns {
			fmt.Fprintf(b, "| %s | %s | %s |\n", cell(col.Name), cell(col.Type), cell(col.Constraint))
		}
		b.WriteString("\n")
		writeList(b, "Constraints", tbl.Constraints)
	}
}

func writeArchitecture(b *strings.Builder, art *workflow.Artifact) {
	if art == nil || art.Architecture == nil {
		return
	}
	arch := art.Architecture
	b.WriteString("## Solution Architecture\n\n")
	fmt.Fprintf(b, "**Type.** %s\n\n", arch.Type)
	writeList(b, "Components", arch.Components)
	if len(arch.TechnologyStack) > 0 {
		b.WriteString("### Technology stack\n\n")
		keys := make([]string, 0, len(arch.TechnologyStack))
		for k := range arch.TechnologyStack {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "- %s: %s\n", k, arch.TechnologyStack[k])
		}
		b.WriteString("\n")
	}
	if arch.DeploymentStrategy != "" {
		fmt.Fprintf(b, "**Deployment.** %s\n\n", arch.DeploymentStrategy)
	}
}

// writeNotes collects recommendations and concerns from every artifact.
func writeNotes(b *strings.Builder, artifacts map[workflow.PhaseID]*workflow.Artifact) {
	var recommendations, concerns []string
	for _, phase := range []workflow.PhaseID{
		workflow.PhaseSystemAnalysis,
		workflow.PhaseFunctionalRequirements,
		workflow.PhaseNonFunctionalRequirements,
		workflow.PhaseDataArchitecture,
		workflow.PhaseSolutionArchitecture,
	} {
		if art := artifacts[phase]; art != nil {
			recommendations = append(recommendations, art.Recommendations...)
			concerns = append(concerns, art.Concerns...)
		}
	}
	if len(recommendations) == 0 && len(concerns) == 0 {
		return
	}
	b.WriteString("## Implementation Notes\n\n")
	writeList(b, "Recommendations", recommendations)
	writeList(b, "Open concerns", concerns)
}

func writeRevisionHistory(b *strings.Builder, entries []workflow.VersionEntry) {
	if len(entries) == 0 {
		return
	}
	b.WriteString("## Revision History\n\n")
	b.WriteString("| Phase | Version | Decision | Note | At |\n|---|---|---|---|---|\n")
	for _, e := range entries {
		fmt.Fprintf(b, "| %s | v%d | %s | %s | %s |\n",
			e.Phase, e.Version, e.Decision, cell(e.ReviewerNote), e.CreatedAt.Format(time.RFC3339))
	}
	b.WriteString("\n")
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s.**\n\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

// cell escapes pipes so free text cannot break table rows.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}

// slugify reduces a project name to a safe file name fragment.
func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "requirements"
	}
	return b.String()
}
