// Package review presents pending artifacts on the terminal and collects
// reviewer decisions for gated phases.
package review

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/quillworks/draftd/internal/workflow"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)
)

// ParseDecision maps reviewer shorthand to a decision. Recognized inputs:
// approve/a/ok/yes, revise/r/change/no, inspect/i/details/show.
func ParseDecision(s string) (workflow.ReviewDecision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "a", "ok", "yes", "y":
		return workflow.ReviewApprove, true
	case "revise", "r", "change", "no", "n":
		return workflow.ReviewRevise, true
	case "inspect", "i", "details", "show":
		return workflow.ReviewInspect, true
	}
	return "", false
}

// Console prompts a human reviewer on a terminal.
type Console struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewConsole builds a console reviewer over the given streams.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:  bufio.NewScanner(in),
		out: out,
	}
}

// Decide presents the pending artifact of a phase and reads a decision.
// For revise decisions it also prompts for the feedback note. Inspect
// prints the full artifact and re-prompts, so Decide only ever returns
// approve or revise. io.EOF is returned when the input stream ends.
func (c *Console) Decide(snap workflow.Snapshot, phase workflow.PhaseID) (workflow.ReviewDecision, string, error) {
	pending := snap.Pending[phase]
	c.printSummary(phase, pending)

	for {
		fmt.Fprint(c.out, labelStyle.Render("Decision [approve/revise/inspect]: "))
		line, err := c.readLine()
		if err != nil {
			return "", "", err
		}

		decision, ok := ParseDecision(line)
		if !ok {
			fmt.Fprintln(c.out, warnStyle.Render(fmt.Sprintf("Unrecognized input %q", line)))
			continue
		}

		switch decision {
		case workflow.ReviewInspect:
			c.printDetails(pending)

		case workflow.ReviewRevise:
			fmt.Fprint(c.out, labelStyle.Render("What should change? "))
			note, err := c.readLine()
			if err != nil {
				return "", "", err
			}
			if strings.TrimSpace(note) == "" {
				fmt.Fprintln(c.out, warnStyle.Render("A revise decision needs feedback for the workers"))
				continue
			}
			return workflow.ReviewRevise, note, nil

		case workflow.ReviewApprove:
			return workflow.ReviewApprove, "", nil
		}
	}
}

func (c *Console) readLine() (string, error) {
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return c.in.Text(), nil
}

func (c *Console) printSummary(phase workflow.PhaseID, art *workflow.Artifact) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, headerStyle.Render(fmt.Sprintf("Review: %s", phase)))
	if art == nil {
		fmt.Fprintln(c.out, dimStyle.Render("(no pending artifact)"))
		return
	}
	if art.Summary != "" {
		fmt.Fprintln(c.out, art.Summary)
	}
	fmt.Fprintln(c.out, dimStyle.Render(fmt.Sprintf(
		"%d functional, %d non-functional, %d data models, %d concerns",
		len(art.Functional), len(art.NonFunctional), len(art.DataModels), len(art.Concerns))))
}

func (c *Console) printDetails(art *workflow.Artifact) {
	if art == nil {
		return
	}
	if len(art.Functional) > 0 {
		fmt.Fprintln(c.out, sectionStyle.Render("Functional requirements"))
		for _, fr := range art.Functional {
			fmt.Fprintf(c.out, "  - %s\n", fr.UserStory)
			for _, ac := range fr.AcceptanceCriteria {
				fmt.Fprintf(c.out, "      %s\n", dimStyle.Render(ac))
			}
		}
	}
	if len(art.NonFunctional) > 0 {
		fmt.Fprintln(c.out, sectionStyle.Render("Non-functional requirements"))
		for _, r := range art.NonFunctional {
			fmt.Fprintf(c.out, "  - [%s] %s\n", r.Category, r.Requirement)
		}
	}
	if len(art.DataModels) > 0 {
		fmt.Fprintln(c.out, sectionStyle.Render("Data models"))
		for _, dm := range art.DataModels {
			fmt.Fprintf(c.out, "  - %s (%s)\n", dm.Entity, strings.Join(dm.Attributes, ", "))
		}
	}
	if art.Architecture != nil {
		fmt.Fprintln(c.out, sectionStyle.Render("Architecture"))
		fmt.Fprintf(c.out, "  - %s: %s\n", art.Architecture.Type, strings.Join(art.Architecture.Components, ", "))
	}
	if len(art.Concerns) > 0 {
		fmt.Fprintln(c.out, warnStyle.Render("Concerns"))
		for _, con := range art.Concerns {
			fmt.Fprintf(c.out, "  - %s\n", con)
		}
	}
}
