package workflow

import (
	"time"

	"github.com/google/uuid"
)

// LedgerDecision classifies a version entry.
type LedgerDecision string

const (
	// DecisionInitial records a gated phase's first pending artifact.
	DecisionInitial LedgerDecision = "initial"

	// DecisionRevised records the discarded content of a revise cycle,
	// together with the reviewer's note.
	DecisionRevised LedgerDecision = "revised"

	// DecisionApproved records the finalized artifact of a phase.
	DecisionApproved LedgerDecision = "approved"
)

// VersionEntry is one immutable artifact transition. Version numbers are
// 1-based and increase per phase independently with no gaps.
type VersionEntry struct {
	ID           string         `json:"id"`
	Phase        PhaseID        `json:"phase"`
	Version      int            `json:"version"`
	Decision     LedgerDecision `json:"decision"`
	Content      *Artifact      `json:"content"`
	ReviewerNote string         `json:"reviewer_note,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Ledger is the append-only version history of a run. It is not
// concurrency-safe on its own; the owning run serializes access.
type Ledger struct {
	entries []VersionEntry
	next    map[PhaseID]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{next: make(map[PhaseID]int)}
}

// Append records an artifact transition and returns the created entry.
// The content is snapshotted; later mutation of the artifact does not
// change the entry.
func (l *Ledger) Append(phase PhaseID, decision LedgerDecision, content *Artifact, reviewerNote string) VersionEntry {
	version, ok := l.next[phase]
	if !ok {
		version = 1
	}
	entry := VersionEntry{
		ID:           uuid.New().String(),
		Phase:        phase,
		Version:      version,
		Decision:     decision,
		Content:      content.Clone(),
		ReviewerNote: reviewerNote,
		CreatedAt:    time.Now().UTC(),
	}
	l.entries = append(l.entries, entry)
	l.next[phase] = version + 1
	return entry
}

// Entries returns a copy of the full history in append order.
func (l *Ledger) Entries() []VersionEntry {
	out := make([]VersionEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// PhaseEntries returns the history of a single phase in version order.
func (l *Ledger) PhaseEntries(phase PhaseID) []VersionEntry {
	var out []VersionEntry
	for _, e := range l.entries {
		if e.Phase == phase {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}
