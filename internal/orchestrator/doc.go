// Package orchestrator drives requirement-document runs through the phase
// graph. Each run owns a goroutine that executes phases in dependency
// order, fans worker invocations out per phase, suspends at review gates,
// and maintains the append-only version ledger. The Registry is the
// external surface: it starts runs, routes review decisions, serves
// snapshots, and cancels runs.
package orchestrator
