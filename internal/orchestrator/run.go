package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quillworks/draftd/internal/checkpoint"
	"github.com/quillworks/draftd/internal/logging"
	"github.com/quillworks/draftd/internal/persona"
	"github.com/quillworks/draftd/internal/workflow"
)

// EventType classifies run lifecycle events.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventPhaseStarted    EventType = "phase_started"
	EventPhaseCompleted  EventType = "phase_completed"
	EventPhaseFailed     EventType = "phase_failed"
	EventReviewRequested EventType = "review_requested"
	EventPhaseRevised    EventType = "phase_revised"
	EventRunCompleted    EventType = "run_completed"
	EventRunAborted      EventType = "run_aborted"
)

// Event is one observable run transition, delivered on the run's event
// channel. Slow consumers lose events rather than stall the run.
type Event struct {
	Type   EventType        `json:"type"`
	RunID  string           `json:"run_id"`
	Phase  workflow.PhaseID `json:"phase,omitempty"`
	Detail string           `json:"detail,omitempty"`
}

// decisionRequest carries a reviewer verdict into the run goroutine.
type decisionRequest struct {
	phase    workflow.PhaseID
	decision workflow.ReviewDecision
	note     string
	reply    chan decisionReply
}

type decisionReply struct {
	snapshot workflow.Snapshot
	err      error
}

// Run is one pipeline execution. All state mutation happens on the run's
// own goroutine; external callers interact through channels and the
// mutex-guarded snapshot accessors.
type Run struct {
	ID string

	graph       *workflow.Graph
	executor    *Executor
	threshold   int
	autoApprove bool
	checkpoints checkpoint.Service
	logger      *logging.Logger
	metrics     *metrics

	mu          sync.RWMutex
	state       *workflow.State
	abortReason string

	decisionCh chan decisionRequest
	events     chan Event
	cancel     context.CancelFunc
	done       chan struct{}
}

// Done is closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Events returns the run's event stream. The channel closes when the run
// finishes.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Status returns the current run status.
func (r *Run) Status() workflow.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Status
}

// Snapshot returns a deep copy of the observable run state.
func (r *Run) Snapshot() workflow.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Snapshot(r.abortReason)
}

// Cancel aborts the run. Safe to call at any time, including after the run
// has finished.
func (r *Run) Cancel() {
	r.cancel()
}

// SubmitDecision routes a reviewer verdict to the run. It returns
// workflow.ErrInvalidDecision unless the run is awaiting review at exactly
// this phase. For inspect decisions the returned snapshot carries the
// pending artifact; approve and revise return the post-decision snapshot.
func (r *Run) SubmitDecision(ctx context.Context, phase workflow.PhaseID, decision workflow.ReviewDecision, note string) (workflow.Snapshot, error) {
	if !r.awaiting(phase) {
		return workflow.Snapshot{}, fmt.Errorf("%w: phase %s", workflow.ErrInvalidDecision, phase)
	}

	req := decisionRequest{
		phase:    phase,
		decision: decision,
		note:     note,
		reply:    make(chan decisionReply, 1),
	}

	select {
	case r.decisionCh <- req:
	case <-r.done:
		return workflow.Snapshot{}, fmt.Errorf("%w: run already finished", workflow.ErrInvalidDecision)
	case <-ctx.Done():
		return workflow.Snapshot{}, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		return rep.snapshot, rep.err
	case <-r.done:
		// The reply may have been buffered just before the run finished.
		select {
		case rep := <-req.reply:
			return rep.snapshot, rep.err
		default:
			return workflow.Snapshot{}, fmt.Errorf("%w: run already finished", workflow.ErrInvalidDecision)
		}
	}
}

// awaiting reports whether the run is suspended at a review gate for phase.
func (r *Run) awaiting(phase workflow.PhaseID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Status == workflow.StatusAwaitingReview && r.state.Pending(phase) != nil
}

// loop drives the run to a terminal status.
func (r *Run) loop(ctx context.Context) {
	defer close(r.done)
	defer close(r.events)

	ctx = logging.WithRunID(ctx, r.ID)

	r.setStatus(workflow.StatusRunning)
	r.metrics.runStarted(ctx)
	r.emit(Event{Type: EventRunStarted})
	r.logger.Info(ctx, "run started")

	for {
		if ctx.Err() != nil {
			r.abort(ctx, "run canceled")
			return
		}

		next, ok := r.graph.NextRunnable(r.finalized(), r.failed())
		if !ok {
			if len(r.finalized()) == r.graph.Len() {
				r.complete(ctx)
			} else {
				r.abort(ctx, "no runnable phase remains")
			}
			return
		}

		if !r.runPhase(ctx, next) {
			return
		}
	}
}

// runPhase executes one phase through its gate, if any. It returns false
// when the run reached a terminal status.
func (r *Run) runPhase(ctx context.Context, spec workflow.PhaseSpec) bool {
	r.setCurrent(spec.ID)
	ctx = logging.WithPhase(ctx, string(spec.ID))

	r.emit(Event{Type: EventPhaseStarted, Phase: spec.ID})
	r.logger.Info(ctx, "phase started",
		zap.Bool("parallel", spec.Parallel),
		zap.Bool("gated", spec.Gated),
		zap.Int("workers", len(spec.RequiredWorkers)),
	)

	art, err := r.execute(ctx, spec, "")
	if err != nil {
		return r.handlePhaseFailure(ctx, spec, err)
	}

	if spec.Gated && !r.autoApprove {
		return r.awaitReview(ctx, spec, art)
	}

	r.acceptPhase(ctx, spec, art)
	return true
}

// execute invokes the phase's workers with the current upstream artifacts.
func (r *Run) execute(ctx context.Context, spec workflow.PhaseSpec, instructions string) (*workflow.Artifact, error) {
	r.mu.RLock()
	in := persona.Input{
		Request:      r.state.Request,
		Artifacts:    r.state.Artifacts(),
		Instructions: instructions,
	}
	r.mu.RUnlock()

	return r.executor.ExecutePhase(ctx, spec, in)
}

// awaitReview parks the run at the phase's gate and applies reviewer
// decisions until the phase is approved or the run terminates.
func (r *Run) awaitReview(ctx context.Context, spec workflow.PhaseSpec, art *workflow.Artifact) bool {
	r.stagePending(spec.ID, art)
	r.emit(Event{Type: EventReviewRequested, Phase: spec.ID})
	r.logger.Info(ctx, "awaiting review")

	for {
		select {
		case <-ctx.Done():
			r.abort(ctx, "run canceled")
			return false

		case req := <-r.decisionCh:
			if req.phase != spec.ID {
				req.reply <- decisionReply{err: fmt.Errorf("%w: phase %s", workflow.ErrInvalidDecision, req.phase)}
				continue
			}
			r.metrics.reviewDecision(ctx, string(req.decision))

			switch req.decision {
			case workflow.ReviewInspect:
				req.reply <- decisionReply{snapshot: r.Snapshot()}

			case workflow.ReviewApprove:
				r.approvePending(spec.ID, req.note)
				req.reply <- decisionReply{snapshot: r.Snapshot()}
				r.metrics.phaseExecuted(ctx, string(spec.ID), "approved")
				r.emit(Event{Type: EventPhaseCompleted, Phase: spec.ID})
				r.logger.Info(ctx, "phase approved", zap.String("note", req.note))
				return true

			case workflow.ReviewRevise:
				r.revisePending(spec.ID, req.note)
				req.reply <- decisionReply{snapshot: r.Snapshot()}
				r.emit(Event{Type: EventPhaseRevised, Phase: spec.ID, Detail: req.note})
				r.logger.Info(ctx, "phase sent back for revision", zap.String("note", req.note))

				next, err := r.execute(ctx, spec, req.note)
				if err != nil {
					return r.handlePhaseFailure(ctx, spec, err)
				}
				r.stagePending(spec.ID, next)
				r.emit(Event{Type: EventReviewRequested, Phase: spec.ID})
				r.logger.Info(ctx, "awaiting review of revision")

			default:
				req.reply <- decisionReply{err: fmt.Errorf("%w: unknown decision %q", workflow.ErrInvalidDecision, req.decision)}
			}
		}
	}
}

// handlePhaseFailure books a failed phase against the error budget. It
// returns false when the budget is exceeded and the run aborts.
func (r *Run) handlePhaseFailure(ctx context.Context, spec workflow.PhaseSpec, err error) bool {
	r.mu.Lock()
	count := r.state.MarkFailed(spec.ID)
	r.state.Status = workflow.StatusRunning
	r.mu.Unlock()

	r.metrics.phaseExecuted(ctx, string(spec.ID), "failed")
	r.emit(Event{Type: EventPhaseFailed, Phase: spec.ID, Detail: err.Error()})
	r.logger.Error(ctx, "phase failed",
		zap.Error(err),
		zap.Int("error_count", count),
		zap.Int("error_threshold", r.threshold),
	)

	if count > r.threshold {
		r.abort(ctx, fmt.Sprintf("error threshold exceeded: %d failures (threshold %d)", count, r.threshold))
		return false
	}
	return true
}

// acceptPhase finalizes an ungated (or auto-approved) phase.
func (r *Run) acceptPhase(ctx context.Context, spec workflow.PhaseSpec, art *workflow.Artifact) {
	r.mu.Lock()
	if err := r.state.Accept(spec.ID, art); err != nil {
		// Unreachable while NextRunnable skips finalized phases.
		r.logger.Error(ctx, "accept failed", zap.Error(err))
	}
	r.mu.Unlock()

	r.metrics.phaseExecuted(ctx, string(spec.ID), "completed")
	r.emit(Event{Type: EventPhaseCompleted, Phase: spec.ID})
	r.logger.Info(ctx, "phase completed")
}

func (r *Run) complete(ctx context.Context) {
	r.setStatus(workflow.StatusCompleted)
	r.metrics.runFinished(ctx, string(workflow.StatusCompleted))
	r.emit(Event{Type: EventRunCompleted})
	r.logger.Info(ctx, "run completed")
}

// abort moves the run to its aborted terminal status and saves an
// emergency snapshot so the ledger survives.
func (r *Run) abort(ctx context.Context, reason string) {
	r.mu.Lock()
	r.state.Status = workflow.StatusAborted
	r.abortReason = reason
	// The emergency snapshot keeps the pending artifact for diagnosis; the
	// live state discards it.
	snap := r.state.Snapshot(reason)
	r.state.DiscardPending()
	r.mu.Unlock()

	r.metrics.runFinished(ctx, string(workflow.StatusAborted))
	r.emit(Event{Type: EventRunAborted, Detail: reason})
	r.logger.Warn(ctx, "run aborted", zap.String("reason", reason))

	if r.checkpoints != nil {
		// Use a fresh context so a canceled run still gets its snapshot.
		if _, err := r.checkpoints.Save(context.WithoutCancel(ctx), r.ID, reason, snap); err != nil {
			r.logger.Error(ctx, "failed to save emergency snapshot", zap.Error(err))
		}
	}
}

// Accessors used by the loop; each takes the lock briefly.

func (r *Run) setStatus(s workflow.Status) {
	r.mu.Lock()
	r.state.Status = s
	r.mu.Unlock()
}

func (r *Run) setCurrent(p workflow.PhaseID) {
	r.mu.Lock()
	r.state.Current = p
	r.mu.Unlock()
}

func (r *Run) stagePending(p workflow.PhaseID, art *workflow.Artifact) {
	r.mu.Lock()
	_ = r.state.StagePending(p, art)
	r.state.Status = workflow.StatusAwaitingReview
	r.mu.Unlock()
}

func (r *Run) approvePending(p workflow.PhaseID, note string) {
	r.mu.Lock()
	_ = r.state.Approve(p, note)
	r.state.Status = workflow.StatusRunning
	r.mu.Unlock()
}

func (r *Run) revisePending(p workflow.PhaseID, note string) {
	r.mu.Lock()
	_ = r.state.Revise(p, note)
	r.state.Status = workflow.StatusRunning
	r.mu.Unlock()
}

func (r *Run) finalized() map[workflow.PhaseID]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.FinalizedPhases()
}

func (r *Run) failed() map[workflow.PhaseID]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.FailedPhases()
}

// emit delivers an event without ever blocking the run.
func (r *Run) emit(ev Event) {
	ev.RunID = r.ID
	select {
	case r.events <- ev:
	default:
	}
}
