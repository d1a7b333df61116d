package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quillworks/draftd/internal/checkpoint"
	"github.com/quillworks/draftd/internal/logging"
	"github.com/quillworks/draftd/internal/persona"
	"github.com/quillworks/draftd/internal/retry"
	"github.com/quillworks/draftd/internal/workflow"
)

// Options configures runs started by a Registry.
type Options struct {
	// Graph is the phase graph. Defaults to workflow.DefaultGraph().
	Graph *workflow.Graph

	// Provider resolves worker roles. Defaults to persona.DefaultProvider().
	Provider persona.Provider

	// Retry is the per-worker retry policy.
	Retry retry.Policy

	// ErrorThreshold is the number of phase failures tolerated before a run
	// aborts. A run aborts when the failure count exceeds this value.
	ErrorThreshold int

	// AutoApprove finalizes gated phases without suspending for review.
	AutoApprove bool

	// Checkpoints receives emergency snapshots of aborted runs. Optional.
	Checkpoints checkpoint.Service

	// EventBuffer is the capacity of each run's event channel.
	EventBuffer int

	// Logger defaults to a nop logger.
	Logger *logging.Logger
}

func (o *Options) applyDefaults() {
	if o.Graph == nil {
		o.Graph = workflow.DefaultGraph()
	}
	if o.Provider == nil {
		o.Provider = persona.DefaultProvider()
	}
	if o.EventBuffer == 0 {
		o.EventBuffer = 64
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	o.Retry.ApplyDefaults()
}

// Registry starts runs and routes external operations to them. Terminal
// runs stay registered so their final snapshot remains queryable until
// removed.
type Registry struct {
	opts    Options
	logger  *logging.Logger
	metrics *metrics

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRegistry creates a registry.
func NewRegistry(opts Options) *Registry {
	opts.applyDefaults()
	return &Registry{
		opts:    opts,
		logger:  opts.Logger.Named("orchestrator"),
		metrics: newMetrics(opts.Logger.Underlying()),
		runs:    map[string]*Run{},
	}
}

// Start validates the request and launches a new run. The returned run is
// already executing on its own goroutine.
func (reg *Registry) Start(req *workflow.BusinessRequirement) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		ID:          uuid.New().String(),
		graph:       reg.opts.Graph,
		executor:    NewExecutor(reg.opts.Provider, retry.NewController(reg.opts.Retry, reg.logger.Underlying()), reg.logger, reg.metrics),
		threshold:   reg.opts.ErrorThreshold,
		autoApprove: reg.opts.AutoApprove,
		checkpoints: reg.opts.Checkpoints,
		logger:      reg.logger,
		metrics:     reg.metrics,
		state:       workflow.NewState(req),
		decisionCh:  make(chan decisionRequest),
		events:      make(chan Event, reg.opts.EventBuffer),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	reg.mu.Lock()
	reg.runs[r.ID] = r
	reg.mu.Unlock()

	go r.loop(ctx)
	return r, nil
}

// Get returns a run by ID.
func (reg *Registry) Get(id string) (*Run, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrRunNotFound, id)
	}
	return r, nil
}

// Snapshot returns the observable state of a run.
func (reg *Registry) Snapshot(id string) (workflow.Snapshot, error) {
	r, err := reg.Get(id)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	return r.Snapshot(), nil
}

// SubmitDecision routes a review decision to a suspended run.
func (reg *Registry) SubmitDecision(ctx context.Context, id string, phase workflow.PhaseID, decision workflow.ReviewDecision, note string) (workflow.Snapshot, error) {
	r, err := reg.Get(id)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	return r.SubmitDecision(ctx, phase, decision, note)
}

// Cancel aborts a run.
func (reg *Registry) Cancel(id string) error {
	r, err := reg.Get(id)
	if err != nil {
		return err
	}
	r.Cancel()
	return nil
}

// Remove cancels a run if still live and drops it from the registry.
func (reg *Registry) Remove(id string) error {
	reg.mu.Lock()
	r, ok := reg.runs[id]
	if ok {
		delete(reg.runs, id)
	}
	reg.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrRunNotFound, id)
	}
	r.Cancel()
	return nil
}

// List returns the IDs of all registered runs.
func (reg *Registry) List() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.runs))
	for id := range reg.runs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every live run and waits for them to finish.
func (reg *Registry) Shutdown(ctx context.Context) error {
	reg.mu.RLock()
	runs := make([]*Run, 0, len(reg.runs))
	for _, r := range reg.runs {
		runs = append(runs, r)
	}
	reg.mu.RUnlock()

	for _, r := range runs {
		r.Cancel()
	}
	for _, r := range runs {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
