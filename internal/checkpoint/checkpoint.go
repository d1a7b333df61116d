// Package checkpoint persists emergency run snapshots. A snapshot is
// written when a run aborts or the process shuts down mid-run, so the
// ledger and finalized artifacts survive for later inspection.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quillworks/draftd/internal/workflow"
)

const instrumentationName = "github.com/quillworks/draftd/internal/checkpoint"

// Checkpoint is one persisted run snapshot.
type Checkpoint struct {
	RunID    string            `json:"run_id"`
	Reason   string            `json:"reason"`
	SavedAt  time.Time         `json:"saved_at"`
	Snapshot workflow.Snapshot `json:"snapshot"`
}

// Service persists and retrieves run snapshots.
type Service interface {
	// Save writes a snapshot for a run. Saves for the same run overwrite
	// each other; only the latest snapshot is kept.
	Save(ctx context.Context, runID, reason string, snap workflow.Snapshot) (*Checkpoint, error)

	// Load reads the snapshot of a run.
	Load(ctx context.Context, runID string) (*Checkpoint, error)

	// List returns the stored checkpoints, newest first.
	List(ctx context.Context) ([]*Checkpoint, error)

	// Delete removes a run's snapshot.
	Delete(ctx context.Context, runID string) error
}

// ErrNotFound is returned when no checkpoint exists for a run.
var ErrNotFound = errors.New("checkpoint not found")

// service implements Service over a directory of JSON files.
type service struct {
	dir    string
	logger *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter

	mu sync.Mutex
}

// NewService creates a checkpoint service rooted at dir. The directory is
// created if missing.
func NewService(dir string, logger *zap.Logger) (Service, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", dir, err)
	}

	s := &service{
		dir:    dir,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error
	s.saveCounter, err = s.meter.Int64Counter(
		"draftd.checkpoint.saves_total",
		metric.WithDescription("Total number of run snapshots saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}
}

func (s *service) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save implements Service. The file is written to a temp name and renamed
// so readers never observe a partial snapshot.
func (s *service) Save(ctx context.Context, runID, reason string, snap workflow.Snapshot) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("reason", reason),
	)

	if err := validateRunID(runID); err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		RunID:    runID,
		Reason:   reason,
		SavedAt:  time.Now().UTC(),
		Snapshot: snap,
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, runID+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(runID)); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	s.logger.Info("run snapshot saved",
		zap.String("run_id", runID),
		zap.String("reason", reason),
		zap.String("path", s.path(runID)),
	)
	return cp, nil
}

// Load implements Service.
func (s *service) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	_, span := s.tracer.Start(ctx, "checkpoint.load")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	if err := validateRunID(runID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %w", runID, err)
	}
	return &cp, nil
}

// List implements Service.
func (s *service) List(ctx context.Context) ([]*Checkpoint, error) {
	_, span := s.tracer.Start(ctx, "checkpoint.list")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var out []*Checkpoint
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", zap.String("file", name), zap.Error(err))
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			s.logger.Warn("skipping corrupt checkpoint", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SavedAt.After(out[j].SavedAt)
	})
	return out, nil
}

// Delete implements Service.
func (s *service) Delete(ctx context.Context, runID string) error {
	_, span := s.tracer.Start(ctx, "checkpoint.delete")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	if err := validateRunID(runID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(runID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// validateRunID keeps run IDs usable as file names.
func validateRunID(runID string) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	if strings.ContainsAny(runID, "/\\") || strings.Contains(runID, "..") {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}
