package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/quillworks/draftd/internal/orchestrator"

// metrics holds the orchestrator's OpenTelemetry instruments.
type metrics struct {
	runsStarted     metric.Int64Counter
	runsFinished    metric.Int64Counter
	phasesExecuted  metric.Int64Counter
	workerRetries   metric.Int64Counter
	reviewDecisions metric.Int64Counter
}

// newMetrics initializes OpenTelemetry metrics. Instrument creation
// failures are logged, never fatal.
func newMetrics(logger *zap.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}
	var err error

	m.runsStarted, err = meter.Int64Counter(
		"draftd.runs.started_total",
		metric.WithDescription("Total number of runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create runs started counter", zap.Error(err))
	}

	m.runsFinished, err = meter.Int64Counter(
		"draftd.runs.finished_total",
		metric.WithDescription("Total number of runs finished, by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create runs finished counter", zap.Error(err))
	}

	m.phasesExecuted, err = meter.Int64Counter(
		"draftd.phases.executed_total",
		metric.WithDescription("Total number of phase executions, by result"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		logger.Warn("failed to create phases executed counter", zap.Error(err))
	}

	m.workerRetries, err = meter.Int64Counter(
		"draftd.workers.retries_total",
		metric.WithDescription("Total number of worker retry attempts beyond the first"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		logger.Warn("failed to create worker retries counter", zap.Error(err))
	}

	m.reviewDecisions, err = meter.Int64Counter(
		"draftd.reviews.decisions_total",
		metric.WithDescription("Total number of review decisions, by kind"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		logger.Warn("failed to create review decisions counter", zap.Error(err))
	}

	return m
}

func (m *metrics) runStarted(ctx context.Context) {
	if m.runsStarted != nil {
		m.runsStarted.Add(ctx, 1)
	}
}

func (m *metrics) runFinished(ctx context.Context, status string) {
	if m.runsFinished != nil {
		m.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func (m *metrics) phaseExecuted(ctx context.Context, phase, result string) {
	if m.phasesExecuted != nil {
		m.phasesExecuted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", phase),
			attribute.String("result", result),
		))
	}
}

func (m *metrics) workerRetried(ctx context.Context, role string, retries int) {
	if m.workerRetries != nil && retries > 0 {
		m.workerRetries.Add(ctx, int64(retries), metric.WithAttributes(attribute.String("role", role)))
	}
}

func (m *metrics) reviewDecision(ctx context.Context, decision string) {
	if m.reviewDecisions != nil {
		m.reviewDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
	}
}
