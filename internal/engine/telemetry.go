package engine

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("wxflow.engine")
	meter  = otel.Meter("wxflow.engine")
)

// instruments holds the engine metrics. Creation failures leave the
// corresponding instrument nil and evaluation continues without it.
type instruments struct {
	once           sync.Once
	nodeOutcomes   metric.Int64Counter
	actionDuration metric.Float64Histogram
	activeActions  metric.Int64UpDownCounter
}

func (m *instruments) init(logger *slog.Logger) {
	m.once.Do(func() {
		var initErrors []string

		var err error
		m.nodeOutcomes, err = meter.Int64Counter("wxflow_engine_nodes_total",
			metric.WithDescription("Number of evaluated nodes by final state"),
		)
		if err != nil {
			initErrors = append(initErrors, "nodes_total: "+err.Error())
		}

		m.actionDuration, err = meter.Float64Histogram("wxflow_engine_action_duration_seconds",
			metric.WithDescription("Time spent running task actions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "action_duration: "+err.Error())
		}

		m.activeActions, err = meter.Int64UpDownCounter("wxflow_engine_active_actions",
			metric.WithDescription("Number of task actions currently running"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_actions: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Warn("failed to initialize some engine metrics",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func (m *instruments) recordOutcome(ctx context.Context, n *Node) {
	if m.nodeOutcomes == nil {
		return
	}
	m.nodeOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task.kind", n.Kind.String()),
		attribute.String("task.state", n.State.String()),
	))
}

func (m *instruments) recordAction(ctx context.Context, task string, seconds float64) {
	if m.actionDuration == nil {
		return
	}
	m.actionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("task.name", task)))
}

func (m *instruments) trackActive(ctx context.Context, delta int64) {
	if m.activeActions == nil {
		return
	}
	m.activeActions.Add(ctx, delta)
}
