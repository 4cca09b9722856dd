package eventbus

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/issuepilot/issuepilot/internal/telemetry"
)

// MetricsHandler counts events flowing through the bus, tagged by kind.
// Runs first so every delivered event is counted regardless of what later
// handlers do with it.
type MetricsHandler struct {
	handled metric.Int64Counter
}

var metricsOnce sync.Once
var busMetrics struct {
	handled metric.Int64Counter
}

// NewMetricsHandler creates the counting handler.
func NewMetricsHandler() *MetricsHandler {
	metricsOnce.Do(func() {
		m := telemetry.Meter("github.com/issuepilot/issuepilot/eventbus")
		busMetrics.handled, _ = m.Int64Counter("pilot.events.handled",
			metric.WithDescription("Lifecycle trigger events dispatched on the bus"))
	})
	return &MetricsHandler{handled: busMetrics.handled}
}

func (h *MetricsHandler) ID() string { return "metrics" }

func (h *MetricsHandler) Priority() int { return 0 }

func (h *MetricsHandler) Handles() []EventKind {
	return []EventKind{
		EventIssueOpened, EventIssueClosed, EventPRMerged,
		EventReviewApproved, EventReviewRejected, EventRetry,
	}
}

func (h *MetricsHandler) Handle(ctx context.Context, event *Event) error {
	if h.handled == nil {
		return nil
	}
	h.handled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pilot.event", string(event.Kind)),
	))
	return nil
}
