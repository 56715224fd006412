package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OTel metric instruments for the bot.
type Metrics struct {
	ProviderAttempts metric.Int64Counter
	ResolverPages    metric.Int64Counter
	Classified       metric.Int64Counter
}

// NewMetrics creates the metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(TracerName)

	attempts, err := meter.Int64Counter("valreg.provider.attempts",
		metric.WithDescription("Outbound provider call attempts, by operation and outcome"),
	)
	if err != nil {
		return nil, err
	}

	pages, err := meter.Int64Counter("valreg.resolver.pages",
		metric.WithDescription("Workflow run pages scanned while resolving the target run"),
	)
	if err != nil {
		return nil, err
	}

	classified, err := meter.Int64Counter("valreg.compare.metrics",
		metric.WithDescription("Metrics classified by the comparator, by class"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ProviderAttempts: attempts,
		ResolverPages:    pages,
		Classified:       classified,
	}, nil
}

// RecordAttempt records one provider call attempt. Safe on a nil receiver.
func (m *Metrics) RecordAttempt(ctx context.Context, op string, ok bool) {
	if m == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.ProviderAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordPage records one scanned resolver page. Safe on a nil receiver.
func (m *Metrics) RecordPage(ctx context.Context) {
	if m == nil {
		return
	}
	m.ResolverPages.Add(ctx, 1)
}

// RecordClassified records n metrics filed into class. Safe on a nil receiver.
func (m *Metrics) RecordClassified(ctx context.Context, class string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Classified.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("class", class)),
	)
}
