package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all Planvault metrics instruments.
type Metrics struct {
	OperationDuration metric.Float64Histogram
	Transitions       metric.Int64Counter
	Conflicts         metric.Int64Counter
	Denials           metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.OperationDuration, err = meter.Float64Histogram("planvault.operation.duration",
		metric.WithDescription("Service operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.Transitions, err = meter.Int64Counter("planvault.transitions",
		metric.WithDescription("Committed plan and task status transitions"),
	)
	if err != nil {
		return nil, err
	}

	m.Conflicts, err = meter.Int64Counter("planvault.conflicts",
		metric.WithDescription("Activation attempts rejected by the active-plan constraint"),
	)
	if err != nil {
		return nil, err
	}

	m.Denials, err = meter.Int64Counter("planvault.denials",
		metric.WithDescription("Operations denied by session ownership checks"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
