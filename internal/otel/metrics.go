package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the refine metric instruments.
type Metrics struct {
	StepDuration     metric.Float64Histogram
	StepsTotal       metric.Int64Counter
	StepErrors       metric.Int64Counter
	CycleRepetitions metric.Int64Counter
	ActiveCycles     metric.Int64UpDownCounter
	LLMCallDuration  metric.Float64Histogram
	LLMTokens        metric.Int64Counter
	ArtifactBytes    metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.StepDuration, err = meter.Float64Histogram("refine.step.duration",
		metric.WithDescription("Step execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.StepsTotal, err = meter.Int64Counter("refine.step.total",
		metric.WithDescription("Total steps executed"),
	)
	if err != nil {
		return nil, err
	}

	m.StepErrors, err = meter.Int64Counter("refine.step.errors",
		metric.WithDescription("Step execution failures"),
	)
	if err != nil {
		return nil, err
	}

	m.CycleRepetitions, err = meter.Int64Counter("refine.cycle.repetitions",
		metric.WithDescription("Feedback cycle repetitions"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveCycles, err = meter.Int64UpDownCounter("refine.cycle.active",
		metric.WithDescription("Number of feedback cycles currently running"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("refine.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMTokens, err = meter.Int64Counter("refine.llm.tokens",
		metric.WithDescription("Estimated LLM tokens by direction"),
	)
	if err != nil {
		return nil, err
	}

	m.ArtifactBytes, err = meter.Int64Counter("refine.artifact.bytes",
		metric.WithDescription("Bytes written to artifacts"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
