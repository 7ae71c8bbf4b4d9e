package metrics

import (
	"context"
	"fmt"

	"github.com/elephant-xyz/workflow-core/pkg/workflowevent"
)

// Namespace is the fixed metrics namespace every sample is published under.
const Namespace = "Elephant/Workflow"

// Dimension is one name/value pair attached to a Sample.
type Dimension struct {
	Name  string
	Value string
}

// Sample is one counter sample: namespace, metric name, unit Count, value 1,
// dimensioned by County/Status/Step.
type Sample struct {
	Namespace  string
	MetricName string
	Value      float64
	Unit       string
	Dimensions []Dimension
}

// Sink publishes a batch of samples to an external metrics system. The
// concrete CloudWatch sink lives in cloudwatch.go; tests use a fake.
type Sink interface {
	PutSamples(ctx context.Context, samples []Sample) error
}

// Publisher is the Phase Metrics Publisher (C8).
type Publisher struct {
	sink Sink
}

// NewPublisher builds a Publisher backed by sink.
func NewPublisher(sink Sink) *Publisher {
	return &Publisher{sink: sink}
}

// SampleFor derives the one counter sample a workflow event produces:
// metric name is "${phase}ElephantPhase", dimensions are
// County/Status/Step, value is always 1.
func SampleFor(event workflowevent.Event) Sample {
	return Sample{
		Namespace:  Namespace,
		MetricName: fmt.Sprintf("%sElephantPhase", event.Phase),
		Value:      1,
		Unit:       "Count",
		Dimensions: []Dimension{
			{Name: "County", Value: event.County},
			{Name: "Status", Value: string(event.Status)},
			{Name: "Step", Value: event.Step},
		},
	}
}

// Publish emits the sample for event. A sink error propagates unchanged —
// callers must not swallow it.
func (p *Publisher) Publish(ctx context.Context, event workflowevent.Event) error {
	if err := p.sink.PutSamples(ctx, []Sample{SampleFor(event)}); err != nil {
		return fmt.Errorf("publish phase metric: %w", err)
	}
	return nil
}
