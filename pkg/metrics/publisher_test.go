package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/elephant-xyz/workflow-core/pkg/workflowevent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	samples []Sample
	err     error
}

func (f *fakeSink) PutSamples(ctx context.Context, samples []Sample) error {
	if f.err != nil {
		return f.err
	}
	f.samples = append(f.samples, samples...)
	return nil
}

func TestSampleFor_MatchesWireContract(t *testing.T) {
	event := workflowevent.Event{Phase: "prepare", Step: "download", County: "palmbeach", Status: workflowevent.StatusFailed}
	sample := SampleFor(event)

	assert.Equal(t, Namespace, sample.Namespace)
	assert.Equal(t, "prepareElephantPhase", sample.MetricName)
	assert.Equal(t, "Count", sample.Unit)
	assert.Equal(t, float64(1), sample.Value)
	assert.Equal(t, []Dimension{
		{Name: "County", Value: "palmbeach"},
		{Name: "Status", Value: "FAILED"},
		{Name: "Step", Value: "download"},
	}, sample.Dimensions)
}

func TestPublisher_Publish_PropagatesSinkError(t *testing.T) {
	sink := &fakeSink{err: errors.New("sink unavailable")}
	pub := NewPublisher(sink)

	err := pub.Publish(context.Background(), workflowevent.Event{Phase: "submit"})
	require.Error(t, err)
}

func TestPublisher_Publish_Success(t *testing.T) {
	sink := &fakeSink{}
	pub := NewPublisher(sink)

	require.NoError(t, pub.Publish(context.Background(), workflowevent.Event{Phase: "transform", Step: "rewrite", County: "leon"}))
	require.Len(t, sink.samples, 1)
	assert.Equal(t, "transformElephantPhase", sink.samples[0].MetricName)
}
