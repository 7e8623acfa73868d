package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/livesync/core/internal/metrics"
)

func TestNopSink_DiscardsEverything(t *testing.T) {
	assert.NotPanics(t, func() {
		NopSink{}.Report(context.Background(), Event{Name: "whatever", Err: errors.New("boom")})
	})
}

func TestFunc_AdaptsPlainFunctionToSink(t *testing.T) {
	var got Event
	var sink Sink = Func(func(ctx context.Context, ev Event) { got = ev })
	sink.Report(context.Background(), Event{Name: "SharedEvent:invalidRole", ClientID: "peer-1"})
	assert.Equal(t, "SharedEvent:invalidRole", got.Name)
	assert.Equal(t, "peer-1", got.ClientID)
}

func TestLoggingSink_IncrementsTelemetryEventsCounter(t *testing.T) {
	sink := NewLoggingSink()
	before := testutil.ToFloat64(metrics.TelemetryEvents.WithLabelValues("ObjectSynchronizer:getStateFailed"))

	sink.Report(context.Background(), Event{
		Name:     "ObjectSynchronizer:getStateFailed",
		ObjectID: "o1",
		Err:      errors.New("boom"),
		Fields:   map[string]any{"handler": "getState"},
	})

	after := testutil.ToFloat64(metrics.TelemetryEvents.WithLabelValues("ObjectSynchronizer:getStateFailed"))
	assert.Equal(t, before+1, after)
}

func TestLoggingSink_NeverPanicsOnEmptyEvent(t *testing.T) {
	sink := NewLoggingSink()
	assert.NotPanics(t, func() {
		sink.Report(context.Background(), Event{Name: "SharedEvent:invalidRole"})
	})
}

func TestLoggingSink_SatisfiesSinkInterface(t *testing.T) {
	var _ Sink = LoggingSink{}
}
