// Package telemetry is the structured error/diagnostic sink the Event
// Scope and Object Synchronizer report to. Every caught panic, rejected
// sender, and failed handler is forwarded here with a stable event name
// instead of propagating to the carrier.
package telemetry

import (
	"context"

	"go.uber.org/zap"

	"github.com/livesync/core/internal/logging"
	"github.com/livesync/core/internal/metrics"
)

// Event is one reported diagnostic: a stable, colon-separated event name (e.g.
// "SharedEvent:invalidRole", "ObjectSynchronizer:getStateFailed"), the
// object or event name it concerns, and the error that triggered it.
type Event struct {
	Name      string
	ObjectID  string
	ClientID  string
	Err       error
	Fields    map[string]any
}

// Sink receives telemetry events. Implementations must not block the
// caller for long and must never panic — a telemetry failure must not
// become a synchronizer failure.
type Sink interface {
	Report(ctx context.Context, ev Event)
}

// NopSink discards everything. Useful as a zero-value default so core
// packages never need a nil check before reporting.
type NopSink struct{}

func (NopSink) Report(context.Context, Event) {}

// Func adapts a plain function to the Sink interface.
type Func func(ctx context.Context, ev Event)

func (f Func) Report(ctx context.Context, ev Event) { f(ctx, ev) }

// LoggingSink is the default Sink: it logs every event via
// internal/logging (zap) at warn level and increments
// livesync_telemetry_events_total, labeled by the event's stable name.
type LoggingSink struct{}

// NewLoggingSink constructs the default log+metric Sink.
func NewLoggingSink() LoggingSink { return LoggingSink{} }

func (LoggingSink) Report(ctx context.Context, ev Event) {
	metrics.TelemetryEvents.WithLabelValues(ev.Name).Inc()

	fields := make([]zap.Field, 0, len(ev.Fields)+3)
	if ev.ObjectID != "" {
		fields = append(fields, zap.String("objectId", ev.ObjectID))
	}
	if ev.ClientID != "" {
		fields = append(fields, zap.String("clientId", ev.ClientID))
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}
	for k, v := range ev.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	logging.Warn(ctx, "telemetry: "+ev.Name, fields...)
}
