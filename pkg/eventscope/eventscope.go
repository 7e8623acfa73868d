// Package eventscope implements a typed, role-filtered send/receive layer
// over a raw signaling.RuntimeSignaler: a role-gated broadcast generalized
// into a standalone, reusable scope that any named event stream can use.
package eventscope

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/livesync/core/internal/logging"
	"github.com/livesync/core/internal/metrics"
	"github.com/livesync/core/pkg/ratelimit"
	"github.com/livesync/core/pkg/roles"
	"github.com/livesync/core/pkg/signaling"
	"github.com/livesync/core/pkg/synccore"
	"github.com/livesync/core/pkg/telemetry"
)

// Listener receives one delivered event: the completed envelope and
// whether it originated at this client.
type Listener func(envelope signaling.Envelope, local bool)

// ListenerID is returned by OnEvent and passed back to OffEvent to
// remove a specific listener. Go functions aren't comparable, so the
// scope hands out a token rather than matching on the func value.
type ListenerID uint64

// Scope is a named, role-filtered broadcast channel over one
// RuntimeSignaler. It does not own the runtime.
type Scope struct {
	runtime  signaling.RuntimeSignaler
	verifier *roles.Verifier
	sink     telemetry.Sink
	now      signaling.TimestampSource
	limiter  *ratelimit.Limiter

	mu           sync.RWMutex
	allowedRoles []roles.Role
	listeners    map[string]map[ListenerID]Listener
	nextID       ListenerID
}

// Option configures a Scope at construction time.
type Option func(*Scope)

// WithRateLimit attaches a rate limiter to outbound sends, keyed by
// client id and event name. A limited send is dropped silently and not
// retried — the caller is never blocked or errored.
func WithRateLimit(l *ratelimit.Limiter) Option {
	return func(s *Scope) { s.limiter = l }
}

// WithAllowedRoles seeds the initial role filter. Defaults to empty,
// which allows every sender through.
func WithAllowedRoles(allowed ...roles.Role) Option {
	return func(s *Scope) { s.allowedRoles = allowed }
}

// New constructs an Event Scope over runtime. verifier resolves a
// sender's roles for the inbound role gate; sink receives every caught
// failure; now supplies outbound timestamps.
func New(runtime signaling.RuntimeSignaler, verifier *roles.Verifier, sink telemetry.Sink, now signaling.TimestampSource, opts ...Option) *Scope {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	s := &Scope{
		runtime:   runtime,
		verifier:  verifier,
		sink:      sink,
		now:       now,
		listeners: make(map[string]map[ListenerID]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	runtime.OnSignal(s.handleSignal)
	return s
}

// AllowedRoles returns the current inbound role filter.
func (s *Scope) AllowedRoles() []roles.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]roles.Role(nil), s.allowedRoles...)
}

// SetAllowedRoles replaces the inbound role filter at runtime. Outbound
// sends are never filtered locally regardless of this setting.
func (s *Scope) SetAllowedRoles(allowed []roles.Role) {
	s.mu.Lock()
	s.allowedRoles = append([]roles.Role(nil), allowed...)
	s.mu.Unlock()
}

// SendEvent stamps partial with name, the current timestamp, and this
// connection's clientId, submits it to the signaler, and returns the
// completed envelope. It never blocks on delivery confirmation; if the
// runtime is disconnected the clientId is whatever the runtime reports
// (possibly absent) and the signal is dropped rather than submitted.
func (s *Scope) SendEvent(ctx context.Context, name string, partial map[string]any) (signaling.Envelope, error) {
	if partial == nil {
		partial = map[string]any{}
	}
	payload, err := json.Marshal(partial)
	if err != nil {
		return signaling.Envelope{}, fmt.Errorf("eventscope: failed to marshal payload for %q: %w", name, err)
	}

	env := signaling.Envelope{
		Name:      name,
		Timestamp: s.now(),
		Payload:   payload,
	}
	if cid, ok := s.runtime.ClientID(); ok {
		env.ClientID = &cid
	}

	metrics.EventsSent.WithLabelValues(name).Inc()

	if !s.runtime.Connected() {
		logging.Warn(ctx, "eventscope: dropping send, runtime disconnected", zap.String("event", name))
		return env, nil
	}
	if s.limiter != nil {
		key := name
		if env.ClientID != nil {
			key = string(*env.ClientID) + ":" + name
		}
		if !s.limiter.Allow(ctx, key) {
			metrics.EventsThrottled.WithLabelValues(name).Inc()
			return env, nil
		}
	}

	content, err := json.Marshal(env)
	if err != nil {
		return signaling.Envelope{}, fmt.Errorf("eventscope: failed to marshal envelope for %q: %w", name, err)
	}
	if err := s.runtime.SubmitSignal(ctx, signaling.MessageType(name), content); err != nil {
		logging.Warn(ctx, "eventscope: submit failed, treating as transport disconnect", zap.String("event", name), zap.Error(err))
	}
	return env, nil
}

// OnEvent registers listener for events named name and returns a token
// that can be passed to OffEvent to remove it.
func (s *Scope) OnEvent(name string, listener Listener) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if s.listeners[name] == nil {
		s.listeners[name] = make(map[ListenerID]Listener)
	}
	s.listeners[name][id] = listener
	return id
}

// OffEvent removes a listener previously registered with OnEvent.
func (s *Scope) OffEvent(name string, id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners[name], id)
}

// handleSignal is the RuntimeSignaler's "signal" callback: drop if
// disconnected or unattributed, rewrite clientId to the carrier's
// identity, role-gate, then dispatch.
func (s *Scope) handleSignal(msg signaling.InboundSignalMessage, local bool) {
	ctx := context.Background()
	name := string(msg.Type)

	if !s.runtime.Connected() {
		return
	}
	if msg.ClientID == nil {
		return
	}

	var env signaling.Envelope
	if err := json.Unmarshal(msg.Content, &env); err != nil {
		logging.Warn(ctx, "eventscope: failed to decode envelope", zap.String("event", name), zap.Error(err))
		return
	}
	// Sender-identity spoofing guard: the envelope's clientId is always
	// overwritten with the carrier-supplied identifier, never trusted
	// from the decoded payload.
	env = env.WithClientID(*msg.ClientID)
	env.Name = name

	if !local {
		allowed := s.AllowedRoles()
		if len(allowed) > 0 && !s.verifier.VerifyRolesAllowed(ctx, string(*msg.ClientID), allowed) {
			metrics.EventsRejected.WithLabelValues(name, "invalidRole").Inc()
			s.sink.Report(ctx, telemetry.Event{
				Name:     "SharedEvent:invalidRole",
				ClientID: string(*msg.ClientID),
				Fields:   map[string]any{"event": name},
			})
			return
		}
	}

	metrics.EventsDelivered.WithLabelValues(name).Inc()
	s.dispatch(ctx, name, env, local)
}

func (s *Scope) dispatch(ctx context.Context, name string, env signaling.Envelope, local bool) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners[name]))
	for _, l := range s.listeners[name] {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		s.invokeListener(ctx, name, env, local, l)
	}
}

// invokeListener calls listener with panic recovery: a listener failure
// must never interrupt other listeners or propagate to the carrier.
func (s *Scope) invokeListener(ctx context.Context, name string, env signaling.Envelope, local bool, l Listener) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerFailures.WithLabelValues("listener").Inc()
			err := fmt.Errorf("%w: listener for %q panicked: %v", synccore.ErrHandlerFailure, name, r)
			logging.Error(ctx, "eventscope: listener panicked", zap.String("event", name), zap.Any("panic", r))
			s.sink.Report(ctx, telemetry.Event{
				Name:     "SharedEvent:listenerFailure",
				ClientID: envClientID(env),
				Err:      err,
				Fields:   map[string]any{"event": name},
			})
		}
	}()
	l(env, local)
}

func envClientID(env signaling.Envelope) string {
	if env.ClientID == nil {
		return ""
	}
	return string(*env.ClientID)
}
