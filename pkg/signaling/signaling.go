// Package signaling defines the carrier-facing interfaces this module
// consumes but does not implement: the raw, unreliable signal channel
// supplied by the host's data-collaboration runtime.
//
// Everything in this package is a boundary. The concrete runtime that
// satisfies these interfaces — token acquisition, transport, reconnect
// policy — lives outside this module.
package signaling

import "context"

// ClientID is the opaque, per-connection identifier assigned by the
// carrier. It is unique among currently-connected peers and is not stable
// across reconnects.
type ClientID string

// MessageType names a signal's payload shape. The core recognizes
// "connect" and "update"; the Event Scope layer uses the same wire
// envelope with application-chosen names.
type MessageType string

// InboundSignalMessage is the shape the carrier hands back to a "signal"
// listener: a message type, the trusted sender identifier (nil if the
// carrier could not attribute one), and an opaque content blob.
type InboundSignalMessage struct {
	Type     MessageType
	ClientID *ClientID
	Content  []byte
}

// TimestampSource returns a session-consistent int64-millis value. It is
// explicitly not assumed to be wall-clock time — only that every client in
// the session draws from the same reference, so Newer() comparisons (see
// pkg/freshness) converge.
type TimestampSource func() int64

// RuntimeSignaler is the per-connection carrier primitive: submit outbound
// signals, observe this connection's own identifier and connectedness, and
// subscribe to inbound "connected"/"signal" events.
//
// Implementations must never block inside SubmitSignal; delivery is
// fire-and-forget from the core's point of view.
type RuntimeSignaler interface {
	ClientID() (ClientID, bool)
	Connected() bool
	SubmitSignal(ctx context.Context, msgType MessageType, content []byte) error
	OnConnected(fn func())
	OnSignal(fn func(msg InboundSignalMessage, local bool))
}

// ContainerRuntimeSignaler is the container-scoped variant used by the
// Object Synchronizer: it has no notion of "this connection's" identity,
// only the ability to submit and observe signals for the whole container.
type ContainerRuntimeSignaler interface {
	SubmitSignal(ctx context.Context, msgType MessageType, content []byte) error
	OnSignal(fn func(msg InboundSignalMessage, local bool))
}

// Identity returns a stable key for a ContainerRuntimeSignaler, suitable
// as the key a host passes to objectsync.Acquire; the registry itself is
// keyed by that argument and never calls ContainerIdentity. Implementations
// that can be compared by identity (e.g. a pointer-backed
// struct) should return a key derived from that identity, not from
// container contents that can change over the container's lifetime.
type Identity interface {
	ContainerIdentity() string
}
