package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livesync/core/internal/logging"
	"github.com/livesync/core/pkg/eventscope"
	"github.com/livesync/core/pkg/freshness"
	"github.com/livesync/core/pkg/objectsync"
	"github.com/livesync/core/pkg/ratelimit"
	"github.com/livesync/core/pkg/roles"
	"github.com/livesync/core/pkg/signaling"
	"github.com/livesync/core/pkg/telemetry"
	"github.com/livesync/core/pkg/transport/wssignaler"
)

// presenceState is the shared object every container synchronizes: a
// peer count stamped with the Event Freshness Rule's (timestamp,
// clientId) pair, so peers could fold concurrent snapshots
// deterministically if more than one source ever authored it.
type presenceState struct {
	freshness.Stamp
	PeerCount int `json:"peerCount"`
}

// container bundles one collaboration session: the websocket Hub peers
// attach to, the Object Synchronizer tracking presence, and an Event
// Scope for host-originated announcements.
type container struct {
	id    string
	hub   *wssignaler.Hub
	sync  *objectsync.Synchronizer
	scope *eventscope.Scope

	presence *objectsync.Object
}

// subscriber is implemented by redissignaler.Service; wiring it here (and
// not just SetUpstream) is what makes a frame published by another pod's
// Hub for this same container actually reach this Hub's local peers.
type subscriber interface {
	OnSignal(fn func(msg signaling.InboundSignalMessage, local bool))
	Subscribe(ctx context.Context, wg *sync.WaitGroup)
}

func newContainer(id string, verifier *roles.Verifier, limiter *ratelimit.Limiter, sink telemetry.Sink, upstream wssignaler.Upstream) *container {
	hub := wssignaler.NewHub(id)
	if upstream != nil {
		hub.SetUpstream(upstream)
		if sub, ok := upstream.(subscriber); ok {
			sub.OnSignal(func(msg signaling.InboundSignalMessage, local bool) {
				if !local {
					hub.InjectRemote(msg.Type, msg.Content)
				}
			})
			sub.Subscribe(context.Background(), nil)
		}
	}

	sync := objectsync.Acquire(id, hub, hub, sink)
	scope := eventscope.New(hub, verifier, sink, func() int64 { return time.Now().UnixMilli() },
		eventscope.WithRateLimit(limiter))

	c := &container{id: id, hub: hub, sync: sync, scope: scope}

	presence, err := objectsync.NewObject(sync, "presence", c.getPresence, c.applyPresence)
	if err != nil {
		logging.Error(nil, "demo: failed to register presence object", zap.Error(err), zap.String("container", id))
	}
	c.presence = presence

	scope.OnEvent("announce", func(env signaling.Envelope, local bool) {
		if local {
			return
		}
		logging.Info(nil, "demo: announcement received", zap.String("container", id), zap.ByteString("payload", env.Payload))
	})

	return c
}

func (c *container) getPresence(connecting bool) (any, bool) {
	return presenceState{
		Stamp:     freshness.Stamp{Timestamp: time.Now().UnixMilli(), ClientID: "__hub__"},
		PeerCount: c.hub.PeerCount(),
	}, true
}

func (c *container) applyPresence(connecting bool, state json.RawMessage, senderID string) {
	// This demo host is the sole authority for "presence" (it derives
	// the count from its own Hub), so remote updates are logged but not
	// folded in; a multi-writer object would use freshness.Winner here
	// instead of ignoring the remote value.
	logging.Info(nil, "demo: received remote presence update", zap.String("from", senderID))
}

func (c *container) dispose() {
	if c.presence != nil {
		c.presence.Dispose()
	}
}

// registry is the demo host's per-container directory: lazily created on
// first connection, looked up by every subsequent one.
// upstreamFactory, if set, builds one
// cross-pod replication channel per container (e.g. a redissignaler.Service
// scoped to that container's own channel); a nil factory runs single-process
// only.
type registry struct {
	mu              sync.Mutex
	containers      map[string]*container
	verifier        *roles.Verifier
	limiter         *ratelimit.Limiter
	sink            telemetry.Sink
	upstreamFactory func(containerID string) wssignaler.Upstream
}

func newRegistry(verifier *roles.Verifier, limiter *ratelimit.Limiter, sink telemetry.Sink, upstreamFactory func(string) wssignaler.Upstream) *registry {
	return &registry{
		containers:      make(map[string]*container),
		verifier:        verifier,
		limiter:         limiter,
		sink:            sink,
		upstreamFactory: upstreamFactory,
	}
}

func (r *registry) getOrCreate(id string) *container {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[id]; ok {
		return c
	}
	var upstream wssignaler.Upstream
	if r.upstreamFactory != nil {
		upstream = r.upstreamFactory(id)
	}
	c := newContainer(id, r.verifier, r.limiter, r.sink, upstream)
	r.containers[id] = c
	return c
}
