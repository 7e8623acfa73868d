// Package objectsync implements a periodic, coalesced, connect/update
// protocol that reconciles per-object state across every peer in a
// container, multiplexed over a single signal stream. A Synchronizer is
// a process-wide registry entry keyed by an external identity,
// reference-counted and torn down on last release: one per container,
// cleaned up when its refcount hits zero.
package objectsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/livesync/core/internal/logging"
	"github.com/livesync/core/internal/metrics"
	"github.com/livesync/core/pkg/signaling"
	"github.com/livesync/core/pkg/synccore"
	"github.com/livesync/core/pkg/telemetry"
)

const (
	connectSignal = signaling.MessageType("connect")
	updateSignal  = signaling.MessageType("update")
)

// DefaultUpdateInterval is the process-global periodic tick cadence.
// Changing it only affects Synchronizers created afterward.
var DefaultUpdateInterval = 5 * time.Second

// connectDebounce is how long a freshly-connected registration waits for
// sibling registrations before flushing its connect burst. Registering
// several objects back-to-back while already connected must still
// collapse into one coalesced connect signal, not one per id; a brief
// debounce window stands in for the batching a single-threaded
// microtask scheduler would give for free.
const connectDebounce = 2 * time.Millisecond

// Synchronizer is one container's live coordinator: it multiplexes every
// registered object's get/apply pair over a single ContainerRuntimeSignaler
// and a single RuntimeSignaler used only to observe this connection's
// connectedness.
type Synchronizer struct {
	key       string
	runtime   signaling.RuntimeSignaler
	container signaling.ContainerRuntimeSignaler
	interval  time.Duration
	sink      telemetry.Sink

	mu              sync.Mutex
	objects         map[string]RegisteredObject
	connectedKeys   set.Set[string]
	unconnectedKeys set.Set[string]
	refCount        int
	ticker          *time.Ticker
	stopCh          chan struct{}
	tickWG          sync.WaitGroup
	inTick          atomic.Bool

	pendingConnect set.Set[string]
	connectTimer   *time.Timer
}

// Acquire returns the Synchronizer for the container identified by key,
// creating it on first use: exactly one Synchronizer exists per distinct
// container-runtime identity at any time. runtime observes this
// connection's connectedness; container carries the actual connect/
// update traffic. sink may be nil (defaults to telemetry.NopSink).
func Acquire(key string, runtime signaling.RuntimeSignaler, container signaling.ContainerRuntimeSignaler, sink telemetry.Sink) *Synchronizer {
	return globalRegistry.acquire(key, func() *Synchronizer {
		if sink == nil {
			sink = telemetry.NopSink{}
		}
		s := &Synchronizer{
			key:             key,
			runtime:         runtime,
			container:       container,
			interval:        DefaultUpdateInterval,
			sink:            sink,
			objects:         make(map[string]RegisteredObject),
			connectedKeys:   set.New[string](),
			unconnectedKeys: set.New[string](),
			pendingConnect:  set.New[string](),
		}
		container.OnSignal(s.handleSignal)
		runtime.OnConnected(s.handleConnected)
		return s
	})
}

// register adds (id, getState, applyRemoteState) to the synchronizer. A
// second registration for the same id is a programmer error and is
// rejected synchronously without mutating any state.
func (s *Synchronizer) register(id string, getState GetStateFunc, applyRemoteState ApplyRemoteStateFunc) error {
	s.mu.Lock()
	if _, exists := s.objects[id]; exists {
		s.mu.Unlock()
		return synccore.NewDuplicateRegistrationError(s.key, id)
	}

	s.objects[id] = RegisteredObject{ID: id, GetState: getState, ApplyRemoteState: applyRemoteState}
	s.refCount++
	firstRef := s.refCount == 1
	connected := s.runtime.Connected()
	if connected {
		s.connectedKeys.Insert(id)
	} else {
		s.unconnectedKeys.Insert(id)
	}
	s.mu.Unlock()

	metrics.ObjectsRegistered.WithLabelValues(s.key).Set(float64(s.objectCount()))

	if firstRef {
		s.startTick()
	}
	if connected {
		s.scheduleConnectFlush(id)
	}
	return nil
}

// scheduleConnectFlush queues id into the pending connect burst and
// arms a short debounce timer if one isn't already running, so several
// registrations issued back-to-back coalesce into one connect signal
// instead of one each.
func (s *Synchronizer) scheduleConnectFlush(id string) {
	s.mu.Lock()
	s.pendingConnect.Insert(id)
	if s.connectTimer == nil {
		s.connectTimer = time.AfterFunc(connectDebounce, s.flushPendingConnect)
	}
	s.mu.Unlock()
}

func (s *Synchronizer) flushPendingConnect() {
	s.mu.Lock()
	ids := s.pendingConnect.UnsortedList()
	s.pendingConnect = set.New[string]()
	s.connectTimer = nil
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	s.submit(context.Background(), connectSignal, ids, true)
}

// unregister removes id (connected or pending -> absent). It is
// idempotent: unregistering an id not currently
// registered is a no-op. When refCount reaches zero the ticker stops and
// the Synchronizer removes itself from the process-wide registry.
func (s *Synchronizer) unregister(id string) {
	s.mu.Lock()
	if _, ok := s.objects[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.objects, id)
	s.connectedKeys.Delete(id)
	s.unconnectedKeys.Delete(id)
	s.pendingConnect.Delete(id)
	s.refCount--
	last := s.refCount <= 0
	s.mu.Unlock()

	metrics.ObjectsRegistered.WithLabelValues(s.key).Set(float64(s.objectCount()))

	if last {
		s.stopTick()
		globalRegistry.release(s.key, s)
	}
}

func (s *Synchronizer) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// handleConnected is the RuntimeSignaler's "connected" callback: every id
// still pending is promoted to connected and one coalesced connect burst
// is emitted for all of them.
func (s *Synchronizer) handleConnected() {
	s.mu.Lock()
	if s.unconnectedKeys.Len() == 0 {
		s.mu.Unlock()
		return
	}
	ids := s.unconnectedKeys.UnsortedList()
	s.connectedKeys.Insert(ids...)
	s.unconnectedKeys = set.New[string]()
	s.mu.Unlock()

	s.submit(context.Background(), connectSignal, ids, true)
}

// startTick begins the periodic update burst. Called once per refCount
// 0->1 transition.
func (s *Synchronizer) startTick() {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return
	}
	s.ticker = time.NewTicker(s.interval)
	s.stopCh = make(chan struct{})
	ticker := s.ticker
	stop := s.stopCh
	s.mu.Unlock()

	s.tickWG.Add(1)
	go func() {
		defer s.tickWG.Done()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.inTick.Store(true)
				s.tick()
				s.inTick.Store(false)
			}
		}
	}()
}

// stopTick halts the periodic update burst. Called once per refCount
// ->0 transition. A user callback running on the tick goroutine may
// itself dispose the last object; waiting for the tick goroutine from
// inside the tick goroutine would deadlock, so the wait is skipped and
// the goroutine exits on its own once the closed stop channel is
// observed.
func (s *Synchronizer) stopTick() {
	s.mu.Lock()
	ticker := s.ticker
	stop := s.stopCh
	s.ticker = nil
	s.stopCh = nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	if !s.inTick.Load() {
		s.tickWG.Wait()
	}
}

// tick builds and sends one coalesced update burst for every currently
// connected id — at most one update signal per tick. Key lists are
// snapshotted under the lock so reentrant registration/unregistration
// mid-tick cannot corrupt iteration.
func (s *Synchronizer) tick() {
	start := time.Now()
	s.mu.Lock()
	ids := s.connectedKeys.UnsortedList()
	s.mu.Unlock()

	s.submit(context.Background(), updateSignal, ids, false)
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// submit builds the coalesced {id: state} payload for ids (calling each
// object's getState with connecting) and sends it as msgType if the
// resulting payload is non-empty; an empty payload emits no signal.
func (s *Synchronizer) submit(ctx context.Context, msgType signaling.MessageType, ids []string, connecting bool) {
	payload := s.buildPayload(ctx, ids, connecting)
	if len(payload) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(ctx, "objectsync: failed to marshal coalesced payload", zap.Error(err))
		return
	}
	if err := s.container.SubmitSignal(ctx, msgType, data); err != nil {
		logging.Warn(ctx, "objectsync: submit failed, treating as transport disconnect",
			zap.String("type", string(msgType)), zap.Error(err))
		return
	}
	metrics.UpdatesSent.WithLabelValues(string(msgType)).Inc()
}

func (s *Synchronizer) buildPayload(ctx context.Context, ids []string, connecting bool) map[string]json.RawMessage {
	s.mu.Lock()
	objs := make([]RegisteredObject, 0, len(ids))
	for _, id := range ids {
		if o, ok := s.objects[id]; ok {
			objs = append(objs, o)
		}
	}
	s.mu.Unlock()

	payload := make(map[string]json.RawMessage, len(objs))
	for _, o := range objs {
		raw, ok := s.safeGetState(ctx, o, connecting)
		if ok {
			payload[o.ID] = raw
		}
	}
	return payload
}

// safeGetState calls o.GetState with panic recovery: a single
// misbehaving object must never stall the burst for the rest. A panic is
// caught, logged, and that id is omitted; other ids proceed.
func (s *Synchronizer) safeGetState(ctx context.Context, o RegisteredObject, connecting bool) (raw json.RawMessage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			s.reportHandlerFailure(ctx, "getState", o.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	state, present := o.GetState(connecting)
	if !present || state == nil {
		return nil, false
	}
	data, err := json.Marshal(state)
	if err != nil {
		s.reportHandlerFailure(ctx, "getState", o.ID, fmt.Errorf("state is not JSON-marshalable: %w", err))
		return nil, false
	}
	return data, true
}

// handleSignal is the ContainerRuntimeSignaler's "signal" callback: local
// signals and non-connect/update types are ignored; recognized ids are
// dispatched to applyRemoteState; a connect immediately produces a pong
// update for exactly the ids this receiver recognized.
func (s *Synchronizer) handleSignal(msg signaling.InboundSignalMessage, local bool) {
	if local {
		return
	}
	if msg.Type != connectSignal && msg.Type != updateSignal {
		return
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(msg.Content, &payload); err != nil {
		logging.Warn(context.Background(), "objectsync: failed to decode inbound payload", zap.Error(err))
		return
	}

	senderID := ""
	if msg.ClientID != nil {
		senderID = string(*msg.ClientID)
	}
	connecting := msg.Type == connectSignal

	ctx := context.Background()
	s.mu.Lock()
	objs := make(map[string]RegisteredObject, len(payload))
	for id := range payload {
		if o, ok := s.objects[id]; ok {
			objs[id] = o
		}
	}
	s.mu.Unlock()

	recognized := make([]string, 0, len(objs))
	for id, o := range objs {
		raw := payload[id]
		if !IsRecord(raw) {
			s.reportNonRecordState(ctx, string(msg.Type), id, senderID)
			continue
		}
		recognized = append(recognized, id)
		s.safeApplyRemoteState(ctx, o, connecting, raw, senderID)
	}

	if connecting && len(recognized) > 0 {
		s.submit(ctx, updateSignal, recognized, false)
	}
}

// safeApplyRemoteState calls o.ApplyRemoteState with panic recovery, the
// inbound twin of safeGetState.
func (s *Synchronizer) safeApplyRemoteState(ctx context.Context, o RegisteredObject, connecting bool, raw json.RawMessage, senderID string) {
	defer func() {
		if r := recover(); r != nil {
			s.reportHandlerFailure(ctx, "applyRemoteState", o.ID, fmt.Errorf("panic: %v", r))
		}
	}()
	o.ApplyRemoteState(connecting, raw, senderID)
}

// reportNonRecordState logs and reports the "state is not a record"
// decode-skip: null/array/scalar state for id is treated as absent for
// this message and counted, never panics.
func (s *Synchronizer) reportNonRecordState(ctx context.Context, msgType, objectID, senderID string) {
	metrics.NonRecordStateSkipped.WithLabelValues(msgType).Inc()
	logging.Warn(ctx, "objectsync: skipping non-record inbound state", zap.String("objectId", objectID), zap.String("type", msgType))
	s.sink.Report(ctx, telemetry.Event{
		Name:     "ObjectSynchronizer:nonRecordState",
		ObjectID: objectID,
		ClientID: senderID,
		Fields:   map[string]any{"type": msgType},
	})
}

func (s *Synchronizer) reportHandlerFailure(ctx context.Context, handler, objectID string, err error) {
	metrics.HandlerFailures.WithLabelValues(handler).Inc()
	wrapped := fmt.Errorf("%w: %s: %v", synccore.ErrHandlerFailure, handler, err)
	logging.Error(ctx, "objectsync: handler failed", zap.String("handler", handler), zap.String("objectId", objectID), zap.Error(wrapped))
	s.sink.Report(ctx, telemetry.Event{
		Name:     "ObjectSynchronizer:" + handler + "Failed",
		ObjectID: objectID,
		Err:      wrapped,
	})
}
