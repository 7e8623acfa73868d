// Package wssignaler is a signaling.RuntimeSignaler/ContainerRuntimeSignaler
// binding over gorilla/websocket: a read/write pump per peer connection and
// an upgrade flow that authenticates and checks origin before fanning a
// frame out to every other connected peer.
//
// A Hub is the container: every peer that has ServeWs'd into it shares
// one ContainerRuntimeSignaler (used by the Object Synchronizer) and, by
// the same fan-out, one RuntimeSignaler representing the Hub's own
// synthetic participant (used when the host application runs a
// container-wide Event Scope, e.g. an announcements channel, rather than
// one per browser tab).
package wssignaler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livesync/core/internal/logging"
	"github.com/livesync/core/internal/metrics"
	"github.com/livesync/core/pkg/signaling"
)

// hubOrigin is the synthetic clientId attached to signals the Hub itself
// submits via SubmitSignal (its RuntimeSignaler capability), distinct
// from any peer's assigned id.
const hubOrigin = signaling.ClientID("__hub__")

// Hub fans out every inbound frame to every other connected peer,
// attributing the true sender clientId at the carrier boundary: the
// subject an authenticated token resolves to is bound to a Conn before
// any business logic runs, never trusted from the wire frame itself.
type Hub struct {
	identity string

	mu       sync.RWMutex
	conns    map[signaling.ClientID]*Conn
	signalH  []func(msg signaling.InboundSignalMessage, local bool)
	upstream Upstream
}

// Upstream is the cross-pod replication seam: a local peer's frame is
// also published upstream so every other pod's Hub for the same
// container observes it, the way redissignaler.Service relays a
// container's signals across every subscribed process. A Hub with no
// Upstream attached only fans out within this single process.
type Upstream interface {
	SubmitSignal(ctx context.Context, msgType signaling.MessageType, content []byte) error
}

// SetUpstream attaches the cross-pod replication channel. Call once
// during construction, before any peer connects.
func (h *Hub) SetUpstream(up Upstream) {
	h.mu.Lock()
	h.upstream = up
	h.mu.Unlock()
}

// InjectRemote fans a frame that originated on another pod (received via
// Upstream's subscription) out to every locally-connected peer and to
// this Hub's own in-process handlers, without re-publishing upstream —
// that would echo it back around the ring forever.
func (h *Hub) InjectRemote(msgType signaling.MessageType, content []byte) {
	h.deliverLocally(hubOrigin, msgType, content, false)
}

// NewHub builds a Hub for one container, identified by identity (returned
// by ContainerIdentity and logged on peer connect).
func NewHub(identity string) *Hub {
	return &Hub{identity: identity, conns: make(map[signaling.ClientID]*Conn)}
}

// ContainerIdentity implements signaling.Identity.
func (h *Hub) ContainerIdentity() string { return h.identity }

// ClientID implements signaling.RuntimeSignaler: the Hub's own synthetic
// participant identity.
func (h *Hub) ClientID() (signaling.ClientID, bool) { return hubOrigin, true }

// Connected implements signaling.RuntimeSignaler: a Hub is always
// considered connected — it is the relay, not a peer that can drop off.
func (h *Hub) Connected() bool { return true }

// OnConnected implements signaling.RuntimeSignaler. The Hub is connected
// from construction, so fn is invoked immediately.
func (h *Hub) OnConnected(fn func()) { fn() }

// SubmitSignal implements both signaling.RuntimeSignaler and
// signaling.ContainerRuntimeSignaler: broadcast content to every
// connected peer and to this Hub's own registered handlers (local echo).
func (h *Hub) SubmitSignal(ctx context.Context, msgType signaling.MessageType, content []byte) error {
	h.route(nil, msgType, content)
	return nil
}

// OnSignal implements both signaling.RuntimeSignaler and
// signaling.ContainerRuntimeSignaler.
func (h *Hub) OnSignal(fn func(msg signaling.InboundSignalMessage, local bool)) {
	h.mu.Lock()
	h.signalH = append(h.signalH, fn)
	h.mu.Unlock()
}

// route attributes content to sender (the Hub itself if sender is nil)
// and delivers it to every connected peer's outbound socket plus the
// Hub's own in-process handlers. local is true only for the handler
// invocation on the Hub itself when it originated the signal, matching
// the same-process-echo convention the redissignaler and fake carriers in
// this module's tests already use.
func (h *Hub) route(sender *Conn, msgType signaling.MessageType, content []byte) {
	senderID := hubOrigin
	var excludeID signaling.ClientID
	excluding := false
	if sender != nil {
		senderID = sender.ID()
		excludeID = sender.ID()
		excluding = true
	}

	h.deliverLocallyExcept(senderID, excludeID, excluding, msgType, content, sender == nil)

	if sender != nil {
		h.mu.RLock()
		up := h.upstream
		h.mu.RUnlock()
		if up != nil {
			if err := up.SubmitSignal(context.Background(), msgType, content); err != nil {
				logging.Warn(context.Background(), "wssignaler: upstream publish failed", zap.Error(err))
			}
		}
	}
}

// deliverLocally fans out to every connected peer and in-process
// handler, excluding nobody.
func (h *Hub) deliverLocally(senderID signaling.ClientID, msgType signaling.MessageType, content []byte, local bool) {
	h.deliverLocallyExcept(senderID, "", false, msgType, content, local)
}

func (h *Hub) deliverLocallyExcept(senderID, excludeID signaling.ClientID, excluding bool, msgType signaling.MessageType, content []byte, local bool) {
	h.mu.RLock()
	peers := make([]*Conn, 0, len(h.conns))
	for id, c := range h.conns {
		if excluding && id == excludeID {
			continue
		}
		peers = append(peers, c)
	}
	handlers := append([]func(signaling.InboundSignalMessage, bool){}, h.signalH...)
	h.mu.RUnlock()

	for _, c := range peers {
		c.deliver(msgType, senderID, content)
	}

	cid := senderID
	inbound := signaling.InboundSignalMessage{Type: msgType, ClientID: &cid, Content: content}
	for _, fn := range handlers {
		fn(inbound, local)
	}

	metrics.FramesRelayed.WithLabelValues(string(msgType)).Inc()
}

// PeerCount returns the number of peers currently connected to this
// Hub, used by the demo host as a trivially-computable piece of shared
// state to synchronize.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
	metrics.ActiveWebSocketConnections.Inc()
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	if cur, ok := h.conns[c.ID()]; ok && cur == c {
		delete(h.conns, c.ID())
	}
	h.mu.Unlock()
	c.close()
	metrics.ActiveWebSocketConnections.Dec()
}

// TokenValidator authenticates the bearer presented at connect time and
// returns the subject to use as the peer's clientId. A dev-mode decoder
// or a JWKS-backed validator both plug in here.
type TokenValidator interface {
	ValidateToken(token string) (subject string, err error)
}

// ServeWs upgrades an incoming request into a peer connection on this
// Hub: extract the bearer token from Sec-WebSocket-Protocol, validate
// it, check Origin, then upgrade and start the read/write pumps.
func (h *Hub) ServeWs(validator TokenValidator, allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractToken(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
			return
		}
		subject, err := validator.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if err := validateOrigin(c.Request, allowedOrigins); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}

		upgrader := websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return validateOrigin(r, allowedOrigins) == nil },
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, http.Header{"Sec-WebSocket-Protocol": {"access_token"}})
		if err != nil {
			logging.Error(c.Request.Context(), "wssignaler: upgrade failed", zap.Error(err))
			return
		}

		clientID := signaling.ClientID(subject)
		if clientID == "" {
			clientID = signaling.ClientID(uuid.NewString())
		}
		peer := newConn(clientID, conn, h)
		h.add(peer)

		logging.Info(c.Request.Context(), "wssignaler: peer connected",
			zap.String("clientId", string(clientID)), zap.String("container", h.identity))

		go peer.writePump()
		go peer.readPump()
	}
}

// extractToken extracts a bearer token from the Sec-WebSocket-Protocol
// header, since browsers cannot set Authorization on a WebSocket upgrade.
func extractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Sec-WebSocket-Protocol")
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "access_token" {
			continue
		}
		return part, nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("wssignaler: token not provided")
}

// validateOrigin checks the Origin header against an allow-list by
// scheme+host match; no Origin header at all is allowed through, for
// non-browser clients.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("wssignaler: invalid origin: %w", err)
	}
	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return fmt.Errorf("wssignaler: origin not allowed: %s", origin)
}
