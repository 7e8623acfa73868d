// Package redissignaler implements signaling.ContainerRuntimeSignaler
// over Redis Pub/Sub: a circuit breaker around every publish and ping
// call so a degraded Redis connection drops traffic and logs instead of
// panicking the caller. Subscribe is not routed through the breaker.
package redissignaler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/livesync/core/internal/logging"
	"github.com/livesync/core/internal/metrics"
	"github.com/livesync/core/pkg/signaling"

	"go.uber.org/zap"
)

// relayPayload is the wire shape moved between processes over Redis: an
// envelope plus the metadata needed to distinguish local echo from a
// genuinely remote signal.
type relayPayload struct {
	Type    signaling.MessageType `json:"type"`
	Content json.RawMessage       `json:"content"`
	Origin  string                `json:"origin"`
}

// Service relays one container's signals across every process subscribed
// to the same Redis channel.
type Service struct {
	client    *redis.Client
	cb        *gobreaker.CircuitBreaker
	channel   string
	originID  string
	handlersM sync.RWMutex
	handlers  []func(msg signaling.InboundSignalMessage, local bool)
}

// NewService connects to Redis and prepares a Service scoped to
// containerID; each logical container gets its own Pub/Sub channel.
func NewService(addr, password, containerID, originID string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redissignaler: failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	s := &Service{
		client:   rdb,
		cb:       gobreaker.NewCircuitBreaker(st),
		channel:  fmt.Sprintf("livesync:container:%s", containerID),
		originID: originID,
	}
	return s, nil
}

// ContainerIdentity implements signaling.Identity.
func (s *Service) ContainerIdentity() string { return s.channel }

// SubmitSignal implements signaling.ContainerRuntimeSignaler.
func (s *Service) SubmitSignal(ctx context.Context, msgType signaling.MessageType, content []byte) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		msg := relayPayload{Type: msgType, Content: content, Origin: s.originID}
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("redissignaler: failed to marshal relay payload: %w", err)
		}
		return nil, s.client.Publish(ctx, s.channel, data).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open: dropping publish", zap.String("channel", s.channel))
			return nil
		}
		metrics.RedisOperationsTotal.WithLabelValues("publish", "error").Inc()
		return err
	}
	metrics.RedisOperationsTotal.WithLabelValues("publish", "success").Inc()
	return nil
}

// OnSignal implements signaling.ContainerRuntimeSignaler. It may be
// called multiple times to register multiple handlers.
func (s *Service) OnSignal(fn func(msg signaling.InboundSignalMessage, local bool)) {
	s.handlersM.Lock()
	s.handlers = append(s.handlers, fn)
	s.handlersM.Unlock()
}

// Subscribe starts a background goroutine that listens for messages
// published by any process (including this one) and dispatches them to
// every registered handler. Cancel ctx to stop the goroutine; Subscribe
// itself returns immediately.
func (s *Service) Subscribe(ctx context.Context, wg *sync.WaitGroup) {
	pubsub := s.client.Subscribe(ctx, s.channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		logging.Info(ctx, "subscribed to redis channel", zap.String("channel", s.channel))
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "redis subscription channel closed", zap.String("channel", s.channel))
					return
				}
				s.dispatch(ctx, msg.Payload)
			}
		}
	}()
}

func (s *Service) dispatch(ctx context.Context, raw string) {
	var payload relayPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		logging.Error(ctx, "failed to unmarshal redis relay payload", zap.Error(err))
		return
	}

	local := payload.Origin == s.originID
	inbound := signaling.InboundSignalMessage{
		Type:    payload.Type,
		Content: payload.Content,
	}
	if payload.Origin != "" {
		origin := signaling.ClientID(payload.Origin)
		inbound.ClientID = &origin
	}

	s.handlersM.RLock()
	handlers := append([]func(signaling.InboundSignalMessage, bool){}, s.handlers...)
	s.handlersM.RUnlock()

	for _, h := range handlers {
		h(inbound, local)
	}
}

// Ping implements health.Pinger.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	return s.client.Close()
}
