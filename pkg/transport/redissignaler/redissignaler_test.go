package redissignaler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/livesync/core/pkg/signaling"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestService(t *testing.T, addr, containerID, originID string) *Service {
	t.Helper()
	s, err := NewService(addr, "", containerID, originID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestService_RelaysBetweenTwoInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := newTestService(t, mr.Addr(), "container-1", "process-a")
	subscriber := newTestService(t, mr.Addr(), "container-1", "process-b")

	received := make(chan signaling.InboundSignalMessage, 1)
	subscriber.OnSignal(func(msg signaling.InboundSignalMessage, local bool) {
		if !local {
			received <- msg
		}
	})

	var wg sync.WaitGroup
	subscriber.Subscribe(ctx, &wg)
	time.Sleep(20 * time.Millisecond) // allow Subscribe's goroutine to attach

	err := publisher.SubmitSignal(context.Background(), "update", []byte(`{"o1":{"v":1}}`))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, signaling.MessageType("update"), msg.Type)
		assert.JSONEq(t, `{"o1":{"v":1}}`, string(msg.Content))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed signal")
	}

	cancel()
	wg.Wait()
}

func TestService_OwnPublishIsMarkedLocal(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newTestService(t, mr.Addr(), "container-2", "process-a")

	received := make(chan bool, 1)
	svc.OnSignal(func(msg signaling.InboundSignalMessage, local bool) {
		received <- local
	})

	var wg sync.WaitGroup
	svc.Subscribe(ctx, &wg)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, svc.SubmitSignal(context.Background(), "connect", []byte(`{}`)))

	select {
	case local := <-received:
		assert.True(t, local, "a process should see its own publish marked local")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for own signal to relay back")
	}

	cancel()
	wg.Wait()
}

func TestService_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	svc := newTestService(t, mr.Addr(), "container-3", "process-a")
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestService_ContainerIdentity(t *testing.T) {
	mr := miniredis.RunT(t)
	svc := newTestService(t, mr.Addr(), "container-4", "process-a")
	assert.Contains(t, svc.ContainerIdentity(), "container-4")
}
