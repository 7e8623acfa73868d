package roles

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livesync/core/pkg/synccore"
)

func TestVerifier_GetRolesForClient_CachesResult(t *testing.T) {
	var calls int32
	lookup := func(ctx context.Context, clientID string) ([]Role, error) {
		atomic.AddInt32(&calls, 1)
		return []Role{RolePresenter}, nil
	}
	v := NewVerifier(lookup, time.Minute, time.Second)

	roles1, err := v.GetRolesForClient(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, []Role{RolePresenter}, roles1)

	roles2, err := v.GetRolesForClient(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, []Role{RolePresenter}, roles2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call should be served from cache")
}

func TestVerifier_GetRolesForClient_DeduplicatesConcurrentLookups(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	lookup := func(ctx context.Context, clientID string) ([]Role, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []Role{RoleAttendee}, nil
	}
	v := NewVerifier(lookup, time.Minute, time.Second)

	var wg sync.WaitGroup
	results := make([][]Role, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			roles, err := v.GetRolesForClient(context.Background(), "shared-client")
			assert.NoError(t, err)
			results[i] = roles
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent lookups for the same client must collapse to one call")
	for _, r := range results {
		assert.Equal(t, []Role{RoleAttendee}, r)
	}
}

func TestVerifier_GetRolesForClient_NegativeCaching(t *testing.T) {
	var calls int32
	lookup := func(ctx context.Context, clientID string) ([]Role, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("lookup backend unavailable")
	}
	v := NewVerifier(lookup, time.Minute, 30*time.Millisecond)

	_, err1 := v.GetRolesForClient(context.Background(), "client-2")
	require.Error(t, err1)
	assert.ErrorIs(t, err1, synccore.ErrRoleLookupFailure)

	_, err2 := v.GetRolesForClient(context.Background(), "client-2")
	require.Error(t, err2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "failed lookup should be cached negatively")

	time.Sleep(40 * time.Millisecond)
	_, err3 := v.GetRolesForClient(context.Background(), "client-2")
	require.Error(t, err3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "negative cache entry should expire and retry")
}

func TestVerifier_VerifyRolesAllowed(t *testing.T) {
	lookup := func(ctx context.Context, clientID string) ([]Role, error) {
		switch clientID {
		case "presenter":
			return []Role{RolePresenter}, nil
		case "attendee":
			return []Role{RoleAttendee}, nil
		default:
			return nil, errors.New("unknown client")
		}
	}
	v := NewVerifier(lookup, time.Minute, time.Second)

	assert.True(t, v.VerifyRolesAllowed(context.Background(), "attendee", nil), "empty allowed set admits everyone")
	assert.True(t, v.VerifyRolesAllowed(context.Background(), "presenter", []Role{RolePresenter, RoleOrganizer}))
	assert.False(t, v.VerifyRolesAllowed(context.Background(), "attendee", []Role{RolePresenter, RoleOrganizer}))
	assert.False(t, v.VerifyRolesAllowed(context.Background(), "unknown", []Role{RolePresenter}), "lookup failure is treated as not-allowed")
}

func TestVerifier_Invalidate(t *testing.T) {
	var calls int32
	lookup := func(ctx context.Context, clientID string) ([]Role, error) {
		atomic.AddInt32(&calls, 1)
		return []Role{RoleGuest}, nil
	}
	v := NewVerifier(lookup, time.Minute, time.Second)

	_, _ = v.GetRolesForClient(context.Background(), "client-3")
	v.Invalidate("client-3")
	_, _ = v.GetRolesForClient(context.Background(), "client-3")

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
