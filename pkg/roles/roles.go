// Package roles resolves, given an opaque client identifier, the set of
// roles that client holds, cached with a TTL and de-duplicated across
// concurrent callers for the same id.
package roles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/livesync/core/internal/metrics"
	"github.com/livesync/core/pkg/synccore"
)

// Role is a meeting-level authorization label attached to the human user
// behind a client identifier. The set is extensible: Verifier never
// rejects a role string it does not recognize as one of the constants
// below, so a host application can introduce new roles without a core
// code change.
type Role string

const (
	RoleOrganizer Role = "Organizer"
	RolePresenter Role = "Presenter"
	RoleAttendee  Role = "Attendee"
	RoleGuest     Role = "Guest"
)

// RoleLookup resolves the roles held by clientID. It is supplied by the
// host application; the core never assumes anything about how roles are
// sourced beyond this signature.
type RoleLookup func(ctx context.Context, clientID string) ([]Role, error)

// CacheEntry is one clientId's cached lookup result.
type CacheEntry struct {
	Roles     []Role
	ExpiresAt time.Time
	// Failed marks a negatively-cached entry: the underlying lookup
	// returned an error, and Roles is empty until ExpiresAt.
	Failed bool
}

func (e CacheEntry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Verifier wraps a RoleLookup with a TTL cache and single-flight
// de-duplication of concurrent lookups for the same client id.
type Verifier struct {
	lookup      RoleLookup
	ttl         time.Duration
	negativeTTL time.Duration

	mu    sync.RWMutex
	cache map[string]CacheEntry

	group singleflight.Group
}

// NewVerifier constructs a Verifier. ttl bounds how long a successful
// lookup is trusted; negativeTTL bounds how long a failed lookup is
// trusted before retrying, so failures don't poison the cache for longer
// than a short retry window.
func NewVerifier(lookup RoleLookup, ttl, negativeTTL time.Duration) *Verifier {
	return &Verifier{
		lookup:      lookup,
		ttl:         ttl,
		negativeTTL: negativeTTL,
		cache:       make(map[string]CacheEntry),
	}
}

// GetRolesForClient returns the roles held by clientID, consulting the
// cache first. Concurrent calls for the same clientID collapse to one
// underlying RoleLookup invocation.
func (v *Verifier) GetRolesForClient(ctx context.Context, clientID string) ([]Role, error) {
	if entry, ok := v.cachedEntry(clientID); ok {
		metrics.RoleCacheLookups.WithLabelValues("hit").Inc()
		if entry.Failed {
			return nil, synccore.ErrRoleLookupFailure
		}
		return entry.Roles, nil
	}

	metrics.RoleCacheLookups.WithLabelValues("miss").Inc()

	result, err, _ := v.group.Do(clientID, func() (any, error) {
		roles, lookupErr := v.lookup(ctx, clientID)
		now := time.Now()
		v.mu.Lock()
		if lookupErr != nil {
			v.cache[clientID] = CacheEntry{Failed: true, ExpiresAt: now.Add(v.negativeTTL)}
		} else {
			v.cache[clientID] = CacheEntry{Roles: roles, ExpiresAt: now.Add(v.ttl)}
		}
		v.mu.Unlock()
		if lookupErr != nil {
			return nil, fmt.Errorf("%w: %v", synccore.ErrRoleLookupFailure, lookupErr)
		}
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Role), nil
}

func (v *Verifier) cachedEntry(clientID string) (CacheEntry, bool) {
	v.mu.RLock()
	entry, ok := v.cache[clientID]
	v.mu.RUnlock()
	if !ok || entry.expired(time.Now()) {
		return CacheEntry{}, false
	}
	return entry, true
}

// VerifyRolesAllowed returns true if allowed is empty, otherwise whether
// the intersection of clientID's roles and allowed is non-empty. A role
// lookup failure is treated as "not allowed".
func (v *Verifier) VerifyRolesAllowed(ctx context.Context, clientID string, allowed []Role) bool {
	if len(allowed) == 0 {
		return true
	}
	clientRoles, err := v.GetRolesForClient(ctx, clientID)
	if err != nil {
		return false
	}
	allowedSet := make(map[Role]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}
	for _, r := range clientRoles {
		if _, ok := allowedSet[r]; ok {
			return true
		}
	}
	return false
}

// Invalidate drops any cached entry for clientID, forcing the next
// lookup to bypass the cache. Useful when a host application knows a
// client's roles changed mid-session.
func (v *Verifier) Invalidate(clientID string) {
	v.mu.Lock()
	delete(v.cache, clientID)
	v.mu.Unlock()
}
