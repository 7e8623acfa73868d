package objectsync

import (
	"sync"

	"github.com/livesync/core/internal/metrics"
)

// registry is the process-wide map of live Synchronizers keyed by
// container-runtime identity, guarded by a single mutex since this
// implementation is multi-threaded rather than single-threaded. Exactly
// one Synchronizer exists per distinct key at any time.
type registry struct {
	mu    sync.Mutex
	items map[string]*Synchronizer
}

var globalRegistry = &registry{items: make(map[string]*Synchronizer)}

// acquire returns the Synchronizer for key, creating one with factory if
// none exists yet. factory is only invoked while holding the registry
// lock, and only on a true miss, so two racing acquires for the same key
// never create two Synchronizers for the same container.
func (r *registry) acquire(key string, factory func() *Synchronizer) *Synchronizer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.items[key]; ok {
		return s
	}
	s := factory()
	r.items[key] = s
	metrics.SynchronizersActive.Set(float64(len(r.items)))
	return s
}

// release removes s from the registry if it is still the entry on file
// for key, i.e. it has not already been replaced by a newer Synchronizer
// for the same key. Called once refCount returns to zero.
func (r *registry) release(key string, s *Synchronizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.items[key]; ok && cur == s {
		delete(r.items, key)
		metrics.SynchronizersActive.Set(float64(len(r.items)))
	}
}
