package objectsync

import "sync"

// Object is the per-object handle applications construct and hold onto:
// constructing one registers its get/apply pair with the container's
// Synchronizer; disposing it unregisters and releases the Synchronizer's
// refcount.
type Object struct {
	sync *Synchronizer
	id   string

	once sync.Once
}

// NewObject constructs a facade for id against sync, registering
// getState/applyRemoteState immediately. Constructing a second facade
// for the same (container, id) returns a *synccore.DuplicateRegistrationError
// and registers nothing.
func NewObject(sync *Synchronizer, id string, getState GetStateFunc, applyRemoteState ApplyRemoteStateFunc) (*Object, error) {
	if err := sync.register(id, getState, applyRemoteState); err != nil {
		return nil, err
	}
	return &Object{sync: sync, id: id}, nil
}

// ID returns the object id this facade was constructed for.
func (o *Object) ID() string { return o.id }

// Dispose unregisters the object and decrements the container
// Synchronizer's refcount. Idempotent: calling Dispose more than once
// has no additional effect.
func (o *Object) Dispose() {
	o.once.Do(func() {
		o.sync.unregister(o.id)
	})
}
