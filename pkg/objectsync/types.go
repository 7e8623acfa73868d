package objectsync

import "encoding/json"

// GetStateFunc returns a live object's current state, or ok=false if the
// object has nothing to contribute this tick. connecting is true when the
// call is building a connect burst (bootstrap) rather than a periodic
// update.
//
// The returned state must be JSON-marshalable; by convention it embeds
// its own (timestamp, clientId) for the Freshness Rule (see
// pkg/freshness).
type GetStateFunc func(connecting bool) (state any, ok bool)

// ApplyRemoteStateFunc delivers a peer's state for this object id.
// senderID is the carrier-attributed client id the state arrived from,
// never a value trusted from the payload itself.
type ApplyRemoteStateFunc func(connecting bool, state json.RawMessage, senderID string)

// RegisteredObject is one live object's get/apply pair, keyed by id. At
// most one registration exists per id within a given container; a
// duplicate registration is a programmer error.
type RegisteredObject struct {
	ID               string
	GetState         GetStateFunc
	ApplyRemoteState ApplyRemoteStateFunc
}
