// Package synccore holds the error taxonomy shared by the Event Scope and
// Object Synchronizer packages. ErrDuplicateRegistration is the only one
// the Event Scope and Object Synchronizer APIs return synchronously.
// ErrHandlerFailure is wrapped into the errors reported to a telemetry
// sink, and ErrRoleLookupFailure into the errors roles.Verifier's
// GetRolesForClient returns, so callers can match on them with
// errors.Is/errors.As; ErrUnauthorizedSender and ErrTransportDisconnected
// name the remaining categories and are not constructed by any package in
// this module.
package synccore

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Wrap these with fmt.Errorf
// and %w so callers can still errors.Is against the category.
var (
	// ErrDuplicateRegistration is raised synchronously when a second
	// facade is constructed for the same (container, id) pair. It is a
	// programmer error, not a runtime condition.
	ErrDuplicateRegistration = errors.New("synccore: duplicate object registration")

	// ErrUnauthorizedSender marks an inbound envelope dropped by the
	// Event Scope's role gate.
	ErrUnauthorizedSender = errors.New("synccore: sender's roles are disjoint from allowedRoles")

	// ErrRoleLookupFailure marks a Role Verifier lookup that failed or
	// timed out; treated as "not allowed" for the event in question.
	ErrRoleLookupFailure = errors.New("synccore: role lookup failed")

	// ErrHandlerFailure marks a user getState/applyRemoteState/listener
	// callback that panicked or returned an error; isolated to that
	// object id or listener and never propagated further.
	ErrHandlerFailure = errors.New("synccore: handler failure")

	// ErrTransportDisconnected marks a signal dropped before submission
	// because the runtime was not connected. Not surfaced to the caller;
	// retried implicitly on the next tick or reconnect.
	ErrTransportDisconnected = errors.New("synccore: transport disconnected")
)

// DuplicateRegistrationError carries the offending (container, id) pair
// for diagnostics.
type DuplicateRegistrationError struct {
	Container string
	ObjectID  string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("%v: container=%s id=%s", ErrDuplicateRegistration, e.Container, e.ObjectID)
}

func (e *DuplicateRegistrationError) Unwrap() error { return ErrDuplicateRegistration }

// NewDuplicateRegistrationError constructs the synchronous error returned
// by NewObject when an id is already registered for a container.
func NewDuplicateRegistrationError(container, objectID string) error {
	return &DuplicateRegistrationError{Container: container, ObjectID: objectID}
}
