package services

import (
	"errors"
	"fmt"
)

// Standard service errors
var (
	// Registration errors
	ErrInvalidRegistration = errors.New("registration needs a handle and a handler")
	ErrNotRegistered       = errors.New("handle not registered")
	ErrOrchestratorClosed  = errors.New("list orchestrator closed")

	// Application input errors
	ErrInvalidPagination = errors.New("list result must set exactly one of total or hasMore")
	ErrInvalidDescriptor = errors.New("invalid identifier descriptor")

	// Activation errors
	ErrEmptyQuery = errors.New("empty disguised query")
)

// ResolveDirection names which namespace a lookup translated between
type ResolveDirection string

const (
	LegacyToMessage ResolveDirection = "legacy_to_message"
	MessageToLegacy ResolveDirection = "message_to_legacy"
)

// UnresolvedIdentifierError is one identifier that failed resolution.
// The thread it named is dropped; the rest of the list still renders.
type UnresolvedIdentifierError struct {
	ID        string
	Direction ResolveDirection
	Err       error
}

func (e *UnresolvedIdentifierError) Error() string {
	return fmt.Sprintf("unresolved identifier %q (%s): %v", e.ID, e.Direction, e.Err)
}

func (e *UnresolvedIdentifierError) Unwrap() error { return e.Err }

// CallbackError is an application list handler that failed, panicked or
// returned an invalid result. The page is rendered empty.
type CallbackError struct {
	Handle string
	Start  int
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("list handler %q failed at start %d: %v", e.Handle, e.Start, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// RewriteError is a failure while reordering or encoding an intercepted response
type RewriteError struct {
	Query       string
	Descriptors int
	Err         error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewrite of %q with %d descriptors failed: %v", e.Query, e.Descriptors, e.Err)
}

func (e *RewriteError) Unwrap() error { return e.Err }

// IsRecoverableError reports whether err is one the pipeline degrades around
// instead of surfacing: a dropped identifier, an empty page, or a pass-through response
func IsRecoverableError(err error) bool {
	var unresolved *UnresolvedIdentifierError
	var callback *CallbackError
	var rewrite *RewriteError
	return errors.As(err, &unresolved) ||
		errors.As(err, &callback) ||
		errors.As(err, &rewrite)
}
