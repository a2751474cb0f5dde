package flow

import "errors"

var (
	// ErrFlowNotFound is returned when a flow ID is unknown or expired.
	ErrFlowNotFound = errors.New("flow: flow not found")

	// ErrUnknownHandler is returned when no handler is registered for a
	// domain.
	ErrUnknownHandler = errors.New("flow: unknown handler")

	// ErrInvalidStep is returned when a handler is asked to run a step
	// it does not implement.
	ErrInvalidStep = errors.New("flow: invalid step")
)

// Abort reasons shared across integrations.
const (
	ReasonAlreadyConfigured = "already_configured"
	ReasonCannotConnect     = "cannot_connect"
	ReasonInvalidAuth       = "invalid_auth"
)
