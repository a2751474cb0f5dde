package configentry

import "errors"

var (
	// ErrNotFound is returned when a config entry does not exist.
	ErrNotFound = errors.New("configentry: entry not found")

	// ErrAlreadyConfigured is returned when an entry with the same
	// (domain, unique_id) pair already exists.
	ErrAlreadyConfigured = errors.New("configentry: already configured")

	// ErrNotReady signals that an integration's device or service is
	// temporarily unreachable. Setup returning this error is retried
	// with exponential backoff instead of being marked failed.
	ErrNotReady = errors.New("configentry: not ready")

	// ErrUnknownDomain is returned when no integration is registered for
	// an entry's domain.
	ErrUnknownDomain = errors.New("configentry: unknown domain")

	// ErrInvalid is returned when an entry fails validation.
	ErrInvalid = errors.New("configentry: invalid entry")

	// ErrAlreadyLoaded is returned when setup is requested for an entry
	// that is already loaded.
	ErrAlreadyLoaded = errors.New("configentry: entry already loaded")
)
