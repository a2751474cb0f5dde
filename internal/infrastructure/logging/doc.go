// Package logging provides structured logging for Ember Core.
//
// It wraps the standard library's log/slog with configuration-driven
// format and level selection, and default service/version attributes.
//
// Components receive a *Logger and typically derive a child logger with
// a component attribute:
//
//	log := logger.With("component", "coordinator")
package logging
