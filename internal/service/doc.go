// Package service routes commands to integrations.
//
// Integrations register handlers under "domain.service" names
// (cover.open_cover, cover.set_cover_position) when an entry loads.
// Callers, typically the HTTP API, dispatch through Registry.Call with
// target entity IDs and free-form data; the handler decides how to
// drive the device. Every dispatched call lands on the event bus as a
// service_called event.
package service
