// Package api provides the HTTP REST API and WebSocket server for Ember.
//
// It exposes entity states, service calls, config entry management and
// configuration flows to user interfaces, plus a WebSocket event stream
// fed from the internal bus.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
