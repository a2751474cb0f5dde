// Package bus provides the in-process event dispatcher for Ember Core.
//
// Components publish events (state changes, config entry lifecycle,
// service calls) and consumers (the recorder, the WebSocket hub) subscribe
// with buffered channels. Publishing never blocks; slow consumers drop
// events.
package bus
