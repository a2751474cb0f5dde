// Package influxdb provides time-series storage for entity state
// history.
//
// It wraps the official influxdb-client-go v2 library: token auth,
// ping on connect, non-blocking batched writes and an error callback
// for async write failures. The recorder package feeds it from the
// event bus; nothing else should write directly.
package influxdb
