// Package recorder writes entity state history to time-series storage.
//
// It is a bus consumer: anything publishing well-formed state_changed
// events gets recorded, integrations need no storage awareness. The
// recorder is optional; without InfluxDB configured the rest of the
// system runs unchanged.
package recorder
