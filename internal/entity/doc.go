// Package entity provides the entity model at the heart of Ember.
//
// An entity is a single externally visible state object (a sensor
// reading, a tracked device, a cover) owned by exactly one config
// entry. Entity IDs follow the "<platform>.<object_id>" convention and
// are stable for the life of the entity; unique IDs tie an entity back
// to the physical device or data point it represents so that
// re-registration after a restart lands on the same entity ID.
//
// The package contains:
//   - Entity type and platform/state constants
//   - Repository interface with a SQLite implementation
//   - Registry: cached, thread-safe CRUD and state writes on top of
//     the repository, with a listener hook for state change fan-out
//   - Validation and entity ID derivation helpers
//
// State writes distinguish LastUpdated (every write) from LastChanged
// (only when the state value transitions). Consumers that care about
// edges, such as the recorder, rely on that distinction.
package entity
