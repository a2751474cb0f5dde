package mqtt

import "fmt"

// Topic prefixes for the Ember MQTT namespace.
//
// Integration-owned topics (cover command/state topics and the like) are
// user-configured and not constrained to this namespace; these builders
// cover the topics Ember itself publishes.
const (
	// TopicPrefix is the base for all Ember topics.
	TopicPrefix = "ember"
)

// Topics provides builders for Ember MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// Status returns the instance status topic (LWT and online/offline).
//
// Example: ember/status
func (Topics) Status() string {
	return fmt.Sprintf("%s/status", TopicPrefix)
}

// EntityState returns the canonical state topic for an entity.
// This is the authoritative state published after registry updates.
//
// Example: ember/state/sensor.office_temperature
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, entityID)
}

// EntityAvailability returns the availability topic for an entity.
//
// Example: ember/availability/cover.living_room_blind
func (Topics) EntityAvailability(entityID string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, entityID)
}

// Event returns the topic for runtime events.
//
// Example: ember/event/state_changed
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}
