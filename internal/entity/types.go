package entity

import "time"

// Entity represents one exposed state object: a sensor reading, a switch,
// a cover, a tracked device. Integrations create entities; the registry
// owns their persistence and state.
type Entity struct {
	// Identity
	EntityID string `json:"entity_id"` // "<platform>.<object_id>", e.g. "sensor.office_temperature"
	UniqueID string `json:"unique_id"` // stable vendor-derived ID, unique per platform
	Name     string `json:"name"`

	// Ownership
	ConfigEntryID string `json:"config_entry_id"`

	// Classification
	Platform    Platform `json:"platform"`
	DeviceClass *string  `json:"device_class,omitempty"`

	// Current state
	State      string     `json:"state"`
	Attributes Attributes `json:"attributes"`
	Available  bool       `json:"available"`

	// LastChanged tracks the last state value transition; LastUpdated any
	// state or attribute write.
	LastChanged *time.Time `json:"last_changed,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateUnknown is the state of an entity before its first update.
const StateUnknown = "unknown"

// DeepCopy creates a complete independent copy of the Entity.
// Attribute maps are cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Attributes = deepCopyMap(e.Attributes)
	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any, recursively
// copying nested maps and slices.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives are safe to copy by value
		return v
	}
}

// Attributes holds extra state detail as a JSON map.
//
// Examples:
//   - Temperature sensor: {"unit_of_measurement": "°C", "friendly_name": "Office"}
//   - Cover: {"current_position": 40, "moving": "down"}
//   - Device tracker: {"mac": "AA:BB:CC:DD:EE:FF", "host_name": "laptop"}
type Attributes map[string]any

// Platform is the entity domain an integration registers entities under.
type Platform string

// Platform constants.
const (
	PlatformSensor        Platform = "sensor"
	PlatformBinarySensor  Platform = "binary_sensor"
	PlatformSwitch        Platform = "switch"
	PlatformLight         Platform = "light"
	PlatformCover         Platform = "cover"
	PlatformDeviceTracker Platform = "device_tracker"
)

// AllPlatforms returns all valid platform values.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformSensor, PlatformBinarySensor, PlatformSwitch,
		PlatformLight, PlatformCover, PlatformDeviceTracker,
	}
}

// Common states for binary platforms.
const (
	StateOn  = "on"
	StateOff = "off"
)

// Device tracker states.
const (
	StateHome    = "home"
	StateNotHome = "not_home"
)

// Cover states.
const (
	StateOpen    = "open"
	StateOpening = "opening"
	StateClosed  = "closed"
	StateClosing = "closing"
)

// Sensor device classes (subset used by built-in integrations).
const (
	DeviceClassTemperature    = "temperature"
	DeviceClassHumidity       = "humidity"
	DeviceClassSignalStrength = "signal_strength"
	DeviceClassConnectivity   = "connectivity"
)
