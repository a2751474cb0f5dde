package entity

import (
	"fmt"
	"strings"
)

// ObjectID converts a human-readable name into a snake_case object ID
// suitable for the right-hand side of an entity ID.
//
//	ObjectID("Office Temperature") == "office_temperature"
func ObjectID(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "_")
	id = strings.ReplaceAll(id, "-", "_")

	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	id = result.String()

	id = strings.Trim(id, "_")
	for strings.Contains(id, "__") {
		id = strings.ReplaceAll(id, "__", "_")
	}

	if len(id) > maxObjectIDLength {
		id = id[:maxObjectIDLength]
		id = strings.TrimRight(id, "_")
	}

	return id
}

// BuildEntityID composes an entity ID from a platform and a name.
//
//	BuildEntityID(PlatformSensor, "Office Temperature") == "sensor.office_temperature"
func BuildEntityID(platform Platform, name string) string {
	return fmt.Sprintf("%s.%s", platform, ObjectID(name))
}

// MACObjectID converts a MAC address into an object ID.
//
//	MACObjectID("AA:BB:CC:DD:EE:FF") == "aa_bb_cc_dd_ee_ff"
func MACObjectID(mac string) string {
	return ObjectID(strings.ReplaceAll(strings.ToLower(mac), ":", "_"))
}
