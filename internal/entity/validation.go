package entity

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxObjectIDLength = 64
	objectIDPattern   = `^[a-z0-9]+(?:_[a-z0-9]+)*$`

	// Size limits for the attributes map to prevent DoS via memory
	// exhaustion from misbehaving vendor APIs.
	maxAttributeKeys  = 100
	maxStringValueLen = 1024
)

var objectIDRegex = regexp.MustCompile(objectIDPattern)

// Pre-computed validation set for O(1) lookups.
var validPlatforms map[Platform]struct{}

func init() {
	validPlatforms = make(map[Platform]struct{}, len(AllPlatforms()))
	for _, p := range AllPlatforms() {
		validPlatforms[p] = struct{}{}
	}
}

// Validate performs comprehensive validation on an entity.
// Returns an error describing the first validation failure found.
func Validate(e *Entity) error {
	if e == nil {
		return ErrInvalid
	}

	if err := ValidateName(e.Name); err != nil {
		return err
	}

	if err := ValidatePlatform(e.Platform); err != nil {
		return err
	}

	if e.UniqueID == "" {
		return fmt.Errorf("%w: unique_id is required", ErrInvalid)
	}

	if e.EntityID != "" {
		if err := ValidateEntityID(e.EntityID); err != nil {
			return err
		}
		// The prefix must match the declared platform
		if !strings.HasPrefix(e.EntityID, string(e.Platform)+".") {
			return fmt.Errorf("%w: %q does not match platform %q", ErrInvalidEntityID, e.EntityID, e.Platform)
		}
	}

	if len(e.Attributes) > maxAttributeKeys {
		return fmt.Errorf("%w: attributes exceed max keys (%d)", ErrInvalid, maxAttributeKeys)
	}
	for k, v := range e.Attributes {
		if s, ok := v.(string); ok && len(s) > maxStringValueLen {
			return fmt.Errorf("%w: attribute %q value too long", ErrInvalid, k)
		}
	}

	return nil
}

// ValidateName checks that an entity name is present and within limits.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidatePlatform checks that a platform value is recognised.
func ValidatePlatform(p Platform) error {
	if _, ok := validPlatforms[p]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPlatform, p)
	}
	return nil
}

// ValidateEntityID checks an entity ID of the form "<platform>.<object_id>".
func ValidateEntityID(id string) error {
	platform, objectID, ok := strings.Cut(id, ".")
	if !ok {
		return fmt.Errorf("%w: %q (expected platform.object_id)", ErrInvalidEntityID, id)
	}
	if err := ValidatePlatform(Platform(platform)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}
	if len(objectID) == 0 || len(objectID) > maxObjectIDLength || !objectIDRegex.MatchString(objectID) {
		return fmt.Errorf("%w: %q (object id must be snake_case)", ErrInvalidEntityID, id)
	}
	return nil
}
