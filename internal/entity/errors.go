package entity

import "errors"

// Domain errors for the entity package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, entity.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when an entity ID does not exist.
	ErrNotFound = errors.New("entity: not found")

	// ErrExists is returned when creating an entity whose entity ID already exists.
	ErrExists = errors.New("entity: already exists")

	// ErrUniqueIDConflict is returned when another entity on the same
	// platform already claims the unique ID.
	ErrUniqueIDConflict = errors.New("entity: unique id conflict")

	// ErrInvalid is returned when entity validation fails.
	ErrInvalid = errors.New("entity: invalid")

	// ErrInvalidPlatform is returned when a platform value is not recognised.
	ErrInvalidPlatform = errors.New("entity: invalid platform")

	// ErrInvalidEntityID is returned when an entity ID is malformed.
	ErrInvalidEntityID = errors.New("entity: invalid entity id")

	// ErrInvalidName is returned when an entity name is empty or too long.
	ErrInvalidName = errors.New("entity: invalid name")
)
