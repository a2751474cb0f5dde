package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateListener is notified after a successful state write.
// old is nil for the first update after registration.
type StateListener func(old, updated *Entity)

// Registry provides entity management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Entity // Cached entities by entity ID
	cacheMu sync.RWMutex
	logger  Logger

	// onState is invoked after SetState/SetAvailable persists a change.
	onState   StateListener
	onStateMu sync.RWMutex
}

// NewRegistry creates a new entity registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Entity),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetOnStateChanged sets a listener invoked after each persisted state
// write. The listener receives deep copies and may be called from
// multiple goroutines.
func (r *Registry) SetOnStateChanged(listener StateListener) {
	r.onStateMu.Lock()
	r.onState = listener
	r.onStateMu.Unlock()
}

// RefreshCache reloads all entities from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	entities, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Entity, len(entities))
	for i := range entities {
		e := entities[i]
		r.cache[e.EntityID] = e.DeepCopy()
	}

	r.logger.Info("entity cache refreshed", "count", len(entities))
	return nil
}

// Get retrieves an entity by entity ID.
// Returns ErrNotFound if the entity does not exist.
// The returned entity is a deep copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, entityID string) (*Entity, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[entityID]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	e, err := r.repo.GetByEntityID(ctx, entityID)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[entityID] = e.DeepCopy()
	r.cacheMu.Unlock()

	return e, nil
}

// GetByUniqueID retrieves an entity by platform and unique ID.
// The returned entity is a deep copy; callers can safely modify it.
func (r *Registry) GetByUniqueID(ctx context.Context, platform Platform, uniqueID string) (*Entity, error) {
	r.cacheMu.RLock()
	for _, e := range r.cache {
		if e.Platform == platform && e.UniqueID == uniqueID {
			cpy := e.DeepCopy()
			r.cacheMu.RUnlock()
			return cpy, nil
		}
	}
	r.cacheMu.RUnlock()

	return r.repo.GetByUniqueID(ctx, platform, uniqueID)
}

// List retrieves all entities.
// The returned entities are deep copies; callers can safely modify them.
func (r *Registry) List(ctx context.Context) ([]Entity, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		entities := make([]Entity, 0, len(r.cache))
		for _, e := range r.cache {
			entities = append(entities, *e.DeepCopy())
		}
		return entities, nil
	}

	return r.repo.List(ctx)
}

// ListByConfigEntry retrieves all entities owned by a config entry.
func (r *Registry) ListByConfigEntry(ctx context.Context, configEntryID string) ([]Entity, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var entities []Entity
		for _, e := range r.cache {
			if e.ConfigEntryID == configEntryID {
				entities = append(entities, *e.DeepCopy())
			}
		}
		return entities, nil
	}

	return r.repo.ListByConfigEntry(ctx, configEntryID)
}

// ListByPlatform retrieves all entities on a specific platform.
func (r *Registry) ListByPlatform(ctx context.Context, platform Platform) ([]Entity, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var entities []Entity
		for _, e := range r.cache {
			if e.Platform == platform {
				entities = append(entities, *e.DeepCopy())
			}
		}
		return entities, nil
	}

	return r.repo.ListByPlatform(ctx, platform)
}

// Add registers a new entity.
//
// The entity ID is derived from platform and name if not provided, with
// numeric suffixes resolving collisions (sensor.office, sensor.office_2).
// If the (platform, unique_id) pair already belongs to another entity,
// ErrUniqueIDConflict is returned and no entity is created.
func (r *Registry) Add(ctx context.Context, e *Entity) error {
	if e.State == "" {
		e.State = StateUnknown
	}

	if e.EntityID == "" {
		e.EntityID = r.claimEntityID(e.Platform, e.Name)
	}

	if err := Validate(e); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, e); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[e.EntityID] = e.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("entity registered", "entity_id", e.EntityID, "platform", e.Platform)
	return nil
}

// claimEntityID builds an entity ID from platform and name, appending a
// numeric suffix until the ID is free in the cache.
func (r *Registry) claimEntityID(platform Platform, name string) string {
	base := BuildEntityID(platform, name)

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if _, taken := r.cache[base]; !taken {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if _, taken := r.cache[candidate]; !taken {
			return candidate
		}
	}
}

// Update modifies an existing entity's metadata (name, device class).
// State changes should go through SetState instead.
func (r *Registry) Update(ctx context.Context, e *Entity) error {
	if err := Validate(e); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, e); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[e.EntityID] = e.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("entity updated", "entity_id", e.EntityID)
	return nil
}

// Remove deletes an entity.
func (r *Registry) Remove(ctx context.Context, entityID string) error {
	if err := r.repo.Delete(ctx, entityID); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, entityID)
	r.cacheMu.Unlock()

	r.logger.Info("entity removed", "entity_id", entityID)
	return nil
}

// RemoveByConfigEntry deletes all entities owned by a config entry.
func (r *Registry) RemoveByConfigEntry(ctx context.Context, configEntryID string) (int, error) {
	removed, err := r.repo.DeleteByConfigEntry(ctx, configEntryID)
	if err != nil {
		return 0, err
	}

	r.cacheMu.Lock()
	for id, e := range r.cache {
		if e.ConfigEntryID == configEntryID {
			delete(r.cache, id)
		}
	}
	r.cacheMu.Unlock()

	r.logger.Info("entities removed for config entry",
		"config_entry_id", configEntryID,
		"count", removed,
	)
	return removed, nil
}

// SetState updates the state and attributes of an entity.
// This is optimised for frequent updates from coordinators.
//
// LastUpdated is always refreshed; LastChanged only when the state value
// itself differs from the previous one. The write marks the entity
// available.
func (r *Registry) SetState(ctx context.Context, entityID string, state string, attrs Attributes) error {
	return r.writeState(ctx, entityID, state, attrs, true)
}

// SetAvailable marks an entity available or unavailable without touching
// its last known state.
func (r *Registry) SetAvailable(ctx context.Context, entityID string, available bool) error {
	old, err := r.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if old.Available == available {
		return nil
	}

	now := time.Now().UTC()
	if err := r.repo.UpdateState(ctx, entityID, old.State, old.Attributes, available, nil, now); err != nil {
		return err
	}

	updated := old.DeepCopy()
	updated.Available = available
	updated.LastUpdated = &now

	r.cacheMu.Lock()
	r.cache[entityID] = updated.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Debug("entity availability updated", "entity_id", entityID, "available", available)
	r.notifyState(old, updated)
	return nil
}

// writeState persists a state update and fans out to the state listener.
func (r *Registry) writeState(ctx context.Context, entityID string, state string, attrs Attributes, available bool) error {
	old, err := r.Get(ctx, entityID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var lastChanged *time.Time
	if old.State != state {
		lastChanged = &now
	}

	if err := r.repo.UpdateState(ctx, entityID, state, attrs, available, lastChanged, now); err != nil {
		return err
	}

	updated := old.DeepCopy()
	updated.State = state
	updated.Attributes = deepCopyMap(attrs)
	updated.Available = available
	updated.LastUpdated = &now
	if lastChanged != nil {
		updated.LastChanged = lastChanged
	}

	r.cacheMu.Lock()
	r.cache[entityID] = updated.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Debug("entity state updated", "entity_id", entityID, "state", state)
	r.notifyState(old, updated)
	return nil
}

// notifyState invokes the state listener, if set.
func (r *Registry) notifyState(old, updated *Entity) {
	r.onStateMu.RLock()
	listener := r.onState
	r.onStateMu.RUnlock()
	if listener != nil {
		listener(old, updated)
	}
}

// Count returns the number of cached entities.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalEntities int
	ByPlatform    map[Platform]int
	Unavailable   int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalEntities: len(r.cache),
		ByPlatform:    make(map[Platform]int),
	}

	for _, e := range r.cache {
		stats.ByPlatform[e.Platform]++
		if !e.Available {
			stats.Unavailable++
		}
	}

	return stats
}

// IsNotFound reports whether err indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
