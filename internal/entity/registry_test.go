package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu       sync.Mutex
	entities map[string]*Entity
	// For testing error paths
	createErr      error
	updateErr      error
	deleteErr      error
	updateStateErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		entities: make(map[string]*Entity),
	}
}

func (m *MockRepository) GetByEntityID(_ context.Context, entityID string) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entities[entityID]; ok {
		copy := *e
		return &copy, nil
	}
	return nil, ErrNotFound
}

func (m *MockRepository) GetByUniqueID(_ context.Context, platform Platform, uniqueID string) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entities {
		if e.Platform == platform && e.UniqueID == uniqueID {
			copy := *e
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entities := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		entities = append(entities, *e)
	}
	return entities, nil
}

func (m *MockRepository) ListByConfigEntry(_ context.Context, configEntryID string) ([]Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entities []Entity
	for _, e := range m.entities {
		if e.ConfigEntryID == configEntryID {
			entities = append(entities, *e)
		}
	}
	return entities, nil
}

func (m *MockRepository) ListByPlatform(_ context.Context, platform Platform) ([]Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entities []Entity
	for _, e := range m.entities {
		if e.Platform == platform {
			entities = append(entities, *e)
		}
	}
	return entities, nil
}

func (m *MockRepository) Create(_ context.Context, e *Entity) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entities[e.EntityID]; exists {
		return ErrExists
	}
	for _, existing := range m.entities {
		if existing.Platform == e.Platform && existing.UniqueID == e.UniqueID {
			return ErrUniqueIDConflict
		}
	}

	copy := *e
	m.entities[e.EntityID] = &copy
	return nil
}

func (m *MockRepository) Update(_ context.Context, e *Entity) error {
	if m.updateErr != nil {
		return m.updateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entities[e.EntityID]; !exists {
		return ErrNotFound
	}

	copy := *e
	m.entities[e.EntityID] = &copy
	return nil
}

func (m *MockRepository) Delete(_ context.Context, entityID string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entities[entityID]; !exists {
		return ErrNotFound
	}

	delete(m.entities, entityID)
	return nil
}

func (m *MockRepository) DeleteByConfigEntry(_ context.Context, configEntryID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.entities {
		if e.ConfigEntryID == configEntryID {
			delete(m.entities, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MockRepository) UpdateState(_ context.Context, entityID string, state string, attrs Attributes, available bool, lastChanged *time.Time, lastUpdated time.Time) error {
	if m.updateStateErr != nil {
		return m.updateStateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entities[entityID]
	if !exists {
		return ErrNotFound
	}

	e.State = state
	e.Attributes = attrs
	e.Available = available
	if lastChanged != nil {
		e.LastChanged = lastChanged
	}
	e.LastUpdated = &lastUpdated
	return nil
}

// addEntity adds an entity directly to the mock for test setup.
func (m *MockRepository) addEntity(e *Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *e
	m.entities[e.EntityID] = &copy
}

func testEntity(entityID, name string) *Entity {
	return &Entity{
		EntityID:      entityID,
		UniqueID:      "uid-" + entityID,
		ConfigEntryID: "entry-1",
		Platform:      PlatformSensor,
		Name:          name,
		State:         StateUnknown,
		Available:     true,
	}
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	repo.addEntity(testEntity("sensor.office", "Office"))
	repo.addEntity(testEntity("sensor.hall", "Hall"))

	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	if registry.Count() != 2 {
		t.Errorf("Count() = %d, want 2", registry.Count())
	}
}

func TestRegistry_Get(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	repo.addEntity(testEntity("sensor.office", "Office"))
	registry.RefreshCache(ctx)

	t.Run("returns entity from cache", func(t *testing.T) {
		got, err := registry.Get(ctx, "sensor.office")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.EntityID != "sensor.office" {
			t.Errorf("EntityID = %q, want %q", got.EntityID, "sensor.office")
		}
	})

	t.Run("returns ErrNotFound for nonexistent", func(t *testing.T) {
		_, err := registry.Get(ctx, "sensor.nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("returned entity is a copy", func(t *testing.T) {
		got, _ := registry.Get(ctx, "sensor.office")
		got.Name = "Mutated"

		again, _ := registry.Get(ctx, "sensor.office")
		if again.Name != "Office" {
			t.Errorf("Name = %q, cache was mutated through returned copy", again.Name)
		}
	})
}

func TestRegistry_Add(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	t.Run("derives entity ID from platform and name", func(t *testing.T) {
		e := &Entity{
			UniqueID:      "aa:bb:cc:dd:ee:ff",
			ConfigEntryID: "entry-1",
			Platform:      PlatformDeviceTracker,
			Name:          "Office Laptop",
		}

		if err := registry.Add(ctx, e); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		if e.EntityID != "device_tracker.office_laptop" {
			t.Errorf("EntityID = %q, want %q", e.EntityID, "device_tracker.office_laptop")
		}
		if e.State != StateUnknown {
			t.Errorf("State = %q, want %q", e.State, StateUnknown)
		}
	})

	t.Run("resolves entity ID collisions with numeric suffix", func(t *testing.T) {
		first := &Entity{
			UniqueID:      "uid-a",
			ConfigEntryID: "entry-1",
			Platform:      PlatformSensor,
			Name:          "Upstairs",
		}
		second := &Entity{
			UniqueID:      "uid-b",
			ConfigEntryID: "entry-1",
			Platform:      PlatformSensor,
			Name:          "Upstairs",
		}

		if err := registry.Add(ctx, first); err != nil {
			t.Fatalf("first Add() error = %v", err)
		}
		if err := registry.Add(ctx, second); err != nil {
			t.Fatalf("second Add() error = %v", err)
		}
		if second.EntityID != "sensor.upstairs_2" {
			t.Errorf("EntityID = %q, want %q", second.EntityID, "sensor.upstairs_2")
		}
	})

	t.Run("rejects duplicate unique ID on same platform", func(t *testing.T) {
		dup := &Entity{
			UniqueID:      "uid-a",
			ConfigEntryID: "entry-2",
			Platform:      PlatformSensor,
			Name:          "Duplicate",
		}

		err := registry.Add(ctx, dup)
		if !errors.Is(err, ErrUniqueIDConflict) {
			t.Errorf("Add() error = %v, want ErrUniqueIDConflict", err)
		}
	})

	t.Run("validates entity before creating", func(t *testing.T) {
		e := &Entity{
			UniqueID:      "uid-c",
			ConfigEntryID: "entry-1",
			Platform:      PlatformSensor,
			Name:          "",
		}

		err := registry.Add(ctx, e)
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("Add() error = %v, want ErrInvalidName", err)
		}
	})
}

func TestRegistry_SetState(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	repo.addEntity(testEntity("sensor.office", "Office"))
	registry.RefreshCache(ctx)

	t.Run("updates state and timestamps", func(t *testing.T) {
		err := registry.SetState(ctx, "sensor.office", "21.5", Attributes{"unit": "°C"})
		if err != nil {
			t.Fatalf("SetState() error = %v", err)
		}

		got, _ := registry.Get(ctx, "sensor.office")
		if got.State != "21.5" {
			t.Errorf("State = %q, want %q", got.State, "21.5")
		}
		if got.LastChanged == nil {
			t.Error("LastChanged not set on state transition")
		}
		if got.LastUpdated == nil {
			t.Error("LastUpdated not set")
		}
	})

	t.Run("preserves last_changed when state value is unchanged", func(t *testing.T) {
		first, _ := registry.Get(ctx, "sensor.office")

		time.Sleep(5 * time.Millisecond)
		if err := registry.SetState(ctx, "sensor.office", "21.5", nil); err != nil {
			t.Fatalf("SetState() error = %v", err)
		}

		got, _ := registry.Get(ctx, "sensor.office")
		if !got.LastChanged.Equal(*first.LastChanged) {
			t.Errorf("LastChanged = %v, want %v (unchanged)", got.LastChanged, first.LastChanged)
		}
		if !got.LastUpdated.After(*first.LastUpdated) {
			t.Error("LastUpdated was not refreshed")
		}
	})

	t.Run("notifies listener with old and new state", func(t *testing.T) {
		var gotOld, gotNew string
		registry.SetOnStateChanged(func(old, updated *Entity) {
			gotOld = old.State
			gotNew = updated.State
		})

		if err := registry.SetState(ctx, "sensor.office", "22.0", nil); err != nil {
			t.Fatalf("SetState() error = %v", err)
		}

		if gotOld != "21.5" || gotNew != "22.0" {
			t.Errorf("listener got (%q, %q), want (%q, %q)", gotOld, gotNew, "21.5", "22.0")
		}
	})

	t.Run("returns ErrNotFound for unknown entity", func(t *testing.T) {
		err := registry.SetState(ctx, "sensor.nope", "1", nil)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("SetState() error = %v, want ErrNotFound", err)
		}
	})
}

func TestRegistry_SetAvailable(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	repo.addEntity(testEntity("sensor.office", "Office"))
	registry.RefreshCache(ctx)

	if err := registry.SetAvailable(ctx, "sensor.office", false); err != nil {
		t.Fatalf("SetAvailable() error = %v", err)
	}

	got, _ := registry.Get(ctx, "sensor.office")
	if got.Available {
		t.Error("Available = true, want false")
	}
	if got.State != StateUnknown {
		t.Errorf("State = %q, availability write must not touch state", got.State)
	}

	// No-op when already in requested availability.
	called := false
	registry.SetOnStateChanged(func(_, _ *Entity) { called = true })
	if err := registry.SetAvailable(ctx, "sensor.office", false); err != nil {
		t.Fatalf("SetAvailable() error = %v", err)
	}
	if called {
		t.Error("listener fired for no-op availability write")
	}
}

func TestRegistry_RemoveByConfigEntry(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		e := testEntity(fmt.Sprintf("sensor.e%d", i), fmt.Sprintf("E%d", i))
		e.UniqueID = fmt.Sprintf("uid-%d", i)
		repo.addEntity(e)
	}
	other := testEntity("sensor.other", "Other")
	other.ConfigEntryID = "entry-2"
	repo.addEntity(other)
	registry.RefreshCache(ctx)

	removed, err := registry.RemoveByConfigEntry(ctx, "entry-1")
	if err != nil {
		t.Fatalf("RemoveByConfigEntry() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if registry.Count() != 1 {
		t.Errorf("Count() = %d, want 1", registry.Count())
	}
	if _, err := registry.Get(ctx, "sensor.other"); err != nil {
		t.Errorf("unrelated entity was removed: %v", err)
	}
}

func TestRegistry_GetStats(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	tracker := testEntity("device_tracker.phone", "Phone")
	tracker.Platform = PlatformDeviceTracker
	tracker.Available = false
	repo.addEntity(tracker)
	repo.addEntity(testEntity("sensor.office", "Office"))
	registry.RefreshCache(ctx)

	stats := registry.GetStats()
	if stats.TotalEntities != 2 {
		t.Errorf("TotalEntities = %d, want 2", stats.TotalEntities)
	}
	if stats.ByPlatform[PlatformSensor] != 1 {
		t.Errorf("ByPlatform[sensor] = %d, want 1", stats.ByPlatform[PlatformSensor])
	}
	if stats.Unavailable != 1 {
		t.Errorf("Unavailable = %d, want 1", stats.Unavailable)
	}
}
