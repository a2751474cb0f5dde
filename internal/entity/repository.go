package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for entity persistence operations.
// This abstraction allows different implementations (SQLite, mock) and
// enables unit testing without database dependencies.
type Repository interface {
	// GetByEntityID retrieves an entity by its entity ID.
	// Returns ErrNotFound if the entity does not exist.
	GetByEntityID(ctx context.Context, entityID string) (*Entity, error)

	// GetByUniqueID retrieves an entity by platform and unique ID.
	// Returns ErrNotFound if the entity does not exist.
	GetByUniqueID(ctx context.Context, platform Platform, uniqueID string) (*Entity, error)

	// List retrieves all entities.
	List(ctx context.Context) ([]Entity, error)

	// ListByConfigEntry retrieves all entities owned by a config entry.
	ListByConfigEntry(ctx context.Context, configEntryID string) ([]Entity, error)

	// ListByPlatform retrieves all entities on a specific platform.
	ListByPlatform(ctx context.Context, platform Platform) ([]Entity, error)

	// Create inserts a new entity.
	// Returns ErrExists if the entity ID is taken, ErrUniqueIDConflict
	// if the (platform, unique_id) pair is taken.
	Create(ctx context.Context, e *Entity) error

	// Update modifies an existing entity.
	// Returns ErrNotFound if the entity does not exist.
	Update(ctx context.Context, e *Entity) error

	// Delete removes an entity by entity ID.
	// Returns ErrNotFound if the entity does not exist.
	Delete(ctx context.Context, entityID string) error

	// DeleteByConfigEntry removes all entities owned by a config entry.
	// Returns the number of entities removed.
	DeleteByConfigEntry(ctx context.Context, configEntryID string) (int, error)

	// UpdateState updates only the state-related fields of an entity.
	// This is optimised for frequent updates from coordinators.
	UpdateState(ctx context.Context, entityID string, state string, attrs Attributes, available bool, lastChanged *time.Time, lastUpdated time.Time) error
}

// entityColumns is the column list shared by all SELECT queries.
const entityColumns = `entity_id, unique_id, config_entry_id, platform, name, device_class,
		state, attributes, available, last_changed, last_updated, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByEntityID retrieves an entity by its entity ID.
func (r *SQLiteRepository) GetByEntityID(ctx context.Context, entityID string) (*Entity, error) {
	query := fmt.Sprintf(`SELECT %s FROM entities WHERE entity_id = ?`, entityColumns)

	row := r.db.QueryRowContext(ctx, query, entityID)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying entity by id: %w", err)
	}
	return e, nil
}

// GetByUniqueID retrieves an entity by platform and unique ID.
func (r *SQLiteRepository) GetByUniqueID(ctx context.Context, platform Platform, uniqueID string) (*Entity, error) {
	query := fmt.Sprintf(`SELECT %s FROM entities WHERE platform = ? AND unique_id = ?`, entityColumns)

	row := r.db.QueryRowContext(ctx, query, string(platform), uniqueID)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying entity by unique id: %w", err)
	}
	return e, nil
}

// List retrieves all entities.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entity, error) {
	query := fmt.Sprintf(`SELECT %s FROM entities ORDER BY entity_id`, entityColumns)
	return r.queryEntities(ctx, query)
}

// ListByConfigEntry retrieves all entities owned by a config entry.
func (r *SQLiteRepository) ListByConfigEntry(ctx context.Context, configEntryID string) ([]Entity, error) {
	query := fmt.Sprintf(`SELECT %s FROM entities WHERE config_entry_id = ? ORDER BY entity_id`, entityColumns)
	return r.queryEntities(ctx, query, configEntryID)
}

// ListByPlatform retrieves all entities on a specific platform.
func (r *SQLiteRepository) ListByPlatform(ctx context.Context, platform Platform) ([]Entity, error) {
	query := fmt.Sprintf(`SELECT %s FROM entities WHERE platform = ? ORDER BY entity_id`, entityColumns)
	return r.queryEntities(ctx, query, string(platform))
}

// Create inserts a new entity.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entity) error {
	attrsJSON, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO entities (
			entity_id, unique_id, config_entry_id, platform, name, device_class,
			state, attributes, available, last_changed, last_updated, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		e.EntityID,
		e.UniqueID,
		e.ConfigEntryID,
		string(e.Platform),
		e.Name,
		nullableString(e.DeviceClass),
		e.State,
		string(attrsJSON),
		boolToInt(e.Available),
		nullableTime(e.LastChanged),
		nullableTime(e.LastUpdated),
		e.CreatedAt.Format(time.RFC3339),
		e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "entities.entity_id") {
				return ErrExists
			}
			return ErrUniqueIDConflict
		}
		return fmt.Errorf("inserting entity: %w", err)
	}

	return nil
}

// Update modifies an existing entity.
func (r *SQLiteRepository) Update(ctx context.Context, e *Entity) error {
	attrsJSON, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	e.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE entities
		SET unique_id = ?, config_entry_id = ?, platform = ?, name = ?, device_class = ?,
			state = ?, attributes = ?, available = ?, last_changed = ?, last_updated = ?,
			updated_at = ?
		WHERE entity_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		e.UniqueID,
		e.ConfigEntryID,
		string(e.Platform),
		e.Name,
		nullableString(e.DeviceClass),
		e.State,
		string(attrsJSON),
		boolToInt(e.Available),
		nullableTime(e.LastChanged),
		nullableTime(e.LastUpdated),
		e.UpdatedAt.Format(time.RFC3339),
		e.EntityID,
	)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes an entity by entity ID.
func (r *SQLiteRepository) Delete(ctx context.Context, entityID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM entities WHERE entity_id = ?", entityID)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteByConfigEntry removes all entities owned by a config entry.
func (r *SQLiteRepository) DeleteByConfigEntry(ctx context.Context, configEntryID string) (int, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM entities WHERE config_entry_id = ?", configEntryID)
	if err != nil {
		return 0, fmt.Errorf("deleting entities for config entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// UpdateState updates only the state-related fields of an entity.
func (r *SQLiteRepository) UpdateState(ctx context.Context, entityID string, state string, attrs Attributes, available bool, lastChanged *time.Time, lastUpdated time.Time) error {
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE entities
		SET state = ?, attributes = ?, available = ?, last_changed = COALESCE(?, last_changed),
			last_updated = ?, updated_at = ?
		WHERE entity_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		state,
		string(attrsJSON),
		boolToInt(available),
		nullableTime(lastChanged),
		lastUpdated.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		entityID,
	)
	if err != nil {
		return fmt.Errorf("updating entity state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// queryEntities executes a query and returns a slice of entities.
func (r *SQLiteRepository) queryEntities(ctx context.Context, query string, args ...any) ([]Entity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entities = append(entities, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}

	return entities, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntity scans a row or rows result into an Entity.
func scanEntity(scanner rowScanner) (*Entity, error) {
	var e Entity
	var deviceClass sql.NullString
	var lastChanged, lastUpdated sql.NullString
	var attrsJSON string
	var available int
	var platform string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&e.EntityID,
		&e.UniqueID,
		&e.ConfigEntryID,
		&platform,
		&e.Name,
		&deviceClass,
		&e.State,
		&attrsJSON,
		&available,
		&lastChanged,
		&lastUpdated,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Platform = Platform(platform)
	e.Available = available != 0

	if deviceClass.Valid {
		e.DeviceClass = &deviceClass.String
	}

	if lastChanged.Valid {
		if t, err := time.Parse(time.RFC3339, lastChanged.String); err == nil {
			e.LastChanged = &t
		}
	}
	if lastUpdated.Valid {
		if t, err := time.Parse(time.RFC3339, lastUpdated.String); err == nil {
			e.LastUpdated = &t
		}
	}

	var parseErr error
	e.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	e.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(attrsJSON), &e.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshalling attributes: %w", err)
	}

	return &e, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
