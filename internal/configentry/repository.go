package configentry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for config entry persistence.
type Repository interface {
	// GetByID retrieves an entry by its ID.
	// Returns ErrNotFound if the entry does not exist.
	GetByID(ctx context.Context, id string) (*Entry, error)

	// GetByUniqueID retrieves an entry by domain and unique ID.
	// Returns ErrNotFound if no such entry exists.
	GetByUniqueID(ctx context.Context, domain, uniqueID string) (*Entry, error)

	// List retrieves all entries.
	List(ctx context.Context) ([]Entry, error)

	// ListByDomain retrieves all entries for an integration domain.
	ListByDomain(ctx context.Context, domain string) ([]Entry, error)

	// Create inserts a new entry.
	// Returns ErrAlreadyConfigured if the (domain, unique_id) pair is taken.
	Create(ctx context.Context, e *Entry) error

	// Update modifies an existing entry.
	// Returns ErrNotFound if the entry does not exist.
	Update(ctx context.Context, e *Entry) error

	// UpdateState updates only the lifecycle state of an entry.
	UpdateState(ctx context.Context, id string, state State, setupErr *string) error

	// UpdateOptions replaces the options map of an entry.
	UpdateOptions(ctx context.Context, id string, options map[string]any) error

	// Delete removes an entry by ID.
	// Returns ErrNotFound if the entry does not exist.
	Delete(ctx context.Context, id string) error
}

// entryColumns is the column list shared by all SELECT queries.
const entryColumns = `id, domain, title, source, unique_id, data, options,
		state, setup_error, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves an entry by its ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM config_entries WHERE id = ?`, entryColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying config entry by id: %w", err)
	}
	return e, nil
}

// GetByUniqueID retrieves an entry by domain and unique ID.
func (r *SQLiteRepository) GetByUniqueID(ctx context.Context, domain, uniqueID string) (*Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM config_entries WHERE domain = ? AND unique_id = ?`, entryColumns)

	row := r.db.QueryRowContext(ctx, query, domain, uniqueID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying config entry by unique id: %w", err)
	}
	return e, nil
}

// List retrieves all entries.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM config_entries ORDER BY domain, title`, entryColumns)
	return r.queryEntries(ctx, query)
}

// ListByDomain retrieves all entries for an integration domain.
func (r *SQLiteRepository) ListByDomain(ctx context.Context, domain string) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM config_entries WHERE domain = ? ORDER BY title`, entryColumns)
	return r.queryEntries(ctx, query, domain)
}

// Create inserts a new entry.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshalling data: %w", err)
	}
	optionsJSON, err := json.Marshal(e.Options)
	if err != nil {
		return fmt.Errorf("marshalling options: %w", err)
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.State == "" {
		e.State = StateNotLoaded
	}

	query := `
		INSERT INTO config_entries (
			id, domain, title, source, unique_id, data, options,
			state, setup_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		e.ID,
		e.Domain,
		e.Title,
		string(e.Source),
		nullableString(e.UniqueID),
		string(dataJSON),
		string(optionsJSON),
		string(e.State),
		nullableString(e.SetupErr),
		e.CreatedAt.Format(time.RFC3339),
		e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAlreadyConfigured
		}
		return fmt.Errorf("inserting config entry: %w", err)
	}

	return nil
}

// Update modifies an existing entry.
func (r *SQLiteRepository) Update(ctx context.Context, e *Entry) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshalling data: %w", err)
	}
	optionsJSON, err := json.Marshal(e.Options)
	if err != nil {
		return fmt.Errorf("marshalling options: %w", err)
	}

	e.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE config_entries
		SET domain = ?, title = ?, source = ?, unique_id = ?, data = ?,
			options = ?, state = ?, setup_error = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		e.Domain,
		e.Title,
		string(e.Source),
		nullableString(e.UniqueID),
		string(dataJSON),
		string(optionsJSON),
		string(e.State),
		nullableString(e.SetupErr),
		e.UpdatedAt.Format(time.RFC3339),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating config entry: %w", err)
	}

	return checkRowsAffected(result)
}

// UpdateState updates only the lifecycle state of an entry.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State, setupErr *string) error {
	query := `
		UPDATE config_entries
		SET state = ?, setup_error = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(state),
		nullableString(setupErr),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating config entry state: %w", err)
	}

	return checkRowsAffected(result)
}

// UpdateOptions replaces the options map of an entry.
func (r *SQLiteRepository) UpdateOptions(ctx context.Context, id string, options map[string]any) error {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshalling options: %w", err)
	}

	query := `
		UPDATE config_entries
		SET options = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(optionsJSON),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating config entry options: %w", err)
	}

	return checkRowsAffected(result)
}

// Delete removes an entry by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM config_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting config entry: %w", err)
	}

	return checkRowsAffected(result)
}

// queryEntries executes a query and returns a slice of entries.
func (r *SQLiteRepository) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying config entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning config entry: %w", err)
		}
		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating config entries: %w", err)
	}

	return entries, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry scans a row or rows result into an Entry.
func scanEntry(scanner rowScanner) (*Entry, error) {
	var e Entry
	var source, state string
	var uniqueID, setupErr sql.NullString
	var dataJSON, optionsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&e.ID,
		&e.Domain,
		&e.Title,
		&source,
		&uniqueID,
		&dataJSON,
		&optionsJSON,
		&state,
		&setupErr,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Source = Source(source)
	e.State = State(state)

	if uniqueID.Valid {
		e.UniqueID = &uniqueID.String
	}
	if setupErr.Valid {
		e.SetupErr = &setupErr.String
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

	if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
		return nil, fmt.Errorf("unmarshalling data: %w", err)
	}
	if err := json.Unmarshal([]byte(optionsJSON), &e.Options); err != nil {
		return nil, fmt.Errorf("unmarshalling options: %w", err)
	}

	return &e, nil
}

// checkRowsAffected converts a zero-row UPDATE/DELETE into ErrNotFound.
func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
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
