package configentry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Setup retry backoff parameters. An integration returning ErrNotReady
// is retried after setupRetryBase, doubling per attempt up to
// setupRetryMax, with jitter so a fleet of entries does not hammer a
// recovering device in lockstep.
const (
	setupRetryBase   = 5 * time.Second
	setupRetryMax    = 300 * time.Second
	setupRetryJitter = 0.1
)

// Integration is implemented by each integration package. SetupEntry
// connects to the vendor device or API and registers entities;
// UnloadEntry tears that down and must leave no goroutines behind.
//
// SetupEntry returning ErrNotReady (wrapped or bare) marks the entry
// setup_retry and schedules a retry; any other error marks it
// setup_error until a reload.
type Integration interface {
	SetupEntry(ctx context.Context, entry *Entry) error
	UnloadEntry(ctx context.Context, entry *Entry) error
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EntityRemover removes all entities owned by a config entry. Satisfied
// by entity.Registry.
type EntityRemover interface {
	RemoveByConfigEntry(ctx context.Context, configEntryID string) (int, error)
}

// EntryListener is notified after an entry changes state or is removed.
// For removals the entry carries its last known state.
type EntryListener func(entry *Entry)

// Manager owns the config entry lifecycle: creation, setup, retry with
// backoff, reload, options updates and removal. Operations on the same
// entry are serialized; operations on different entries may run
// concurrently.
type Manager struct {
	repo     Repository
	entities EntityRemover
	logger   Logger

	mu           sync.Mutex
	integrations map[string]Integration
	locks        map[string]*sync.Mutex
	retries      map[string]*retryState

	onChange   EntryListener
	onChangeMu sync.RWMutex

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a config entry manager.
func NewManager(repo Repository, entities EntityRemover) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:         repo,
		entities:     entities,
		logger:       noopLogger{},
		integrations: make(map[string]Integration),
		locks:        make(map[string]*sync.Mutex),
		retries:      make(map[string]*retryState),
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetOnEntryChanged sets a listener invoked after entry state changes.
func (m *Manager) SetOnEntryChanged(listener EntryListener) {
	m.onChangeMu.Lock()
	m.onChange = listener
	m.onChangeMu.Unlock()
}

// RegisterIntegration registers the integration serving a domain.
// Registration happens once at boot, before SetupAll.
func (m *Manager) RegisterIntegration(domain string, integration Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.integrations[domain]; exists {
		return fmt.Errorf("configentry: integration %q already registered", domain)
	}
	m.integrations[domain] = integration
	return nil
}

// Domains returns the registered integration domains.
func (m *Manager) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	domains := make([]string, 0, len(m.integrations))
	for d := range m.integrations {
		domains = append(domains, d)
	}
	return domains
}

// Get retrieves an entry by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Entry, error) {
	return m.repo.GetByID(ctx, id)
}

// List retrieves all entries.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	return m.repo.List(ctx)
}

// Add validates, persists and sets up a new entry.
//
// A duplicate (domain, unique_id) pair returns ErrAlreadyConfigured and
// nothing is persisted. Setup failures do not fail Add: the entry is
// kept with state setup_error or setup_retry and the caller can inspect
// entry.State afterwards.
func (m *Manager) Add(ctx context.Context, e *Entry) error {
	if e.Domain == "" || e.Title == "" {
		return fmt.Errorf("%w: domain and title are required", ErrInvalid)
	}

	m.mu.Lock()
	_, known := m.integrations[e.Domain]
	m.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, e.Domain)
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Source == "" {
		e.Source = SourceUser
	}
	e.State = StateNotLoaded

	if e.UniqueID != nil {
		_, err := m.repo.GetByUniqueID(ctx, e.Domain, *e.UniqueID)
		if err == nil {
			return ErrAlreadyConfigured
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	if err := m.repo.Create(ctx, e); err != nil {
		return err
	}

	m.logger.Info("config entry added", "entry_id", e.ID, "domain", e.Domain, "title", e.Title)
	m.notify(e)

	if err := m.Setup(ctx, e.ID); err != nil && !errors.Is(err, ErrNotReady) {
		m.logger.Warn("initial setup failed", "entry_id", e.ID, "error", err)
	}

	if updated, err := m.repo.GetByID(ctx, e.ID); err == nil {
		*e = *updated
	}
	return nil
}

// SetupAll sets up every persisted entry. Called once at boot, after
// all integrations are registered. Entries whose setup is not ready are
// left in setup_retry with a scheduled retry; other failures are logged
// and recorded on the entry.
func (m *Manager) SetupAll(ctx context.Context) error {
	entries, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing config entries: %w", err)
	}

	for i := range entries {
		e := &entries[i]
		if err := m.Setup(ctx, e.ID); err != nil {
			if errors.Is(err, ErrNotReady) {
				continue
			}
			m.logger.Error("config entry setup failed",
				"entry_id", e.ID,
				"domain", e.Domain,
				"error", err,
			)
		}
	}
	return nil
}

// Setup loads a single entry. Returns ErrAlreadyLoaded if it is already
// loaded, ErrNotReady (with a retry scheduled) when the integration
// reports the device unreachable.
func (m *Manager) Setup(ctx context.Context, id string) error {
	lock := m.entryLock(id)
	lock.Lock()
	defer lock.Unlock()

	return m.setupLocked(ctx, id, 0)
}

// setupLocked performs setup with the entry lock held. attempt is the
// number of retries already consumed, used for backoff on the next one.
func (m *Manager) setupLocked(ctx context.Context, id string, attempt int) error {
	e, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e.State == StateLoaded {
		return ErrAlreadyLoaded
	}

	m.mu.Lock()
	integration, known := m.integrations[e.Domain]
	m.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, e.Domain)
	}

	m.setState(ctx, e, StateInProgress, nil)

	err = integration.SetupEntry(ctx, e)
	switch {
	case err == nil:
		m.setState(ctx, e, StateLoaded, nil)
		m.logger.Info("config entry loaded", "entry_id", e.ID, "domain", e.Domain)
		return nil

	case errors.Is(err, ErrNotReady):
		m.setState(ctx, e, StateSetupRetry, errMessage(err))
		delay := retryDelay(attempt)
		m.logger.Warn("config entry not ready, retrying",
			"entry_id", e.ID,
			"domain", e.Domain,
			"retry_in", delay.Round(time.Millisecond).String(),
		)
		m.scheduleRetry(id, attempt+1, delay)
		return ErrNotReady

	default:
		m.setState(ctx, e, StateSetupError, errMessage(err))
		return fmt.Errorf("setting up %s: %w", e.Domain, err)
	}
}

// retryState identifies one pending retry so a fired retry only clears
// its own registration.
type retryState struct {
	cancel context.CancelFunc
}

// scheduleRetry arms a one-shot retry goroutine for an entry, replacing
// any retry already pending.
func (m *Manager) scheduleRetry(id string, attempt int, delay time.Duration) {
	retryCtx, cancel := context.WithCancel(m.baseCtx)
	state := &retryState{cancel: cancel}

	m.mu.Lock()
	if prev, ok := m.retries[id]; ok {
		prev.cancel()
	}
	m.retries[id] = state
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-retryCtx.Done():
			return
		case <-timer.C:
		}

		m.clearRetry(id, state)

		lock := m.entryLock(id)
		lock.Lock()
		defer lock.Unlock()

		if err := m.setupLocked(retryCtx, id, attempt); err != nil && !errors.Is(err, ErrNotReady) {
			m.logger.Error("config entry retry failed", "entry_id", id, "error", err)
		}
	}()
}

// clearRetry removes the retry registration if it still belongs to the
// given retry.
func (m *Manager) clearRetry(id string, state *retryState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.retries[id]; ok && current == state {
		delete(m.retries, id)
	}
}

// cancelRetry cancels any pending retry for an entry.
func (m *Manager) cancelRetry(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.retries[id]; ok {
		state.cancel()
		delete(m.retries, id)
	}
}

// Unload unloads a single entry. Unloading an entry that is not loaded
// cancels any pending retry and succeeds.
func (m *Manager) Unload(ctx context.Context, id string) error {
	lock := m.entryLock(id)
	lock.Lock()
	defer lock.Unlock()

	return m.unloadLocked(ctx, id)
}

func (m *Manager) unloadLocked(ctx context.Context, id string) error {
	m.cancelRetry(id)

	e, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e.State != StateLoaded {
		if e.State != StateNotLoaded {
			m.setState(ctx, e, StateNotLoaded, nil)
		}
		return nil
	}

	m.mu.Lock()
	integration, known := m.integrations[e.Domain]
	m.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, e.Domain)
	}

	if err := integration.UnloadEntry(ctx, e); err != nil {
		m.setState(ctx, e, StateFailedUnload, errMessage(err))
		return fmt.Errorf("unloading %s: %w", e.Domain, err)
	}

	m.setState(ctx, e, StateNotLoaded, nil)
	m.logger.Info("config entry unloaded", "entry_id", e.ID, "domain", e.Domain)
	return nil
}

// Reload unloads and sets up an entry again. Used after options or
// credentials change.
func (m *Manager) Reload(ctx context.Context, id string) error {
	lock := m.entryLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.unloadLocked(ctx, id); err != nil {
		return err
	}
	err := m.setupLocked(ctx, id, 0)
	if errors.Is(err, ErrNotReady) {
		return nil
	}
	return err
}

// UpdateOptions persists new options for an entry and reloads it so the
// integration picks them up.
func (m *Manager) UpdateOptions(ctx context.Context, id string, options map[string]any) error {
	if err := m.repo.UpdateOptions(ctx, id, options); err != nil {
		return err
	}

	if e, err := m.repo.GetByID(ctx, id); err == nil {
		m.notify(e)
	}

	return m.Reload(ctx, id)
}

// Remove unloads an entry, deletes its entities and deletes the entry.
func (m *Manager) Remove(ctx context.Context, id string) error {
	lock := m.entryLock(id)
	lock.Lock()
	defer lock.Unlock()

	e, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := m.unloadLocked(ctx, id); err != nil {
		// Removal proceeds anyway, the entry is going away.
		m.logger.Warn("unload during removal failed", "entry_id", id, "error", err)
	}

	removed, err := m.entities.RemoveByConfigEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("removing entities: %w", err)
	}

	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}

	m.logger.Info("config entry removed",
		"entry_id", id,
		"domain", e.Domain,
		"entities_removed", removed,
	)

	e.State = StateNotLoaded
	m.notify(e)
	return nil
}

// Shutdown cancels pending retries and unloads all loaded entries.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	m.wg.Wait()

	entries, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing config entries: %w", err)
	}

	var firstErr error
	for i := range entries {
		if entries[i].State != StateLoaded {
			continue
		}
		if err := m.Unload(ctx, entries[i].ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// entryLock returns the mutex serializing operations on one entry.
func (m *Manager) entryLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// setState persists a state transition and notifies the listener.
// Persistence failures are logged, not propagated: the in-memory
// lifecycle must keep moving even if the bookkeeping write fails.
func (m *Manager) setState(ctx context.Context, e *Entry, state State, setupErr *string) {
	e.State = state
	e.SetupErr = setupErr

	if err := m.repo.UpdateState(ctx, e.ID, state, setupErr); err != nil {
		m.logger.Error("persisting config entry state failed",
			"entry_id", e.ID,
			"state", string(state),
			"error", err,
		)
	}
	m.notify(e)
}

func (m *Manager) notify(e *Entry) {
	m.onChangeMu.RLock()
	listener := m.onChange
	m.onChangeMu.RUnlock()
	if listener != nil {
		listener(e.DeepCopy())
	}
}

// retryDelay computes the backoff for a given attempt count with jitter.
func retryDelay(attempt int) time.Duration {
	delay := setupRetryBase << attempt
	if delay > setupRetryMax || delay <= 0 {
		delay = setupRetryMax
	}

	jitter := 1 + setupRetryJitter*(2*rand.Float64()-1)
	return time.Duration(float64(delay) * jitter)
}

// errMessage extracts an error message pointer for persistence.
func errMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
