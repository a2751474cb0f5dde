package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ember-home/ember-core/internal/configentry"
)

// flowTTL is how long an unfinished flow is kept before it expires.
const flowTTL = 15 * time.Minute

// Handler runs the steps of one flow instance. A handler may keep
// state between steps (a verified connection, partial input).
//
// Step is called with input == nil to produce the form for stepID, and
// with the submitted values to process it. The first step of every
// flow is "user".
type Handler interface {
	Step(ctx context.Context, stepID string, input map[string]any) (*Result, error)
}

// HandlerFactory creates a fresh handler per started flow.
type HandlerFactory func() Handler

// EntryCreator persists the entry a finished flow produced. Satisfied
// by configentry.Manager.
type EntryCreator interface {
	Add(ctx context.Context, e *configentry.Entry) error
}

// Logger defines the logging interface used by the flow manager.
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

// activeFlow is the in-memory state of one running flow.
type activeFlow struct {
	id       string
	domain   string
	source   configentry.Source
	handler  Handler
	stepID   string
	schema   Schema
	deadline time.Time
}

// Status is the externally visible state of a flow after a step.
type Status struct {
	FlowID string  `json:"flow_id"`
	Domain string  `json:"domain"`
	Result *Result `json:"result"`
	// EntryID is set when the flow finished with create_entry.
	EntryID string `json:"entry_id,omitempty"`
}

// Manager drives multi-step configuration wizards. Flows live in
// memory only; an unfinished flow disappears on restart or after
// flowTTL.
type Manager struct {
	entries EntryCreator
	logger  Logger

	mu        sync.Mutex
	factories map[string]HandlerFactory
	flows     map[string]*activeFlow

	now func() time.Time
}

// NewManager creates a flow manager routing finished flows into the
// given entry creator.
func NewManager(entries EntryCreator) *Manager {
	return &Manager{
		entries:   entries,
		logger:    noopLogger{},
		factories: make(map[string]HandlerFactory),
		flows:     make(map[string]*activeFlow),
		now:       time.Now,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// RegisterHandler registers the flow handler factory for a domain.
func (m *Manager) RegisterHandler(domain string, factory HandlerFactory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.factories[domain]; exists {
		return fmt.Errorf("flow: handler %q already registered", domain)
	}
	m.factories[domain] = factory
	return nil
}

// Domains returns the domains that can start a flow.
func (m *Manager) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	domains := make([]string, 0, len(m.factories))
	for d := range m.factories {
		domains = append(domains, d)
	}
	return domains
}

// Start begins a flow for a domain and returns its first result,
// normally a form for the "user" step.
func (m *Manager) Start(ctx context.Context, domain string, source configentry.Source) (*Status, error) {
	m.mu.Lock()
	m.purgeExpiredLocked()
	factory, ok := m.factories[domain]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, domain)
	}

	if source == "" {
		source = configentry.SourceUser
	}

	f := &activeFlow{
		id:       uuid.New().String(),
		domain:   domain,
		source:   source,
		handler:  factory(),
		stepID:   "user",
		deadline: m.now().Add(flowTTL),
	}

	result, err := f.handler.Step(ctx, f.stepID, nil)
	if err != nil {
		return nil, fmt.Errorf("starting %s flow: %w", domain, err)
	}

	return m.advance(ctx, f, result)
}

// Step submits input for the flow's current step and advances it.
func (m *Manager) Step(ctx context.Context, flowID string, input map[string]any) (*Status, error) {
	m.mu.Lock()
	m.purgeExpiredLocked()
	f, ok := m.flows[flowID]
	if ok {
		delete(m.flows, flowID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrFlowNotFound
	}

	if errs := validateInput(f.schema, input); len(errs) > 0 {
		return m.advance(ctx, f, ShowFormErrors(f.stepID, f.schema, errs))
	}

	result, err := f.handler.Step(ctx, f.stepID, input)
	if err != nil {
		// Keep the flow alive so the user can retry the step.
		m.mu.Lock()
		m.flows[f.id] = f
		m.mu.Unlock()
		return nil, fmt.Errorf("running %s step %s: %w", f.domain, f.stepID, err)
	}

	return m.advance(ctx, f, result)
}

// advance applies a step result: forms keep the flow alive, final
// results retire it. create_entry is routed into the entry store, with
// duplicates translated into an abort.
func (m *Manager) advance(ctx context.Context, f *activeFlow, result *Result) (*Status, error) {
	status := &Status{FlowID: f.id, Domain: f.domain, Result: result}

	switch result.Kind {
	case ResultShowForm:
		f.stepID = result.StepID
		f.schema = result.Schema
		f.deadline = m.now().Add(flowTTL)

		m.mu.Lock()
		m.flows[f.id] = f
		m.mu.Unlock()
		return status, nil

	case ResultCreateEntry:
		entry := &configentry.Entry{
			Domain:   f.domain,
			Title:    result.Title,
			Source:   f.source,
			UniqueID: result.UniqueID,
			Data:     result.Data,
		}

		err := m.entries.Add(ctx, entry)
		if errors.Is(err, configentry.ErrAlreadyConfigured) {
			status.Result = Abort(ReasonAlreadyConfigured)
			return status, nil
		}
		if err != nil {
			return nil, fmt.Errorf("creating entry from %s flow: %w", f.domain, err)
		}

		status.EntryID = entry.ID
		m.logger.Info("flow finished", "domain", f.domain, "flow_id", f.id, "entry_id", entry.ID)
		return status, nil

	case ResultAbort:
		m.logger.Debug("flow aborted", "domain", f.domain, "flow_id", f.id, "reason", result.Reason)
		return status, nil

	default:
		return nil, fmt.Errorf("flow: handler returned unknown result kind %q", result.Kind)
	}
}

// InProgress returns the number of unfinished flows.
func (m *Manager) InProgress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked()
	return len(m.flows)
}

// purgeExpiredLocked drops flows past their deadline. Caller holds mu.
func (m *Manager) purgeExpiredLocked() {
	now := m.now()
	for id, f := range m.flows {
		if now.After(f.deadline) {
			delete(m.flows, id)
		}
	}
}

// validateInput checks submitted values against the last shown schema.
// Returns a field -> error-key map, empty when the input is acceptable.
func validateInput(schema Schema, input map[string]any) map[string]string {
	errs := make(map[string]string)
	for _, field := range schema {
		if !field.Required {
			continue
		}
		v, ok := input[field.Name]
		if !ok || v == nil || v == "" {
			errs[field.Name] = "required"
		}
	}
	return errs
}
