package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ember-home/ember-core/internal/bus"
	"github.com/ember-home/ember-core/internal/ratelimit"
)

var (
	// ErrServiceNotFound is returned when no handler is registered for
	// a domain/service pair.
	ErrServiceNotFound = errors.New("service: service not found")

	// ErrInvalidCall is returned for calls missing a domain or service.
	ErrInvalidCall = errors.New("service: invalid call")
)

// Call is one invocation of a service.
type Call struct {
	Domain    string         `json:"domain"`
	Service   string         `json:"service"`
	EntityIDs []string       `json:"entity_ids,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (c Call) key() string {
	return c.Domain + "." + c.Service
}

// HandlerFunc executes a service call.
type HandlerFunc func(ctx context.Context, call Call) error

// Logger defines the logging interface used by the registry.
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

// registration is one registered service.
type registration struct {
	handler   HandlerFunc
	rateLimit time.Duration
}

// Option configures a registration.
type Option func(*registration)

// WithRateLimit limits how often the service runs. Calls inside the
// window are deferred: the last suppressed call runs once the window
// closes. Useful for services talking to devices that wedge under
// command bursts.
func WithRateLimit(limit time.Duration) Option {
	return func(r *registration) { r.rateLimit = limit }
}

// Registry maps domain/service pairs to handlers and dispatches calls.
type Registry struct {
	events  *bus.Bus
	logger  Logger
	limiter *ratelimit.Keyed

	mu       sync.RWMutex
	services map[string]*registration
}

// NewRegistry creates a service registry publishing call events on the
// given bus.
func NewRegistry(events *bus.Bus) *Registry {
	return &Registry{
		events:   events,
		logger:   noopLogger{},
		limiter:  ratelimit.NewKeyed(),
		services: make(map[string]*registration),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a service handler for a domain/service pair.
func (r *Registry) Register(domain, service string, handler HandlerFunc, opts ...Option) error {
	if domain == "" || service == "" {
		return fmt.Errorf("%w: domain and service are required", ErrInvalidCall)
	}

	reg := &registration{handler: handler}
	for _, opt := range opts {
		opt(reg)
	}

	key := domain + "." + service

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[key]; exists {
		return fmt.Errorf("service: %s already registered", key)
	}
	r.services[key] = reg
	return nil
}

// Unregister removes all services of a domain. Called when an
// integration unloads its last entry.
func (r *Registry) Unregister(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := domain + "."
	for key := range r.services {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			r.limiter.CancelTimer(key)
			delete(r.services, key)
		}
	}
}

// Services returns the registered service names per domain.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for key := range r.services {
		names = append(names, key)
	}
	return names
}

// Call dispatches a service call. Rate-limited services may defer the
// call; the returned error is then nil and the call runs later.
// A service_called event is published for every dispatched call.
func (r *Registry) Call(ctx context.Context, call Call) error {
	if call.Domain == "" || call.Service == "" {
		return fmt.Errorf("%w: domain and service are required", ErrInvalidCall)
	}

	key := call.key()

	r.mu.RLock()
	reg, ok := r.services[key]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, key)
	}

	now := time.Now()
	if reg.rateLimit > 0 {
		next := r.limiter.ScheduleAction(key, reg.rateLimit, now, func() {
			// Deferred execution runs detached from the original
			// request context.
			if err := r.execute(context.Background(), reg, call, time.Now()); err != nil {
				r.logger.Warn("deferred service call failed", "service", key, "error", err)
			}
		})
		if !next.IsZero() {
			r.logger.Debug("service call deferred",
				"service", key,
				"next_allowed", next.Format(time.RFC3339),
			)
			return nil
		}
	}

	return r.execute(ctx, reg, call, now)
}

// execute runs the handler and publishes the call event.
func (r *Registry) execute(ctx context.Context, reg *registration, call Call, now time.Time) error {
	if reg.rateLimit > 0 {
		r.limiter.Triggered(call.key(), now)
	}

	err := reg.handler(ctx, call)

	event := bus.Event{
		Type: bus.EventServiceCalled,
		Data: map[string]any{
			"domain":     call.Domain,
			"service":    call.Service,
			"entity_ids": call.EntityIDs,
			"success":    err == nil,
		},
	}
	r.events.Publish(event)

	if err != nil {
		return fmt.Errorf("calling %s: %w", call.key(), err)
	}
	return nil
}

// Shutdown cancels deferred rate-limited calls.
func (r *Registry) Shutdown() {
	r.limiter.Stop()
}
