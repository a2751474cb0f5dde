package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ember-home/ember-core/internal/configentry"
	"github.com/ember-home/ember-core/internal/debounce"
)

// Defaults for polling coordinators.
const (
	// requestRefreshCooldown spaces out RequestRefresh storms, for
	// example a burst of service calls each wanting fresh data.
	requestRefreshCooldown = 10 * time.Second

	// defaultUpdateTimeout bounds a single update func invocation.
	defaultUpdateTimeout = 30 * time.Second
)

// ErrUpdateFailed marks expected, transient fetch failures (device
// offline, malformed response). Update funcs wrap it so the
// coordinator logs them once per outage instead of once per poll.
var ErrUpdateFailed = errors.New("coordinator: update failed")

// UpdateFunc fetches fresh data from the device or API.
type UpdateFunc[T any] func(ctx context.Context) (T, error)

// Logger defines the logging interface used by coordinators.
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

// Coordinator polls an UpdateFunc on an interval and fans results out
// to listeners. One coordinator serves all entities of an integration
// instance, so a router with thirty tracked devices costs one HTTP
// request per interval, not thirty.
type Coordinator[T any] struct {
	name          string
	interval      time.Duration
	updateTimeout time.Duration
	update        UpdateFunc[T]
	logger        Logger

	mu                sync.Mutex
	data              T
	lastUpdateSuccess bool
	lastErr           error
	listeners         map[int]func()
	nextListenerID    int

	refreshDebouncer *debounce.Debouncer

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option configures a Coordinator.
type Option[T any] func(*Coordinator[T])

// WithLogger sets the coordinator's logger.
func WithLogger[T any](logger Logger) Option[T] {
	return func(c *Coordinator[T]) { c.logger = logger }
}

// WithUpdateTimeout overrides the per-update timeout.
func WithUpdateTimeout[T any](timeout time.Duration) Option[T] {
	return func(c *Coordinator[T]) { c.updateTimeout = timeout }
}

// New creates a coordinator. name appears in log lines, typically
// "<domain> <host>". The coordinator does not poll until Start.
func New[T any](name string, interval time.Duration, update UpdateFunc[T], opts ...Option[T]) *Coordinator[T] {
	c := &Coordinator[T]{
		name:              name,
		interval:          interval,
		updateTimeout:     defaultUpdateTimeout,
		update:            update,
		logger:            noopLogger{},
		lastUpdateSuccess: true,
		listeners:         make(map[int]func()),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.refreshDebouncer = debounce.New(requestRefreshCooldown, true, func(ctx context.Context) {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Debug("requested refresh failed", "coordinator", c.name, "error", err)
		}
	})

	return c
}

// FirstRefresh performs the initial update during config entry setup.
// Any failure is wrapped in configentry.ErrNotReady so the entry lands
// in setup_retry instead of setup_error; the device being briefly
// unreachable at boot is not a configuration problem.
func (c *Coordinator[T]) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %s: %s", configentry.ErrNotReady, c.name, err)
	}
	return nil
}

// Start launches the polling loop. An interval of zero disables
// polling; the coordinator then only refreshes on demand.
func (c *Coordinator[T]) Start() {
	if c.interval <= 0 {
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.pollLoop(loopCtx)
}

func (c *Coordinator[T]) pollLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// With nothing listening the poll is wasted work and
			// needless device load.
			if c.listenerCount() == 0 {
				continue
			}
			if err := c.Refresh(ctx); err != nil {
				continue
			}
		}
	}
}

// Refresh runs the update func now and notifies listeners, successful
// or not. Listeners read LastUpdateSuccess to mark entities
// unavailable during an outage.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	updateCtx, cancel := context.WithTimeout(ctx, c.updateTimeout)
	defer cancel()

	data, err := c.update(updateCtx)

	c.mu.Lock()
	if err != nil {
		if c.lastUpdateSuccess {
			c.logger.Error("update failed", "coordinator", c.name, "error", err)
		} else {
			c.logger.Debug("update still failing", "coordinator", c.name, "error", err)
		}
		c.lastUpdateSuccess = false
		c.lastErr = err
	} else {
		if !c.lastUpdateSuccess {
			c.logger.Info("update recovered", "coordinator", c.name)
		}
		c.data = data
		c.lastUpdateSuccess = true
		c.lastErr = nil
	}
	listeners := make([]func(), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l()
	}
	return err
}

// RequestRefresh asks for a refresh soon. Requests are debounced with
// a ten second cooldown: the first runs immediately, a burst collapses
// into one trailing refresh. Use Refresh for a guaranteed immediate
// fetch.
func (c *Coordinator[T]) RequestRefresh() {
	c.refreshDebouncer.Call()
}

// Data returns the most recent successfully fetched data.
func (c *Coordinator[T]) Data() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// LastUpdateSuccess reports whether the most recent update succeeded.
func (c *Coordinator[T]) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdateSuccess
}

// LastError returns the error from the most recent failed update, or
// nil after a success.
func (c *Coordinator[T]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// AddListener registers a callback invoked after every refresh. The
// returned func removes it.
func (c *Coordinator[T]) AddListener(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator[T]) listenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Shutdown stops polling and the refresh debouncer. Safe to call more
// than once.
func (c *Coordinator[T]) Shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
			<-c.done
		}
		c.refreshDebouncer.Shutdown()
	})
}
