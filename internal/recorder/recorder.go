package recorder

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ember-home/ember-core/internal/bus"
)

// StateWriter persists one state sample. Satisfied by influxdb.Client.
type StateWriter interface {
	WriteEntityState(entityID, platform, state string, numericValue *float64, available bool, at time.Time)
}

// Logger defines the logging interface used by the recorder.
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

// Recorder streams state_changed events from the bus into time-series
// storage. It only records actual state transitions; availability-only
// writes and repeated identical states are skipped.
type Recorder struct {
	events *bus.Bus
	writer StateWriter
	logger Logger

	unsubscribe func()
	done        chan struct{}
	recorded    atomic.Int64
	skipped     atomic.Int64
}

// New creates a recorder draining the given bus into the writer.
func New(events *bus.Bus, writer StateWriter) *Recorder {
	return &Recorder{
		events: events,
		writer: writer,
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start subscribes to the bus and begins recording.
func (r *Recorder) Start() {
	ch, unsubscribe := r.events.Subscribe(bus.EventStateChanged)
	r.unsubscribe = unsubscribe

	go func() {
		defer close(r.done)
		for event := range ch {
			r.record(event)
		}
	}()

	r.logger.Info("recorder started")
}

// record writes one state_changed event.
func (r *Recorder) record(event bus.Event) {
	entityID, _ := event.Data["entity_id"].(string)
	platform, _ := event.Data["platform"].(string)
	oldState, _ := event.Data["old_state"].(string)
	newState, _ := event.Data["new_state"].(string)
	available, _ := event.Data["available"].(bool)

	if entityID == "" || newState == "" {
		r.skipped.Add(1)
		return
	}
	if newState == oldState {
		r.skipped.Add(1)
		return
	}

	var numeric *float64
	if v, err := strconv.ParseFloat(newState, 64); err == nil {
		numeric = &v
	}

	r.writer.WriteEntityState(entityID, platform, newState, numeric, available, event.Time)
	r.recorded.Add(1)
}

// Recorded returns the number of samples written.
func (r *Recorder) Recorded() int64 {
	return r.recorded.Load()
}

// Skipped returns the number of events filtered out.
func (r *Recorder) Skipped() int64 {
	return r.skipped.Load()
}

// Stop unsubscribes and waits for in-flight events to drain.
func (r *Recorder) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		<-r.done
	}
}
