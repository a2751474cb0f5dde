package mqttcover

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ember-home/ember-core/internal/configentry"
	"github.com/ember-home/ember-core/internal/entity"
	"github.com/ember-home/ember-core/internal/infrastructure/mqtt"
	"github.com/ember-home/ember-core/internal/service"
	"github.com/ember-home/ember-core/internal/travel"
)

// Domain is the integration identifier.
const Domain = "mqtt_cover"

// ServiceDomain is the service namespace covers are driven through.
const ServiceDomain = "cover"

// Default command payloads, overridable per entry.
const (
	defaultPayloadOpen  = "OPEN"
	defaultPayloadClose = "CLOSE"
	defaultPayloadStop  = "STOP"

	defaultTravelTime = 25.0 // seconds
)

// Broker is the slice of the MQTT client the integration needs.
// Satisfied by *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the integration.
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

// Integration drives time-based covers over MQTT. The device only
// understands open, close and stop commands; position is estimated
// from travel time, and intermediate positions are reached by issuing
// a stop once the estimate arrives at the target.
type Integration struct {
	entities *entity.Registry
	broker   Broker
	logger   Logger

	mu      sync.Mutex
	covers  map[string]*cover   // entity ID -> cover
	entries map[string][]string // entry ID -> entity IDs
}

// New creates the MQTT cover integration.
func New(entities *entity.Registry, broker Broker) *Integration {
	return &Integration{
		entities: entities,
		broker:   broker,
		logger:   noopLogger{},
		covers:   make(map[string]*cover),
		entries:  make(map[string][]string),
	}
}

// SetLogger sets the logger for the integration.
func (i *Integration) SetLogger(logger Logger) {
	i.logger = logger
}

// SetupEntry registers the cover entity and subscribes to its topics.
func (i *Integration) SetupEntry(ctx context.Context, entry *configentry.Entry) error {
	name := entry.DataString("name")
	commandTopic := entry.DataString("command_topic")
	if name == "" || commandTopic == "" {
		return fmt.Errorf("entry %s needs name and command_topic", entry.ID)
	}

	travelDown := time.Duration(entry.OptionFloat("travel_time_down", defaultTravelTime) * float64(time.Second))
	travelUp := time.Duration(entry.OptionFloat("travel_time_up", defaultTravelTime) * float64(time.Second))

	c := &cover{
		commandTopic:      commandTopic,
		stateTopic:        entry.DataString("state_topic"),
		availabilityTopic: entry.DataString("availability_topic"),
		setPositionTopic:  entry.DataString("set_position_topic"),
		payloadOpen:       payloadOrDefault(entry, "payload_open", defaultPayloadOpen),
		payloadClose:      payloadOrDefault(entry, "payload_close", defaultPayloadClose),
		payloadStop:       payloadOrDefault(entry, "payload_stop", defaultPayloadStop),
		calc:              travel.New(travelDown, travelUp),
	}

	uniqueID := fmt.Sprintf("%s_%s", Domain, entry.ID)
	if existing, err := i.entities.GetByUniqueID(ctx, entity.PlatformCover, uniqueID); err == nil {
		c.entityID = existing.EntityID
	} else {
		e := &entity.Entity{
			UniqueID:      uniqueID,
			ConfigEntryID: entry.ID,
			Platform:      entity.PlatformCover,
			Name:          name,
		}
		if err := i.entities.Add(ctx, e); err != nil {
			return fmt.Errorf("registering cover entity: %w", err)
		}
		c.entityID = e.EntityID
	}

	if c.stateTopic != "" {
		if err := i.broker.Subscribe(c.stateTopic, 0, func(topic string, payload []byte) error {
			i.handleStateMessage(c, string(payload))
			return nil
		}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", c.stateTopic, err)
		}
	}
	if c.availabilityTopic != "" {
		if err := i.broker.Subscribe(c.availabilityTopic, 0, func(topic string, payload []byte) error {
			i.handleAvailabilityMessage(c, string(payload))
			return nil
		}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", c.availabilityTopic, err)
		}
	}

	i.mu.Lock()
	i.covers[c.entityID] = c
	i.entries[entry.ID] = append(i.entries[entry.ID], c.entityID)
	i.mu.Unlock()

	i.writeState(context.Background(), c)
	i.logger.Info("cover configured", "domain", Domain, "entity_id", c.entityID, "command_topic", commandTopic)
	return nil
}

// UnloadEntry unsubscribes and marks the cover unavailable.
func (i *Integration) UnloadEntry(ctx context.Context, entry *configentry.Entry) error {
	i.mu.Lock()
	entityIDs := i.entries[entry.ID]
	delete(i.entries, entry.ID)
	covers := make([]*cover, 0, len(entityIDs))
	for _, id := range entityIDs {
		if c, ok := i.covers[id]; ok {
			covers = append(covers, c)
			delete(i.covers, id)
		}
	}
	i.mu.Unlock()

	for _, c := range covers {
		c.stopUpdater()
		for _, topic := range []string{c.stateTopic, c.availabilityTopic} {
			if topic == "" {
				continue
			}
			if err := i.broker.Unsubscribe(topic); err != nil {
				i.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
			}
		}
		if err := i.entities.SetAvailable(ctx, c.entityID, false); err != nil {
			i.logger.Warn("marking cover unavailable failed", "entity_id", c.entityID, "error", err)
		}
	}
	return nil
}

// RegisterServices exposes the cover command surface on the service
// registry. Called once at startup, not per entry.
func (i *Integration) RegisterServices(services *service.Registry) error {
	handlers := map[string]func(ctx context.Context, c *cover, call service.Call) error{
		"open_cover":         func(ctx context.Context, c *cover, _ service.Call) error { return i.openCover(ctx, c) },
		"close_cover":        func(ctx context.Context, c *cover, _ service.Call) error { return i.closeCover(ctx, c) },
		"stop_cover":         func(ctx context.Context, c *cover, _ service.Call) error { return i.stopCover(ctx, c) },
		"set_cover_position": i.handleSetPosition,
	}

	for name, handler := range handlers {
		handler := handler
		err := services.Register(ServiceDomain, name, func(ctx context.Context, call service.Call) error {
			return i.dispatch(ctx, call, handler)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// dispatch runs a handler against every cover named in the call.
func (i *Integration) dispatch(ctx context.Context, call service.Call, handler func(context.Context, *cover, service.Call) error) error {
	if len(call.EntityIDs) == 0 {
		return fmt.Errorf("%w: %s.%s needs entity_ids", service.ErrInvalidCall, call.Domain, call.Service)
	}

	var firstErr error
	for _, entityID := range call.EntityIDs {
		i.mu.Lock()
		c, ok := i.covers[entityID]
		i.mu.Unlock()
		if !ok {
			i.logger.Debug("service call skipped unknown cover", "entity_id", entityID)
			continue
		}
		if err := handler(ctx, c, call); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (i *Integration) handleSetPosition(ctx context.Context, c *cover, call service.Call) error {
	raw, ok := call.Data["position"]
	if !ok {
		return fmt.Errorf("%w: set_cover_position needs position", service.ErrInvalidCall)
	}
	var position int
	switch v := raw.(type) {
	case float64:
		position = int(v)
	case int:
		position = v
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: position %q is not a number", service.ErrInvalidCall, v)
		}
		position = parsed
	default:
		return fmt.Errorf("%w: position has unsupported type %T", service.ErrInvalidCall, raw)
	}
	return i.setPosition(ctx, c, position)
}

// handleStateMessage applies a confirmed report from the device.
func (i *Integration) handleStateMessage(c *cover, payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "open":
		c.calc.SetPosition(travel.PositionOpen)
	case "closed":
		c.calc.SetPosition(travel.PositionClosed)
	default:
		position, err := strconv.Atoi(strings.TrimSpace(payload))
		if err != nil {
			i.logger.Warn("unparseable state payload", "entity_id", c.entityID, "payload", payload)
			return
		}
		c.calc.SetPosition(position)
	}

	c.stopUpdater()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := i.writeState(ctx, c); err != nil {
		i.logger.Warn("cover state write failed", "entity_id", c.entityID, "error", err)
	}
}

// handleAvailabilityMessage flips availability on birth/will messages.
func (i *Integration) handleAvailabilityMessage(c *cover, payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	available := strings.EqualFold(strings.TrimSpace(payload), "online")
	if err := i.entities.SetAvailable(ctx, c.entityID, available); err != nil {
		i.logger.Warn("availability write failed", "entity_id", c.entityID, "error", err)
	}
}

func payloadOrDefault(entry *configentry.Entry, key, def string) string {
	if v := entry.DataString(key); v != "" {
		return v
	}
	return def
}
