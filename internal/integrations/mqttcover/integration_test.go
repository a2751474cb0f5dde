package mqttcover

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ember-home/ember-core/internal/bus"
	"github.com/ember-home/ember-core/internal/configentry"
	"github.com/ember-home/ember-core/internal/entity"
	"github.com/ember-home/ember-core/internal/infrastructure/mqtt"
	"github.com/ember-home/ember-core/internal/service"
)

type publishedMsg struct {
	topic   string
	payload string
}

// fakeBroker records publishes and lets tests inject incoming messages.
type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMsg
	handlers  map[string]mqtt.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMsg{topic: topic, payload: string(payload)})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) inject(t *testing.T, topic, payload string) {
	t.Helper()
	b.mu.Lock()
	handler := b.handlers[topic]
	b.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscription on %q", topic)
	}
	if err := handler(topic, []byte(payload)); err != nil {
		t.Fatalf("handler on %q returned %v", topic, err)
	}
}

func (b *fakeBroker) messages() []publishedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]publishedMsg, len(b.published))
	copy(out, b.published)
	return out
}

func (b *fakeBroker) lastOn(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].topic == topic {
			return b.published[i].payload, true
		}
	}
	return "", false
}

func newTestRegistry(t *testing.T) *entity.Registry {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE entities (
			entity_id       TEXT PRIMARY KEY,
			unique_id       TEXT NOT NULL,
			config_entry_id TEXT NOT NULL,
			platform        TEXT NOT NULL,
			name            TEXT NOT NULL,
			device_class    TEXT,
			state           TEXT NOT NULL DEFAULT 'unknown',
			attributes      TEXT NOT NULL DEFAULT '{}',
			available       INTEGER NOT NULL DEFAULT 1,
			last_changed    TEXT,
			last_updated    TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_entities_platform_unique_id ON entities(platform, unique_id);
	`)
	if err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return entity.NewRegistry(entity.NewSQLiteRepository(db))
}

func testEntry(data map[string]any, options map[string]any) *configentry.Entry {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["name"]; !ok {
		data["name"] = "Living Room Blind"
	}
	if _, ok := data["command_topic"]; !ok {
		data["command_topic"] = "blind/set"
	}
	return &configentry.Entry{
		ID:      "entry-1",
		Domain:  Domain,
		Title:   "Living Room Blind",
		Source:  configentry.SourceUser,
		Data:    data,
		Options: options,
	}
}

func setupCover(t *testing.T, data, options map[string]any) (*Integration, *fakeBroker, string) {
	t.Helper()

	registry := newTestRegistry(t)
	broker := newFakeBroker()
	integ := New(registry, broker)

	entry := testEntry(data, options)
	if err := integ.SetupEntry(context.Background(), entry); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}

	integ.mu.Lock()
	entityID := integ.entries[entry.ID][0]
	integ.mu.Unlock()
	return integ, broker, entityID
}

func positionAttr(t *testing.T, e *entity.Entity) int {
	t.Helper()
	switch v := e.Attributes["position"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		t.Fatalf("position attribute = %v (%T), want number", e.Attributes["position"], e.Attributes["position"])
		return 0
	}
}

// waitForState polls until the entity reaches the wanted state.
func waitForState(t *testing.T, integ *Integration, entityID, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last string
	for time.Now().Before(deadline) {
		e, err := integ.entities.Get(context.Background(), entityID)
		if err == nil {
			last = e.State
			if last == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", last, want)
}

func TestSetupRegistersCover(t *testing.T) {
	integ, broker, entityID := setupCover(t, map[string]any{
		"state_topic":        "blind/state",
		"availability_topic": "blind/availability",
	}, nil)

	e, err := integ.entities.Get(context.Background(), entityID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.Platform != entity.PlatformCover {
		t.Errorf("Platform = %q, want cover", e.Platform)
	}

	broker.mu.Lock()
	_, hasState := broker.handlers["blind/state"]
	_, hasAvail := broker.handlers["blind/availability"]
	broker.mu.Unlock()
	if !hasState || !hasAvail {
		t.Error("expected subscriptions on state and availability topics")
	}
}

func TestSetupRejectsMissingCommandTopic(t *testing.T) {
	registry := newTestRegistry(t)
	integ := New(registry, newFakeBroker())

	entry := testEntry(nil, nil)
	entry.Data = map[string]any{"name": "Broken"}
	if err := integ.SetupEntry(context.Background(), entry); err == nil {
		t.Fatal("expected error for missing command_topic")
	}
}

func TestOpenCoverPublishesCommand(t *testing.T) {
	integ, broker, entityID := setupCover(t, nil, map[string]any{
		"travel_time_down": 0.2,
		"travel_time_up":   0.2,
	})

	integ.mu.Lock()
	c := integ.covers[entityID]
	integ.mu.Unlock()
	c.calc.SetPosition(100)

	if err := integ.openCover(context.Background(), c); err != nil {
		t.Fatalf("openCover() error = %v", err)
	}

	if got, _ := broker.lastOn("blind/set"); got != "OPEN" {
		t.Errorf("command payload = %q, want OPEN", got)
	}

	e, _ := integ.entities.Get(context.Background(), entityID)
	if e.State != entity.StateOpening {
		t.Errorf("state = %q, want opening", e.State)
	}

	waitForState(t, integ, entityID, entity.StateOpen)
}

func TestCloseCoverReachesClosed(t *testing.T) {
	integ, broker, entityID := setupCover(t, nil, map[string]any{
		"travel_time_down": 0.2,
		"travel_time_up":   0.2,
	})

	integ.mu.Lock()
	c := integ.covers[entityID]
	integ.mu.Unlock()
	c.calc.SetPosition(0)

	if err := integ.closeCover(context.Background(), c); err != nil {
		t.Fatalf("closeCover() error = %v", err)
	}
	if got, _ := broker.lastOn("blind/set"); got != "CLOSE" {
		t.Errorf("command payload = %q, want CLOSE", got)
	}

	waitForState(t, integ, entityID, entity.StateClosed)
}

func TestStopCoverFreezesPosition(t *testing.T) {
	integ, broker, entityID := setupCover(t, nil, map[string]any{
		"travel_time_down": 1.0,
		"travel_time_up":   1.0,
	})

	integ.mu.Lock()
	c := integ.covers[entityID]
	integ.mu.Unlock()
	c.calc.SetPosition(0)

	if err := integ.closeCover(context.Background(), c); err != nil {
		t.Fatalf("closeCover() error = %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if err := integ.stopCover(context.Background(), c); err != nil {
		t.Fatalf("stopCover() error = %v", err)
	}
	if got, _ := broker.lastOn("blind/set"); got != "STOP" {
		t.Errorf("command payload = %q, want STOP", got)
	}

	e, _ := integ.entities.Get(context.Background(), entityID)
	if e.State != entity.StateOpen {
		t.Errorf("state = %q, want open", e.State)
	}
	position := positionAttr(t, e)
	if position <= 0 || position >= 100 {
		t.Errorf("position = %d, want intermediate", position)
	}
}

func TestSetPositionEmulatedStopsAtTarget(t *testing.T) {
	integ, broker, entityID := setupCover(t, nil, map[string]any{
		"travel_time_down": 0.5,
		"travel_time_up":   0.5,
	})

	integ.mu.Lock()
	c := integ.covers[entityID]
	integ.mu.Unlock()
	c.calc.SetPosition(0)

	if err := integ.setPosition(context.Background(), c, 50); err != nil {
		t.Fatalf("setPosition() error = %v", err)
	}
	if got, _ := broker.lastOn("blind/set"); got != "CLOSE" {
		t.Errorf("command payload = %q, want CLOSE", got)
	}

	// The updater issues a stop once the estimate reaches the target.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := broker.lastOn("blind/set"); got == "STOP" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got, _ := broker.lastOn("blind/set"); got != "STOP" {
		t.Fatalf("last command = %q, want STOP", got)
	}

	waitForState(t, integ, entityID, entity.StateOpen)
	e, _ := integ.entities.Get(context.Background(), entityID)
	position := positionAttr(t, e)
	if position < 40 || position > 60 {
		t.Errorf("position = %d, want about 50", position)
	}
}

func TestSetPositionNativeTopic(t *testing.T) {
	integ, broker, entityID := setupCover(t, map[string]any{
		"set_position_topic": "blind/position/set",
	}, map[string]any{
		"travel_time_down": 0.2,
		"travel_time_up":   0.2,
	})

	integ.mu.Lock()
	c := integ.covers[entityID]
	integ.mu.Unlock()
	c.calc.SetPosition(0)

	if err := integ.setPosition(context.Background(), c, 100); err != nil {
		t.Fatalf("setPosition() error = %v", err)
	}
	if got, _ := broker.lastOn("blind/position/set"); got != "100" {
		t.Errorf("position payload = %q, want 100", got)
	}

	// Native position covers stop themselves.
	for _, msg := range broker.messages() {
		if msg.topic == "blind/set" {
			t.Errorf("unexpected command on blind/set: %q", msg.payload)
		}
	}

	waitForState(t, integ, entityID, entity.StateClosed)
}

func TestStateTopicCorrectsEstimate(t *testing.T) {
	integ, broker, entityID := setupCover(t, map[string]any{
		"state_topic": "blind/state",
	}, nil)

	broker.inject(t, "blind/state", "closed")
	e, _ := integ.entities.Get(context.Background(), entityID)
	if e.State != entity.StateClosed {
		t.Errorf("state = %q, want closed", e.State)
	}

	broker.inject(t, "blind/state", "30")
	e, _ = integ.entities.Get(context.Background(), entityID)
	if e.State != entity.StateOpen {
		t.Errorf("state = %q, want open", e.State)
	}
	if position := positionAttr(t, e); position != 30 {
		t.Errorf("position = %d, want 30", position)
	}
}

func TestAvailabilityTopic(t *testing.T) {
	integ, broker, entityID := setupCover(t, map[string]any{
		"availability_topic": "blind/availability",
	}, nil)

	broker.inject(t, "blind/availability", "offline")
	e, _ := integ.entities.Get(context.Background(), entityID)
	if e.Available {
		t.Error("entity should be unavailable after offline message")
	}

	broker.inject(t, "blind/availability", "online")
	e, _ = integ.entities.Get(context.Background(), entityID)
	if !e.Available {
		t.Error("entity should be available after online message")
	}
}

func TestUnloadEntry(t *testing.T) {
	integ, broker, entityID := setupCover(t, map[string]any{
		"state_topic": "blind/state",
	}, nil)

	entry := testEntry(nil, nil)
	if err := integ.UnloadEntry(context.Background(), entry); err != nil {
		t.Fatalf("UnloadEntry() error = %v", err)
	}

	broker.mu.Lock()
	_, subscribed := broker.handlers["blind/state"]
	broker.mu.Unlock()
	if subscribed {
		t.Error("state topic should be unsubscribed after unload")
	}

	e, _ := integ.entities.Get(context.Background(), entityID)
	if e.Available {
		t.Error("entity should be unavailable after unload")
	}
}

func TestServiceDispatch(t *testing.T) {
	integ, broker, entityID := setupCover(t, nil, map[string]any{
		"travel_time_down": 0.2,
		"travel_time_up":   0.2,
	})

	services := service.NewRegistry(bus.New())
	t.Cleanup(services.Shutdown)
	if err := integ.RegisterServices(services); err != nil {
		t.Fatalf("RegisterServices() error = %v", err)
	}

	err := services.Call(context.Background(), service.Call{
		Domain:    ServiceDomain,
		Service:   "close_cover",
		EntityIDs: []string{entityID},
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got, _ := broker.lastOn("blind/set"); got != "CLOSE" {
		t.Errorf("command payload = %q, want CLOSE", got)
	}

	err = services.Call(context.Background(), service.Call{
		Domain:  ServiceDomain,
		Service: "open_cover",
	})
	if err == nil {
		t.Fatal("expected error for call without entity_ids")
	}
}

func TestSetPositionRejectsBadData(t *testing.T) {
	integ, _, entityID := setupCover(t, nil, nil)

	integ.mu.Lock()
	c := integ.covers[entityID]
	integ.mu.Unlock()

	err := integ.handleSetPosition(context.Background(), c, service.Call{Data: map[string]any{}})
	if err == nil {
		t.Fatal("expected error for missing position")
	}

	err = integ.handleSetPosition(context.Background(), c, service.Call{
		Data: map[string]any{"position": "halfway"},
	})
	if err == nil {
		t.Fatal("expected error for non-numeric position")
	}
}
