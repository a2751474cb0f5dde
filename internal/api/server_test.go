package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ember-home/ember-core/internal/auth"
	"github.com/ember-home/ember-core/internal/bus"
	"github.com/ember-home/ember-core/internal/configentry"
	"github.com/ember-home/ember-core/internal/entity"
	"github.com/ember-home/ember-core/internal/flow"
	"github.com/ember-home/ember-core/internal/infrastructure/config"
	"github.com/ember-home/ember-core/internal/infrastructure/logging"
	"github.com/ember-home/ember-core/internal/service"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// demoIntegration loads every entry without side effects.
type demoIntegration struct{}

func (demoIntegration) SetupEntry(context.Context, *configentry.Entry) error  { return nil }
func (demoIntegration) UnloadEntry(context.Context, *configentry.Entry) error { return nil }

// demoFlowHandler is a single-step flow asking for a host.
type demoFlowHandler struct{}

func (demoFlowHandler) Step(_ context.Context, stepID string, input map[string]any) (*flow.Result, error) {
	if stepID != "user" {
		return nil, fmt.Errorf("%w: %q", flow.ErrInvalidStep, stepID)
	}
	schema := flow.Schema{{Name: "host", Required: true, Label: "Host"}}
	if input == nil {
		return flow.ShowForm("user", schema), nil
	}
	host, _ := input["host"].(string)
	return flow.CreateEntryWithUniqueID("Demo "+host, map[string]any{"host": host}, host), nil
}

// testEnv bundles the server under test with its collaborators.
type testEnv struct {
	server   *httptest.Server
	api      *Server
	entities *entity.Registry
	entries  *configentry.Manager
	events   *bus.Bus
	token    string

	serviceCalls []service.Call
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE config_entries (
			id            TEXT PRIMARY KEY,
			domain        TEXT NOT NULL,
			title         TEXT NOT NULL,
			source        TEXT NOT NULL,
			unique_id     TEXT,
			data          TEXT NOT NULL DEFAULT '{}',
			options       TEXT NOT NULL DEFAULT '{}',
			state         TEXT NOT NULL DEFAULT 'not_loaded',
			setup_error   TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_config_entries_domain_unique_id
			ON config_entries(domain, unique_id) WHERE unique_id IS NOT NULL;
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
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	env := &testEnv{events: bus.New()}

	env.entities = entity.NewRegistry(entity.NewSQLiteRepository(db))
	env.entries = configentry.NewManager(configentry.NewSQLiteRepository(db), env.entities)
	if err := env.entries.RegisterIntegration("demo", demoIntegration{}); err != nil {
		t.Fatalf("registering integration: %v", err)
	}
	t.Cleanup(func() { env.entries.Shutdown(context.Background()) }) //nolint:errcheck

	flows := flow.NewManager(env.entries)
	if err := flows.RegisterHandler("demo", func() flow.Handler { return demoFlowHandler{} }); err != nil {
		t.Fatalf("registering flow handler: %v", err)
	}

	services := service.NewRegistry(env.events)
	t.Cleanup(services.Shutdown)
	err = services.Register("demo", "ping", func(_ context.Context, call service.Call) error {
		env.serviceCalls = append(env.serviceCalls, call)
		return nil
	})
	if err != nil {
		t.Fatalf("registering service: %v", err)
	}

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
	apiServer, err := New(Deps{
		WS:       config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 60},
		Auth:     config.AuthConfig{Secret: testSecret},
		Logger:   logger,
		Entities: env.entities,
		Entries:  env.entries,
		Flows:    flows,
		Services: services,
		Events:   env.events,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.api = apiServer

	// Wire the hub and event pump directly instead of binding a port.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	apiServer.hub = NewHub(apiServer.wsCfg, logger)
	go apiServer.hub.Run(ctx)
	go apiServer.pumpEvents(ctx)

	env.server = httptest.NewServer(apiServer.buildRouter())
	t.Cleanup(env.server.Close)

	token, err := auth.GenerateAccessToken("tests", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	env.token = token

	return env
}

// do performs an authenticated request and decodes the JSON response.
func (env *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp.StatusCode
}

func (env *testEnv) addEntity(t *testing.T, uniqueID, name string) string {
	t.Helper()
	e := &entity.Entity{
		UniqueID:      uniqueID,
		ConfigEntryID: "entry-1",
		Platform:      entity.PlatformSensor,
		Name:          name,
	}
	if err := env.entities.Add(context.Background(), e); err != nil {
		t.Fatalf("adding entity: %v", err)
	}
	return e.EntityID
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/v1/states")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/states", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp2.StatusCode)
	}
}

func TestListAndGetStates(t *testing.T) {
	env := newTestEnv(t)
	entityID := env.addEntity(t, "test_sensor_1", "Office Temperature")
	if err := env.entities.SetState(context.Background(), entityID, "21.5", nil); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	var list struct {
		Entities []entity.Entity `json:"entities"`
		Count    int             `json:"count"`
	}
	if status := env.do(t, http.MethodGet, "/api/v1/states", nil, &list); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if list.Count != 1 || len(list.Entities) != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}

	var got entity.Entity
	if status := env.do(t, http.MethodGet, "/api/v1/states/"+entityID, nil, &got); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if got.State != "21.5" {
		t.Errorf("state = %q, want 21.5", got.State)
	}

	if status := env.do(t, http.MethodGet, "/api/v1/states/sensor.missing", nil, nil); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestStateStats(t *testing.T) {
	env := newTestEnv(t)
	env.addEntity(t, "test_sensor_1", "One")
	env.addEntity(t, "test_sensor_2", "Two")

	var stats struct {
		Total int `json:"total"`
	}
	if status := env.do(t, http.MethodGet, "/api/v1/states/stats", nil, &stats); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
}

func TestCallService(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{
		"entity_ids": []string{"sensor.office"},
		"data":       map[string]any{"value": 1},
	}
	if status := env.do(t, http.MethodPost, "/api/v1/services/demo/ping", body, nil); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(env.serviceCalls) != 1 {
		t.Fatalf("got %d service calls, want 1", len(env.serviceCalls))
	}
	if env.serviceCalls[0].EntityIDs[0] != "sensor.office" {
		t.Errorf("entity_ids = %v", env.serviceCalls[0].EntityIDs)
	}

	if status := env.do(t, http.MethodPost, "/api/v1/services/demo/absent", nil, nil); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestConfigEntryLifecycle(t *testing.T) {
	env := newTestEnv(t)

	entry := &configentry.Entry{
		Domain: "demo",
		Title:  "Demo Hub",
		Source: configentry.SourceUser,
		Data:   map[string]any{"host": "192.0.2.10"},
	}
	if err := env.entries.Add(context.Background(), entry); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	var list struct {
		Entries []entryResponse `json:"entries"`
		Count   int             `json:"count"`
	}
	if status := env.do(t, http.MethodGet, "/api/v1/config/entries", nil, &list); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}
	if list.Entries[0].State != configentry.StateLoaded {
		t.Errorf("state = %q, want loaded", list.Entries[0].State)
	}

	var got entryResponse
	if status := env.do(t, http.MethodGet, "/api/v1/config/entries/"+entry.ID, nil, &got); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if got.Domain != "demo" {
		t.Errorf("domain = %q, want demo", got.Domain)
	}

	if status := env.do(t, http.MethodPost, "/api/v1/config/entries/"+entry.ID+"/reload", nil, &got); status != http.StatusOK {
		t.Fatalf("reload status = %d, want 200", status)
	}
	if got.State != configentry.StateLoaded {
		t.Errorf("state after reload = %q, want loaded", got.State)
	}

	options := map[string]any{"scan_interval": 60}
	if status := env.do(t, http.MethodPatch, "/api/v1/config/entries/"+entry.ID+"/options", options, &got); status != http.StatusOK {
		t.Fatalf("options status = %d, want 200", status)
	}

	if status := env.do(t, http.MethodDelete, "/api/v1/config/entries/"+entry.ID, nil, nil); status != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", status)
	}
	if status := env.do(t, http.MethodGet, "/api/v1/config/entries/"+entry.ID, nil, nil); status != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", status)
	}
}

func TestConfigFlow(t *testing.T) {
	env := newTestEnv(t)

	var status flow.Status
	if code := env.do(t, http.MethodPost, "/api/v1/config/flows", map[string]any{"domain": "demo"}, &status); code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", code)
	}
	if status.Result.Kind != flow.ResultShowForm {
		t.Fatalf("Kind = %q, want %q", status.Result.Kind, flow.ResultShowForm)
	}

	var done flow.Status
	input := map[string]any{"host": "192.0.2.20"}
	if code := env.do(t, http.MethodPost, "/api/v1/config/flows/"+status.FlowID, input, &done); code != http.StatusOK {
		t.Fatalf("step status = %d, want 200", code)
	}
	if done.Result.Kind != flow.ResultCreateEntry {
		t.Fatalf("Kind = %q, want %q", done.Result.Kind, flow.ResultCreateEntry)
	}
	if done.EntryID == "" {
		t.Fatal("EntryID should be set after create_entry")
	}

	entry, err := env.entries.Get(context.Background(), done.EntryID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.State != configentry.StateLoaded {
		t.Errorf("entry state = %q, want loaded", entry.State)
	}

	if code := env.do(t, http.MethodPost, "/api/v1/config/flows", map[string]any{"domain": "nope"}, nil); code != http.StatusNotFound {
		t.Errorf("unknown domain status = %d, want 404", code)
	}
}

func TestCreateToken(t *testing.T) {
	env := newTestEnv(t)

	var resp struct {
		ClientName string `json:"client_name"`
		Token      string `json:"token"`
	}
	status := env.do(t, http.MethodPost, "/api/v1/auth/token", map[string]any{"client_name": "dashboard"}, &resp)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}

	claims, err := auth.ParseToken(resp.Token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.ClientName != "dashboard" {
		t.Errorf("ClientName = %q, want dashboard", claims.ClientName)
	}
	if !claims.LongLived {
		t.Error("minted token should be long-lived")
	}
}

func TestWebSocketEventStream(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/ws?token=" + env.token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	subscribe := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{bus.EventStateChanged}},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading ack: %v", err)
	}
	if ack.Type != WSTypeResponse {
		t.Fatalf("ack type = %q, want response", ack.Type)
	}

	env.events.Publish(bus.Event{
		Type: bus.EventStateChanged,
		Time: time.Now(),
		Data: map[string]any{"entity_id": "sensor.office", "new_state": "22"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != bus.EventStateChanged {
		t.Fatalf("got %q/%q, want event/state_changed", event.Type, event.EventType)
	}

	payload, _ := event.Payload.(map[string]any)
	if payload["entity_id"] != "sensor.office" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("dial should fail without token")
	}
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	}
}
