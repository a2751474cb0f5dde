// Ember Core - Home Automation Platform
//
// This is the main entry point for the Ember Core application.
// Ember is a hub-style home automation system built around:
//   - Config entries: persistent, reloadable integration instances
//   - An entity registry backed by SQLite
//   - Polling coordinators with shared-failure backoff
//   - A REST + WebSocket API for clients
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ember-home/ember-core/migrations"

	"github.com/ember-home/ember-core/internal/api"
	"github.com/ember-home/ember-core/internal/auth"
	"github.com/ember-home/ember-core/internal/bus"
	"github.com/ember-home/ember-core/internal/configentry"
	"github.com/ember-home/ember-core/internal/entity"
	"github.com/ember-home/ember-core/internal/flow"
	"github.com/ember-home/ember-core/internal/infrastructure/config"
	"github.com/ember-home/ember-core/internal/infrastructure/database"
	"github.com/ember-home/ember-core/internal/infrastructure/influxdb"
	"github.com/ember-home/ember-core/internal/infrastructure/logging"
	"github.com/ember-home/ember-core/internal/infrastructure/mqtt"
	"github.com/ember-home/ember-core/internal/integrations/aircube"
	"github.com/ember-home/ember-core/internal/integrations/ddwrt"
	"github.com/ember-home/ember-core/internal/integrations/mqttcover"
	"github.com/ember-home/ember-core/internal/recorder"
	"github.com/ember-home/ember-core/internal/service"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Ember Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise entity registry
	entities := entity.NewRegistry(entity.NewSQLiteRepository(db.DB))
	entities.SetLogger(log)

	if refreshErr := entities.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entity registry: %w", refreshErr)
	}
	log.Info("entity registry initialised", "entities", entities.Count())

	// Config entry manager, event bus, flow and service registries
	entries := configentry.NewManager(configentry.NewSQLiteRepository(db.DB), entities)
	entries.SetLogger(log)

	events := bus.New()

	flows := flow.NewManager(entries)
	flows.SetLogger(log)

	services := service.NewRegistry(events)
	services.SetLogger(log)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Fan entity state changes out to the event bus and, when connected,
	// to the canonical MQTT state topics.
	topics := mqtt.Topics{}
	entities.SetOnStateChanged(func(old, updated *entity.Entity) {
		oldState := ""
		if old != nil {
			oldState = old.State
		}
		events.Publish(bus.StateChangedEvent(
			updated.EntityID,
			string(updated.Platform),
			oldState,
			updated.State,
			updated.Available,
			time.Now(),
		))

		if mqttClient != nil {
			if pubErr := mqttClient.PublishString(topics.EntityState(updated.EntityID), updated.State, 0, true); pubErr != nil {
				log.Warn("publishing entity state", "entity_id", updated.EntityID, "error", pubErr)
			}
			availability := "online"
			if !updated.Available {
				availability = "offline"
			}
			if pubErr := mqttClient.PublishString(topics.EntityAvailability(updated.EntityID), availability, 0, true); pubErr != nil {
				log.Warn("publishing entity availability", "entity_id", updated.EntityID, "error", pubErr)
			}
		}
	})

	entries.SetOnEntryChanged(func(e *configentry.Entry) {
		events.Publish(bus.ConfigEntryChangedEvent(e.ID, e.Domain, e.Title, string(e.State)))
	})

	// Connect to InfluxDB and start the state recorder (optional)
	var influxClient *influxdb.Client
	if cfg.Recorder.Enabled {
		influxClient, err = influxdb.Connect(cfg.Recorder)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.Recorder.URL,
			"org", cfg.Recorder.Org,
			"bucket", cfg.Recorder.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		rec := recorder.New(events, influxClient)
		rec.SetLogger(log)
		rec.Start()
		defer func() {
			log.Info("stopping recorder")
			rec.Stop()
		}()
	} else {
		log.Info("recorder disabled")
	}

	// Register integrations and their config flow handlers
	ddwrtIntegration := ddwrt.New(entities)
	ddwrtIntegration.SetLogger(log)
	if err := entries.RegisterIntegration(ddwrt.Domain, ddwrtIntegration); err != nil {
		return fmt.Errorf("registering ddwrt: %w", err)
	}
	if err := flows.RegisterHandler(ddwrt.Domain, ddwrt.NewFlowHandler()); err != nil {
		return fmt.Errorf("registering ddwrt flow: %w", err)
	}

	aircubeIntegration := aircube.New(entities)
	aircubeIntegration.SetLogger(log)
	if err := entries.RegisterIntegration(aircube.Domain, aircubeIntegration); err != nil {
		return fmt.Errorf("registering aircube: %w", err)
	}
	if err := flows.RegisterHandler(aircube.Domain, aircube.NewFlowHandler()); err != nil {
		return fmt.Errorf("registering aircube flow: %w", err)
	}

	if mqttClient != nil {
		coverIntegration := mqttcover.New(entities, mqttClient)
		coverIntegration.SetLogger(log)
		if err := entries.RegisterIntegration(mqttcover.Domain, coverIntegration); err != nil {
			return fmt.Errorf("registering mqtt_cover: %w", err)
		}
		if err := flows.RegisterHandler(mqttcover.Domain, mqttcover.NewFlowHandler()); err != nil {
			return fmt.Errorf("registering mqtt_cover flow: %w", err)
		}
		if err := coverIntegration.RegisterServices(services); err != nil {
			return fmt.Errorf("registering cover services: %w", err)
		}
	} else {
		log.Warn("mqtt_cover integration unavailable, MQTT is disabled")
	}

	// Set up all persisted config entries, then import any declared in
	// the YAML configuration. Unload everything on shutdown.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("unloading config entries")
		if shutdownErr := entries.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("error unloading config entries", "error", shutdownErr)
		}
	}()

	if err := entries.SetupAll(ctx); err != nil {
		return fmt.Errorf("setting up config entries: %w", err)
	}
	importConfigEntries(ctx, cfg, entries, log)

	// Mint the bootstrap token. Clients use this to reach the API; further
	// tokens can be created through POST /api/v1/auth/token.
	bootstrapToken, err := auth.GenerateLongLivedToken("bootstrap", cfg.Auth.Secret)
	if err != nil {
		return fmt.Errorf("generating bootstrap token: %w", err)
	}
	log.Info("bootstrap access token issued", "token", bootstrapToken)

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Auth:     cfg.Auth,
		Logger:   log,
		Entities: entities,
		Entries:  entries,
		Flows:    flows,
		Services: services,
		Events:   events,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Config entries
	// 3. Recorder and InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("Ember Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses EMBER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EMBER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// importConfigEntries adds config entries declared in the YAML file.
// Entries already imported on a previous boot are skipped via their
// unique IDs, so the declaration is idempotent across restarts.
func importConfigEntries(ctx context.Context, cfg *config.Config, entries *configentry.Manager, log *logging.Logger) {
	for _, c := range cfg.Integrations.DDWRT {
		uniqueID := c.Host
		entry := &configentry.Entry{
			Domain:   ddwrt.Domain,
			Title:    "DD-WRT " + c.Host,
			Source:   configentry.SourceImport,
			UniqueID: &uniqueID,
			Data: map[string]any{
				"host":        c.Host,
				"username":    c.Username,
				"password":    c.Password,
				"ssl":         c.SSL,
				"skip_verify": !c.VerifySSL,
			},
			Options: map[string]any{},
		}
		if c.ScanInterval > 0 {
			entry.Options["scan_interval"] = float64(c.ScanInterval)
		}
		addImported(ctx, entries, entry, log)
	}

	for _, c := range cfg.Integrations.AirCube {
		uniqueID := c.Host
		entry := &configentry.Entry{
			Domain:   aircube.Domain,
			Title:    "airCube " + c.Host,
			Source:   configentry.SourceImport,
			UniqueID: &uniqueID,
			Data: map[string]any{
				"host":     c.Host,
				"username": c.Username,
				"password": c.Password,
			},
			Options: map[string]any{},
		}
		if c.ScanInterval > 0 {
			entry.Options["scan_interval"] = float64(c.ScanInterval)
		}
		addImported(ctx, entries, entry, log)
	}

	for _, c := range cfg.Integrations.MQTTCover {
		uniqueID := c.CommandTopic
		entry := &configentry.Entry{
			Domain:   mqttcover.Domain,
			Title:    c.Name,
			Source:   configentry.SourceImport,
			UniqueID: &uniqueID,
			Data: map[string]any{
				"name":          c.Name,
				"command_topic": c.CommandTopic,
			},
			Options: map[string]any{},
		}
		if c.StateTopic != "" {
			entry.Data["state_topic"] = c.StateTopic
		}
		if c.PositionTopic != "" {
			entry.Data["set_position_topic"] = c.PositionTopic
		}
		if c.AvailabilityTopic != "" {
			entry.Data["availability_topic"] = c.AvailabilityTopic
		}
		if c.TravelTimeUp > 0 {
			entry.Options["travel_time_up"] = c.TravelTimeUp
		}
		if c.TravelTimeDown > 0 {
			entry.Options["travel_time_down"] = c.TravelTimeDown
		}
		addImported(ctx, entries, entry, log)
	}
}

// addImported adds one imported entry, treating duplicates as a no-op.
func addImported(ctx context.Context, entries *configentry.Manager, entry *configentry.Entry, log *logging.Logger) {
	err := entries.Add(ctx, entry)
	switch {
	case err == nil:
		log.Info("imported config entry", "domain", entry.Domain, "title", entry.Title)
	case errors.Is(err, configentry.ErrAlreadyConfigured):
		log.Debug("config entry already imported", "domain", entry.Domain, "title", entry.Title)
	default:
		log.Error("importing config entry failed", "domain", entry.Domain, "title", entry.Title, "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
