package aircube

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ember-home/ember-core/internal/configentry"
	"github.com/ember-home/ember-core/internal/coordinator"
	"github.com/ember-home/ember-core/internal/entity"
)

// Domain is the integration identifier.
const Domain = "aircube"

const (
	defaultScanInterval = 30 * time.Second
	defaultWifiDevice   = "wlan0"
)

// snapshot is one poll of the access point.
type snapshot struct {
	Stations  []Station
	FetchedAt time.Time
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

// instance is the runtime state of one configured access point.
type instance struct {
	entry        *configentry.Entry
	client       *UbusClient
	host         string
	wifiDevice   string
	coord        *coordinator.Coordinator[snapshot]
	removeExtern func()

	mu      sync.Mutex
	sensors map[string]string // MAC -> signal sensor entity ID

	countEntityID string
}

// Integration monitors Ubiquiti airCube access points over their ubus
// RPC interface. Each associated station becomes a signal strength
// sensor, plus one sensor counting connected clients.
type Integration struct {
	entities *entity.Registry
	logger   Logger

	mu        sync.Mutex
	instances map[string]*instance
}

// New creates the airCube integration.
func New(entities *entity.Registry) *Integration {
	return &Integration{
		entities:  entities,
		logger:    noopLogger{},
		instances: make(map[string]*instance),
	}
}

// SetLogger sets the logger for the integration.
func (i *Integration) SetLogger(logger Logger) {
	i.logger = logger
}

// SetupEntry connects to the access point and starts polling.
func (i *Integration) SetupEntry(ctx context.Context, entry *configentry.Entry) error {
	host := entry.DataString("host")
	if host == "" {
		return fmt.Errorf("entry %s has no host", entry.ID)
	}

	client := NewUbusClient(
		UbusEndpoint(host),
		entry.DataString("username"),
		entry.DataString("password"),
	)

	wifiDevice := entry.DataString("wifi_device")
	if wifiDevice == "" {
		wifiDevice = defaultWifiDevice
	}

	inst := &instance{
		entry:      entry.DeepCopy(),
		client:     client,
		host:       host,
		wifiDevice: wifiDevice,
		sensors:    make(map[string]string),
	}

	interval := time.Duration(entry.OptionFloat("scan_interval", defaultScanInterval.Seconds())) * time.Second
	inst.coord = coordinator.New(
		fmt.Sprintf("%s %s", Domain, host),
		interval,
		func(ctx context.Context) (snapshot, error) {
			return i.poll(ctx, inst)
		},
		coordinator.WithLogger[snapshot](i.logger),
	)

	if err := inst.coord.FirstRefresh(ctx); err != nil {
		inst.coord.Shutdown()
		return err
	}

	if err := i.ensureCountSensor(ctx, inst); err != nil {
		inst.coord.Shutdown()
		return err
	}

	inst.removeExtern = inst.coord.AddListener(func() {
		i.applySnapshot(inst)
	})

	i.mu.Lock()
	i.instances[entry.ID] = inst
	i.mu.Unlock()

	i.applySnapshot(inst)
	inst.coord.Start()

	i.logger.Info("access point connected", "domain", Domain, "host", host, "entry_id", entry.ID)
	return nil
}

// UnloadEntry stops polling and marks the entry's entities unavailable.
func (i *Integration) UnloadEntry(ctx context.Context, entry *configentry.Entry) error {
	i.mu.Lock()
	inst, ok := i.instances[entry.ID]
	delete(i.instances, entry.ID)
	i.mu.Unlock()
	if !ok {
		return nil
	}

	inst.removeExtern()
	inst.coord.Shutdown()

	entities, err := i.entities.ListByConfigEntry(ctx, entry.ID)
	if err != nil {
		return fmt.Errorf("listing entities for unload: %w", err)
	}
	for idx := range entities {
		if err := i.entities.SetAvailable(ctx, entities[idx].EntityID, false); err != nil {
			i.logger.Warn("marking entity unavailable failed",
				"entity_id", entities[idx].EntityID,
				"error", err,
			)
		}
	}
	return nil
}

// UbusEndpoint derives the RPC URL for a host. The airCube only
// serves ubus over HTTPS.
func UbusEndpoint(host string) string {
	if strings.Contains(host, "://") {
		return strings.TrimSuffix(host, "/") + "/ubus"
	}
	return "https://" + host + "/ubus"
}

// poll fetches the station list.
func (i *Integration) poll(ctx context.Context, inst *instance) (snapshot, error) {
	stations, err := inst.client.AssocList(ctx, inst.wifiDevice)
	if err != nil {
		return snapshot{}, fmt.Errorf("%w: %w", coordinator.ErrUpdateFailed, err)
	}
	return snapshot{Stations: stations, FetchedAt: time.Now()}, nil
}

// ensureCountSensor registers the connected-clients sensor for an
// instance, reusing the entity if it already exists.
func (i *Integration) ensureCountSensor(ctx context.Context, inst *instance) error {
	uniqueID := fmt.Sprintf("%s_%s_clients", Domain, inst.host)

	if existing, err := i.entities.GetByUniqueID(ctx, entity.PlatformSensor, uniqueID); err == nil {
		inst.countEntityID = existing.EntityID
		return nil
	}

	e := &entity.Entity{
		UniqueID:      uniqueID,
		ConfigEntryID: inst.entry.ID,
		Platform:      entity.PlatformSensor,
		Name:          inst.entry.Title + " Connected Clients",
	}
	if err := i.entities.Add(ctx, e); err != nil {
		return fmt.Errorf("registering client count sensor: %w", err)
	}
	inst.countEntityID = e.EntityID
	return nil
}

// applySnapshot pushes the latest poll into entity states.
func (i *Integration) applySnapshot(inst *instance) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !inst.coord.LastUpdateSuccess() {
		i.markUnavailable(ctx, inst)
		return
	}

	snap := inst.coord.Data()
	present := make(map[string]bool, len(snap.Stations))

	for _, station := range snap.Stations {
		mac := strings.ToLower(station.MAC)
		present[mac] = true

		entityID, err := i.ensureSignalSensor(ctx, inst, mac)
		if err != nil {
			i.logger.Warn("registering signal sensor failed", "mac", mac, "error", err)
			continue
		}

		attrs := entity.Attributes{
			"mac":                 mac,
			"source":              Domain,
			"unit_of_measurement": "dBm",
			"device_class":        "signal_strength",
		}
		if station.Noise != 0 {
			attrs["noise"] = station.Noise
		}
		if err := i.entities.SetState(ctx, entityID, strconv.Itoa(station.Signal), attrs); err != nil {
			i.logger.Warn("signal state write failed", "entity_id", entityID, "error", err)
		}
	}

	// Stations that dropped off keep their sensor but go unavailable.
	inst.mu.Lock()
	absent := make([]string, 0)
	for mac, entityID := range inst.sensors {
		if !present[mac] {
			absent = append(absent, entityID)
		}
	}
	inst.mu.Unlock()
	for _, entityID := range absent {
		if err := i.entities.SetAvailable(ctx, entityID, false); err != nil {
			i.logger.Warn("marking sensor unavailable failed", "entity_id", entityID, "error", err)
		}
	}

	count := strconv.Itoa(len(snap.Stations))
	if err := i.entities.SetState(ctx, inst.countEntityID, count, entity.Attributes{
		"host": inst.host,
	}); err != nil {
		i.logger.Warn("client count write failed", "entity_id", inst.countEntityID, "error", err)
	}
}

// ensureSignalSensor registers a signal strength sensor for a MAC the
// first time it associates.
func (i *Integration) ensureSignalSensor(ctx context.Context, inst *instance, mac string) (string, error) {
	inst.mu.Lock()
	entityID, known := inst.sensors[mac]
	inst.mu.Unlock()
	if known {
		return entityID, nil
	}

	uniqueID := fmt.Sprintf("%s_%s_signal", Domain, mac)
	if existing, err := i.entities.GetByUniqueID(ctx, entity.PlatformSensor, uniqueID); err == nil {
		inst.mu.Lock()
		inst.sensors[mac] = existing.EntityID
		inst.mu.Unlock()
		return existing.EntityID, nil
	}

	e := &entity.Entity{
		UniqueID:      uniqueID,
		ConfigEntryID: inst.entry.ID,
		Platform:      entity.PlatformSensor,
		Name:          entity.MACObjectID(mac) + " Signal",
	}
	if err := i.entities.Add(ctx, e); err != nil {
		return "", err
	}

	inst.mu.Lock()
	inst.sensors[mac] = e.EntityID
	inst.mu.Unlock()
	return e.EntityID, nil
}

// markUnavailable flags all of an instance's entities unavailable
// while the access point is unreachable.
func (i *Integration) markUnavailable(ctx context.Context, inst *instance) {
	entities, err := i.entities.ListByConfigEntry(ctx, inst.entry.ID)
	if err != nil {
		i.logger.Warn("listing entities failed", "entry_id", inst.entry.ID, "error", err)
		return
	}
	for idx := range entities {
		if err := i.entities.SetAvailable(ctx, entities[idx].EntityID, false); err != nil {
			i.logger.Warn("marking entity unavailable failed",
				"entity_id", entities[idx].EntityID,
				"error", err,
			)
		}
	}
}
