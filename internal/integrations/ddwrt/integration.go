package ddwrt

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ember-home/ember-core/internal/configentry"
	"github.com/ember-home/ember-core/internal/coordinator"
	"github.com/ember-home/ember-core/internal/entity"
)

// Domain is the integration identifier.
const Domain = "ddwrt"

// Defaults, overridable per entry via options.
const (
	defaultScanInterval = 30 * time.Second

	// defaultConsiderHome keeps a device "home" for a grace period
	// after it drops off the radio. Phones aggressively leave WiFi to
	// save power; without the grace period presence flaps constantly.
	defaultConsiderHome = 180 * time.Second
)

// snapshot is one poll of the router.
type snapshot struct {
	ActiveMACs []string
	Leases     map[string]string
	FetchedAt  time.Time
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

// instance is the runtime state of one configured router.
type instance struct {
	entry        *configentry.Entry
	client       *Client
	coord        *coordinator.Coordinator[snapshot]
	removeExtern func()

	mu       sync.Mutex
	lastSeen map[string]time.Time
	tracked  map[string]string // MAC -> entity ID

	considerHome  time.Duration
	countEntityID string
}

// Integration tracks device presence through DD-WRT routers. One
// coordinator per configured router; each seen MAC becomes a
// device_tracker entity, plus one sensor counting connected clients.
type Integration struct {
	entities *entity.Registry
	logger   Logger

	mu        sync.Mutex
	instances map[string]*instance
}

// New creates the DD-WRT integration.
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

// SetupEntry connects to the router and starts polling.
func (i *Integration) SetupEntry(ctx context.Context, entry *configentry.Entry) error {
	host := entry.DataString("host")
	if host == "" {
		return fmt.Errorf("entry %s has no host", entry.ID)
	}

	var opts []ClientOption
	if ssl, _ := entry.Data["ssl"].(bool); ssl {
		skipVerify, _ := entry.Data["skip_verify"].(bool)
		opts = append(opts, WithTLS(skipVerify))
	}
	client := NewClient(host, entry.DataString("username"), entry.DataString("password"), opts...)

	inst := &instance{
		entry:        entry.DeepCopy(),
		client:       client,
		lastSeen:     make(map[string]time.Time),
		tracked:      make(map[string]string),
		considerHome: time.Duration(entry.OptionFloat("consider_home", defaultConsiderHome.Seconds())) * time.Second,
	}

	interval := time.Duration(entry.OptionFloat("scan_interval", defaultScanInterval.Seconds())) * time.Second
	inst.coord = coordinator.New(
		fmt.Sprintf("%s %s", Domain, host),
		interval,
		func(ctx context.Context) (snapshot, error) {
			return i.poll(ctx, client)
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

	// Apply the first refresh now that the listener exists.
	i.applySnapshot(inst)
	inst.coord.Start()

	i.logger.Info("router connected", "domain", Domain, "host", host, "entry_id", entry.ID)
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

// poll fetches both status pages.
func (i *Integration) poll(ctx context.Context, client *Client) (snapshot, error) {
	macs, err := client.WirelessMACs(ctx)
	if err != nil {
		return snapshot{}, fmt.Errorf("%w: %w", coordinator.ErrUpdateFailed, err)
	}

	leases, err := client.DHCPLeases(ctx)
	if err != nil {
		// Presence still works without hostnames.
		i.logger.Debug("dhcp lease fetch failed", "host", client.Host(), "error", err)
		leases = nil
	}

	return snapshot{ActiveMACs: macs, Leases: leases, FetchedAt: time.Now()}, nil
}

// ensureCountSensor registers the connected-clients sensor for an
// instance, reusing the entity if it already exists.
func (i *Integration) ensureCountSensor(ctx context.Context, inst *instance) error {
	uniqueID := fmt.Sprintf("%s_%s_clients", Domain, inst.client.Host())

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

	inst.mu.Lock()
	for _, mac := range snap.ActiveMACs {
		inst.lastSeen[mac] = snap.FetchedAt
	}
	seen := make(map[string]time.Time, len(inst.lastSeen))
	for mac, at := range inst.lastSeen {
		seen[mac] = at
	}
	inst.mu.Unlock()

	for mac, lastSeen := range seen {
		entityID, err := i.ensureTracker(ctx, inst, mac, snap.Leases[mac])
		if err != nil {
			i.logger.Warn("registering tracker failed", "mac", mac, "error", err)
			continue
		}

		state := entity.StateNotHome
		if time.Since(lastSeen) <= inst.considerHome {
			state = entity.StateHome
		}
		attrs := entity.Attributes{
			"mac":       mac,
			"source":    Domain,
			"last_seen": lastSeen.UTC().Format(time.RFC3339),
		}
		if err := i.entities.SetState(ctx, entityID, state, attrs); err != nil {
			i.logger.Warn("tracker state write failed", "entity_id", entityID, "error", err)
		}
	}

	count := strconv.Itoa(len(snap.ActiveMACs))
	if err := i.entities.SetState(ctx, inst.countEntityID, count, entity.Attributes{
		"host": inst.client.Host(),
	}); err != nil {
		i.logger.Warn("client count write failed", "entity_id", inst.countEntityID, "error", err)
	}
}

// ensureTracker registers a device_tracker entity for a MAC the first
// time it is seen.
func (i *Integration) ensureTracker(ctx context.Context, inst *instance, mac, hostname string) (string, error) {
	inst.mu.Lock()
	entityID, known := inst.tracked[mac]
	inst.mu.Unlock()
	if known {
		return entityID, nil
	}

	uniqueID := fmt.Sprintf("%s_%s", Domain, mac)
	if existing, err := i.entities.GetByUniqueID(ctx, entity.PlatformDeviceTracker, uniqueID); err == nil {
		inst.mu.Lock()
		inst.tracked[mac] = existing.EntityID
		inst.mu.Unlock()
		return existing.EntityID, nil
	}

	name := hostname
	if name == "" {
		name = entity.MACObjectID(mac)
	}

	e := &entity.Entity{
		UniqueID:      uniqueID,
		ConfigEntryID: inst.entry.ID,
		Platform:      entity.PlatformDeviceTracker,
		Name:          name,
	}
	if err := i.entities.Add(ctx, e); err != nil {
		return "", err
	}

	inst.mu.Lock()
	inst.tracked[mac] = e.EntityID
	inst.mu.Unlock()
	return e.EntityID, nil
}

// markUnavailable flags all of an instance's entities unavailable
// while the router is unreachable.
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
