// Package brigade is an offline-first sync client for restaurant point of
// sale deployments. Local writes go to a durable mutation log and a SQLite
// replica; a background orchestrator reconciles them with the central
// server whenever connectivity allows.
package brigade

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/hyperengineering/brigade/internal/api"
)

// Client is the main interface for local reads, offline-safe writes, and
// synchronization.
type Client struct {
	config   Config
	store    *Store
	syncer   *Syncer
	orch     *Orchestrator
	settings *SettingsCache
	debug    *DebugLogger
	log      *logrus.Entry
	clock    Clock

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a Brigade client. With an empty ServerURL the client runs
// offline-only: writes queue locally and sync operations return ErrOffline.
func New(cfg Config) (*Client, error) {
	return newClient(cfg, nil, nil, nil)
}

// NewWithRegistry is New plus Prometheus registration for deployments that
// scrape the terminal.
func NewWithRegistry(cfg Config, reg prometheus.Registerer) (*Client, error) {
	var metrics *Metrics
	if reg != nil {
		metrics = NewMetrics(reg)
	}
	return newClient(cfg, nil, nil, metrics)
}

// newClient also accepts an api.Client and Clock override for tests.
func newClient(cfg Config, apiClient api.Client, clock Clock, metrics *Metrics) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if clock == nil {
		clock = SystemClock()
	}

	debug, err := NewDebugLogger(cfg.Debug, cfg.DebugLogPath)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logger.WithFields(logrus.Fields{
		"component": "brigade",
		"tenant":    cfg.TenantID,
	})

	store, err := NewStore(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	if apiClient == nil && !cfg.IsOffline() {
		apiClient = api.NewHTTPClient(cfg.ServerURL, cfg.APIKey, cfg.SourceID).WithDebug(debug)
	}

	settings := NewSettingsCache(store, clock, cfg.SettingsTTL)
	syncer := NewSyncer(store, apiClient, cfg, clock, log, debug, metrics, settings)
	orch := NewOrchestrator(syncer, store, cfg, clock, log, metrics)

	c := &Client{
		config:   cfg,
		store:    store,
		syncer:   syncer,
		orch:     orch,
		settings: settings,
		debug:    debug,
		log:      log,
		clock:    clock,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}

	orch.Start()

	return c, nil
}

// NewLocalID returns a temporary client-side record id. The server assigns
// the permanent id on first sync and the replica row is rekeyed to it.
func (c *Client) NewLocalID() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(c.clock.Now()), c.entropy)
	return "tmp-" + id.String()
}

// Mutate queues a local change for sync and applies it to the replica. The
// write is durable before Mutate returns; sync happens in the background.
func (c *Client) Mutate(entity EntityType, action Action, recordID string, payload Payload) (*MutationRecord, error) {
	rec, err := c.store.Enqueue(entity, action, recordID, payload)
	if err != nil {
		return nil, err
	}
	if entity == EntitySettings {
		c.settings.Invalidate()
	}
	c.orch.requestCycle()
	return rec, nil
}

// MutateRaw is Mutate for callers holding an encoded payload. The payload
// is decoded into its typed form and validated before it is queued.
func (c *Client) MutateRaw(entity EntityType, action Action, recordID string, raw json.RawMessage) (*MutationRecord, error) {
	payload, err := DecodePayload(entity, action, raw)
	if err != nil {
		return nil, err
	}
	return c.Mutate(entity, action, recordID, payload)
}

// Entity reads one cached entity from the local replica.
func (c *Client) Entity(entity EntityType, recordID string) (*ReplicaEntity, error) {
	return c.store.Entity(entity, recordID)
}

// Entities reads all cached entities of one type from the local replica.
func (c *Client) Entities(entity EntityType) ([]ReplicaEntity, error) {
	return c.store.Entities(entity)
}

// Settings returns the tenant settings through the TTL cache.
func (c *Client) Settings() (*SettingsPayload, error) {
	return c.settings.Get()
}

// FailedMutations returns the FAILED queue entries with their last error,
// for per-record diagnostics.
func (c *Client) FailedMutations() ([]MutationRecord, error) {
	return c.store.Drain(StatusFailed)
}

// Status reports connectivity, cycle state, and queue depths.
func (c *Client) Status() (*SyncStatusReport, error) {
	return c.orch.Status()
}

// SetOnline reports a connectivity change from the embedding application.
func (c *Client) SetOnline(online bool) {
	c.orch.SetOnline(online)
}

// Sync runs one full push/pull cycle synchronously.
func (c *Client) Sync(ctx context.Context) error {
	if c.config.IsOffline() {
		return ErrOffline
	}
	return c.orch.SyncOnce(ctx)
}

// TriggerSync requests a background cycle without waiting for it.
func (c *Client) TriggerSync() error {
	return c.orch.TriggerSync()
}

// SyncPush pushes pending mutations without pulling.
func (c *Client) SyncPush(ctx context.Context) (*PushReport, error) {
	return c.syncer.Push(ctx)
}

// SyncPull pulls the server snapshot without pushing.
func (c *Client) SyncPull(ctx context.Context) (*PullReport, error) {
	return c.syncer.Pull(ctx)
}

// HealthCheck verifies the server is reachable. Returns ErrOffline in
// offline-only mode.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.syncer.Health(ctx)
}

// Sweep deletes SYNCED mutations older than the retention window and
// returns how many were removed.
func (c *Client) Sweep() (int64, error) {
	return c.store.SweepSynced(c.config.Retention)
}

// Close stops the background loop and closes the local database.
func (c *Client) Close() error {
	c.orch.Stop()
	_ = c.debug.Close()
	return c.store.Close()
}
