package brigade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/brigade/internal/api"
)

// fakeClock drives the orchestrator's timers by hand.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	after chan time.Time
	tick  chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:   time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		after: make(chan time.Time, 1),
		tick:  make(chan time.Time, 1),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time { return c.after }

func (c *fakeClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	return c.tick, func() {}
}

func (c *fakeClock) fireAfter() { c.after <- c.Now() }
func (c *fakeClock) fireTick()  { c.tick <- c.Now() }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// cycleServer serves push and pull, counting pulls as completed cycles.
func cycleServer(t *testing.T, pulls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tenants/t1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		var req api.PushRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(successAll(req))
	})
	mux.HandleFunc("GET /api/v1/tenants/t1/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		pulls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.PullResponse{Success: true, Timestamp: time.Now().UTC(), Data: api.Snapshot{}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestOrchestrator(t *testing.T, store *Store, serverURL string, clock Clock) *Orchestrator {
	t.Helper()
	cfg := testConfig()
	cfg.ServerURL = serverURL
	cfg.APIKey = "test-key"
	cfg.AutoSync = true
	cfg.StartupDelay = 5 * time.Second
	cfg.SyncInterval = 2 * time.Minute

	var client api.Client
	if serverURL != "" {
		client = api.NewHTTPClient(serverURL, "test-key", "test-device")
	}
	syncer := NewSyncer(store, client, cfg, clock, nil, nil, nil, nil)
	return NewOrchestrator(syncer, store, cfg, clock, nil, nil)
}

func TestOrchestrator_RunsCycleAfterStartupDelay(t *testing.T) {
	store := newTestStore(t)
	var pulls atomic.Int32
	server := cycleServer(t, &pulls)
	clock := newFakeClock()

	orch := newTestOrchestrator(t, store, server.URL, clock)
	orch.SetOnline(true)
	orch.Start()
	defer orch.Stop()

	clock.fireAfter()
	waitFor(t, "first cycle", func() bool { return pulls.Load() >= 1 })
}

func TestOrchestrator_TicksWhileOnline(t *testing.T) {
	store := newTestStore(t)
	var pulls atomic.Int32
	server := cycleServer(t, &pulls)
	clock := newFakeClock()

	orch := newTestOrchestrator(t, store, server.URL, clock)
	orch.SetOnline(true)
	orch.Start()
	defer orch.Stop()

	clock.fireAfter()
	waitFor(t, "startup cycle", func() bool { return pulls.Load() >= 1 })

	clock.fireTick()
	waitFor(t, "interval cycle", func() bool { return pulls.Load() >= 2 })
}

func TestOrchestrator_SkipsCyclesWhileOffline(t *testing.T) {
	store := newTestStore(t)
	var pulls atomic.Int32
	server := cycleServer(t, &pulls)
	clock := newFakeClock()

	orch := newTestOrchestrator(t, store, server.URL, clock)
	orch.Start()
	defer orch.Stop()

	clock.fireAfter()
	clock.fireTick()
	time.Sleep(50 * time.Millisecond)
	if pulls.Load() != 0 {
		t.Errorf("expected no cycles while offline, got %d", pulls.Load())
	}
}

func TestOrchestrator_TriggerSyncOfflineFails(t *testing.T) {
	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, "", newFakeClock())

	if err := orch.TriggerSync(); !errors.Is(err, ErrOffline) {
		t.Errorf("expected ErrOffline, got %v", err)
	}
}

func TestOrchestrator_RepeatedOnlineEventsCoalesce(t *testing.T) {
	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, "http://unused", newFakeClock())

	// Flapping online reports before the loop drains the trigger must not
	// stack multiple cycles.
	orch.SetOnline(true)
	orch.SetOnline(false)
	orch.SetOnline(true)
	orch.SetOnline(true)

	if len(orch.trigger) != 1 {
		t.Errorf("expected a single coalesced trigger, got %d", len(orch.trigger))
	}
}

func TestOrchestrator_ConcurrentSyncCoalescesIntoRerun(t *testing.T) {
	store := newTestStore(t)
	var pulls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tenants/t1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		var req api.PushRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		entered <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(successAll(req))
	})
	mux.HandleFunc("GET /api/v1/tenants/t1/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		pulls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.PullResponse{Success: true, Timestamp: time.Now().UTC(), Data: api.Snapshot{}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	orch := newTestOrchestrator(t, store, server.URL, newFakeClock())
	orch.SetOnline(true)

	if _, err := store.Enqueue(EntityIngredients, ActionCreate, "r1", testIngredient("r1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- orch.SyncOnce(context.Background()) }()

	<-entered // push is mid-flight

	if err := orch.TriggerSync(); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress mid-cycle, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("SyncOnce failed: %v", err)
	}

	// The absorbed trigger reran the cycle exactly once: two pulls total.
	if got := pulls.Load(); got != 2 {
		t.Errorf("expected 2 pulls (cycle + coalesced rerun), got %d", got)
	}
}

func TestOrchestrator_StatusReflectsQueue(t *testing.T) {
	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, "", newFakeClock())

	if _, err := store.Enqueue(EntityIngredients, ActionCreate, "r1", testIngredient("r1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	status, err := orch.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.PendingChanges != 1 || status.IsSyncing || status.IsOnline {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.LastSynced != nil {
		t.Errorf("expected no last sync yet, got %v", status.LastSynced)
	}
}
