package brigade

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// SyncPhase is the orchestrator's current position in the cycle.
type SyncPhase string

const (
	PhaseIdle    SyncPhase = "IDLE"
	PhasePushing SyncPhase = "PUSHING"
	PhasePulling SyncPhase = "PULLING"
)

// Orchestrator schedules push/pull cycles: periodically while online, once
// on the offline-to-online transition, and on demand. At most one cycle
// runs at a time; triggers that arrive mid-cycle coalesce into a single
// follow-up cycle instead of stacking.
type Orchestrator struct {
	syncer  *Syncer
	store   *Store
	cfg     Config
	clock   Clock
	log     *logrus.Entry
	metrics *Metrics

	mu     sync.Mutex
	state  SyncPhase
	online bool
	rerun  bool

	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewOrchestrator builds an orchestrator over the syncer. The client starts
// offline; connectivity is reported via SetOnline.
func NewOrchestrator(syncer *Syncer, store *Store, cfg Config, clock Clock, log *logrus.Entry, metrics *Metrics) *Orchestrator {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		syncer:  syncer,
		store:   store,
		cfg:     cfg,
		clock:   clock,
		log:     log,
		metrics: metrics,
		state:   PhaseIdle,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start launches the background loop: an initial cycle after the startup
// delay, then one per interval. No-op when called twice or when the config
// disables auto sync.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started || !o.cfg.AutoSync || o.cfg.IsOffline() {
		return
	}
	o.started = true
	o.wg.Add(1)
	go o.run()
}

// Stop shuts down the background loop and waits for an in-progress cycle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	close(o.stop)
	o.wg.Wait()
}

func (o *Orchestrator) run() {
	defer o.wg.Done()

	if o.cfg.StartupDelay > 0 {
		select {
		case <-o.stop:
			return
		case <-o.clock.After(o.cfg.StartupDelay):
		}
	}
	o.syncIfOnline()

	tick, stopTick := o.clock.Ticker(o.cfg.SyncInterval)
	defer stopTick()

	for {
		select {
		case <-o.stop:
			return
		case <-tick:
			o.syncIfOnline()
		case <-o.trigger:
			o.syncIfOnline()
		}
	}
}

func (o *Orchestrator) syncIfOnline() {
	o.mu.Lock()
	online := o.online
	o.mu.Unlock()
	if !online {
		return
	}
	if err := o.SyncOnce(context.Background()); err != nil && err != ErrSyncInProgress {
		o.log.WithError(err).Warn("sync cycle failed")
	}
}

// SetOnline reports a connectivity change. The offline-to-online transition
// schedules an immediate cycle; repeated online reports while a cycle is
// pending collapse into it.
func (o *Orchestrator) SetOnline(online bool) {
	o.mu.Lock()
	wasOnline := o.online
	o.online = online
	o.mu.Unlock()

	if online && !wasOnline {
		o.requestCycle()
	}
}

// TriggerSync requests an immediate cycle. Returns ErrOffline when the
// client knows it is disconnected, and ErrSyncInProgress when a cycle is
// already running; the running cycle absorbs the request and reruns.
func (o *Orchestrator) TriggerSync() error {
	o.mu.Lock()
	if !o.online {
		o.mu.Unlock()
		return ErrOffline
	}
	busy := o.state != PhaseIdle
	if busy {
		o.rerun = true
	}
	o.mu.Unlock()

	if busy {
		return ErrSyncInProgress
	}
	o.requestCycle()
	return nil
}

func (o *Orchestrator) requestCycle() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// SyncOnce runs one push/pull cycle synchronously. Returns
// ErrSyncInProgress if a cycle is already running; the request is absorbed
// by the running cycle.
func (o *Orchestrator) SyncOnce(ctx context.Context) error {
	o.mu.Lock()
	if o.state != PhaseIdle {
		o.rerun = true
		o.mu.Unlock()
		return ErrSyncInProgress
	}
	o.state = PhasePushing
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.state = PhaseIdle
		o.mu.Unlock()
	}()

	for {
		if err := o.cycle(ctx); err != nil {
			return err
		}

		o.mu.Lock()
		if o.rerun {
			o.rerun = false
			o.state = PhasePushing
			o.mu.Unlock()
			continue
		}
		o.mu.Unlock()
		return nil
	}
}

func (o *Orchestrator) cycle(ctx context.Context) error {
	if _, err := o.syncer.Push(ctx); err != nil {
		o.metrics.CycleDone("push", "error")
		o.updateGauges()
		return err
	}
	o.metrics.CycleDone("push", "ok")

	o.mu.Lock()
	o.state = PhasePulling
	o.mu.Unlock()

	if _, err := o.syncer.Pull(ctx); err != nil {
		o.metrics.CycleDone("pull", "error")
		o.updateGauges()
		return err
	}
	o.metrics.CycleDone("pull", "ok")
	o.updateGauges()
	return nil
}

func (o *Orchestrator) updateGauges() {
	counts, err := o.store.Counts(o.cfg.MaxRetries)
	if err != nil {
		return
	}
	o.metrics.SetQueueDepth(counts)
}

// Status reports the externally visible sync state for UI badges like
// "N changes waiting to sync".
func (o *Orchestrator) Status() (*SyncStatusReport, error) {
	counts, err := o.store.Counts(o.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	lastSynced, err := o.store.LastSynced()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	online := o.online
	syncing := o.state != PhaseIdle
	o.mu.Unlock()

	return &SyncStatusReport{
		IsOnline:       online,
		IsSyncing:      syncing,
		PendingChanges: counts.Pending + counts.InFlight,
		FailedChanges:  counts.Failed,
		NeedsAttention: counts.NeedsAttention,
		LastSynced:     lastSynced,
	}, nil
}
