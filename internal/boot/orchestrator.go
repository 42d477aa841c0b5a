package boot

import (
	"context"
	"sync"

	"github.com/amaumene/grainlink/internal/mediasync"
	"github.com/amaumene/grainlink/internal/services/release"
	"github.com/amaumene/grainlink/internal/updater"
	"github.com/amaumene/grainlink/internal/utils"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// ManifestSource provides the release manifest
type ManifestSource interface {
	FetchManifest(ctx context.Context) (*release.Manifest, error)
}

// MediaSyncer starts media syncs
type MediaSyncer interface {
	CheckAndSync(ctx context.Context, archiveURL string) *mediasync.Subscription
}

// Orchestrator runs the startup sequence. Events are processed one at a time
// in arrival order; effects are applied outside the lock, and observers see a
// state only after its effects (including timers) are in place.
type Orchestrator struct {
	cfg       Config
	gateway   updater.Gateway
	manifests ManifestSource
	syncer    MediaSyncer
	clock     clockwork.Clock
	logger    *logrus.Entry
	runID     string

	mu        sync.Mutex
	ctx       context.Context
	state     State
	published State
	queue     []Event
	draining  bool
	closed    bool
	listeners []func(State)
	syncDone  <-chan struct{}

	timerMu sync.Mutex
	timers  map[TimerID]clockwork.Timer

	// owned by the draining goroutine
	cancelUpdate   context.CancelFunc
	cancelManifest context.CancelFunc
	stopSync       func()

	onComplete   func()
	completeOnce sync.Once
	done         chan struct{}
}

// New creates an orchestrator
func New(cfg Config, gateway updater.Gateway, manifests ManifestSource, syncer MediaSyncer, clock clockwork.Clock, logger *logrus.Logger) *Orchestrator {
	runID := uuid.NewString()
	return &Orchestrator{
		cfg:       cfg,
		gateway:   gateway,
		manifests: manifests,
		syncer:    syncer,
		clock:     clock,
		logger:    utils.Component(logger, "boot").WithField("run_id", runID),
		runID:     runID,
		ctx:       context.Background(),
		timers:    make(map[TimerID]clockwork.Timer),
		done:      make(chan struct{}),
	}
}

// RunID identifies this boot in logs and history
func (o *Orchestrator) RunID() string {
	return o.runID
}

// OnComplete registers the callback invoked once when Ready is reached.
// It must be set before Start.
func (o *Orchestrator) OnComplete(fn func()) {
	o.onComplete = fn
}

// OnChange registers an observer of state changes. Observers run on the
// dispatching goroutine and must not block.
func (o *Orchestrator) OnChange(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// State returns the latest published state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.published
}

// Done is closed when the sequence reaches Ready
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// MediaSettled is closed once the boot media sync, if one was started, has
// stopped writing to the media directory.
func (o *Orchestrator) MediaSettled() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.syncDone == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return o.syncDone
}

// Start begins the sequence without waiting for it
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()
	o.logger.Info("Starting boot sequence")
	o.Dispatch(Start{})
}

// Run starts the sequence and blocks until Ready or ctx is cancelled
func (o *Orchestrator) Run(ctx context.Context) error {
	o.Start(ctx)
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		o.shutdown()
		return ctx.Err()
	}
}

// Skip ends the current wait state
func (o *Orchestrator) Skip() {
	o.Dispatch(Skip{})
}

// Dispatch queues an event. The first caller to find the queue idle drains
// it; concurrent callers only enqueue.
func (o *Orchestrator) Dispatch(ev Event) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, ev)
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true

	for len(o.queue) > 0 && !o.closed {
		ev := o.queue[0]
		o.queue = o.queue[1:]
		prev := o.state
		next, effects := Transition(o.cfg, prev, ev)
		o.state = next
		ctx := o.ctx
		o.mu.Unlock()

		o.apply(ctx, effects)
		if next.Stage != prev.Stage {
			o.logger.WithFields(logrus.Fields{
				"from": prev.Stage,
				"to":   next.Stage,
			}).Info("Boot stage changed")
		}

		o.mu.Lock()
		o.published = next
		var listeners []func(State)
		if !sameState(prev, next) {
			listeners = append(listeners, o.listeners...)
		}
		o.mu.Unlock()

		for _, fn := range listeners {
			fn(next)
		}
		o.mu.Lock()
	}

	o.draining = false
	o.mu.Unlock()
}

func (o *Orchestrator) apply(ctx context.Context, effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case ArmTimer:
			o.armTimer(e)
		case CancelTimer:
			o.cancelTimer(e.Timer)
		case CancelAllTimers:
			o.cancelAllTimers()
		case StartUpdateCheck:
			o.startUpdateCheck(ctx)
		case StopUpdateCheck:
			if o.cancelUpdate != nil {
				o.cancelUpdate()
				o.cancelUpdate = nil
			}
		case InstallUpdate:
			o.installUpdate(ctx)
		case FetchManifest:
			o.fetchManifest(ctx)
		case CancelManifest:
			if o.cancelManifest != nil {
				o.cancelManifest()
				o.cancelManifest = nil
			}
		case StartSync:
			o.startSync(ctx, e.URL)
		case StopSync:
			if o.stopSync != nil {
				o.stopSync()
				o.stopSync = nil
			}
		case Complete:
			o.complete()
		}
	}
}

func (o *Orchestrator) armTimer(e ArmTimer) {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	if t, ok := o.timers[e.Timer]; ok {
		t.Stop()
	}
	id, gen := e.Timer, e.Gen
	o.timers[e.Timer] = o.clock.AfterFunc(e.After, func() {
		o.Dispatch(TimerFired{Timer: id, Gen: gen})
	})
}

func (o *Orchestrator) cancelTimer(id TimerID) {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	if t, ok := o.timers[id]; ok {
		t.Stop()
		delete(o.timers, id)
	}
}

func (o *Orchestrator) cancelAllTimers() {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
}

func (o *Orchestrator) startUpdateCheck(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelUpdate = cancel
	events := o.gateway.Check(ctx)
	go func() {
		for ev := range events {
			if ev.Err != nil {
				o.logger.WithError(ev.Err).Warn("Update check failed")
			}
			o.Dispatch(UpdateProgress{Status: ev.Status()})
		}
	}()
}

func (o *Orchestrator) installUpdate(ctx context.Context) {
	go func() {
		err := o.gateway.Install(ctx)
		if err != nil {
			o.logger.WithError(err).Error("Failed to install update")
		}
		o.Dispatch(InstallResult{Err: err})
	}()
}

func (o *Orchestrator) fetchManifest(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ManifestTimeout)
	o.cancelManifest = cancel
	go func() {
		defer cancel()
		m, err := o.manifests.FetchManifest(ctx)
		if err != nil {
			o.logger.WithError(err).Warn("Failed to fetch release manifest")
		}
		o.Dispatch(ManifestFetched{MediaURL: m.MediaURL(), Err: err})
	}()
}

// startSync runs the sync on its own context so leaving the stage aborts it
func (o *Orchestrator) startSync(ctx context.Context, url string) {
	ctx, cancel := context.WithCancel(ctx)
	sub := o.syncer.CheckAndSync(ctx, url)
	o.mu.Lock()
	o.syncDone = sub.Done()
	o.mu.Unlock()

	stop := make(chan struct{})
	o.stopSync = func() {
		close(stop)
		sub.Close()
		cancel()
	}
	go func() {
		for {
			select {
			case st, ok := <-sub.Updates():
				if !ok {
					return
				}
				o.Dispatch(SyncProgress{Status: st})
			case <-stop:
				return
			}
		}
	}()
}

func (o *Orchestrator) complete() {
	o.completeOnce.Do(func() {
		o.logger.Info("Boot sequence complete")
		close(o.done)
		if o.onComplete != nil {
			o.onComplete()
		}
	})
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancelAllTimers()
}

func sameState(a, b State) bool {
	return a.Stage == b.Stage && a.Gen == b.Gen && a.Update == b.Update &&
		a.Media == b.Media && a.Remaining == b.Remaining && len(a.Skipped) == len(b.Skipped)
}
