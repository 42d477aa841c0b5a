package playback

import (
	"sync"
	"time"

	"github.com/amaumene/grainlink/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Slot is one of the two playback surfaces
type Slot struct {
	Path   string
	Index  int
	Muted  bool
	Loaded bool
}

// Change is emitted each time a new playlist item becomes visible
type Change struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Slot  int    `json:"slot"`
	Next  string `json:"next"`
}

// Options configures the engine
type Options struct {
	Crossfade     time.Duration
	ImageDuration time.Duration
	Muted         bool
}

// Engine plays a looping playlist on two alternating slots. The inactive
// slot is preloaded with the next item so the switch is a crossfade rather
// than a reload.
type Engine struct {
	renderer Renderer
	clock    clockwork.Clock
	opts     Options
	logger   *logrus.Entry

	mu         sync.Mutex
	playlist   []string
	pending    []string
	hasPending bool
	slots      [2]Slot
	active     int
	cursor     int
	cycle      uint64
	started    bool
	stopped    bool
	preload    clockwork.Timer
	still      clockwork.Timer
	retry      clockwork.Timer
	listeners  []func(Change)

	// held while notifying so listeners observe changes in order
	notifyMu sync.Mutex
}

// NewEngine creates a playback engine driving renderer
func NewEngine(renderer Renderer, clock clockwork.Clock, opts Options, logger *logrus.Logger) *Engine {
	if opts.ImageDuration <= 0 {
		opts.ImageDuration = 10 * time.Second
	}
	e := &Engine{
		renderer: renderer,
		clock:    clock,
		opts:     opts,
		logger:   utils.Component(logger, "playback"),
	}
	renderer.OnFinished(e.Finished)
	return e
}

// OnChange registers a listener for content changes. Listeners run
// synchronously with the switch and must not call Start or Finished.
func (e *Engine) OnChange(fn func(Change)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Start begins playback of playlist from its first item
func (e *Engine) Start(playlist []string) {
	e.mu.Lock()
	e.stopTimers()
	e.playlist = append([]string(nil), playlist...)
	e.pending, e.hasPending = nil, false
	e.started, e.stopped = true, false
	e.cycle++
	e.slots = [2]Slot{}
	e.active, e.cursor = 0, 0

	if len(e.playlist) == 0 {
		e.mu.Unlock()
		e.logger.Warn("No media to play")
		e.renderer.Placeholder("no media available")
		return
	}

	e.logger.WithField("items", len(e.playlist)).Info("Starting playback")
	if !e.loadSlot(0, 0) || !e.playSlot(0) {
		e.scheduleRetry()
		e.loadSlot(1, 1%len(e.playlist))
		e.mu.Unlock()
		return
	}
	e.renderer.Show(0, 0)
	e.loadSlot(1, 1%len(e.playlist))
	e.scheduleStill()
	e.notify(e.change())
}

// SetPlaylist replaces the playlist at the next item boundary. An engine
// showing the placeholder restarts right away.
func (e *Engine) SetPlaylist(playlist []string) {
	e.mu.Lock()
	if e.started && !e.stopped && len(e.playlist) == 0 {
		e.mu.Unlock()
		e.Start(playlist)
		return
	}
	e.pending = append([]string(nil), playlist...)
	e.hasPending = true
	e.mu.Unlock()
}

// Finished reports that the item on slot has ended. Reports for the
// inactive slot are stale and ignored.
func (e *Engine) Finished(slot int) {
	e.advance(slot, 0, false)
}

// Stop halts playback and releases both slots
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	e.stopTimers()
	e.renderer.Stop(0)
	e.renderer.Stop(1)
}

// Active returns the index of the visible slot
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Cursor returns the playlist index of the current item
func (e *Engine) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Slots returns a snapshot of both slots
func (e *Engine) Slots() [2]Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slots
}

// NowPlaying returns the current item, false when nothing plays
func (e *Engine) NowPlaying() (Change, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || len(e.playlist) == 0 {
		return Change{}, false
	}
	return e.change(), true
}

// advance switches to the next item. When checkCycle is set the request
// comes from a timer and is dropped if a switch already happened.
func (e *Engine) advance(slot int, cycle uint64, checkCycle bool) {
	e.mu.Lock()
	if !e.started || e.stopped || len(e.playlist) == 0 || slot != e.active || (checkCycle && cycle != e.cycle) {
		e.mu.Unlock()
		return
	}
	e.stopTimers()

	next := (e.cursor + 1) % len(e.playlist)
	force := false
	if e.hasPending {
		e.playlist, e.pending, e.hasPending = e.pending, nil, false
		e.logger.WithField("items", len(e.playlist)).Info("Playlist replaced")
		if len(e.playlist) == 0 {
			e.slots = [2]Slot{}
			e.cursor = 0
			e.mu.Unlock()
			e.renderer.Stop(0)
			e.renderer.Stop(1)
			e.renderer.Placeholder("no media available")
			return
		}
		next, force = 0, true
	}

	target := 1 - e.active
	ready := e.slots[target]
	if force || !ready.Loaded || ready.Index != next || ready.Path != e.playlist[next] {
		e.renderer.Stop(target)
		if !e.loadSlot(target, next) {
			e.skip(next)
			e.mu.Unlock()
			return
		}
	}
	if !e.playSlot(target) {
		e.skip(next)
		e.mu.Unlock()
		return
	}

	e.renderer.Show(target, e.opts.Crossfade)
	e.active = target
	e.cursor = next
	e.cycle++
	cycle = e.cycle
	e.preload = e.clock.AfterFunc(e.opts.Crossfade, func() { e.preloadInactive(cycle) })
	e.scheduleStill()
	e.notify(e.change())
}

// preloadInactive loads the following item into the slot that just faded out
func (e *Engine) preloadInactive(cycle uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || cycle != e.cycle || e.hasPending || len(e.playlist) == 0 {
		return
	}
	inactive := 1 - e.active
	e.renderer.Stop(inactive)
	e.loadSlot(inactive, (e.cursor+1)%len(e.playlist))
}

// skip moves past an item that could not be shown and tries the next one
// shortly; the visible slot keeps its last frame meanwhile.
func (e *Engine) skip(index int) {
	e.logger.WithField("path", e.playlist[index]).Warn("Skipping item")
	e.cursor = index
	e.scheduleRetry()
}

func (e *Engine) scheduleRetry() {
	e.cycle++
	cycle, slot := e.cycle, e.active
	delay := e.opts.Crossfade
	if delay < time.Second {
		delay = time.Second
	}
	e.retry = e.clock.AfterFunc(delay, func() { e.advance(slot, cycle, true) })
}

func (e *Engine) scheduleStill() {
	if !IsImage(e.playlist[e.cursor]) {
		return
	}
	cycle, slot := e.cycle, e.active
	e.still = e.clock.AfterFunc(e.opts.ImageDuration, func() { e.advance(slot, cycle, true) })
}

func (e *Engine) stopTimers() {
	for _, t := range []clockwork.Timer{e.preload, e.still, e.retry} {
		if t != nil {
			t.Stop()
		}
	}
	e.preload, e.still, e.retry = nil, nil, nil
}

func (e *Engine) loadSlot(slot, index int) bool {
	path := e.playlist[index]
	e.slots[slot] = Slot{Path: path, Index: index, Muted: e.opts.Muted}
	e.renderer.SetMuted(slot, e.opts.Muted)

	err := e.renderer.Load(slot, path)
	if err != nil && e.slots[slot].Muted {
		e.logger.WithError(err).WithField("path", path).Warn("Load failed, retrying")
		err = e.renderer.Load(slot, path)
	}
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"slot": slot,
			"path": path,
		}).Error("Failed to load media")
		e.slots[slot].Loaded = false
		return false
	}
	e.slots[slot].Loaded = true
	return true
}

func (e *Engine) playSlot(slot int) bool {
	err := e.renderer.Play(slot)
	if err != nil && e.slots[slot].Muted {
		e.logger.WithError(err).WithField("slot", slot).Warn("Play failed, retrying")
		err = e.renderer.Play(slot)
	}
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"slot": slot,
			"path": e.slots[slot].Path,
		}).Error("Failed to play media")
		return false
	}
	return true
}

func (e *Engine) change() Change {
	n := len(e.playlist)
	return Change{
		Index: e.cursor,
		Path:  e.playlist[e.cursor],
		Slot:  e.active,
		Next:  e.playlist[(e.cursor+1)%n],
	}
}

// notify is called with e.mu held and releases it. Taking notifyMu before
// unlocking keeps listener calls in the same order as the switches.
func (e *Engine) notify(ch Change) {
	listeners := append([]func(Change){}, e.listeners...)
	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"index": ch.Index,
		"path":  ch.Path,
		"slot":  ch.Slot,
	}).Debug("Now playing")
	for _, fn := range listeners {
		fn(ch)
	}
}
