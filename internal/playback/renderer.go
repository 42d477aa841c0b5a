package playback

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/amaumene/grainlink/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Renderer presents media on two slots. Implementations report the natural
// end of an item through the OnFinished callback, never synchronously from
// inside Load or Play.
type Renderer interface {
	Load(slot int, path string) error
	Play(slot int) error
	// Show makes slot the visible one, fading over fade
	Show(slot int, fade time.Duration)
	Stop(slot int)
	SetMuted(slot int, muted bool)
	Placeholder(message string)
	OnFinished(fn func(slot int))
}

// ExecRenderer plays each item with an external player process.
//
// Load only records the path: the process starts on Play, so the preloaded
// slot is not decoded ahead of time and Show cannot crossfade between the two
// processes. Still images are held open until the engine stops them.
type ExecRenderer struct {
	command string
	args    []string
	logger  *logrus.Entry

	// MuteArg is appended to the player arguments for muted slots
	MuteArg  string
	// StillArg is appended for still images so the engine's timer decides
	// how long they stay on screen
	StillArg string

	mu       sync.Mutex
	slots    [2]execSlot
	finished func(slot int)
}

type execSlot struct {
	path  string
	muted bool
	cmd   *exec.Cmd
	gen   uint64
}

// NewExecRenderer creates a renderer running command with args followed by the media path
func NewExecRenderer(command string, args []string, logger *logrus.Logger) *ExecRenderer {
	return &ExecRenderer{
		command:  command,
		args:     args,
		logger:   utils.Component(logger, "renderer"),
		MuteArg:  "--mute=yes",
		StillArg: "--image-display-duration=inf",
	}
}

// OnFinished implements Renderer
func (r *ExecRenderer) OnFinished(fn func(slot int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = fn
}

// Load implements Renderer
func (r *ExecRenderer) Load(slot int, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot].path = path
	return nil
}

// Play implements Renderer
func (r *ExecRenderer) Play(slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.slots[slot]
	if s.path == "" {
		return fmt.Errorf("slot %d has nothing loaded", slot)
	}
	r.stopLocked(slot)

	args := append([]string(nil), r.args...)
	if s.muted && r.MuteArg != "" {
		args = append(args, r.MuteArg)
	}
	if IsImage(s.path) && r.StillArg != "" {
		args = append(args, r.StillArg)
	}
	args = append(args, s.path)

	cmd := exec.Command(r.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start player: %w", err)
	}
	s.cmd = cmd
	s.gen++
	gen := s.gen

	go r.wait(slot, cmd, gen)
	return nil
}

func (r *ExecRenderer) wait(slot int, cmd *exec.Cmd, gen uint64) {
	err := cmd.Wait()

	r.mu.Lock()
	current := r.slots[slot].gen == gen
	if current {
		r.slots[slot].cmd = nil
	}
	fn := r.finished
	r.mu.Unlock()

	if !current {
		return
	}
	if err != nil {
		r.logger.WithError(err).WithField("slot", slot).Warn("Player exited with error")
	}
	if fn != nil {
		fn(slot)
	}
}

// Show implements Renderer. Window stacking is left to the player.
func (r *ExecRenderer) Show(slot int, fade time.Duration) {
	r.logger.WithFields(logrus.Fields{
		"slot": slot,
		"fade": fade,
	}).Debug("Showing slot")
}

// Stop implements Renderer
func (r *ExecRenderer) Stop(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(slot)
}

func (r *ExecRenderer) stopLocked(slot int) {
	s := &r.slots[slot]
	if s.cmd == nil {
		return
	}
	s.gen++
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd = nil
}

// SetMuted implements Renderer
func (r *ExecRenderer) SetMuted(slot int, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot].muted = muted
}

// Placeholder implements Renderer
func (r *ExecRenderer) Placeholder(message string) {
	r.logger.WithField("message", message).Warn("Showing placeholder")
}

// NopRenderer plays nothing and reports every item finished after a fixed
// duration. It keeps the loop running on machines without a display.
type NopRenderer struct {
	clock    clockwork.Clock
	duration time.Duration
	logger   *logrus.Entry

	mu       sync.Mutex
	timers   [2]clockwork.Timer
	finished func(slot int)
}

// NewNopRenderer creates a headless renderer
func NewNopRenderer(clock clockwork.Clock, duration time.Duration, logger *logrus.Logger) *NopRenderer {
	return &NopRenderer{
		clock:    clock,
		duration: duration,
		logger:   utils.Component(logger, "renderer"),
	}
}

func (r *NopRenderer) OnFinished(fn func(slot int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = fn
}

func (r *NopRenderer) Load(slot int, path string) error { return nil }

func (r *NopRenderer) Play(slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.timers[slot]; t != nil {
		t.Stop()
	}
	fn := r.finished
	r.timers[slot] = r.clock.AfterFunc(r.duration, func() {
		if fn != nil {
			fn(slot)
		}
	})
	return nil
}

func (r *NopRenderer) Show(slot int, fade time.Duration) {}

func (r *NopRenderer) Stop(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.timers[slot]; t != nil {
		t.Stop()
		r.timers[slot] = nil
	}
}

func (r *NopRenderer) SetMuted(slot int, muted bool) {}

func (r *NopRenderer) Placeholder(message string) {
	r.logger.WithField("message", message).Info("Placeholder")
}
