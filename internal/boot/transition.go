package boot

import (
	"time"

	"github.com/amaumene/grainlink/internal/models"
)

const tick = time.Second

// Transition is the pure state function of the startup sequence. Every wait
// state arms exactly one timeout, timers from earlier stages are rejected by
// generation, and once Ready is reached every further event is ignored.
func Transition(cfg Config, s State, ev Event) (State, []Effect) {
	if s.Stage == StageReady && s.started {
		return s, nil
	}

	if _, ok := ev.(Start); ok {
		if s.started {
			return s, nil
		}
		s.started = true
		if cfg.SkipUpdateCheck {
			s.Update = models.UpdateStatus{Phase: models.UpdateIdle, Message: "update check disabled"}
			return enterCheckingMedia(cfg, s)
		}
		return enterCheckingUpdate(cfg, s)
	}
	if !s.started {
		return s, nil
	}

	if t, ok := ev.(TimerFired); ok && t.Gen != s.Gen {
		return s, nil
	}

	switch s.Stage {
	case StageCheckingUpdate:
		return checkingUpdate(cfg, s, ev)
	case StageCheckingMedia:
		return checkingMedia(cfg, s, ev)
	case StageSyncingMedia:
		return syncingMedia(cfg, s, ev)
	case StageCountdown:
		return countdown(cfg, s, ev)
	}
	return s, nil
}

func checkingUpdate(cfg Config, s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case UpdateProgress:
		if s.grace != graceNone || s.installing {
			return s, nil
		}
		s.Update = ev.Status
		switch ev.Status.Phase {
		case models.UpdateAvailable, models.UpdateDownloading:
			if s.updateBusy {
				return s, nil
			}
			s.updateBusy = true
			return s, []Effect{
				CancelTimer{Timer: TimerUpdateCheck},
				ArmTimer{Timer: TimerUpdateDownload, Gen: s.Gen, After: cfg.UpdateDownloadTimeout},
			}
		case models.UpdateReady:
			return settleUpdate(s, graceInstall, cfg.ReadyGrace)
		case models.UpdateError:
			return settleUpdate(s, graceAdvance, cfg.ErrorGrace)
		case models.UpdateUpToDate:
			return settleUpdate(s, graceAdvance, cfg.UpToDateGrace)
		}
		return s, nil

	case TimerFired:
		switch ev.Timer {
		case TimerUpdateCheck, TimerUpdateDownload:
			stale := s.grace != graceNone ||
				(ev.Timer == TimerUpdateCheck && s.updateBusy) ||
				(ev.Timer == TimerUpdateDownload && !s.updateBusy)
			if stale {
				return s, nil
			}
			s.Update = models.UpdateStatus{Phase: models.UpdateError, Message: "update check timed out"}
			var effects []Effect
			s, effects = settleUpdate(s, graceAdvance, cfg.ErrorGrace)
			return s, append([]Effect{StopUpdateCheck{}}, effects...)
		case TimerUpdateGrace:
			switch s.grace {
			case graceInstall:
				s.grace = graceNone
				s.installing = true
				s.Update.Message = "installing update"
				return s, []Effect{
					InstallUpdate{},
					ArmTimer{Timer: TimerInstall, Gen: s.Gen, After: cfg.InstallTimeout},
				}
			case graceAdvance:
				return enterCheckingMedia(cfg, s)
			}
		case TimerInstall:
			if s.installing {
				s.Update = models.UpdateStatus{Phase: models.UpdateError, Message: "update install timed out"}
				return enterCheckingMedia(cfg, s)
			}
		}
		return s, nil

	case InstallResult:
		if !s.installing {
			return s, nil
		}
		if ev.Err != nil {
			s.Update = models.UpdateStatus{Phase: models.UpdateError, Message: "update install failed: " + ev.Err.Error()}
			return enterCheckingMedia(cfg, s)
		}
		// a successful install restarts the process; the install timer covers a restart that never happens
		return s, nil

	case Skip:
		s = skipped(s)
		return enterCheckingMedia(cfg, s)
	}
	return s, nil
}

func settleUpdate(s State, g grace, after time.Duration) (State, []Effect) {
	s.grace = g
	return s, []Effect{
		CancelTimer{Timer: TimerUpdateCheck},
		CancelTimer{Timer: TimerUpdateDownload},
		ArmTimer{Timer: TimerUpdateGrace, Gen: s.Gen, After: after},
	}
}

func checkingMedia(cfg Config, s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case ManifestFetched:
		if ev.Err != nil || ev.MediaURL == "" {
			s.Media = noMediaUpdate()
			return enterCountdown(cfg, s)
		}
		return enterSyncingMedia(cfg, s, ev.MediaURL)
	case TimerFired:
		if ev.Timer != TimerManifest {
			return s, nil
		}
		s.Media = noMediaUpdate()
		var effects []Effect
		s, effects = enterCountdown(cfg, s)
		return s, append([]Effect{CancelManifest{}}, effects...)
	case Skip:
		s = skipped(s)
		var effects []Effect
		s, effects = enterCountdown(cfg, s)
		return s, append([]Effect{CancelManifest{}}, effects...)
	}
	return s, nil
}

func syncingMedia(cfg Config, s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case SyncProgress:
		if s.mediaSettled {
			return s, nil
		}
		s.Media = ev.Status
		if !ev.Status.Phase.Terminal() {
			return s, nil
		}
		s.mediaSettled = true
		return s, []Effect{
			CancelTimer{Timer: TimerSync},
			ArmTimer{Timer: TimerMediaGrace, Gen: s.Gen, After: cfg.MediaGrace},
		}
	case TimerFired:
		switch ev.Timer {
		case TimerSync:
			if s.mediaSettled {
				return s, nil
			}
			s.Media = models.MediaSyncStatus{Phase: models.SyncError, Message: "media sync timed out"}
			return enterCountdown(cfg, s)
		case TimerMediaGrace:
			return enterCountdown(cfg, s)
		}
	case Skip:
		s = skipped(s)
		return enterCountdown(cfg, s)
	}
	return s, nil
}

func countdown(cfg Config, s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case TimerFired:
		if ev.Timer != TimerTick {
			return s, nil
		}
		s.Remaining--
		if s.Remaining <= 0 {
			return enterReady(s)
		}
		return s, []Effect{ArmTimer{Timer: TimerTick, Gen: s.Gen, After: tick}}
	case Skip:
		s = skipped(s)
		return enterReady(s)
	}
	return s, nil
}

func enterCheckingUpdate(cfg Config, s State) (State, []Effect) {
	s = enter(s, StageCheckingUpdate)
	s.Update = models.UpdateStatus{Phase: models.UpdateChecking, Message: "checking for updates"}
	return s, []Effect{
		CancelAllTimers{},
		StartUpdateCheck{},
		ArmTimer{Timer: TimerUpdateCheck, Gen: s.Gen, After: cfg.UpdateCheckTimeout},
	}
}

func enterCheckingMedia(cfg Config, s State) (State, []Effect) {
	s = enter(s, StageCheckingMedia)
	s.Media = models.MediaSyncStatus{Phase: models.SyncChecking, Indeterminate: true, Message: "checking for media updates"}
	return s, []Effect{
		CancelAllTimers{},
		StopUpdateCheck{},
		FetchManifest{},
		ArmTimer{Timer: TimerManifest, Gen: s.Gen, After: cfg.ManifestTimeout},
	}
}

func enterSyncingMedia(cfg Config, s State, url string) (State, []Effect) {
	s = enter(s, StageSyncingMedia)
	return s, []Effect{
		CancelAllTimers{},
		StartSync{URL: url},
		ArmTimer{Timer: TimerSync, Gen: s.Gen, After: cfg.SyncTimeout},
	}
}

func enterCountdown(cfg Config, s State) (State, []Effect) {
	s = enter(s, StageCountdown)
	s.Remaining = cfg.CountdownSeconds
	effects := []Effect{CancelAllTimers{}, StopSync{}}
	if s.Remaining <= 0 {
		var rest []Effect
		s, rest = enterReady(s)
		return s, append(effects, rest...)
	}
	return s, append(effects, ArmTimer{Timer: TimerTick, Gen: s.Gen, After: tick})
}

func enterReady(s State) (State, []Effect) {
	s = enter(s, StageReady)
	s.Remaining = 0
	return s, []Effect{CancelAllTimers{}, Complete{}}
}

// enter moves to stage and resets the per-stage bookkeeping
func enter(s State, stage Stage) State {
	s.Stage = stage
	s.Gen++
	s.updateBusy = false
	s.grace = graceNone
	s.installing = false
	s.mediaSettled = false
	return s
}

func skipped(s State) State {
	s.Skipped = append(append([]Stage(nil), s.Skipped...), s.Stage)
	return s
}

func noMediaUpdate() models.MediaSyncStatus {
	return models.MediaSyncStatus{Phase: models.SyncCompleted, Progress: 100, Message: "no media update"}
}
