package boot

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/amaumene/grainlink/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CountdownSeconds = 3
	return cfg
}

// step applies events in order and returns the final state with all effects
func step(cfg Config, s State, events ...Event) (State, []Effect) {
	var all []Effect
	for _, ev := range events {
		var effects []Effect
		s, effects = Transition(cfg, s, ev)
		all = append(all, effects...)
	}
	return s, all
}

func armed(effects []Effect, id TimerID) (ArmTimer, bool) {
	for _, e := range effects {
		if a, ok := e.(ArmTimer); ok && a.Timer == id {
			return a, true
		}
	}
	return ArmTimer{}, false
}

func count[T Effect](effects []Effect) int {
	n := 0
	for _, e := range effects {
		if _, ok := e.(T); ok {
			n++
		}
	}
	return n
}

func update(phase models.UpdatePhase) UpdateProgress {
	return UpdateProgress{Status: models.UpdateStatus{Phase: phase}}
}

func fired(s State, id TimerID) TimerFired {
	return TimerFired{Timer: id, Gen: s.Gen}
}

func TestTransition_StartChecksForUpdate(t *testing.T) {
	s, effects := Transition(testConfig(), State{}, Start{})

	assert.Equal(t, StageCheckingUpdate, s.Stage)
	assert.Equal(t, models.UpdateChecking, s.Update.Phase)
	assert.Equal(t, 1, count[StartUpdateCheck](effects))
	timer, ok := armed(effects, TimerUpdateCheck)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, timer.After)
	assert.Equal(t, s.Gen, timer.Gen)

	again, effects := Transition(testConfig(), s, Start{})
	assert.Equal(t, s, again)
	assert.Empty(t, effects)
}

func TestTransition_SkipUpdateCheckConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SkipUpdateCheck = true

	s, effects := Transition(cfg, State{}, Start{})
	assert.Equal(t, StageCheckingMedia, s.Stage)
	assert.Equal(t, 1, count[FetchManifest](effects))
	assert.Zero(t, count[StartUpdateCheck](effects))
}

func TestTransition_UpToDateAdvancesAfterGrace(t *testing.T) {
	cfg := testConfig()
	s, _ := step(cfg, State{}, Start{}, update(models.UpdateChecking))

	s, effects := Transition(cfg, s, update(models.UpdateUpToDate))
	assert.Equal(t, StageCheckingUpdate, s.Stage)
	grace, ok := armed(effects, TimerUpdateGrace)
	require.True(t, ok)
	assert.Equal(t, time.Second, grace.After)

	s, effects = Transition(cfg, s, fired(s, TimerUpdateGrace))
	assert.Equal(t, StageCheckingMedia, s.Stage)
	assert.Equal(t, 1, count[StopUpdateCheck](effects))
	assert.Equal(t, 1, count[FetchManifest](effects))
	manifest, ok := armed(effects, TimerManifest)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, manifest.After)
}

func TestTransition_ErrorAdvancesAfterFiveSeconds(t *testing.T) {
	cfg := testConfig()
	s, effects := step(cfg, State{}, Start{}, update(models.UpdateError))

	grace, ok := armed(effects, TimerUpdateGrace)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, grace.After)

	// a late status from the gateway does not reopen the stage
	s, effects = Transition(cfg, s, update(models.UpdateReady))
	assert.Equal(t, models.UpdateError, s.Update.Phase)
	assert.Empty(t, effects)

	s, _ = Transition(cfg, s, fired(s, TimerUpdateGrace))
	assert.Equal(t, StageCheckingMedia, s.Stage)
}

func TestTransition_ReadyInstallsAfterGrace(t *testing.T) {
	cfg := testConfig()
	s, effects := step(cfg, State{}, Start{}, update(models.UpdateAvailable), update(models.UpdateDownloading))

	download, ok := armed(effects, TimerUpdateDownload)
	require.True(t, ok)
	assert.Equal(t, 600*time.Second, download.After)
	downloads := 0
	for _, e := range effects {
		if a, ok := e.(ArmTimer); ok && a.Timer == TimerUpdateDownload {
			downloads++
		}
	}
	assert.Equal(t, 1, downloads)

	s, effects = Transition(cfg, s, update(models.UpdateReady))
	grace, ok := armed(effects, TimerUpdateGrace)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, grace.After)

	s, effects = Transition(cfg, s, fired(s, TimerUpdateGrace))
	assert.Equal(t, StageCheckingUpdate, s.Stage)
	assert.Equal(t, 1, count[InstallUpdate](effects))
	_, ok = armed(effects, TimerInstall)
	assert.True(t, ok)

	s, _ = Transition(cfg, s, InstallResult{Err: errors.New("read-only filesystem")})
	assert.Equal(t, StageCheckingMedia, s.Stage)
	assert.Equal(t, models.UpdateError, s.Update.Phase)
}

func TestTransition_InstallThatNeverRestarts(t *testing.T) {
	cfg := testConfig()
	s, _ := step(cfg, State{}, Start{}, update(models.UpdateReady))
	s, _ = step(cfg, s, fired(s, TimerUpdateGrace), InstallResult{})
	assert.Equal(t, StageCheckingUpdate, s.Stage)

	s, _ = Transition(cfg, s, fired(s, TimerInstall))
	assert.Equal(t, StageCheckingMedia, s.Stage)
}

func TestTransition_CheckTimeout(t *testing.T) {
	cfg := testConfig()
	s, _ := step(cfg, State{}, Start{}, update(models.UpdateChecking))

	s, effects := Transition(cfg, s, fired(s, TimerUpdateCheck))
	assert.Equal(t, models.UpdateError, s.Update.Phase)
	assert.Equal(t, 1, count[StopUpdateCheck](effects))
	_, ok := armed(effects, TimerUpdateGrace)
	assert.True(t, ok)
}

func TestTransition_CheckTimeoutIgnoredWhileDownloading(t *testing.T) {
	cfg := testConfig()
	s, _ := step(cfg, State{}, Start{}, update(models.UpdateAvailable))

	next, effects := Transition(cfg, s, fired(s, TimerUpdateCheck))
	assert.Equal(t, s, next)
	assert.Empty(t, effects)

	next, _ = Transition(cfg, s, fired(s, TimerUpdateDownload))
	assert.Equal(t, models.UpdateError, next.Update.Phase)
}

func TestTransition_StaleTimersIgnored(t *testing.T) {
	cfg := testConfig()
	s, _ := step(cfg, State{}, Start{})
	oldGen := s.Gen
	s, _ = step(cfg, s, update(models.UpdateUpToDate))
	s, _ = step(cfg, s, fired(s, TimerUpdateGrace))
	require.Equal(t, StageCheckingMedia, s.Stage)

	next, effects := Transition(cfg, s, TimerFired{Timer: TimerUpdateCheck, Gen: oldGen})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)

	next, effects = Transition(cfg, s, TimerFired{Timer: TimerManifest, Gen: oldGen})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestTransition_NoMediaURLGoesToCountdown(t *testing.T) {
	cfg := testConfig()
	cfg.SkipUpdateCheck = true

	for _, ev := range []Event{ManifestFetched{}, ManifestFetched{Err: errors.New("404")}} {
		s, _ := step(cfg, State{}, Start{})
		s, effects := Transition(cfg, s, ev)
		assert.Equal(t, StageCountdown, s.Stage)
		assert.Equal(t, 3, s.Remaining)
		assert.Equal(t, models.SyncCompleted, s.Media.Phase)
		assert.Zero(t, s.Media.DownloadedFiles)
		_, ok := armed(effects, TimerTick)
		assert.True(t, ok)
	}
}

func TestTransition_ManifestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SkipUpdateCheck = true
	s, _ := step(cfg, State{}, Start{})

	s, effects := Transition(cfg, s, fired(s, TimerManifest))
	assert.Equal(t, StageCountdown, s.Stage)
	assert.Equal(t, 1, count[CancelManifest](effects))
}

func TestTransition_SyncFlow(t *testing.T) {
	cfg := testConfig()
	cfg.SkipUpdateCheck = true
	s, _ := step(cfg, State{}, Start{})

	s, effects := Transition(cfg, s, ManifestFetched{MediaURL: "https://cdn.test/m.zip"})
	require.Equal(t, StageSyncingMedia, s.Stage)
	assert.Contains(t, effects, Effect(StartSync{URL: "https://cdn.test/m.zip"}))
	_, ok := armed(effects, TimerSync)
	assert.True(t, ok)

	s, _ = Transition(cfg, s, SyncProgress{Status: models.MediaSyncStatus{Phase: models.SyncDownloading, Progress: 40}})
	assert.Equal(t, 40, s.Media.Progress)

	s, effects = Transition(cfg, s, SyncProgress{Status: models.MediaSyncStatus{Phase: models.SyncCompleted, Progress: 100, DownloadedFiles: 4}})
	grace, ok := armed(effects, TimerMediaGrace)
	require.True(t, ok)
	assert.Equal(t, time.Second, grace.After)

	// the sync timeout may already be queued when the sync finishes
	next, effects := Transition(cfg, s, fired(s, TimerSync))
	assert.Equal(t, s, next)
	assert.Empty(t, effects)

	s, effects = Transition(cfg, s, fired(s, TimerMediaGrace))
	assert.Equal(t, StageCountdown, s.Stage)
	assert.Equal(t, 4, s.Media.DownloadedFiles)
	assert.Equal(t, 1, count[StopSync](effects))
}

func TestTransition_SyncErrorStillAdvances(t *testing.T) {
	cfg := testConfig()
	cfg.SkipUpdateCheck = true
	s, _ := step(cfg, State{}, Start{}, ManifestFetched{MediaURL: "u"})

	s, _ = Transition(cfg, s, SyncProgress{Status: models.MediaSyncStatus{Phase: models.SyncError, Message: "archive corrupt"}})
	s, _ = Transition(cfg, s, fired(s, TimerMediaGrace))
	assert.Equal(t, StageCountdown, s.Stage)
	assert.Equal(t, models.SyncError, s.Media.Phase)
}

func TestTransition_CountdownCompletesOnce(t *testing.T) {
	cfg := testConfig()
	cfg.SkipUpdateCheck = true
	s, _ := step(cfg, State{}, Start{}, ManifestFetched{})

	completes := 0
	for i := 3; i > 0; i-- {
		require.Equal(t, StageCountdown, s.Stage)
		assert.Equal(t, i, s.Remaining)
		var effects []Effect
		s, effects = Transition(cfg, s, fired(s, TimerTick))
		completes += count[Complete](effects)
	}
	assert.Equal(t, StageReady, s.Stage)
	assert.Equal(t, 1, completes)

	for _, ev := range []Event{Skip{}, fired(s, TimerTick), Start{}, update(models.UpdateReady)} {
		next, effects := Transition(cfg, s, ev)
		assert.Equal(t, s, next)
		assert.Empty(t, effects)
	}
}

func TestTransition_ZeroCountdown(t *testing.T) {
	cfg := testConfig()
	cfg.SkipUpdateCheck = true
	cfg.CountdownSeconds = 0

	s, effects := step(cfg, State{}, Start{}, ManifestFetched{})
	assert.Equal(t, StageReady, s.Stage)
	assert.Equal(t, 1, count[Complete](effects))
}

func TestTransition_SkipEveryStage(t *testing.T) {
	cfg := testConfig()
	s, _ := step(cfg, State{}, Start{})

	want := []Stage{StageCheckingMedia, StageCountdown, StageReady}
	for _, stage := range want {
		s, _ = Transition(cfg, s, Skip{})
		assert.Equal(t, stage, s.Stage)
	}
	assert.Equal(t, []Stage{StageCheckingUpdate, StageCheckingMedia, StageCountdown}, s.Skipped)

	s, _ = step(cfg, State{}, Start{}, Skip{}, ManifestFetched{MediaURL: "u"})
	require.Equal(t, StageSyncingMedia, s.Stage)
	s, effects := Transition(cfg, s, Skip{})
	assert.Equal(t, StageCountdown, s.Stage)
	assert.Equal(t, 1, count[StopSync](effects))
}

// Random event streams never move backwards, complete at most once, and keep
// at least one timer armed in every wait state.
func TestTransition_RandomEventStreams(t *testing.T) {
	cfg := testConfig()
	rng := rand.New(rand.NewSource(7))
	phases := []models.UpdatePhase{models.UpdateChecking, models.UpdateAvailable, models.UpdateDownloading, models.UpdateReady, models.UpdateError, models.UpdateUpToDate}
	syncPhases := []models.SyncPhase{models.SyncDownloading, models.SyncExtracting, models.SyncCompleted, models.SyncError}
	timers := []TimerID{TimerUpdateCheck, TimerUpdateDownload, TimerUpdateGrace, TimerInstall, TimerManifest, TimerSync, TimerMediaGrace, TimerTick}

	for run := 0; run < 200; run++ {
		s, _ := Transition(cfg, State{}, Start{})
		live := map[TimerID]bool{TimerUpdateCheck: true}
		completes := 0

		for i := 0; i < 300; i++ {
			var ev Event
			switch rng.Intn(8) {
			case 0:
				ev = update(phases[rng.Intn(len(phases))])
			case 1:
				ev = SyncProgress{Status: models.MediaSyncStatus{Phase: syncPhases[rng.Intn(len(syncPhases))], Progress: rng.Intn(101)}}
			case 2:
				ev = ManifestFetched{MediaURL: []string{"", "u"}[rng.Intn(2)]}
			case 3:
				ev = InstallResult{}
			case 4:
				if rng.Intn(20) == 0 {
					ev = Skip{}
				} else {
					ev = TimerFired{Timer: timers[rng.Intn(len(timers))], Gen: s.Gen - uint64(rng.Intn(2))}
				}
			default:
				// fire a timer that is actually armed
				var ids []TimerID
				for id, ok := range live {
					if ok {
						ids = append(ids, id)
					}
				}
				if len(ids) == 0 {
					continue
				}
				id := ids[rng.Intn(len(ids))]
				live[id] = false
				ev = fired(s, id)
			}

			prev := s
			var effects []Effect
			s, effects = Transition(cfg, s, ev)
			require.GreaterOrEqual(t, s.Stage, prev.Stage)
			completes += count[Complete](effects)

			for _, e := range effects {
				switch e := e.(type) {
				case CancelAllTimers:
					live = map[TimerID]bool{}
				case CancelTimer:
					live[e.Timer] = false
				case ArmTimer:
					live[e.Timer] = true
				}
			}

			if s.Stage != StageReady {
				anyArmed := false
				for _, ok := range live {
					anyArmed = anyArmed || ok
				}
				require.True(t, anyArmed, "stage %s has no timer armed after %T", s.Stage, ev)
			}
		}
		require.LessOrEqual(t, completes, 1)
	}
}
