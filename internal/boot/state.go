package boot

import (
	"time"

	"github.com/amaumene/grainlink/internal/models"
)

// Stage is a step of the startup sequence
type Stage int

const (
	StageCheckingUpdate Stage = iota
	StageCheckingMedia
	StageSyncingMedia
	StageCountdown
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageCheckingUpdate:
		return "checking_update"
	case StageCheckingMedia:
		return "checking_media"
	case StageSyncingMedia:
		return "syncing_media"
	case StageCountdown:
		return "countdown"
	case StageReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText renders the stage by name in JSON
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// grace is what happens when the update stage's grace timer fires
type grace int

const (
	graceNone grace = iota
	graceAdvance
	graceInstall
)

// State is the orchestrator state. Gen increases on every stage entry and
// tags the timers armed in that stage.
type State struct {
	Stage     Stage                  `json:"stage"`
	Gen       uint64                 `json:"-"`
	Update    models.UpdateStatus    `json:"update"`
	Media     models.MediaSyncStatus `json:"media"`
	Remaining int                    `json:"remaining"`
	Skipped   []Stage                `json:"skipped,omitempty"`

	started      bool
	updateBusy   bool // download timeout armed
	grace        grace
	installing   bool
	mediaSettled bool
}

// Config holds the durations of the startup sequence
type Config struct {
	SkipUpdateCheck bool

	UpdateCheckTimeout    time.Duration
	UpdateDownloadTimeout time.Duration
	InstallTimeout        time.Duration
	ReadyGrace            time.Duration
	ErrorGrace            time.Duration
	UpToDateGrace         time.Duration
	ManifestTimeout       time.Duration
	SyncTimeout           time.Duration
	MediaGrace            time.Duration
	CountdownSeconds      int
}

// DefaultConfig returns the standard boot timings
func DefaultConfig() Config {
	return Config{
		UpdateCheckTimeout:    30 * time.Second,
		UpdateDownloadTimeout: 600 * time.Second,
		InstallTimeout:        30 * time.Second,
		ReadyGrace:            5 * time.Second,
		ErrorGrace:            5 * time.Second,
		UpToDateGrace:         1 * time.Second,
		ManifestTimeout:       5 * time.Second,
		SyncTimeout:           15 * time.Minute,
		MediaGrace:            1 * time.Second,
		CountdownSeconds:      90,
	}
}

// TimerID names a timer owned by the orchestrator
type TimerID int

const (
	TimerUpdateCheck TimerID = iota
	TimerUpdateDownload
	TimerUpdateGrace
	TimerInstall
	TimerManifest
	TimerSync
	TimerMediaGrace
	TimerTick
)

// Event is an input to the state machine
type Event interface{ event() }

// Start begins the sequence
type Start struct{}

// UpdateProgress reports a status from the update gateway
type UpdateProgress struct{ Status models.UpdateStatus }

// InstallResult reports the outcome of installing a staged update
type InstallResult struct{ Err error }

// ManifestFetched reports the media archive URL from the release manifest
type ManifestFetched struct {
	MediaURL string
	Err      error
}

// SyncProgress reports a media sync status
type SyncProgress struct{ Status models.MediaSyncStatus }

// TimerFired is delivered when an armed timer expires
type TimerFired struct {
	Timer TimerID
	Gen   uint64
}

// Skip forces the current wait state to end
type Skip struct{}

func (Start) event()           {}
func (UpdateProgress) event()  {}
func (InstallResult) event()   {}
func (ManifestFetched) event() {}
func (SyncProgress) event()    {}
func (TimerFired) event()      {}
func (Skip) event()            {}

// Effect is a side effect requested by a transition
type Effect interface{ effect() }

type (
	StartUpdateCheck struct{}
	StopUpdateCheck  struct{}
	InstallUpdate    struct{}
	FetchManifest    struct{}
	CancelManifest   struct{}
	StartSync        struct{ URL string }
	StopSync         struct{}
	ArmTimer         struct {
		Timer TimerID
		Gen   uint64
		After time.Duration
	}
	CancelTimer     struct{ Timer TimerID }
	CancelAllTimers struct{}
	Complete        struct{}
)

func (StartUpdateCheck) effect() {}
func (StopUpdateCheck) effect()  {}
func (InstallUpdate) effect()    {}
func (FetchManifest) effect()    {}
func (CancelManifest) effect()   {}
func (StartSync) effect()        {}
func (StopSync) effect()         {}
func (ArmTimer) effect()         {}
func (CancelTimer) effect()      {}
func (CancelAllTimers) effect()  {}
func (Complete) effect()         {}
