package models

// UpdatePhase is the state of the self-update check as seen by the boot sequence
type UpdatePhase string

const (
	UpdateIdle        UpdatePhase = "idle"
	UpdateChecking    UpdatePhase = "checking"
	UpdateAvailable   UpdatePhase = "available"
	UpdateDownloading UpdatePhase = "downloading"
	UpdateReady       UpdatePhase = "ready"
	UpdateError       UpdatePhase = "error"
	UpdateUpToDate    UpdatePhase = "uptodate"
)

// Settled reports whether the phase ends the update check
func (p UpdatePhase) Settled() bool {
	return p == UpdateReady || p == UpdateError || p == UpdateUpToDate
}

// UpdateStatus is a snapshot of the update check
type UpdateStatus struct {
	Phase    UpdatePhase `json:"phase"`
	Progress int         `json:"progress"`
	Message  string      `json:"message,omitempty"`
}

// SyncPhase is the state of a media sync operation
type SyncPhase string

const (
	SyncIdle        SyncPhase = "idle"
	SyncChecking    SyncPhase = "checking"
	SyncDownloading SyncPhase = "downloading"
	SyncExtracting  SyncPhase = "extracting"
	SyncCompleted   SyncPhase = "completed"
	SyncError       SyncPhase = "error"
)

// Terminal reports whether no further progress follows this phase
func (p SyncPhase) Terminal() bool {
	return p == SyncCompleted || p == SyncError
}

// Rank orders phases within a single sync; completed and error share the last rank.
func (p SyncPhase) Rank() int {
	switch p {
	case SyncIdle:
		return 0
	case SyncChecking:
		return 1
	case SyncDownloading:
		return 2
	case SyncExtracting:
		return 3
	default:
		return 4
	}
}

// MediaSyncStatus is a progress snapshot published by the media sync engine
type MediaSyncStatus struct {
	Phase           SyncPhase `json:"phase"`
	Progress        int       `json:"progress"`
	Indeterminate   bool      `json:"indeterminate,omitempty"`
	Message         string    `json:"message,omitempty"`
	CurrentFile     string    `json:"current_file,omitempty"`
	TotalFiles      int       `json:"total_files"`
	DownloadedFiles int       `json:"downloaded_files"`
	BytesDone       int64     `json:"bytes_done"`
	BytesTotal      int64     `json:"bytes_total"`
}
