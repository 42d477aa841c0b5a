package updater

import (
	"github.com/amaumene/grainlink/internal/models"
)

// EventKind identifies an update check event
type EventKind string

const (
	EventChecking    EventKind = "checking"
	EventAvailable   EventKind = "available"
	EventDownloading EventKind = "downloading"
	EventDownloaded  EventKind = "downloaded"
	EventUpToDate    EventKind = "uptodate"
	EventError       EventKind = "error"
)

// Event is emitted by a Gateway while it checks for and stages an update
type Event struct {
	Kind     EventKind
	Version  string
	Progress int
	Err      error
}

// Status maps the event onto the update phase shown during boot
func (e Event) Status() models.UpdateStatus {
	switch e.Kind {
	case EventChecking:
		return models.UpdateStatus{Phase: models.UpdateChecking, Message: "checking for updates"}
	case EventAvailable:
		return models.UpdateStatus{Phase: models.UpdateAvailable, Message: "update " + e.Version + " available"}
	case EventDownloading:
		return models.UpdateStatus{Phase: models.UpdateDownloading, Progress: e.Progress, Message: "downloading " + e.Version}
	case EventDownloaded:
		return models.UpdateStatus{Phase: models.UpdateReady, Progress: 100, Message: "update " + e.Version + " ready"}
	case EventUpToDate:
		return models.UpdateStatus{Phase: models.UpdateUpToDate, Progress: 100, Message: "up to date"}
	default:
		msg := "update check failed"
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return models.UpdateStatus{Phase: models.UpdateError, Message: msg}
	}
}
