package handlers

import (
	"github.com/amaumene/grainlink/internal/binding"
	"github.com/amaumene/grainlink/internal/boot"
	"github.com/amaumene/grainlink/internal/models"
	"github.com/amaumene/grainlink/internal/playback"
	"github.com/amaumene/grainlink/internal/services/content"
)

// BootView exposes the startup sequence
type BootView interface {
	State() boot.State
	RunID() string
}

// Skipper skips the current startup wait
type Skipper interface {
	BootView
	Skip()
}

// PlaybackView exposes the item on screen
type PlaybackView interface {
	NowPlaying() (playback.Change, bool)
}

// BindingView exposes the content bound to the item on screen
type BindingView interface {
	Current() binding.Binding
}

// FeedView exposes the content feed connection
type FeedView interface {
	Status() content.Status
}

// History reads past boots and syncs
type History interface {
	RecentBoots(limit int) ([]*models.BootRecord, error)
	RecentSyncs(limit int) ([]*models.SyncRecord, error)
}
