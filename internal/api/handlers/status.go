package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/amaumene/grainlink/internal/binding"
	"github.com/amaumene/grainlink/internal/boot"
	"github.com/amaumene/grainlink/internal/models"
	"github.com/amaumene/grainlink/internal/playback"
	"github.com/amaumene/grainlink/internal/services/content"
	"github.com/amaumene/grainlink/internal/version"
	"github.com/sirupsen/logrus"
)

const historyLimit = 20

// StatusHandler handles status requests
type StatusHandler struct {
	boot     BootView
	playback PlaybackView
	binding  BindingView
	feed     FeedView
	history  History
	logger   *logrus.Logger
}

// NewStatusHandler creates a new status handler. Any view but boot may be nil.
func NewStatusHandler(boot BootView, playback PlaybackView, binding BindingView, feed FeedView, history History, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		boot:     boot,
		playback: playback,
		binding:  binding,
		feed:     feed,
		history:  history,
		logger:   logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	Version    string               `json:"version"`
	RunID      string               `json:"run_id"`
	Boot       boot.State           `json:"boot"`
	NowPlaying *playback.Change     `json:"now_playing,omitempty"`
	Content    *binding.Binding     `json:"content,omitempty"`
	Feed       content.Status       `json:"feed,omitempty"`
	Boots      []*models.BootRecord `json:"boots"`
	Syncs      []*models.SyncRecord `json:"syncs"`
}

// ServeHTTP handles the status endpoint
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Version: version.Version,
		RunID:   h.boot.RunID(),
		Boot:    h.boot.State(),
		Boots:   []*models.BootRecord{},
		Syncs:   []*models.SyncRecord{},
	}

	if h.playback != nil {
		if now, ok := h.playback.NowPlaying(); ok {
			response.NowPlaying = &now
		}
	}
	if h.binding != nil {
		bound := h.binding.Current()
		if bound.File != "" {
			response.Content = &bound
		}
	}
	if h.feed != nil {
		response.Feed = h.feed.Status()
	}

	if h.history != nil {
		boots, err := h.history.RecentBoots(historyLimit)
		if err != nil {
			h.logger.WithError(err).Error("Failed to get boot history")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		syncs, err := h.history.RecentSyncs(historyLimit)
		if err != nil {
			h.logger.WithError(err).Error("Failed to get sync history")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if boots != nil {
			response.Boots = boots
		}
		if syncs != nil {
			response.Syncs = syncs
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
