package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/amaumene/grainlink/internal/boot"
	"github.com/sirupsen/logrus"
)

// SkipHandler skips the current wait of the startup sequence
type SkipHandler struct {
	boot   Skipper
	logger *logrus.Logger
}

// NewSkipHandler creates a new skip handler
func NewSkipHandler(boot Skipper, logger *logrus.Logger) *SkipHandler {
	return &SkipHandler{boot: boot, logger: logger}
}

// SkipResponse names the stage that was skipped
type SkipResponse struct {
	Skipped string `json:"skipped"`
}

// ServeHTTP handles the skip endpoint
func (h *SkipHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stage := h.boot.State().Stage
	if stage == boot.StageReady {
		http.Error(w, "Startup already finished", http.StatusConflict)
		return
	}

	h.logger.WithField("stage", stage.String()).Info("Manual skip requested")
	h.boot.Skip()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SkipResponse{Skipped: stage.String()})
}
