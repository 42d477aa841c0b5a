package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/amaumene/grainlink/internal/version"
	"github.com/sirupsen/logrus"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	boot    BootView
	started time.Time
	logger  *logrus.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(boot BootView, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{boot: boot, started: time.Now(), logger: logger}
}

// HealthResponse represents the health response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Stage   string `json:"stage"`
	Uptime  string `json:"uptime"`
}

// ServeHTTP handles the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Stage:   h.boot.State().Stage.String(),
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
