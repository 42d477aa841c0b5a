package api

import (
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
)

const statusStream = "status"

// Event names published on the status stream
const (
	EventStage      = "stage"
	EventSync       = "sync"
	EventNowPlaying = "now_playing"
	EventContent    = "content"
)

// Events pushes status changes to local clients as server-sent events
type Events struct {
	server *sse.Server
	logger *logrus.Logger
}

// NewEvents creates the status event stream
func NewEvents(logger *logrus.Logger) *Events {
	server := sse.New()
	server.AutoReplay = false
	server.AutoStream = false
	server.CreateStream(statusStream)
	return &Events{server: server, logger: logger}
}

// Publish sends v as JSON under the given event name
func (e *Events) Publish(event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.WithError(err).WithField("event", event).Error("Failed to encode event")
		return
	}
	if !e.server.TryPublish(statusStream, &sse.Event{Event: []byte(event), Data: data}) {
		e.logger.WithField("event", event).Debug("Event stream busy, dropping event")
	}
}

// ServeHTTP subscribes the client to the status stream
func (e *Events) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "" {
		r = r.Clone(r.Context())
		q := r.URL.Query()
		q.Set("stream", statusStream)
		r.URL.RawQuery = q.Encode()
	}
	e.server.ServeHTTP(w, r)
}

// Close disconnects all subscribers
func (e *Events) Close() {
	e.server.Close()
}
