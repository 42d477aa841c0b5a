package content

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/amaumene/grainlink/internal/models"
	"github.com/amaumene/grainlink/internal/utils"
	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
)

// Status is the connection state of the content feed
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// itemsEvent carries a complete replacement content set
const itemsEvent = "shops"

const defaultReconnectDelay = 5 * time.Second

// stopBackOff makes the stream client give up after one attempt so that
// reconnection stays under the feed's control
type stopBackOff struct{}

func (stopBackOff) NextBackOff() time.Duration { return -1 }
func (stopBackOff) Reset()                     {}

// Feed receives content set replacements pushed over server-sent events
type Feed struct {
	url            string
	httpClient     *http.Client
	logger         *logrus.Entry
	reconnectDelay time.Duration

	mu       sync.Mutex
	status   Status
	cancel   context.CancelFunc
	done     chan struct{}
	onItems  []func([]models.ContentItem)
	onStatus []func(Status)
}

// NewFeed creates a feed for the event stream at url
func NewFeed(url string, logger *logrus.Logger) *Feed {
	return &Feed{
		url:            url,
		httpClient:     &http.Client{},
		logger:         utils.Component(logger, "content"),
		reconnectDelay: defaultReconnectDelay,
		status:         StatusDisconnected,
	}
}

// OnItems registers a listener for replacement content sets
func (f *Feed) OnItems(fn func([]models.ContentItem)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onItems = append(f.onItems, fn)
}

// OnStatus registers a listener for connection status changes
func (f *Feed) OnStatus(fn func(Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStatus = append(f.onStatus, fn)
}

// Status returns the current connection status
func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Connect starts receiving events until ctx ends or Disconnect is called.
// Lost connections are retried after a fixed delay. Calling Connect on a
// running feed does nothing.
func (f *Feed) Connect(ctx context.Context) {
	f.mu.Lock()
	if f.cancel != nil {
		f.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	f.logger.WithField("url", f.url).Info("Connecting to content feed")
	go f.run(ctx, done)
}

// Disconnect stops the feed and waits for its connection to close
func (f *Feed) Disconnect() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	f.setStatus(StatusDisconnected)
}

func (f *Feed) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		f.setStatus(StatusConnecting)
		err := f.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			f.logger.WithError(err).Warn("Content feed connection failed")
		} else {
			f.logger.Warn("Content feed closed by server")
		}
		f.setStatus(StatusError)

		timer := time.NewTimer(f.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (f *Feed) subscribe(ctx context.Context) error {
	client := sse.NewClient(f.url)
	client.Connection = f.httpClient
	client.ReconnectStrategy = stopBackOff{}
	client.ResponseValidator = func(c *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("event stream returned %d", resp.StatusCode)
		}
		f.setStatus(StatusConnected)
		return nil
	}
	return client.SubscribeRawWithContext(ctx, f.handle)
}

func (f *Feed) handle(msg *sse.Event) {
	if string(msg.Event) != itemsEvent {
		f.logger.WithField("event", string(msg.Event)).Debug("Ignoring feed event")
		return
	}
	if len(bytes.TrimSpace(msg.Data)) == 0 {
		f.logger.Debug("Ignoring empty content event")
		return
	}

	items, err := Normalize(msg.Data)
	if err != nil {
		f.logger.WithError(err).Warn("Failed to parse content event")
		return
	}
	if len(items) == 0 {
		f.logger.Warn("Ignoring content event without items")
		return
	}

	f.mu.Lock()
	listeners := append([]func([]models.ContentItem){}, f.onItems...)
	f.mu.Unlock()

	f.logger.WithField("items", len(items)).Info("Content set replaced")
	for _, fn := range listeners {
		fn(items)
	}
}

func (f *Feed) setStatus(status Status) {
	f.mu.Lock()
	if f.status == status {
		f.mu.Unlock()
		return
	}
	f.status = status
	listeners := append([]func(Status){}, f.onStatus...)
	f.mu.Unlock()

	f.logger.WithField("status", status).Debug("Content feed status changed")
	for _, fn := range listeners {
		fn(status)
	}
}
