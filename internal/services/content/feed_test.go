package content

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/grainlink/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamHandler writes events then holds the connection open
func streamHandler(t *testing.T, events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !assert.True(t, ok) {
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for _, ev := range events {
			fmt.Fprint(w, ev)
			flusher.Flush()
		}
		<-r.Context().Done()
	}
}

type itemsRecorder struct {
	mu   sync.Mutex
	sets [][]models.ContentItem
}

func (r *itemsRecorder) add(items []models.ContentItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, items)
}

func (r *itemsRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}

func (r *itemsRecorder) last() []models.ContentItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets[len(r.sets)-1]
}

func TestFeed_ReceivesItems(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t,
		"event: message\ndata: {\"hello\":1}\n\n",
		"event: shops\ndata: []\n\n",
		"event: shops\ndata: {\"data\":[{\"shopId\":\"1\"},{\"shopId\":\"2\"}]}\n\n",
	))
	defer srv.Close()

	feed := NewFeed(srv.URL, testLogger())
	rec := &itemsRecorder{}
	feed.OnItems(rec.add)

	feed.Connect(context.Background())
	feed.Connect(context.Background())

	require.Eventually(t, func() bool { return rec.len() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, rec.last(), 2)
	assert.Equal(t, StatusConnected, feed.Status())

	feed.Disconnect()
	assert.Equal(t, StatusDisconnected, feed.Status())
	assert.Equal(t, 1, rec.len())
}

func TestFeed_ReconnectsAfterFailure(t *testing.T) {
	var calls atomic.Int32
	stream := streamHandler(t, "event: shops\ndata: [{\"shopId\":\"9\"}]\n\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		stream(w, r)
	}))
	defer srv.Close()

	feed := NewFeed(srv.URL, testLogger())
	feed.reconnectDelay = 10 * time.Millisecond

	var mu sync.Mutex
	var statuses []Status
	feed.OnStatus(func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s)
	})
	rec := &itemsRecorder{}
	feed.OnItems(rec.add)

	feed.Connect(context.Background())
	defer feed.Disconnect()

	require.Eventually(t, func() bool { return rec.len() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "9", rec.last()[0].ID)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusConnecting, StatusError, StatusConnecting, StatusConnected}, statuses)
}

func TestFeed_StopsWithContext(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t))
	defer srv.Close()

	feed := NewFeed(srv.URL, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	feed.Connect(ctx)
	require.Eventually(t, func() bool { return feed.Status() == StatusConnected }, 5*time.Second, 10*time.Millisecond)

	cancel()
	feed.Disconnect()
	assert.Equal(t, StatusDisconnected, feed.Status())
}
