package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amaumene/grainlink/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStage(t *testing.T) {
	m := New()
	m.ObserveStage("checking_update")
	m.ObserveStage("countdown")
	m.ObserveStage("countdown")

	assert.Equal(t, float64(0), testutil.ToFloat64(m.bootStage.WithLabelValues("checking_update")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.bootStage.WithLabelValues("countdown")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveSync(models.MediaSyncStatus{Phase: models.SyncDownloading, Progress: 40, BytesDone: 1024})
	m.SyncFinished(models.SyncCompleted)
	m.ItemPlayed()
	m.ItemPlayed()
	m.SetContentItems(12)
	m.SetFeedConnected(true)

	assert.Equal(t, float64(40), testutil.ToFloat64(m.syncProgress))
	assert.Equal(t, float64(1024), testutil.ToFloat64(m.syncBytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.syncs.WithLabelValues(string(models.SyncCompleted))))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.itemsPlayed))
	assert.Equal(t, float64(12), testutil.ToFloat64(m.contentItems))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.feedConnected))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ItemPlayed()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "grainlink_playback_items_total 1")
}
