package release

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/grainlink/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := New(srv.URL, "acme/signage", srv.URL+"/latest.json", srv.Client(), logger)
	c.retryInterval = 10 * time.Millisecond
	return c
}

func TestFetchManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest.json", r.URL.Path)
		w.Write([]byte(`{"version":"1.4.0","media":{"url":" https://cdn.test/sakai-media.zip "}}`))
	}))
	defer srv.Close()

	m, err := newTestClient(srv).FetchManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", m.Version)
	assert.Equal(t, "https://cdn.test/sakai-media.zip", m.MediaURL())
}

func TestManifest_MediaURLAbsent(t *testing.T) {
	var m *Manifest
	assert.Equal(t, "", m.MediaURL())
	assert.Equal(t, "", (&Manifest{Version: "1.0.0"}).MediaURL())
}

func TestFetchManifest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"version":"1.0.0"}`))
	}))
	defer srv.Close()

	m, err := newTestClient(srv).FetchManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchManifest_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchManifest(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchManifest_GivesUpWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv).FetchManifest(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLatestRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/signage/releases/latest", r.URL.Path)
		w.Write([]byte(`{
			"tag_name": "v1.4.0",
			"published_at": "2024-05-01T09:00:00Z",
			"assets": [
				{"id": 7, "name": "sakai-media.zip", "browser_download_url": "https://cdn.test/a.zip", "size": 1024, "updated_at": "2024-05-01T08:00:00Z"},
				{"id": 8, "name": "broken", "browser_download_url": ""}
			]
		}`))
	}))
	defer srv.Close()

	rel, err := newTestClient(srv).LatestRelease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", rel.Tag)
	require.Len(t, rel.Assets, 1)

	asset, ok := rel.FindAsset("sakai-media.zip")
	require.True(t, ok)
	assert.Equal(t, int64(7), asset.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), asset.UpdatedAt)

	_, ok = rel.FindAsset("other-media.zip")
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	body, size, err := c.Open(context.Background(), srv.URL+"/file")
	require.NoError(t, err)
	defer body.Close()
	data, _ := io.ReadAll(body)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, int64(7), size)

	_, _, err = c.Open(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "410")
}

func slowBody(chunks int, every time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(chunks))
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for i := 0; i < chunks; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(every):
			}
			w.Write([]byte("x"))
			flusher.Flush()
		}
	}
}

func TestOpen_SlowBodyOutlivesRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(slowBody(6, 50*time.Millisecond))
	defer srv.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := newClient(&config.Config{ReleaseAPIURL: srv.URL, ManifestURL: srv.URL + "/latest.json"}, 100*time.Millisecond, logger)

	body, size, err := c.Open(context.Background(), srv.URL+"/media.zip")
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int64(6), size)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "xxxxxx", string(data))
}

func TestOpen_BoundedByContext(t *testing.T) {
	srv := httptest.NewServer(slowBody(20, 50*time.Millisecond))
	defer srv.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := newClient(&config.Config{ReleaseAPIURL: srv.URL}, time.Minute, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	body, _, err := c.Open(ctx, srv.URL+"/media.zip")
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	require.Error(t, err)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}
