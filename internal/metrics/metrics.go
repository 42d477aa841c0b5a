package metrics

import (
	"net/http"
	"sync"

	"github.com/amaumene/grainlink/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grainlink"

// Metrics holds the client's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	bootStage     *prometheus.GaugeVec
	syncProgress  prometheus.Gauge
	syncBytes     prometheus.Gauge
	syncs         *prometheus.CounterVec
	itemsPlayed   prometheus.Counter
	contentItems  prometheus.Gauge
	feedConnected prometheus.Gauge

	mu        sync.Mutex
	lastStage string
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bootStage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "boot_stage",
			Help:      "1 for the current startup stage, 0 otherwise.",
		}, []string{"stage"}),
		syncProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "media_sync_progress_percent",
			Help:      "Progress of the running media sync.",
		}),
		syncBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "media_sync_downloaded_bytes",
			Help:      "Bytes downloaded by the running media sync.",
		}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_syncs_total",
			Help:      "Finished media syncs by outcome.",
		}, []string{"phase"}),
		itemsPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_items_total",
			Help:      "Playlist items shown.",
		}),
		contentItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "content_items",
			Help:      "Items in the current content set.",
		}),
		feedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "content_feed_connected",
			Help:      "1 while the content feed is connected.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.bootStage,
		m.syncProgress,
		m.syncBytes,
		m.syncs,
		m.itemsPlayed,
		m.contentItems,
		m.feedConnected,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage marks stage as the current startup stage
func (m *Metrics) ObserveStage(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stage == m.lastStage {
		return
	}
	if m.lastStage != "" {
		m.bootStage.WithLabelValues(m.lastStage).Set(0)
	}
	m.bootStage.WithLabelValues(stage).Set(1)
	m.lastStage = stage
}

// ObserveSync records a media sync status snapshot
func (m *Metrics) ObserveSync(status models.MediaSyncStatus) {
	m.syncProgress.Set(float64(status.Progress))
	m.syncBytes.Set(float64(status.BytesDone))
}

// SyncFinished counts a finished sync
func (m *Metrics) SyncFinished(phase models.SyncPhase) {
	m.syncs.WithLabelValues(string(phase)).Inc()
}

// ItemPlayed counts a playlist item becoming visible
func (m *Metrics) ItemPlayed() {
	m.itemsPlayed.Inc()
}

// SetContentItems records the size of the content set
func (m *Metrics) SetContentItems(n int) {
	m.contentItems.Set(float64(n))
}

// SetFeedConnected records the content feed connection state
func (m *Metrics) SetFeedConnected(connected bool) {
	if connected {
		m.feedConnected.Set(1)
		return
	}
	m.feedConnected.Set(0)
}
