package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amaumene/grainlink/internal/mediasync"
	"github.com/amaumene/grainlink/internal/models"
	"github.com/amaumene/grainlink/internal/playback"
	"github.com/amaumene/grainlink/internal/services/release"
	"github.com/amaumene/grainlink/internal/version"
	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const heartbeatSpec = "@hourly"

// ContentSource fetches the content item set
type ContentSource interface {
	FetchItems(ctx context.Context) ([]models.ContentItem, error)
}

// ManifestSource fetches the release manifest
type ManifestSource interface {
	FetchManifest(ctx context.Context) (*release.Manifest, error)
}

// MediaSyncer starts media syncs
type MediaSyncer interface {
	CheckAndSync(ctx context.Context, archiveURL string) *mediasync.Subscription
}

// Playlist receives a rescanned playlist
type Playlist interface {
	SetPlaylist(playlist []string)
}

// Options configures the scheduled jobs. An empty spec disables its job.
type Options struct {
	ContentRefreshCron string
	MediaRefreshCron   string
	MediaDir           string
}

// Scheduler runs the periodic jobs of the steady state
type Scheduler struct {
	cron      *cron.Cron
	opts      Options
	content   ContentSource
	onItems   func([]models.ContentItem)
	manifests ManifestSource
	syncer    MediaSyncer
	playlist  Playlist
	logger    *logrus.Logger
	started   time.Time
	onSync    func(models.MediaSyncStatus)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler. content and syncer may be nil to
// leave their jobs out.
func NewScheduler(
	opts Options,
	content ContentSource,
	onItems func([]models.ContentItem),
	manifests ManifestSource,
	syncer MediaSyncer,
	playlist Playlist,
	logger *logrus.Logger,
) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger)))),
		opts:      opts,
		content:   content,
		onItems:   onItems,
		manifests: manifests,
		syncer:    syncer,
		playlist:  playlist,
		logger:    logger,
		started:   time.Now(),
	}
}

// Start starts the scheduler. Jobs run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler")
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.content != nil && s.opts.ContentRefreshCron != "" {
		if _, err := s.cron.AddFunc(s.opts.ContentRefreshCron, func() {
			s.RefreshContent(s.ctx)
		}); err != nil {
			return fmt.Errorf("failed to add content refresh job: %w", err)
		}
	}

	if s.syncer != nil && s.opts.MediaRefreshCron != "" {
		if _, err := s.cron.AddFunc(s.opts.MediaRefreshCron, func() {
			s.RefreshMedia(s.ctx)
		}); err != nil {
			return fmt.Errorf("failed to add media refresh job: %w", err)
		}
	}

	if _, err := s.cron.AddFunc(heartbeatSpec, s.heartbeat); err != nil {
		return fmt.Errorf("failed to add heartbeat job: %w", err)
	}

	s.cron.Start()
	s.logger.WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")

	if s.content != nil {
		go s.RefreshContent(s.ctx)
	}
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

// OnSyncStatus registers an observer of scheduled media sync progress,
// including the terminal status. It must be set before Start.
func (s *Scheduler) OnSyncStatus(fn func(models.MediaSyncStatus)) {
	s.onSync = fn
}

// RefreshContent replaces the content set from the content API
func (s *Scheduler) RefreshContent(ctx context.Context) {
	s.logger.Debug("Refreshing content")

	items, err := s.content.FetchItems(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Content refresh failed")
		return
	}
	if len(items) == 0 {
		s.logger.Warn("Content API returned no items, keeping current set")
		return
	}
	if s.onItems != nil {
		s.onItems(items)
	}
}

// RefreshMedia re-runs the media sync and hands a new playlist to playback
// when files changed. Playback applies it at its next item boundary.
func (s *Scheduler) RefreshMedia(ctx context.Context) {
	s.logger.Info("Running scheduled media refresh")

	var archiveURL string
	if s.manifests != nil {
		manifest, err := s.manifests.FetchManifest(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to fetch manifest, using release asset")
		} else {
			archiveURL = manifest.MediaURL()
		}
	}

	sub := s.syncer.CheckAndSync(ctx, archiveURL)
	defer sub.Close()

	if !s.follow(ctx, sub) {
		return
	}

	result := sub.Result()
	entry := s.logger.WithFields(logrus.Fields{
		"phase": result.Phase,
		"files": result.DownloadedFiles,
	})
	if result.Phase != models.SyncCompleted {
		entry.WithField("message", result.Message).Error("Media refresh failed")
		return
	}
	if result.DownloadedFiles == 0 {
		entry.Info("Media already up to date")
		return
	}

	files, err := playback.ScanPlaylist(s.opts.MediaDir)
	if err != nil {
		s.logger.WithError(err).Error("Failed to rescan media")
		return
	}
	entry.WithField("items", len(files)).Info("Media refreshed, playlist updated")
	if s.playlist != nil {
		s.playlist.SetPlaylist(files)
	}
}

// follow relays progress until the sync ends; false when ctx ended first
func (s *Scheduler) follow(ctx context.Context, sub *mediasync.Subscription) bool {
	for {
		select {
		case st, ok := <-sub.Updates():
			if !ok {
				return true
			}
			if s.onSync != nil {
				s.onSync(st)
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Scheduler) heartbeat() {
	s.logger.WithFields(logrus.Fields{
		"version": version.Version,
		"uptime":  strings.TrimSpace(humanize.RelTime(s.started, time.Now(), "", "")),
	}).Info("Heartbeat")
}
