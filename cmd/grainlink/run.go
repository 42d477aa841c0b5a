package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amaumene/grainlink/internal/api"
	"github.com/amaumene/grainlink/internal/api/handlers"
	"github.com/amaumene/grainlink/internal/binding"
	"github.com/amaumene/grainlink/internal/boot"
	"github.com/amaumene/grainlink/internal/config"
	"github.com/amaumene/grainlink/internal/metrics"
	"github.com/amaumene/grainlink/internal/models"
	"github.com/amaumene/grainlink/internal/playback"
	"github.com/amaumene/grainlink/internal/scheduler"
	"github.com/amaumene/grainlink/internal/services/content"
	"github.com/amaumene/grainlink/internal/services/release"
	"github.com/amaumene/grainlink/internal/updater"
	"github.com/amaumene/grainlink/internal/version"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	assetCacheTTL   = 30 * time.Minute
	headlessItemLen = 30 * time.Second
)

// run boots the client and plays until ctx ends. It returns the path of an
// installed update when the process should re-exec into it.
func run(ctx context.Context) (string, error) {
	cfg, logger, closeLog, err := setup()
	if err != nil {
		return "", err
	}
	defer closeLog()
	logger.WithField("version", version.Version).Info("Starting grainlink")

	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	logger.Info("Database initialized")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clock := clockwork.NewRealClock()
	m := metrics.New()
	events := api.NewEvents(logger)

	// Services
	releases := release.NewClient(cfg, logger)
	syncer := newSyncEngine(cfg, releases, db, logger)
	syncer.OnFinish(func(st models.MediaSyncStatus) {
		m.SyncFinished(st.Phase)
	})

	restart := make(chan string, 1)
	gateway, err := newGateway(cfg, releases, logger, func(binary string) error {
		select {
		case restart <- binary:
		default:
		}
		cancel()
		return nil
	})
	if err != nil {
		return "", err
	}

	// Startup sequence
	bootCfg := boot.DefaultConfig()
	bootCfg.CountdownSeconds = cfg.CountdownSeconds
	bootCfg.SkipUpdateCheck = cfg.SkipUpdateCheck || cfg.ReleaseRepo == ""
	orch := boot.New(bootCfg, gateway, releases, syncer, clock, logger)
	orch.OnChange(func(st boot.State) {
		m.ObserveStage(st.Stage.String())
		m.ObserveSync(st.Media)
		events.Publish(api.EventStage, st)
		if st.Stage == boot.StageSyncingMedia {
			events.Publish(api.EventSync, st.Media)
		}
	})

	// Playback and content
	player := playback.NewEngine(newRenderer(cfg, clock, logger), clock, playback.Options{
		Crossfade:     cfg.Crossfade,
		ImageDuration: cfg.ImageDuration,
		Muted:         cfg.Muted,
	}, logger)

	store := binding.NewStore()
	binder := binding.NewBinder(store, binding.NewPrefetcher(nil, assetCacheTTL, logger), logger)
	player.OnChange(func(c playback.Change) {
		m.ItemPlayed()
		binder.Update(c.Path, c.Next)
		events.Publish(api.EventNowPlaying, c)
	})
	binder.OnBind(func(b binding.Binding) {
		events.Publish(api.EventContent, b)
	})

	replaceItems := func(items []models.ContentItem) {
		store.Replace(items)
		m.SetContentItems(len(items))
		binder.Refresh()
	}

	var contentSource scheduler.ContentSource
	if cfg.ContentAPIURL != "" {
		contentSource = content.NewClient(cfg, logger)
	}

	var feedView handlers.FeedView
	if cfg.ContentEventsURL != "" {
		feed := content.NewFeed(cfg.ContentEventsURL, logger)
		feed.OnItems(replaceItems)
		feed.OnStatus(func(s content.Status) {
			m.SetFeedConnected(s == content.StatusConnected)
		})
		feed.Connect(ctx)
		defer feed.Disconnect()
		feedView = feed
	}

	sched := scheduler.NewScheduler(scheduler.Options{
		ContentRefreshCron: cfg.ContentRefreshCron,
		MediaRefreshCron:   cfg.MediaRefreshCron,
		MediaDir:           cfg.MediaDir,
	}, contentSource, replaceItems, releases, syncer, player, logger)
	sched.OnSyncStatus(func(st models.MediaSyncStatus) {
		m.ObserveSync(st)
		events.Publish(api.EventSync, st)
	})

	// Local API
	server := api.NewServer(cfg, api.Deps{
		Boot:     orch,
		Playback: player,
		Binding:  binder,
		Feed:     feedView,
		History:  db,
		Events:   events,
		Metrics:  m.Handler(),
	}, logger)

	serverErrChan := make(chan error, 1)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	// Boot
	record := &models.BootRecord{
		RunID:     orch.RunID(),
		Version:   version.Version,
		StartedAt: time.Now().UTC(),
	}
	go func() {
		if err := orch.Run(ctx); err != nil {
			logger.WithError(err).Info("Boot sequence interrupted")
		}
	}()

	select {
	case <-orch.Done():
	case err := <-serverErrChan:
		cancel()
		return "", fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	saveBootRecord(db, record, orch.State(), logger)

	select {
	case <-orch.MediaSettled():
	case <-ctx.Done():
	}

	if ctx.Err() == nil {
		files, err := playback.ScanPlaylist(cfg.MediaDir)
		if err != nil {
			logger.WithError(err).Warn("Failed to scan media directory")
		}
		player.Start(files)
		defer player.Stop()

		if err := sched.Start(ctx); err != nil {
			logger.WithError(err).Error("Failed to start scheduler")
		} else {
			defer sched.Stop()
		}

		logger.Info("grainlink is running")
		select {
		case err := <-serverErrChan:
			cancel()
			return "", fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
		}
	}

	logger.Info("Shutting down")
	cancel()
	<-serverDone

	select {
	case binary := <-restart:
		logger.WithField("binary", binary).Info("Restarting into update")
		return binary, nil
	default:
	}
	logger.Info("grainlink stopped")
	return "", nil
}

func newGateway(cfg *config.Config, releases *release.Client, logger *logrus.Logger, restart func(string) error) (*updater.GitHubGateway, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(binary); err == nil {
		binary = resolved
	}
	return updater.NewGitHubGateway(updater.Options{
		CurrentVersion: version.Version,
		BinaryPath:     binary,
		UpdatesDir:     cfg.UpdatesDir,
		Restart:        restart,
	}, releases, logger), nil
}

func newRenderer(cfg *config.Config, clock clockwork.Clock, logger *logrus.Logger) playback.Renderer {
	if cfg.PlayerCommand == "" || cfg.PlayerCommand == "none" {
		logger.Warn("No player configured, running headless")
		return playback.NewNopRenderer(clock, headlessItemLen, logger)
	}
	return playback.NewExecRenderer(cfg.PlayerCommand, cfg.PlayerArgs, logger)
}

func saveBootRecord(db *models.Database, rec *models.BootRecord, st boot.State, logger *logrus.Logger) {
	rec.FinishedAt = time.Now().UTC()
	rec.Update = st.Update.Phase
	rec.Media = st.Media.Phase
	for _, s := range st.Skipped {
		rec.Skipped = append(rec.Skipped, s.String())
	}
	if err := db.SaveBoot(rec); err != nil {
		logger.WithError(err).Warn("Failed to save boot record")
	}
}
