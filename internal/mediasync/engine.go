package mediasync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/amaumene/grainlink/internal/models"
	"github.com/amaumene/grainlink/internal/services/release"
	"github.com/amaumene/grainlink/internal/utils"
	"github.com/sirupsen/logrus"
)

var (
	// ErrArchiveCorrupt is returned when the media archive cannot be read
	ErrArchiveCorrupt = errors.New("media archive corrupt")
	// ErrMetadataPersist is logged when the metadata file cannot be written
	ErrMetadataPersist = errors.New("failed to persist media metadata")
	// ErrSyncInProgress is reported when a sync is requested while one is running
	ErrSyncInProgress = errors.New("media sync already in progress")
)

const (
	downloadShare = 80
	extractShare  = 20
)

// Source provides release asset metadata and archive downloads
type Source interface {
	LatestRelease(ctx context.Context) (*release.Release, error)
	Open(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// Recorder stores sync outcomes
type Recorder interface {
	SaveSync(rec *models.SyncRecord) error
}

// Options configures the engine
type Options struct {
	MediaDir  string
	MetaFile  string
	TempDir   string // download location, os.TempDir() when empty
	AssetName string

	MetadataTimeout time.Duration
	DownloadTimeout time.Duration
}

// Engine keeps the media directory in step with the published media archive
type Engine struct {
	opts    Options
	source  Source
	history Recorder
	logger  *logrus.Entry
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	onFinish func(models.MediaSyncStatus)
}

// NewEngine creates a media sync engine. history may be nil.
func NewEngine(opts Options, source Source, history Recorder, logger *logrus.Logger) *Engine {
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = 5 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 600 * time.Second
	}
	return &Engine{
		opts:    opts,
		source:  source,
		history: history,
		logger:  utils.Component(logger, "mediasync"),
		now:     time.Now,
	}
}

// OnFinish registers a callback for the terminal status of every sync run
func (e *Engine) OnFinish(fn func(models.MediaSyncStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFinish = fn
}

// CheckAndSync starts a sync in the background and returns its progress
// subscription. archiveURL comes from the release manifest; when empty the
// release asset URL is used.
func (e *Engine) CheckAndSync(ctx context.Context, archiveURL string) *Subscription {
	sub := newSubscription()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		sub.finish(models.MediaSyncStatus{Phase: models.SyncError, Message: ErrSyncInProgress.Error()})
		return sub
	}
	e.running = true
	e.mu.Unlock()

	go func() {
		final := e.sync(ctx, archiveURL, sub.publish)
		e.mu.Lock()
		e.running = false
		onFinish := e.onFinish
		e.mu.Unlock()
		sub.finish(final)
		if onFinish != nil {
			onFinish(final)
		}
	}()
	return sub
}

func (e *Engine) sync(ctx context.Context, archiveURL string, publish func(models.MediaSyncStatus)) models.MediaSyncStatus {
	rec := &models.SyncRecord{StartedAt: e.now()}
	final := e.run(ctx, archiveURL, publish, rec)

	rec.FinishedAt = e.now()
	rec.Phase = final.Phase
	rec.Files = final.DownloadedFiles
	rec.Bytes = final.BytesDone
	if e.history != nil {
		if err := e.history.SaveSync(rec); err != nil {
			e.logger.WithError(err).Warn("Failed to record sync")
		}
	}
	return final
}

func (e *Engine) run(ctx context.Context, archiveURL string, publish func(models.MediaSyncStatus), rec *models.SyncRecord) models.MediaSyncStatus {
	publish(models.MediaSyncStatus{
		Phase:         models.SyncChecking,
		Indeterminate: true,
		Message:       "checking for media updates",
	})

	local, err := LoadMetadata(e.opts.MetaFile)
	if err != nil {
		e.logger.WithError(err).Warn("Ignoring unreadable media metadata")
		local = models.MediaMetadata{}
	}
	firstBoot := local.IsZero() || !dirExists(e.opts.MediaDir)
	remote, tag := e.remoteAsset(ctx)

	if remote != nil {
		rec.AssetID = remote.ID
	}

	if !firstBoot && remote != nil && upToDate(*remote, local) {
		e.logger.WithFields(logrus.Fields{
			"asset_id":   remote.ID,
			"updated_at": remote.UpdatedAt,
		}).Info("Media is up to date")
		return models.MediaSyncStatus{Phase: models.SyncCompleted, Progress: 100, Message: "media is up to date"}
	}

	var sizeHint int64
	if remote != nil {
		sizeHint = remote.Size
		if archiveURL == "" {
			archiveURL = remote.URL
		}
	}
	if archiveURL == "" {
		e.logger.Info("No media archive published")
		return models.MediaSyncStatus{Phase: models.SyncCompleted, Progress: 100, Message: "no media archive available"}
	}

	e.logger.WithFields(logrus.Fields{
		"url":        archiveURL,
		"first_boot": firstBoot,
	}).Info("Downloading media archive")

	archivePath, size, err := e.download(ctx, archiveURL, sizeHint, publish)
	if err != nil {
		return e.fail(rec, "download failed", err)
	}
	defer os.Remove(archivePath)

	files, err := extractArchive(ctx, archivePath, e.opts.MediaDir, func(done, total int, name string) {
		publish(models.MediaSyncStatus{
			Phase:           models.SyncExtracting,
			Progress:        downloadShare + done*extractShare/total,
			Message:         utils.ExtractMessage(done, total),
			CurrentFile:     name,
			TotalFiles:      total,
			DownloadedFiles: done,
			BytesDone:       size,
			BytesTotal:      size,
		})
	})
	if err != nil {
		return e.fail(rec, "extraction failed", err)
	}

	meta := models.MediaMetadata{UpdatedAt: e.now().UTC()}
	if remote != nil {
		meta = models.MediaMetadata{AssetID: remote.ID, UpdatedAt: remote.UpdatedAt, VersionTag: tag}
		if meta.UpdatedAt.IsZero() {
			meta.UpdatedAt = e.now().UTC()
		}
	}
	rec.Version = meta.VersionTag

	message := "media updated"
	if err := SaveMetadata(e.opts.MetaFile, meta); err != nil {
		e.logger.WithError(fmt.Errorf("%w: %v", ErrMetadataPersist, err)).Warn("Media will be downloaded again on next boot")
		message = "media updated, metadata not saved"
	}

	e.logger.WithFields(logrus.Fields{
		"files": files,
		"bytes": size,
	}).Info("Media sync completed")

	return models.MediaSyncStatus{
		Phase:           models.SyncCompleted,
		Progress:        100,
		Message:         message,
		TotalFiles:      files,
		DownloadedFiles: files,
		BytesDone:       size,
		BytesTotal:      size,
	}
}

// remoteAsset looks up the published archive asset and its release tag; nil when unknown
func (e *Engine) remoteAsset(ctx context.Context) (*release.Asset, string) {
	if e.opts.AssetName == "" {
		return nil, ""
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.MetadataTimeout)
	defer cancel()

	rel, err := e.source.LatestRelease(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to fetch media asset metadata")
		return nil, ""
	}
	asset, ok := rel.FindAsset(e.opts.AssetName)
	if !ok {
		e.logger.WithFields(logrus.Fields{
			"asset": e.opts.AssetName,
			"tag":   rel.Tag,
		}).Warn("Media asset not found in release")
		return nil, ""
	}
	return &asset, rel.Tag
}

func (e *Engine) download(ctx context.Context, url string, sizeHint int64, publish func(models.MediaSyncStatus)) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.DownloadTimeout)
	defer cancel()

	body, total, err := e.source.Open(ctx, url)
	if err != nil {
		return "", 0, err
	}
	defer body.Close()
	if total <= 0 {
		total = sizeHint
	}

	tmp, err := os.CreateTemp(e.opts.TempDir, "media-*.zip")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	started := e.now()
	pw := &progressWriter{onWrite: func(done int64) {
		st := models.MediaSyncStatus{
			Phase:      models.SyncDownloading,
			Message:    utils.DownloadMessage(done, total, e.now().Sub(started)),
			BytesDone:  done,
			BytesTotal: total,
		}
		if total > 0 {
			st.Progress = downloadProgress(done, total)
		} else {
			st.Indeterminate = true
		}
		publish(st)
	}}
	pw.onWrite(0)

	n, err := io.Copy(io.MultiWriter(tmp, pw), body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to download archive: %w", err)
	}
	return tmp.Name(), n, nil
}

func (e *Engine) fail(rec *models.SyncRecord, msg string, err error) models.MediaSyncStatus {
	e.logger.WithError(err).Error("Media sync failed")
	rec.Error = err.Error()
	return models.MediaSyncStatus{Phase: models.SyncError, Message: msg + ": " + err.Error()}
}

// upToDate compares by timestamp when the release reports one, by id otherwise
func upToDate(remote release.Asset, local models.MediaMetadata) bool {
	if remote.UpdatedAt.IsZero() {
		return remote.ID == local.AssetID
	}
	return !remote.UpdatedAt.After(local.UpdatedAt)
}

func downloadProgress(done, total int64) int {
	p := int(done * downloadShare / total)
	if p > downloadShare {
		p = downloadShare
	}
	return p
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

type progressWriter struct {
	done    int64
	onWrite func(done int64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	w.onWrite(w.done)
	return len(p), nil
}
