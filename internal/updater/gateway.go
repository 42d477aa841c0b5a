package updater

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/amaumene/grainlink/internal/services/release"
	"github.com/amaumene/grainlink/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"
)

// ErrNothingStaged is returned by Install when no update has been downloaded
var ErrNothingStaged = errors.New("no update staged")

// Gateway checks for, stages and installs application updates
type Gateway interface {
	// Check starts an update check. The channel is closed after a terminal
	// event (downloaded, uptodate or error) or when ctx is cancelled.
	Check(ctx context.Context) <-chan Event
	// Install applies the staged update and restarts the application
	Install(ctx context.Context) error
}

// Releases is the release source the gateway reads from
type Releases interface {
	LatestRelease(ctx context.Context) (*release.Release, error)
	Open(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// Options configures a GitHubGateway
type Options struct {
	CurrentVersion string
	BinaryPath     string
	UpdatesDir     string
	GOOS           string
	GOARCH         string

	// Restart is invoked after the binary has been replaced
	Restart func(binary string) error
}

// GitHubGateway stages updates from GitHub release assets
type GitHubGateway struct {
	opts     Options
	releases Releases
	logger   *logrus.Entry

	mu     sync.Mutex
	staged string
}

// NewGitHubGateway creates a gateway for the running binary
func NewGitHubGateway(opts Options, releases Releases, logger *logrus.Logger) *GitHubGateway {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.GOARCH == "" {
		opts.GOARCH = runtime.GOARCH
	}
	if opts.Restart == nil {
		opts.Restart = Exec
	}
	return &GitHubGateway{
		opts:     opts,
		releases: releases,
		logger:   utils.Component(logger, "updater"),
	}
}

// Check implements Gateway
func (g *GitHubGateway) Check(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		g.check(ctx, func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return ch
}

func (g *GitHubGateway) check(ctx context.Context, emit func(Event) bool) {
	if !emit(Event{Kind: EventChecking}) {
		return
	}

	rel, err := g.releases.LatestRelease(ctx)
	if errors.Is(err, release.ErrNotFound) {
		g.logger.WithError(err).Info("No release published")
		emit(Event{Kind: EventUpToDate, Version: g.opts.CurrentVersion})
		return
	}
	if err != nil {
		emit(Event{Kind: EventError, Err: err})
		return
	}

	if !IsNewer(rel.Tag, g.opts.CurrentVersion) {
		g.logger.WithFields(logrus.Fields{
			"current": g.opts.CurrentVersion,
			"latest":  rel.Tag,
		}).Info("Application is up to date")
		emit(Event{Kind: EventUpToDate, Version: g.opts.CurrentVersion})
		return
	}

	asset, err := selectBinaryAsset(rel, g.opts.GOOS, g.opts.GOARCH)
	if err != nil {
		emit(Event{Kind: EventError, Err: err})
		return
	}
	checksumAsset, ok := selectChecksumAsset(rel)
	if !ok {
		emit(Event{Kind: EventError, Err: fmt.Errorf("release %s has no checksum asset", rel.Tag)})
		return
	}
	sums, err := g.downloadChecksums(ctx, checksumAsset.URL)
	if err != nil {
		emit(Event{Kind: EventError, Err: err})
		return
	}
	expected, ok := sums[asset.Name]
	if !ok {
		emit(Event{Kind: EventError, Err: fmt.Errorf("no checksum for %s", asset.Name)})
		return
	}

	g.logger.WithFields(logrus.Fields{
		"version": rel.Tag,
		"asset":   asset.Name,
	}).Info("Update available")
	if !emit(Event{Kind: EventAvailable, Version: rel.Tag}) {
		return
	}

	dest := filepath.Join(g.opts.UpdatesDir, rel.Tag, asset.Name)
	sum, err := g.download(ctx, asset, dest, func(progress int) bool {
		return emit(Event{Kind: EventDownloading, Version: rel.Tag, Progress: progress})
	})
	if err != nil {
		emit(Event{Kind: EventError, Err: err})
		return
	}
	if !strings.EqualFold(sum, expected) {
		os.Remove(dest)
		emit(Event{Kind: EventError, Err: fmt.Errorf("checksum mismatch for %s", asset.Name)})
		return
	}

	g.mu.Lock()
	g.staged = dest
	g.mu.Unlock()

	g.logger.WithField("path", dest).Info("Update staged")
	emit(Event{Kind: EventDownloaded, Version: rel.Tag})
}

// Install implements Gateway
func (g *GitHubGateway) Install(ctx context.Context) error {
	g.mu.Lock()
	staged := g.staged
	g.mu.Unlock()
	if staged == "" {
		return ErrNothingStaged
	}

	if err := replaceBinary(staged, g.opts.BinaryPath); err != nil {
		return fmt.Errorf("failed to install update: %w", err)
	}
	g.logger.WithField("binary", g.opts.BinaryPath).Info("Update installed, restarting")
	return g.opts.Restart(g.opts.BinaryPath)
}

func (g *GitHubGateway) download(ctx context.Context, asset release.Asset, dest string, progress func(int) bool) (string, error) {
	body, size, err := g.releases.Open(ctx, asset.URL)
	if err != nil {
		return "", err
	}
	defer body.Close()
	if size <= 0 {
		size = asset.Size
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create updates directory: %w", err)
	}
	tmp := dest + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return "", err
	}

	hasher := sha256.New()
	var done int64
	last := -1
	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				file.Close()
				os.Remove(tmp)
				return "", err
			}
			hasher.Write(buf[:n])
			done += int64(n)
			if size > 0 {
				if p := int(done * 100 / size); p != last && p <= 100 {
					last = p
					if !progress(p) {
						file.Close()
						os.Remove(tmp)
						return "", ctx.Err()
					}
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			file.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("download failed: %w", rerr)
		}
	}

	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (g *GitHubGateway) downloadChecksums(ctx context.Context, url string) (map[string]string, error) {
	body, _, err := g.releases.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("checksum download failed: %w", err)
	}
	defer body.Close()

	sums := make(map[string]string)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		sums[strings.TrimPrefix(fields[1], "*")] = strings.ToLower(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}
	return sums, nil
}

// IsNewer reports whether latest is a higher semantic version than current.
// Unversioned builds never update.
func IsNewer(latest, current string) bool {
	l, c := canonical(latest), canonical(current)
	if !semver.IsValid(l) || !semver.IsValid(c) {
		return false
	}
	return semver.Compare(l, c) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func selectBinaryAsset(rel *release.Release, goos, goarch string) (release.Asset, error) {
	platform := strings.ToLower(goos + "-" + goarch)
	for _, asset := range rel.Assets {
		name := strings.ToLower(asset.Name)
		if strings.Contains(name, "sha256") || strings.Contains(name, "checksum") || strings.HasSuffix(name, ".zip") {
			continue
		}
		if strings.Contains(name, platform) {
			return asset, nil
		}
	}
	return release.Asset{}, fmt.Errorf("no %s binary asset found in release %s", platform, rel.Tag)
}

func selectChecksumAsset(rel *release.Release) (release.Asset, bool) {
	for _, asset := range rel.Assets {
		name := strings.ToLower(asset.Name)
		if strings.Contains(name, "sha256") || strings.Contains(name, "checksum") {
			return asset, true
		}
	}
	return release.Asset{}, false
}

// replaceBinary copies staged next to target and renames it over target,
// keeping the previous binary as target.old.
func replaceBinary(staged, target string) error {
	src, err := os.Open(staged)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := target + ".new"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	backup := target + ".old"
	os.Remove(backup)
	if err := os.Link(target, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		os.Remove(tmp)
		return fmt.Errorf("failed to back up binary: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Exec replaces the current process with binary, keeping arguments and environment
func Exec(binary string) error {
	args := append([]string{binary}, os.Args[1:]...)
	if err := syscall.Exec(binary, args, os.Environ()); err != nil {
		return fmt.Errorf("failed to exec %s: %w", binary, err)
	}
	return nil
}
