package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amaumene/grainlink/internal/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const userAgent = "grainlink"

// ErrNotFound is returned when the release or manifest does not exist
var ErrNotFound = errors.New("not found")

// HTTPDoer allows tests to stub HTTP transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client reads releases, their assets and the release manifest
type Client struct {
	apiURL      string
	repo        string
	manifestURL string
	httpClient  HTTPDoer
	logger      *logrus.Logger

	// downloads are bounded by the caller's context, not a client timeout
	downloadClient HTTPDoer

	// initial retry interval, shortened by tests
	retryInterval time.Duration
}

// Manifest is the release manifest published next to each release
type Manifest struct {
	Version string         `json:"version"`
	Media   *ManifestMedia `json:"media,omitempty"`
}

// ManifestMedia points at the media archive of a release
type ManifestMedia struct {
	URL string `json:"url"`
}

// MediaURL returns the media archive URL, or "" when the manifest has none
func (m *Manifest) MediaURL() string {
	if m == nil || m.Media == nil {
		return ""
	}
	return strings.TrimSpace(m.Media.URL)
}

// Release is a published release and its assets
type Release struct {
	Tag         string
	Name        string
	PublishedAt time.Time
	Assets      []Asset
}

// Asset is a downloadable file attached to a release
type Asset struct {
	ID        int64
	Name      string
	URL       string
	Size      int64
	UpdatedAt time.Time
}

// FindAsset returns the asset with the given name
func (r *Release) FindAsset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

type releaseResponse struct {
	TagName     string          `json:"tag_name"`
	Name        string          `json:"name"`
	PublishedAt time.Time       `json:"published_at"`
	Assets      []assetResponse `json:"assets"`
}

type assetResponse struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	BrowserDownloadURL string    `json:"browser_download_url"`
	Size               int64     `json:"size"`
	UpdatedAt          time.Time `json:"updated_at"`
}

const requestTimeout = 30 * time.Second

// NewClient creates a release client from configuration
func NewClient(cfg *config.Config, logger *logrus.Logger) *Client {
	return newClient(cfg, requestTimeout, logger)
}

func newClient(cfg *config.Config, timeout time.Duration, logger *logrus.Logger) *Client {
	c := New(cfg.ReleaseAPIURL, cfg.ReleaseRepo, cfg.ManifestURL, &http.Client{Timeout: timeout}, logger)
	c.downloadClient = &http.Client{}
	return c
}

// New creates a release client with an explicit transport
func New(apiURL, repo, manifestURL string, doer HTTPDoer, logger *logrus.Logger) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		apiURL:         strings.TrimRight(apiURL, "/"),
		repo:           repo,
		manifestURL:    manifestURL,
		httpClient:     doer,
		downloadClient: doer,
		logger:         logger,
		retryInterval:  500 * time.Millisecond,
	}
}

// FetchManifest downloads the release manifest, retrying transient failures until ctx ends
func (c *Client) FetchManifest(ctx context.Context) (*Manifest, error) {
	if c.manifestURL == "" {
		return nil, fmt.Errorf("manifest URL is not configured: %w", ErrNotFound)
	}

	var manifest Manifest
	if err := c.getJSON(ctx, c.manifestURL, &manifest); err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	return &manifest, nil
}

// LatestRelease returns the latest published release, retrying transient failures until ctx ends
func (c *Client) LatestRelease(ctx context.Context) (*Release, error) {
	if c.repo == "" {
		return nil, fmt.Errorf("release repository is not configured: %w", ErrNotFound)
	}

	var payload releaseResponse
	url := c.apiURL + "/repos/" + c.repo + "/releases/latest"
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	if strings.TrimSpace(payload.TagName) == "" {
		return nil, fmt.Errorf("release metadata missing tag")
	}

	rel := &Release{
		Tag:         strings.TrimSpace(payload.TagName),
		Name:        strings.TrimSpace(payload.Name),
		PublishedAt: payload.PublishedAt.UTC(),
		Assets:      make([]Asset, 0, len(payload.Assets)),
	}
	for _, a := range payload.Assets {
		if a.BrowserDownloadURL == "" {
			continue
		}
		rel.Assets = append(rel.Assets, Asset{
			ID:        a.ID,
			Name:      strings.TrimSpace(a.Name),
			URL:       a.BrowserDownloadURL,
			Size:      a.Size,
			UpdatedAt: a.UpdatedAt.UTC(),
		})
	}

	c.logger.WithFields(logrus.Fields{
		"tag":    rel.Tag,
		"assets": len(rel.Assets),
	}).Debug("Fetched latest release")

	return rel, nil
}

// Open starts a download and returns the body with its length (-1 when unknown).
// The transfer is only bounded by ctx. The caller closes the body.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, fmt.Errorf("download returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v interface{}) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("server returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}

		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 2 * time.Minute

	notify := func(err error, wait time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"url":  url,
			"wait": wait,
		}).Warn("Request failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return fmt.Errorf("%w (last error: %v)", ctxErr, err)
		}
		return err
	}
	return nil
}
