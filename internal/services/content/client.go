package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amaumene/grainlink/internal/config"
	"github.com/amaumene/grainlink/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const maxPayloadSize = 8 << 20

// ErrNotConfigured is returned when no content API is configured
var ErrNotConfigured = errors.New("content API not configured")

// HTTPDoer allows tests to stub HTTP transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches the content item set from the content API
type Client struct {
	url        string
	httpClient HTTPDoer
	logger     *logrus.Logger

	retryInterval time.Duration
	maxElapsed    time.Duration
}

// NewClient creates a content API client
func NewClient(cfg *config.Config, logger *logrus.Logger) *Client {
	return New(cfg.ContentAPIURL, &http.Client{Timeout: 30 * time.Second}, logger)
}

// New creates a content API client using the given transport
func New(url string, doer HTTPDoer, logger *logrus.Logger) *Client {
	return &Client{
		url:           url,
		httpClient:    doer,
		logger:        logger,
		retryInterval: time.Second,
		maxElapsed:    time.Minute,
	}
}

// FetchItems fetches and normalizes the current content set
func (c *Client) FetchItems(ctx context.Context) ([]models.ContentItem, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}

	var raw []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("server returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}

		raw, err = io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = c.maxElapsed

	notify := func(err error, wait time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"url":  c.url,
			"wait": wait,
		}).Warn("Content request failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to fetch content: %w", err)
	}

	items, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	c.logger.WithField("items", len(items)).Info("Fetched content")
	return items, nil
}
