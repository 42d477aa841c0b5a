package binding

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/amaumene/grainlink/internal/utils"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const maxAssetSize = 16 << 20

// HTTPDoer executes HTTP requests
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prefetcher loads content assets ahead of time and keeps them in memory
// so the overlay can switch without waiting on the network.
type Prefetcher struct {
	cache   *cache.Cache
	client  HTTPDoer
	timeout time.Duration
	logger  *logrus.Entry

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewPrefetcher creates a prefetcher whose entries expire after ttl
func NewPrefetcher(client HTTPDoer, ttl time.Duration, logger *logrus.Logger) *Prefetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Prefetcher{
		cache:    cache.New(ttl, 2*ttl),
		client:   client,
		timeout:  30 * time.Second,
		logger:   utils.Component(logger, "binding"),
		inflight: make(map[string]bool),
	}
}

// Get returns a cached asset
func (p *Prefetcher) Get(ref string) ([]byte, bool) {
	v, ok := p.cache.Get(ref)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Warm starts fetching refs in the background. Refs that are empty,
// cached or already being fetched are skipped.
func (p *Prefetcher) Warm(refs ...string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if _, ok := p.cache.Get(ref); ok {
			continue
		}

		p.mu.Lock()
		if p.inflight[ref] {
			p.mu.Unlock()
			continue
		}
		p.inflight[ref] = true
		p.wg.Add(1)
		p.mu.Unlock()

		go p.warm(ref)
	}
}

// Wait blocks until every fetch started by Warm has finished
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

func (p *Prefetcher) warm(ref string) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, ref)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	data, err := p.fetch(ctx, ref)
	if err != nil {
		p.logger.WithError(err).WithField("asset", ref).Warn("Failed to prefetch asset")
		return
	}
	p.cache.SetDefault(ref, data)
	p.logger.WithFields(logrus.Fields{
		"asset": ref,
		"size":  utils.FormatBytes(int64(len(data))),
	}).Debug("Asset prefetched")
}

func (p *Prefetcher) fetch(ctx context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		f, err := os.Open(strings.TrimPrefix(ref, "file://"))
		if err != nil {
			return nil, fmt.Errorf("failed to open asset: %w", err)
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxAssetSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	return data, nil
}
