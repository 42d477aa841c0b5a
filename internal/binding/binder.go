package binding

import (
	"sync"

	"github.com/amaumene/grainlink/internal/models"
	"github.com/amaumene/grainlink/internal/utils"
	"github.com/sirupsen/logrus"
)

// Binding is the content resolved for the item on screen. Item is nil when
// the playing file has no matching record.
type Binding struct {
	File     string              `json:"file"`
	Item     *models.ContentItem `json:"item"`
	NextFile string              `json:"next_file,omitempty"`
	Next     *models.ContentItem `json:"next,omitempty"`
}

// Binder keeps the binding in step with playback and the content set
type Binder struct {
	store    *Store
	prefetch *Prefetcher
	logger   *logrus.Entry

	mu        sync.Mutex
	current   Binding
	listeners []func(Binding)
}

// NewBinder creates a binder. prefetch may be nil.
func NewBinder(store *Store, prefetch *Prefetcher, logger *logrus.Logger) *Binder {
	return &Binder{
		store:    store,
		prefetch: prefetch,
		logger:   utils.Component(logger, "binding"),
	}
}

// OnBind registers a listener called whenever the binding changes
func (b *Binder) OnBind(fn func(Binding)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Update binds the playing file and warms the assets of the next one
func (b *Binder) Update(playing, next string) {
	b.bind(playing, next)
}

// Refresh re-resolves the current files against a replaced content set
func (b *Binder) Refresh() {
	b.mu.Lock()
	playing, next := b.current.File, b.current.NextFile
	b.mu.Unlock()
	if playing == "" {
		return
	}
	b.bind(playing, next)
}

// Current returns the latest binding
func (b *Binder) Current() Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Binder) bind(playing, next string) {
	items := b.store.Items()
	bound := Binding{
		File:     playing,
		Item:     Resolve(playing, items),
		NextFile: next,
		Next:     Resolve(next, items),
	}

	if b.prefetch != nil {
		if bound.Item != nil {
			b.prefetch.Warm(bound.Item.Assets.Image, bound.Item.Assets.Logo)
		}
		if bound.Next != nil {
			b.prefetch.Warm(bound.Next.Assets.Image, bound.Next.Assets.Logo)
		}
	}

	b.mu.Lock()
	changed := !sameBinding(b.current, bound)
	b.current = bound
	listeners := append([]func(Binding){}, b.listeners...)
	b.mu.Unlock()

	if !changed {
		return
	}
	fields := logrus.Fields{"file": playing}
	if bound.Item != nil {
		fields["content_id"] = bound.Item.ID
		b.logger.WithFields(fields).Debug("Content bound")
	} else {
		b.logger.WithFields(fields).Debug("No content for file")
	}
	for _, fn := range listeners {
		fn(bound)
	}
}

func sameBinding(a, b Binding) bool {
	return a.File == b.File && a.NextFile == b.NextFile && a.Item == b.Item && a.Next == b.Next
}
