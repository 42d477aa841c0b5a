package mediasync

import (
	"sync"

	"github.com/amaumene/grainlink/internal/models"
)

// Subscription delivers the progress of one sync. Updates() holds only the
// latest status: a slow reader skips intermediate values but always sees the
// final one before the channel is closed.
type Subscription struct {
	mu           sync.Mutex
	ch           chan models.MediaSyncStatus
	last         models.MediaSyncStatus
	published    bool
	unsubscribed bool
	finished     bool
	final        models.MediaSyncStatus
	done         chan struct{}
}

func newSubscription() *Subscription {
	return &Subscription{
		ch:   make(chan models.MediaSyncStatus, 1),
		done: make(chan struct{}),
	}
}

// Updates returns the status channel. It is closed after the terminal status.
func (s *Subscription) Updates() <-chan models.MediaSyncStatus {
	return s.ch
}

// Done is closed when the sync has finished, whether or not anyone is reading
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Result returns the terminal status; it is only meaningful after Done is closed
func (s *Subscription) Result() models.MediaSyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// Close stops delivery to this subscriber. The sync itself keeps running;
// cancel its context to abort it.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	select {
	case <-s.ch:
	default:
	}
}

// publish stores st as the latest value unless it duplicates or regresses the
// previous one. Only the sync goroutine calls it.
func (s *Subscription) publish(st models.MediaSyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || !s.accepts(st) {
		return
	}
	s.last = st
	s.published = true
	if s.unsubscribed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- st
}

func (s *Subscription) accepts(st models.MediaSyncStatus) bool {
	if !s.published {
		return true
	}
	if st == s.last {
		return false
	}
	if st.Phase.Rank() != s.last.Phase.Rank() {
		return st.Phase.Rank() > s.last.Phase.Rank()
	}
	return st.Progress >= s.last.Progress
}

func (s *Subscription) finish(final models.MediaSyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.final = final
	if !s.unsubscribed {
		select {
		case <-s.ch:
		default:
		}
		s.ch <- final
	}
	close(s.ch)
	close(s.done)
}
