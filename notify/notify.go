// Package notify delivers tag snapshots to registered listeners.
package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/tag"
	"github.com/vinayprograms/tagwatch/telemetry"
)

// Listener consumes snapshots. Each call receives its own copy.
type Listener interface {
	OnSnapshot(s tag.Snapshot) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(s tag.Snapshot) error

// OnSnapshot calls f.
func (f ListenerFunc) OnSnapshot(s tag.Snapshot) error {
	return f(s)
}

type registration struct {
	handle   string
	listener Listener
}

// Notifier fans snapshots out to listeners. Listeners may be added and
// removed while a notification is in progress; a pass delivers to the set
// registered when it started. There is no per-listener timeout, so a slow
// listener delays the caller.
type Notifier struct {
	mu        sync.Mutex
	listeners []registration

	logger  *logging.Logger
	metrics *telemetry.Metrics
}

// New creates a notifier.
func New(logger *logging.Logger, metrics *telemetry.Metrics) *Notifier {
	if logger == nil {
		logger = logging.New()
	}
	return &Notifier{
		logger:  logger.WithComponent("notifier"),
		metrics: metrics,
	}
}

// Add registers l and returns the handle used to remove it.
func (n *Notifier) Add(l Listener) string {
	handle := uuid.NewString()
	n.mu.Lock()
	n.listeners = append(n.listeners, registration{handle: handle, listener: l})
	n.mu.Unlock()
	return handle
}

// Remove unregisters the listener with the given handle. It reports
// whether the handle was registered.
func (n *Notifier) Remove(handle string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, r := range n.listeners {
		if r.handle == handle {
			// Copy so passes already holding the old slice are unaffected.
			next := make([]registration, 0, len(n.listeners)-1)
			next = append(next, n.listeners[:i]...)
			n.listeners = append(next, n.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

// Notify delivers s to every listener. Each listener gets a separate
// copy; an error or panic in one is logged and does not stop delivery to
// the rest.
func (n *Notifier) Notify(s tag.Snapshot) {
	n.mu.Lock()
	listeners := n.listeners
	n.mu.Unlock()

	for i, r := range listeners {
		snap := s
		if i < len(listeners)-1 {
			snap = s.Clone()
		}
		if err := n.deliver(r, snap); err != nil {
			n.metrics.IncListenerFailure()
			n.logger.ListenerFailed(r.handle, s.ID, err)
		}
	}
}

func (n *Notifier) deliver(r registration, s tag.Snapshot) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.RecoverPanic(rec, errors.WithTagID(s.ID))
		}
	}()
	return r.listener.OnSnapshot(s)
}
