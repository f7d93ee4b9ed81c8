package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/tagwatch/bus"
	"github.com/vinayprograms/tagwatch/entity"
)

// BusSender publishes periodic heartbeats for one entity. It stands in for
// an acquisition process in simulations and integration tests.
type BusSender struct {
	bus      bus.MessageBus
	entityID string
	kind     entity.Kind
	interval time.Duration
	sent     atomic.Int64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBusSender creates a new heartbeat sender.
func NewBusSender(cfg SenderConfig) (*BusSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &BusSender{
		bus:      cfg.Bus,
		entityID: cfg.EntityID,
		kind:     cfg.Kind,
		interval: interval,
	}, nil
}

// Start begins sending heartbeats at the configured interval.
func (s *BusSender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	return nil
}

func (s *BusSender) run(ctx context.Context) {
	defer close(s.doneCh)

	s.Send(time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.Send(now)
		}
	}
}

// Send publishes a single heartbeat stamped ts.
func (s *BusSender) Send(ts time.Time) error {
	hb := &Heartbeat{EntityID: s.entityID, Kind: s.kind, Timestamp: ts}
	data, err := hb.Marshal()
	if err != nil {
		return err
	}
	if err := s.bus.Publish(SubjectHeartbeat, data); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

// Sent returns how many heartbeats were published.
func (s *BusSender) Sent() int64 {
	return s.sent.Load()
}

// Stop stops sending heartbeats.
func (s *BusSender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// EntityID returns the sender's entity ID.
func (s *BusSender) EntityID() string {
	return s.entityID
}
