package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/telemetry"
)

// Alert is raised when the number of entities down by heartbeat expiry
// reaches the configured threshold, and re-sent with Cleared set once the
// count has stayed below it for the configured number of cycles.
type Alert struct {
	ID        string    `json:"id"`
	DownCount int       `json:"down_count"`
	Threshold int       `json:"threshold"`
	RaisedAt  time.Time `json:"raised_at"`
	Cleared   bool      `json:"cleared"`
	ClearedAt time.Time `json:"cleared_at,omitempty"`
}

// EventHandler receives supervision events produced by the scanner.
type EventHandler func(ctx context.Context, ev entity.Event) error

// AlertHandler receives alert edges.
type AlertHandler func(alert Alert)

// Scanner periodically detects expired heartbeats.
type Scanner struct {
	registry     *Registry
	period       time.Duration
	initialDelay time.Duration
	threshold    int
	clearCycles  int
	logger       *logging.Logger
	metrics      *telemetry.Metrics
	clock        Clock

	mu            sync.Mutex
	eventHandlers []EventHandler
	alertHandlers []AlertHandler
	down          map[string]struct{}
	alert         *Alert
	belowCycles   int

	scanning atomic.Bool
	inflight sync.WaitGroup
}

// NewScanner creates a scanner over the given registry.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	defaults := DefaultScannerConfig()
	if cfg.Period <= 0 {
		cfg.Period = defaults.Period
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.ClearCycles == 0 {
		cfg.ClearCycles = defaults.ClearCycles
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = cfg.Registry.Now
	}

	return &Scanner{
		registry:     cfg.Registry,
		period:       cfg.Period,
		initialDelay: cfg.InitialDelay,
		threshold:    cfg.AlertThreshold,
		clearCycles:  cfg.ClearCycles,
		logger:       cfg.Logger.WithComponent("scanner"),
		metrics:      cfg.Metrics,
		clock:        cfg.Clock,
		down:         make(map[string]struct{}),
	}, nil
}

// OnEvent registers a handler for DOWN events raised by expiry.
func (s *Scanner) OnEvent(h EventHandler) {
	s.mu.Lock()
	s.eventHandlers = append(s.eventHandlers, h)
	s.mu.Unlock()
}

// OnAlert registers a handler for alert edges.
func (s *Scanner) OnAlert(h AlertHandler) {
	s.mu.Lock()
	s.alertHandlers = append(s.alertHandlers, h)
	s.mu.Unlock()
}

// DownCount returns the number of entities currently down by expiry.
func (s *Scanner) DownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.down)
}

// ActiveAlert returns the raised alert, if any.
func (s *Scanner) ActiveAlert() *Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alert == nil {
		return nil
	}
	a := *s.alert
	return &a
}

// Run scans every period after the initial delay until ctx is done. Each
// tick starts a cycle in its own goroutine; a tick that finds the previous
// cycle still running is dropped.
func (s *Scanner) Run(ctx context.Context) error {
	defer s.inflight.Wait()

	if s.initialDelay > 0 {
		timer := time.NewTimer(s.initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	s.startCycle(ctx)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.startCycle(ctx)
		}
	}
}

func (s *Scanner) startCycle(ctx context.Context) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.Scan(ctx)
	}()
}

// Scan runs one cycle. It returns false without doing anything if another
// cycle is in progress.
func (s *Scanner) Scan(ctx context.Context) bool {
	if !s.scanning.CompareAndSwap(false, true) {
		s.logger.ScanSkipped()
		s.metrics.IncScanSkipped()
		return false
	}
	defer s.scanning.Store(false)

	start := time.Now()
	entities := s.registry.List()
	s.reconcileDown(entities)

	expired := 0
	for _, e := range entities {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.scanEntity(ctx, e)
		if err != nil {
			s.logger.Error("scan_entity_failed", map[string]interface{}{
				"entity": e.ID,
				"error":  err.Error(),
			})
			continue
		}
		if ok {
			expired++
		}
	}

	downCount := s.evaluateAlert()
	duration := time.Since(start)
	s.metrics.ObserveScan(duration)
	s.metrics.SetDownCount(downCount)
	s.logger.ScanComplete(len(entities), expired, downCount, duration)
	return true
}

// reconcileDown forgets entities that heartbeated again or were removed.
func (s *Scanner) reconcileDown(entities []entity.Entity) {
	present := make(map[string]bool, len(entities))
	for _, e := range entities {
		present[e.ID] = e.Active
	}

	s.mu.Lock()
	for id := range s.down {
		if active, ok := present[id]; !ok || active {
			delete(s.down, id)
		}
	}
	s.mu.Unlock()
}

// scanEntity expires one entity. A lookup miss means the entity was removed
// mid-scan and is not an error. Panics are contained to the entity.
func (s *Scanner) scanEntity(ctx context.Context, e entity.Entity) (expired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r, errors.WithEntityID(e.ID))
		}
	}()

	stale, err := s.registry.HasExpired(e.ID)
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil || !stale {
		return false, err
	}

	tr, err := s.registry.Expire(e.ID)
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil || tr == nil {
		return false, err
	}

	s.logger.HeartbeatExpired(e.ID, string(e.Kind), s.clock().Sub(tr.Entity.LastUpdate))
	s.metrics.IncExpired(string(e.Kind))

	s.mu.Lock()
	s.down[e.ID] = struct{}{}
	handlers := make([]EventHandler, len(s.eventHandlers))
	copy(handlers, s.eventHandlers)
	s.mu.Unlock()

	ev := tr.Event()
	for _, h := range handlers {
		if herr := h(ctx, ev); herr != nil {
			s.logger.Error("supervision_event_failed", map[string]interface{}{
				"entity": e.ID,
				"status": string(ev.Status),
				"error":  herr.Error(),
			})
		}
	}
	return true, nil
}

// evaluateAlert applies the threshold with a cycle-count debounce on the
// clearing edge and returns the current down-count.
func (s *Scanner) evaluateAlert() int {
	s.mu.Lock()
	count := len(s.down)
	if s.threshold <= 0 {
		s.mu.Unlock()
		return count
	}

	var fired *Alert
	switch {
	case s.alert == nil && count >= s.threshold:
		s.alert = &Alert{
			ID:        uuid.NewString(),
			DownCount: count,
			Threshold: s.threshold,
			RaisedAt:  s.clock(),
		}
		s.belowCycles = 0
		a := *s.alert
		fired = &a
	case s.alert != nil && count < s.threshold:
		s.belowCycles++
		if s.belowCycles >= s.clearCycles {
			a := *s.alert
			a.DownCount = count
			a.Cleared = true
			a.ClearedAt = s.clock()
			s.alert = nil
			s.belowCycles = 0
			fired = &a
		}
	case s.alert != nil:
		s.belowCycles = 0
		s.alert.DownCount = count
	}
	handlers := make([]AlertHandler, len(s.alertHandlers))
	copy(handlers, s.alertHandlers)
	s.mu.Unlock()

	if fired == nil {
		return count
	}
	if fired.Cleared {
		s.logger.AlertCleared(count, s.threshold)
		s.metrics.IncAlert("cleared")
	} else {
		s.logger.AlertRaised(count, s.threshold)
		s.metrics.IncAlert("raised")
	}
	for _, h := range handlers {
		s.deliverAlert(h, *fired)
	}
	return count
}

// deliverAlert calls one alert handler. A panic is logged and does not
// reach the other handlers or the scan loop.
func (s *Scanner) deliverAlert(h AlertHandler, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r, errors.WithMetadata("alert_id", a.ID))
			s.logger.Error("alert_handler_failed", map[string]interface{}{
				"alert":   a.ID,
				"cleared": a.Cleared,
				"error":   err.Error(),
			})
		}
	}()
	h(a)
}
