// Package service assembles the supervision core: heartbeat registry and
// scanner, tag store, listener notifier, cascader and aggregator.
//
// A Service is built once with New, loaded with Configure, fed through its
// Handle methods (directly or from a message bus via Ingress) and run with
// Run.
package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/tagwatch/bus"
	"github.com/vinayprograms/tagwatch/config"
	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/heartbeat"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/notify"
	"github.com/vinayprograms/tagwatch/supervision"
	"github.com/vinayprograms/tagwatch/tag"
	"github.com/vinayprograms/tagwatch/telemetry"
)

// Options configures a Service.
type Options struct {
	// Scanner settings. The Registry, Logger, Metrics and Clock fields are
	// filled in by New.
	Scanner heartbeat.ScannerConfig

	Logger  *logging.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	// Clock is the server clock. Default time.Now.
	Clock heartbeat.Clock
}

// Service is the supervision core.
type Service struct {
	logger  *logging.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	registry   *heartbeat.Registry
	scanner    *heartbeat.Scanner
	store      *tag.Store
	notifier   *notify.Notifier
	cascader   *supervision.Cascader
	aggregator *supervision.Aggregator
}

// New builds a service with empty registry and store.
func New(opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = logging.New()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.GetTracer()
	}

	registry := heartbeat.NewRegistry(opts.Clock)
	notifier := notify.New(opts.Logger, opts.Metrics)
	store := tag.NewStore(tag.StoreConfig{
		Notifier: notifier,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Tracer:   opts.Tracer,
	})

	cascader, err := supervision.NewCascader(supervision.CascaderConfig{
		Entities: registry,
		Tags:     store,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Tracer:   opts.Tracer,
		Clock:    registry.Now,
	})
	if err != nil {
		return nil, err
	}

	sc := opts.Scanner
	sc.Registry = registry
	sc.Logger = opts.Logger
	sc.Metrics = opts.Metrics
	sc.Clock = registry.Now
	scanner, err := heartbeat.NewScanner(sc)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "scanner configuration")
	}

	s := &Service{
		logger:     opts.Logger.WithComponent("service"),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		registry:   registry,
		scanner:    scanner,
		store:      store,
		notifier:   notifier,
		cascader:   cascader,
		aggregator: supervision.NewAggregator(store, opts.Logger, opts.Metrics),
	}
	scanner.OnEvent(s.OnSupervisionEvent)
	return s, nil
}

// Configure creates the configured tags and registers the configured
// entities. Tags come first so entity fault and state tags resolve.
func (s *Service) Configure(cfg *config.Config) error {
	if cfg == nil {
		return errors.Precondition("nil configuration")
	}
	var errs []error
	for _, tc := range cfg.TagList() {
		if err := s.store.Create(tc); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range cfg.EntityList() {
		if err := s.registry.Register(e); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("configured", map[string]interface{}{
		"entities": s.registry.Len(),
		"tags":     s.store.Len(),
	})
	return nil
}

// Store returns the tag store.
func (s *Service) Store() *tag.Store { return s.store }

// Registry returns the heartbeat registry.
func (s *Service) Registry() *heartbeat.Registry { return s.registry }

// Scanner returns the heartbeat scanner.
func (s *Service) Scanner() *heartbeat.Scanner { return s.scanner }

// Notifier returns the listener notifier.
func (s *Service) Notifier() *notify.Notifier { return s.notifier }

// AddListener registers l for every tag change and returns its handle.
func (s *Service) AddListener(l notify.Listener) string {
	return s.notifier.Add(l)
}

// OnAlert registers a handler for down-count alert edges.
func (s *Service) OnAlert(h heartbeat.AlertHandler) {
	s.scanner.OnAlert(h)
}

// HandleHeartbeat records a heartbeat. When it reactivates the entity, a
// RUNNING event is routed through the cascade and the aggregation. A zero
// timestamp means the heartbeat was stamped on arrival.
func (s *Service) HandleHeartbeat(ctx context.Context, hb HeartbeatEvent) error {
	e, err := s.entity(hb.EntityID, hb.Kind)
	if err != nil {
		return err
	}
	s.metrics.IncHeartbeat(string(e.Kind))

	ts := hb.Timestamp
	if ts.IsZero() {
		ts = s.registry.Now()
	}
	tr, err := s.registry.RecordHeartbeat(e.ID, ts)
	if err != nil || tr == nil {
		return err
	}
	return s.OnSupervisionEvent(ctx, tr.Event())
}

// HandleConnect marks the entity started and routes a STARTUP event.
func (s *Service) HandleConnect(ctx context.Context, c ConnectionEvent) error {
	e, err := s.entity(c.EntityID, c.Kind)
	if err != nil {
		return err
	}
	tr, err := s.registry.Start(e.ID, s.stamp(c))
	if err != nil {
		return err
	}
	return s.OnSupervisionEvent(ctx, tr.Event())
}

// HandleDisconnect marks the entity stopped and, if it was active, routes
// a STOPPED event.
func (s *Service) HandleDisconnect(ctx context.Context, c ConnectionEvent) error {
	e, err := s.entity(c.EntityID, c.Kind)
	if err != nil {
		return err
	}
	tr, err := s.registry.Stop(e.ID, s.stamp(c))
	if err != nil || tr == nil {
		return err
	}
	return s.OnSupervisionEvent(ctx, tr.Event())
}

// HandleConnection dispatches on c.Up.
func (s *Service) HandleConnection(ctx context.Context, c ConnectionEvent) error {
	if c.Up {
		return s.HandleConnect(ctx, c)
	}
	return s.HandleDisconnect(ctx, c)
}

// HandleValueUpdate applies a value update. It reports false with a nil
// error when the acceptance gate rejects the update.
func (s *Service) HandleValueUpdate(ctx context.Context, ev ValueUpdateEvent) (bool, error) {
	return s.apply(ctx, ev.Update())
}

// HandleFullUpdate applies a full update.
func (s *Service) HandleFullUpdate(ctx context.Context, ev FullUpdateEvent) (bool, error) {
	return s.apply(ctx, ev.Update())
}

func (s *Service) apply(ctx context.Context, u *tag.Update) (bool, error) {
	if u.ServerTimestamp.IsZero() {
		u.ServerTimestamp = s.registry.Now()
	}
	return s.store.Apply(ctx, u)
}

// OnSupervisionEvent propagates a status transition: first into the
// entity's own fault and state tags, then into the quality of every tag
// it supervises. Both steps always run; their errors are joined.
func (s *Service) OnSupervisionEvent(ctx context.Context, ev entity.Event) error {
	s.logger.SupervisionTransition(ev.EntityID, string(ev.Kind), string(ev.Status))

	cerr := s.cascader.Cascade(ctx, ev)
	_, aerr := s.aggregator.Apply(ctx, ev)
	return errors.Join(cerr, aerr)
}

// Run runs the scanner, and the bus ingress when b is non-nil, until ctx
// is done or one of them fails.
func (s *Service) Run(ctx context.Context, b bus.MessageBus) error {
	var in *Ingress
	if b != nil {
		var err error
		if in, err = NewIngress(s, b); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.scanner.Run(ctx)
	})
	if in != nil {
		g.Go(func() error {
			return in.Run(ctx)
		})
	}
	return g.Wait()
}

// entity resolves id and checks that the sender's kind, if given, matches
// the configured one.
func (s *Service) entity(id string, kind entity.Kind) (entity.Entity, error) {
	if id == "" {
		return entity.Entity{}, errors.Precondition("event without entity id")
	}
	e, err := s.registry.Get(id)
	if err != nil {
		return entity.Entity{}, err
	}
	if kind != "" && kind != e.Kind {
		return entity.Entity{}, errors.InvalidInput(
			"entity "+id+" is a "+string(e.Kind)+", not a "+string(kind),
			errors.WithEntityID(id))
	}
	return e, nil
}

func (s *Service) stamp(c ConnectionEvent) time.Time {
	if c.Timestamp.IsZero() {
		return s.registry.Now()
	}
	return c.Timestamp
}
