package supervision

import (
	"context"
	"time"

	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/tag"
	"github.com/vinayprograms/tagwatch/telemetry"
)

// EntityLookup resolves configured entities. *heartbeat.Registry
// satisfies it.
type EntityLookup interface {
	Get(id string) (entity.Entity, error)
}

// TagWriter applies tag updates. *tag.Store satisfies it.
type TagWriter interface {
	Apply(ctx context.Context, u *tag.Update) (bool, error)
}

// CascaderConfig configures a Cascader.
type CascaderConfig struct {
	Entities EntityLookup
	Tags     TagWriter
	Logger   *logging.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer

	// Clock stamps events that carry no timestamp. Default time.Now.
	Clock func() time.Time
}

// Cascader propagates a status transition into the entity's fault tag and
// state tag.
type Cascader struct {
	entities EntityLookup
	tags     TagWriter
	logger   *logging.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	clock    func() time.Time
}

// NewCascader creates a cascader.
func NewCascader(cfg CascaderConfig) (*Cascader, error) {
	if cfg.Entities == nil || cfg.Tags == nil {
		return nil, errors.InvalidInput("cascader needs an entity lookup and a tag writer")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Cascader{
		entities: cfg.Entities,
		tags:     cfg.Tags,
		logger:   cfg.Logger.WithComponent("cascader"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		clock:    cfg.Clock,
	}, nil
}

// Cascade sets the fault tag to true while the entity is DOWN or STOPPED
// and to false otherwise, and sets the state tag to the status name. A
// tag id left empty in configuration skips that step. A configured tag
// without a record is an inconsistency and is returned; the other step is
// still attempted.
func (c *Cascader) Cascade(ctx context.Context, ev entity.Event) (err error) {
	if ev.EntityID == "" {
		return errors.Precondition("supervision event without entity id")
	}
	ctx, span := c.tracer.StartSupervisionSpan(ctx, telemetry.SpanCascade, ev.EntityID, string(ev.Kind), string(ev.Status))
	defer func() { telemetry.End(span, err) }()

	e, err := c.entities.Get(ev.EntityID)
	if err != nil {
		return errors.Inconsistent("entity "+ev.EntityID+" vanished before its cascade",
			errors.WithEntityID(ev.EntityID), errors.WithCause(err))
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = c.clock()
	}

	faultErr := c.write(ctx, ev, e.CommFaultTagID, &tag.Update{
		TagID:            e.CommFaultTagID,
		Value:            ev.Status.Unavailable(),
		ValueDescription: ev.Message,
		ServerTimestamp:  ts,
	})
	stateErr := c.write(ctx, ev, e.StateTagID, &tag.Update{
		TagID:            e.StateTagID,
		Value:            string(ev.Status),
		ValueDescription: ev.Message,
		ServerTimestamp:  ts,
	})
	return errors.Join(faultErr, stateErr)
}

func (c *Cascader) write(ctx context.Context, ev entity.Event, tagID string, u *tag.Update) error {
	if tagID == "" {
		return nil
	}
	if _, err := c.tags.Apply(ctx, u); err != nil {
		c.metrics.IncCascadeFailure()
		c.logger.CascadeFailed(ev.EntityID, tagID, err)
		if errors.IsNotFound(err) {
			return errors.Inconsistent("configured tag "+tagID+" has no record",
				errors.WithEntityID(ev.EntityID), errors.WithTagID(tagID), errors.WithCause(err))
		}
		return err
	}
	return nil
}
