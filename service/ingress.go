package service

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/tagwatch/bus"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/heartbeat"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/telemetry"
)

// Ingress feeds bus traffic into a Service. Heartbeats and connection
// events go to plain subscriptions; tag updates use a queue group so that
// several supervisor instances share the update load.
type Ingress struct {
	service *Service
	logger  *logging.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	heartbeats  bus.Subscription
	connections bus.Subscription
	updates     bus.Subscription

	closeOnce sync.Once
}

// NewIngress subscribes s to b. Nothing is consumed until Run.
func NewIngress(s *Service, b bus.MessageBus) (*Ingress, error) {
	in := &Ingress{
		service: s,
		logger:  s.logger.WithComponent("ingress"),
		metrics: s.metrics,
		tracer:  s.tracer,
	}

	var err error
	if in.heartbeats, err = b.Subscribe(bus.SubjectHeartbeat); err != nil {
		return nil, errors.Wrap(err, "subscribing to heartbeats")
	}
	if in.connections, err = b.Subscribe(bus.SubjectConnection); err != nil {
		in.close()
		return nil, errors.Wrap(err, "subscribing to connection events")
	}
	if in.updates, err = b.QueueSubscribe(bus.SubjectTagUpdate, bus.QueueTagUpdate); err != nil {
		in.close()
		return nil, errors.Wrap(err, "subscribing to tag updates")
	}
	return in, nil
}

// Run consumes until ctx is done or the bus closes the subscriptions.
// Messages of one subject are handled in arrival order.
func (in *Ingress) Run(ctx context.Context) error {
	defer in.close()

	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range []bus.Subscription{in.heartbeats, in.connections, in.updates} {
		g.Go(func() error {
			in.consume(ctx, sub)
			return nil
		})
	}
	return g.Wait()
}

func (in *Ingress) consume(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			in.Dispatch(ctx, msg)
		}
	}
}

// Dispatch decodes and handles one message. Malformed payloads are logged
// and counted, never returned.
func (in *Ingress) Dispatch(ctx context.Context, msg *bus.Message) {
	ctx, span := in.tracer.StartSpan(ctx, telemetry.SpanIngressMsg,
		attribute.String("bus.subject", msg.Subject))

	var err error
	switch msg.Subject {
	case bus.SubjectHeartbeat:
		var hb *heartbeat.Heartbeat
		if hb, err = heartbeat.Unmarshal(msg.Data); err != nil {
			err = errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "decoding "+msg.Subject)
		} else {
			err = in.service.HandleHeartbeat(ctx, *hb)
		}
	case bus.SubjectConnection:
		var c ConnectionEvent
		if err = in.decode(msg, &c); err == nil {
			err = in.service.HandleConnection(ctx, c)
		}
	case bus.SubjectTagUpdate:
		var m updateMessage
		if err = in.decode(msg, &m); err == nil {
			if m.Full {
				_, err = in.service.HandleFullUpdate(ctx, m.FullUpdateEvent)
			} else {
				_, err = in.service.HandleValueUpdate(ctx, m.ValueUpdateEvent)
			}
		}
	default:
		err = errors.InvalidInput("unexpected subject " + msg.Subject)
	}
	telemetry.End(span, err)

	if err == nil {
		return
	}
	fields := map[string]interface{}{
		"subject": msg.Subject,
		"error":   err.Error(),
	}
	switch {
	case errors.Is(err, errors.ErrCodeInconsistent):
		in.logger.Error("ingress_failed", fields)
	case errors.Is(err, errors.ErrCodeInvalidInput), errors.Is(err, errors.ErrCodePrecondition), errors.IsNotFound(err):
		in.metrics.IncIngressError(msg.Subject)
		in.logger.Warn("ingress_rejected", fields)
	default:
		in.logger.Error("ingress_failed", fields)
	}
}

func (in *Ingress) decode(msg *bus.Message, v any) error {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "decoding "+msg.Subject)
	}
	return nil
}

func (in *Ingress) close() {
	in.closeOnce.Do(func() {
		for _, sub := range []bus.Subscription{in.heartbeats, in.connections, in.updates} {
			if sub != nil {
				_ = sub.Unsubscribe()
			}
		}
	})
}
