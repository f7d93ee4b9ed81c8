package publish

import (
	"encoding/json"

	"github.com/vinayprograms/tagwatch/bus"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/heartbeat"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/tag"
)

// BusPublisher publishes snapshots and alerts on a message bus.
type BusPublisher struct {
	bus    bus.MessageBus
	logger *logging.Logger
}

// NewBusPublisher creates a publisher on b.
func NewBusPublisher(b bus.MessageBus, logger *logging.Logger) *BusPublisher {
	if logger == nil {
		logger = logging.New()
	}
	return &BusPublisher{bus: b, logger: logger.WithComponent("publish.bus")}
}

// OnSnapshot publishes s as JSON to the tag's snapshot subject.
func (p *BusPublisher) OnSnapshot(s tag.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot", errors.WithTagID(s.ID))
	}
	if err := p.bus.Publish(bus.SnapshotSubject(s.ID), data); err != nil {
		return errors.Wrap(err, "publishing snapshot", errors.WithTagID(s.ID))
	}
	return nil
}

// PublishAlert publishes an alert edge. It has the heartbeat.AlertHandler
// signature, so failures are logged.
func (p *BusPublisher) PublishAlert(a heartbeat.Alert) {
	data, err := json.Marshal(a)
	if err == nil {
		err = p.bus.Publish(bus.SubjectAlert, data)
	}
	if err != nil {
		p.logger.Error("alert_publish_failed", map[string]interface{}{
			"alert": a.ID,
			"error": err.Error(),
		})
	}
}
