package service

import (
	"encoding/json"
	"time"

	"github.com/vinayprograms/tagwatch/heartbeat"
	"github.com/vinayprograms/tagwatch/tag"
)

// HeartbeatEvent is the liveness signal of one entity.
type HeartbeatEvent = heartbeat.Heartbeat

// ConnectionEvent announces a process start or a deliberate stop.
type ConnectionEvent = heartbeat.Connection

// ValueUpdateEvent carries a new value for a tag. A zero ServerTimestamp
// is stamped with the service clock on arrival.
type ValueUpdateEvent struct {
	TagID            string      `json:"tag_id"`
	Value            any         `json:"value"`
	ValueDescription string      `json:"value_description,omitempty"`
	Quality          tag.Quality `json:"quality"`
	ServerTimestamp  time.Time   `json:"server_timestamp,omitzero"`
	DAQTimestamp     time.Time   `json:"daq_timestamp,omitzero"`
	SourceTimestamp  time.Time   `json:"source_timestamp,omitzero"`
	Mode             tag.Mode    `json:"mode,omitempty"`
	Simulated        bool        `json:"simulated,omitempty"`
}

// Update converts the event into a store update.
func (e ValueUpdateEvent) Update() *tag.Update {
	return &tag.Update{
		TagID:            e.TagID,
		Value:            e.Value,
		ValueDescription: e.ValueDescription,
		Quality:          e.Quality.Clone(),
		ServerTimestamp:  e.ServerTimestamp,
		DAQTimestamp:     e.DAQTimestamp,
		SourceTimestamp:  e.SourceTimestamp,
		Mode:             e.Mode,
		Simulated:        e.Simulated,
	}
}

// Marshal encodes the event for the tags.update subject.
func (e ValueUpdateEvent) Marshal() ([]byte, error) {
	return json.Marshal(updateMessage{FullUpdateEvent: FullUpdateEvent{ValueUpdateEvent: e}})
}

// FullUpdateEvent replaces a tag's descriptive fields and ancestor sets
// along with its value.
type FullUpdateEvent struct {
	ValueUpdateEvent

	Name            string            `json:"name,omitempty"`
	Topic           string            `json:"topic,omitempty"`
	Unit            string            `json:"unit,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	RuleExpression  string            `json:"rule,omitempty"`
	ProcessIDs      []string          `json:"process_ids,omitempty"`
	EquipmentIDs    []string          `json:"equipment_ids,omitempty"`
	SubEquipmentIDs []string          `json:"subequipment_ids,omitempty"`
}

// Update converts the event into a full store update.
func (e FullUpdateEvent) Update() *tag.Update {
	u := e.ValueUpdateEvent.Update()
	u.Full = true
	u.Name = e.Name
	u.Topic = e.Topic
	u.Unit = e.Unit
	u.Metadata = e.Metadata
	u.RuleExpression = e.RuleExpression
	u.ProcessIDs = e.ProcessIDs
	u.EquipmentIDs = e.EquipmentIDs
	u.SubEquipmentIDs = e.SubEquipmentIDs
	return u
}

// Marshal encodes the event for the tags.update subject.
func (e FullUpdateEvent) Marshal() ([]byte, error) {
	return json.Marshal(updateMessage{Full: true, FullUpdateEvent: e})
}

// updateMessage is the tags.update payload: the flattened update plus a
// flag telling value updates from full ones.
type updateMessage struct {
	Full bool `json:"full,omitempty"`
	FullUpdateEvent
}
