package tag

import (
	"maps"
	"slices"
	"time"

	"github.com/vinayprograms/tagwatch/entity"
)

// Mode is the operational mode of a tag.
type Mode string

const (
	ModeOperational Mode = "OPERATIONAL"
	ModeTest        Mode = "TEST"
	ModeMaintenance Mode = "MAINTENANCE"
)

// Record is the authoritative state of one tag. Records are owned by a
// Store and only ever handed out as Snapshots.
type Record struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Topic            string            `json:"topic,omitempty"`
	Unit             string            `json:"unit,omitempty"`
	Value            any               `json:"value"`
	ValueDescription string            `json:"value_description,omitempty"`
	Quality          Quality           `json:"quality"`
	ServerTimestamp  time.Time         `json:"server_timestamp"`
	DAQTimestamp     time.Time         `json:"daq_timestamp,omitzero"`
	SourceTimestamp  time.Time         `json:"source_timestamp,omitzero"`
	Mode             Mode              `json:"mode"`
	Simulated        bool              `json:"simulated,omitempty"`
	Alarms           []string          `json:"alarms,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	RuleExpression   string            `json:"rule_expression,omitempty"`

	// Supervision status of every declared ancestor, by kind and entity id.
	ProcessStatus      map[string]entity.Event `json:"process_status,omitempty"`
	EquipmentStatus    map[string]entity.Event `json:"equipment_status,omitempty"`
	SubEquipmentStatus map[string]entity.Event `json:"subequipment_status,omitempty"`
}

// Snapshot is a detached copy of a Record. It shares no maps or slices
// with the stored record.
type Snapshot Record

// Statuses returns the status map for kind.
func (r *Record) Statuses(kind entity.Kind) map[string]entity.Event {
	switch kind {
	case entity.KindProcess:
		return r.ProcessStatus
	case entity.KindEquipment:
		return r.EquipmentStatus
	case entity.KindSubEquipment:
		return r.SubEquipmentStatus
	}
	return nil
}

// AncestorIDs returns the declared ancestor ids of kind, sorted.
func (r *Record) AncestorIDs(kind entity.Kind) []string {
	return slices.Sorted(maps.Keys(r.Statuses(kind)))
}

func (r *Record) setStatuses(kind entity.Kind, m map[string]entity.Event) {
	switch kind {
	case entity.KindProcess:
		r.ProcessStatus = m
	case entity.KindEquipment:
		r.EquipmentStatus = m
	case entity.KindSubEquipment:
		r.SubEquipmentStatus = m
	}
}

// snapshot deep-copies r.
func (r *Record) snapshot() Snapshot {
	s := Snapshot(*r)
	s.Quality = r.Quality.Clone()
	s.Alarms = slices.Clone(r.Alarms)
	s.Metadata = maps.Clone(r.Metadata)
	s.ProcessStatus = maps.Clone(r.ProcessStatus)
	s.EquipmentStatus = maps.Clone(r.EquipmentStatus)
	s.SubEquipmentStatus = maps.Clone(r.SubEquipmentStatus)
	return s
}

// Clone returns an independent copy of s.
func (s Snapshot) Clone() Snapshot {
	r := Record(s)
	return r.snapshot()
}

// Accessible reports whether the snapshot's quality carries no flags.
func (s Snapshot) Accessible() bool {
	return s.Quality.Accessible()
}

// Update is an incoming change to a tag. A plain update carries value,
// quality and timestamps; a full update (Full set) also carries the tag's
// descriptive fields and its ancestor id sets.
type Update struct {
	TagID            string
	Value            any
	ValueDescription string
	Quality          Quality
	ServerTimestamp  time.Time
	DAQTimestamp     time.Time
	SourceTimestamp  time.Time
	Mode             Mode
	Simulated        bool

	Full            bool
	Name            string
	Topic           string
	Unit            string
	Metadata        map[string]string
	RuleExpression  string
	ProcessIDs      []string
	EquipmentIDs    []string
	SubEquipmentIDs []string
}

// ancestorIDs returns the update's id set for kind.
func (u *Update) ancestorIDs(kind entity.Kind) []string {
	switch kind {
	case entity.KindProcess:
		return u.ProcessIDs
	case entity.KindEquipment:
		return u.EquipmentIDs
	default:
		return u.SubEquipmentIDs
	}
}

// Config declares a tag when configuration loads.
type Config struct {
	ID              string
	Name            string
	Topic           string
	Unit            string
	Mode            Mode
	Alarms          []string
	Metadata        map[string]string
	RuleExpression  string
	ProcessIDs      []string
	EquipmentIDs    []string
	SubEquipmentIDs []string
}

// ancestorIDs returns the configured id set for kind.
func (c *Config) ancestorIDs(kind entity.Kind) []string {
	switch kind {
	case entity.KindProcess:
		return c.ProcessIDs
	case entity.KindEquipment:
		return c.EquipmentIDs
	default:
		return c.SubEquipmentIDs
	}
}

// newRecord builds the initial record for cfg: no value, UNINITIALIZED,
// and an unknown-status entry per declared ancestor.
func newRecord(cfg Config) *Record {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeOperational
	}
	r := &Record{
		ID:             cfg.ID,
		Name:           cfg.Name,
		Topic:          cfg.Topic,
		Unit:           cfg.Unit,
		Quality:        Invalid(FlagUninitialized, "tag has not received a value"),
		Mode:           mode,
		Alarms:         slices.Clone(cfg.Alarms),
		Metadata:       maps.Clone(cfg.Metadata),
		RuleExpression: cfg.RuleExpression,
	}
	for _, kind := range entity.Kinds {
		r.setStatuses(kind, statusesFor(kind, cfg.ancestorIDs(kind), nil))
	}
	return r
}

// statusesFor builds a status map keyed by ids, keeping known events from
// prev. Unseen ancestors get an event with an empty status.
func statusesFor(kind entity.Kind, ids []string, prev map[string]entity.Event) map[string]entity.Event {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]entity.Event, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if ev, ok := prev[id]; ok {
			m[id] = ev
			continue
		}
		m[id] = entity.Event{EntityID: id, Kind: kind}
	}
	return m
}
