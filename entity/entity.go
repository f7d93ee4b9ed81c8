// Package entity defines the supervised entities of the acquisition
// hierarchy (process → equipment → sub-equipment) and the supervision
// events raised about them.
package entity

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the level of a supervised entity in the hierarchy.
type Kind string

const (
	KindProcess      Kind = "PROCESS"
	KindEquipment    Kind = "EQUIPMENT"
	KindSubEquipment Kind = "SUBEQUIPMENT"
)

// Kinds lists all kinds, parents first.
var Kinds = []Kind{KindProcess, KindEquipment, KindSubEquipment}

// ParseKind converts a case-insensitive string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Valid reports whether k is one of the three hierarchy levels.
func (k Kind) Valid() bool {
	switch k {
	case KindProcess, KindEquipment, KindSubEquipment:
		return true
	default:
		return false
	}
}

// ParentKind returns the kind an entity of kind k may have as parent.
// Processes have no parent.
func (k Kind) ParentKind() (Kind, bool) {
	switch k {
	case KindEquipment:
		return KindProcess, true
	case KindSubEquipment:
		return KindEquipment, true
	default:
		return "", false
	}
}

// Status is the supervision status of an entity.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusDown    Status = "DOWN"
	StatusStartup Status = "STARTUP"
	StatusStopped Status = "STOPPED"
)

// Unavailable reports whether the status means the entity cannot deliver
// data (DOWN or STOPPED).
func (s Status) Unavailable() bool {
	return s == StatusDown || s == StatusStopped
}

// Entity is a supervised process, equipment or sub-equipment unit.
type Entity struct {
	// ID uniquely identifies the entity across all kinds.
	ID string

	// Kind is the hierarchy level.
	Kind Kind

	// ParentID is the owning process (for equipment) or equipment (for
	// sub-equipment). Empty for processes.
	ParentID string

	// AliveInterval is the expected heartbeat period. Always > 0.
	AliveInterval time.Duration

	// Active is true while heartbeats are considered current.
	Active bool

	// LastUpdate is the timestamp of the newest accepted heartbeat.
	LastUpdate time.Time

	// CommFaultTagID is the tag whose value encodes communication failure.
	// Empty if none is declared.
	CommFaultTagID string

	// StateTagID is the tag mirroring the supervision status.
	// Empty if none is declared.
	StateTagID string
}

// ExpiryThreshold is how long the entity may stay silent before its
// heartbeat counts as expired: the alive interval plus a third of it.
func (e Entity) ExpiryThreshold() time.Duration {
	return e.AliveInterval + e.AliveInterval/3
}

// Expired reports whether an active entity has been silent past its
// expiry threshold at time now.
func (e Entity) Expired(now time.Time) bool {
	return e.Active && now.Sub(e.LastUpdate) > e.ExpiryThreshold()
}

// Event is an immutable supervision event about one entity.
type Event struct {
	EntityID  string
	Kind      Kind
	Status    Status
	Message   string
	Timestamp time.Time
}

// NewEvent builds an event with a default message derived from the status.
func NewEvent(e Entity, status Status, ts time.Time) Event {
	return Event{
		EntityID:  e.ID,
		Kind:      e.Kind,
		Status:    status,
		Message:   DefaultMessage(e.Kind, e.ID, status),
		Timestamp: ts,
	}
}

// DefaultMessage is the human-readable description attached to events
// raised by the core itself.
func DefaultMessage(kind Kind, id string, status Status) string {
	name := strings.ToLower(string(kind))
	if kind == KindSubEquipment {
		name = "sub-equipment"
	}
	switch status {
	case StatusDown:
		return fmt.Sprintf("%s %s is down: heartbeat expired", name, id)
	case StatusStopped:
		return fmt.Sprintf("%s %s was stopped", name, id)
	case StatusStartup:
		return fmt.Sprintf("%s %s is starting up", name, id)
	default:
		return fmt.Sprintf("%s %s is running", name, id)
	}
}
