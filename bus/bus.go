package bus

import (
	"errors"
	"strings"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
	ErrInvalidQueue   = errors.New("invalid queue group")
)

// Message is a payload received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte
}

// MessageBus carries heartbeats, connection events and tag updates into the
// supervisor and snapshots and alerts out of it.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription. Every subscriber receives every
	// matching message. Subjects may use the "*" and ">" wildcards.
	Subscribe(subject string) (Subscription, error)

	// QueueSubscribe creates a subscription in a queue group. Each matching
	// message goes to exactly one member of the group.
	QueueSubscribe(subject, queue string) (Subscription, error)

	// Close shuts down the bus and closes all subscriptions.
	Close() error
}

// Subscription is an active subscription.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds settings shared by all bus implementations.
type Config struct {
	// BufferSize for subscription channels. Messages arriving at a full
	// channel are dropped. Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks that subject is a well-formed dot-separated name.
// Empty tokens are rejected, "*" must be a whole token and ">" may only
// appear as the last token.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return ErrInvalidSubject
		case tok == ">" && i != len(tokens)-1:
			return ErrInvalidSubject
		case tok != "*" && tok != ">" && strings.ContainsAny(tok, "*> \t"):
			return ErrInvalidSubject
		}
	}
	return nil
}

// MatchSubject reports whether a concrete subject matches pattern.
func MatchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// SnapshotSubject is the subject a tag snapshot is published on.
func SnapshotSubject(tagID string) string {
	return SubjectSnapshotPrefix + tagID
}

// Subjects used by the supervisor.
const (
	SubjectHeartbeat      = "supervision.heartbeat"
	SubjectConnection     = "supervision.connection"
	SubjectAlert          = "supervision.alert"
	SubjectTagUpdate      = "tags.update"
	SubjectSnapshotPrefix = "tags.snapshot."
	SubjectSnapshotAll    = "tags.snapshot.>"
	QueueTagUpdate        = "tagwatch"
)
