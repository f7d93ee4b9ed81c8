package heartbeat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vinayprograms/tagwatch/bus"
	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/telemetry"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Bus subjects used by acquisition processes.
const (
	// SubjectHeartbeat carries Heartbeat messages for every entity kind.
	SubjectHeartbeat = bus.SubjectHeartbeat

	// SubjectConnection carries Connection messages (process start/stop).
	SubjectConnection = bus.SubjectConnection
)

// Heartbeat is the liveness signal of one supervised entity.
type Heartbeat struct {
	EntityID  string      `json:"entity_id"`
	Kind      entity.Kind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Connection announces that an entity started (Up) or was stopped
// deliberately (!Up), as opposed to going silent.
type Connection struct {
	EntityID  string      `json:"entity_id"`
	Kind      entity.Kind `json:"kind"`
	Up        bool        `json:"up"`
	Timestamp time.Time   `json:"timestamp"`
}

// Clock returns the current time. Tests inject fixed clocks.
type Clock func() time.Time

// ScannerConfig configures a heartbeat scanner.
type ScannerConfig struct {
	// Registry holds the supervised entities to scan.
	Registry *Registry

	// Period between scan cycles.
	// Default: 10 seconds
	Period time.Duration

	// InitialDelay before the first cycle, so heartbeats sent right after a
	// restart can arrive before anything is declared down.
	// Default: 30 seconds
	InitialDelay time.Duration

	// AlertThreshold is the down-count at which an alert is raised.
	// Zero disables alerting.
	AlertThreshold int

	// ClearCycles is how many consecutive cycles the down-count must stay
	// below the threshold before the alert clears.
	// Default: 3
	ClearCycles int

	// Logger receives scan diagnostics. Default: logging.New().
	Logger *logging.Logger

	// Metrics is optional.
	Metrics *telemetry.Metrics

	// Clock defaults to the registry clock.
	Clock Clock
}

// Validate checks the configuration.
func (c *ScannerConfig) Validate() error {
	if c.Registry == nil {
		return ErrInvalidConfig
	}
	if c.AlertThreshold < 0 || c.ClearCycles < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultScannerConfig returns configuration with sensible defaults.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Period:       10 * time.Second,
		InitialDelay: 30 * time.Second,
		ClearCycles:  3,
	}
}

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// EntityID and Kind identify the supervised entity.
	EntityID string
	Kind     entity.Kind

	// Interval between heartbeats. Default: 5 seconds
	Interval time.Duration
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil || c.EntityID == "" || !c.Kind.Valid() {
		return ErrInvalidConfig
	}
	return nil
}
