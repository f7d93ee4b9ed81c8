package shutdown

import (
	"context"
	"time"

	"github.com/vinayprograms/tagwatch/errors"
)

// Common errors.
var (
	// ErrAlreadyShutdown is returned by a second call to Shutdown made
	// while the first is still running.
	ErrAlreadyShutdown = errors.New(errors.ErrCodePrecondition, "shutdown already initiated")

	// ErrTimeout is returned when the context expired before every phase ran.
	ErrTimeout = errors.New(errors.ErrCodeTimeout, "shutdown timeout exceeded")

	// ErrHandlerFailed is returned when one or more steps failed.
	ErrHandlerFailed = errors.New(errors.ErrCodeInternal, "one or more shutdown steps failed")
)

// Phase orders shutdown steps. Lower phases run first; steps sharing a
// phase run concurrently.
type Phase int

// Phases used by the daemon, in order.
const (
	// PhaseIngress stops consuming heartbeats and updates.
	PhaseIngress Phase = 10

	// PhaseServers stops the HTTP listeners (metrics, websocket).
	PhaseServers Phase = 20

	// PhasePublishers disconnects streaming clients.
	PhasePublishers Phase = 30

	// PhaseBus flushes and closes the message bus.
	PhaseBus Phase = 40

	// PhaseTelemetry flushes pending spans.
	PhaseTelemetry Phase = 50
)

// Handler is implemented by components that need an orderly stop. The
// context expires with the overall shutdown timeout.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Phase    Phase
	Duration time.Duration
	Err      error
}

// Result is the outcome of a shutdown.
type Result struct {
	TotalDuration time.Duration
	Steps         []StepResult

	// Err is nil if every step succeeded.
	Err error
}

// Failed reports whether any step failed or the shutdown timed out.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedSteps returns the names of failed steps.
func (r *Result) FailedSteps() []string {
	var failed []string
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout. Default: 30 seconds
	Timeout time.Duration

	// ContinueOnError runs later phases after a failed step.
	// Default: true
	ContinueOnError bool
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
	}
}

type step struct {
	name    string
	phase   Phase
	handler Handler
}
