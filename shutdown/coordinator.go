package shutdown

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/logging"
)

// Coordinator runs registered steps phase by phase, once.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu      sync.Mutex
	steps   []step
	started bool
	done    chan struct{}
	result  *Result
}

// NewCoordinator creates a coordinator. A nil logger means logging.New().
func NewCoordinator(config Config, logger *logging.Logger) *Coordinator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = logging.New()
	}
	return &Coordinator{
		config: config,
		logger: logger.WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
}

// Register adds a step. Steps registered after shutdown began are ignored.
func (c *Coordinator) Register(name string, phase Phase, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.logger.Warn("late_registration_ignored", map[string]interface{}{"step": name})
		return
	}
	c.steps = append(c.steps, step{name: name, phase: phase, handler: h})
}

// RegisterFunc adds a function step.
func (c *Coordinator) RegisterFunc(name string, phase Phase, fn func(ctx context.Context) error) {
	c.Register(name, phase, HandlerFunc(fn))
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Shutdown runs every phase in order. A later call waits for the first
// and returns its error, or ErrAlreadyShutdown if its own ctx expires
// first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		select {
		case <-c.done:
			return c.result.Err
		case <-ctx.Done():
			return ErrAlreadyShutdown
		}
	}
	c.started = true
	steps := slices.Clone(c.steps)
	c.mu.Unlock()

	c.result = c.run(ctx, steps)
	close(c.done)
	return c.result.Err
}

// ShutdownWithTimeout runs Shutdown bounded by the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// Done is closed once shutdown completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown outcome, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context, steps []step) *Result {
	start := time.Now()
	slices.SortStableFunc(steps, func(a, b step) int { return int(a.phase - b.phase) })

	res := &Result{}
	finish := func(err error) *Result {
		res.Err = err
		res.TotalDuration = time.Since(start)
		c.logger.Info("shutdown_complete", map[string]interface{}{
			"steps":    len(res.Steps),
			"failed":   len(res.FailedSteps()),
			"duration": res.TotalDuration.String(),
		})
		return res
	}

	var failed error
	for _, group := range groupByPhase(steps) {
		if ctx.Err() != nil {
			return finish(ErrTimeout)
		}
		results := c.runPhase(ctx, group)
		res.Steps = append(res.Steps, results...)
		for _, r := range results {
			if r.Err == nil {
				continue
			}
			failed = ErrHandlerFailed
			if !c.config.ContinueOnError {
				return finish(failed)
			}
		}
	}
	return finish(failed)
}

func (c *Coordinator) runPhase(ctx context.Context, group []step) []StepResult {
	results := make([]StepResult, len(group))
	var wg sync.WaitGroup
	for i, s := range group {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.runStep(ctx, s)
		}()
	}
	wg.Wait()
	return results
}

func (c *Coordinator) runStep(ctx context.Context, s step) (r StepResult) {
	r = StepResult{Name: s.name, Phase: s.phase}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.Err = errors.RecoverPanic(p)
		}
		r.Duration = time.Since(start)

		fields := map[string]interface{}{
			"step":     s.name,
			"phase":    int(s.phase),
			"duration": r.Duration.String(),
		}
		if r.Err != nil {
			fields["error"] = r.Err.Error()
			c.logger.Error("shutdown_step_failed", fields)
			return
		}
		c.logger.Debug("shutdown_step", fields)
	}()
	r.Err = s.handler.OnShutdown(ctx)
	return r
}

// groupByPhase splits phase-sorted steps into runs of equal phase.
func groupByPhase(steps []step) [][]step {
	var groups [][]step
	for i, s := range steps {
		if i == 0 || s.phase != steps[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], s)
	}
	return groups
}
