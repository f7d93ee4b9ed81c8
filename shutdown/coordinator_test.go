package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/logging"
)

func newTestCoordinator(cfg Config) *Coordinator {
	return NewCoordinator(cfg, logging.Nop())
}

// --- Unit Tests ---

func TestShutdown_PhaseOrder(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	c.RegisterFunc("telemetry", PhaseTelemetry, record("telemetry"))
	c.RegisterFunc("bus", PhaseBus, record("bus"))
	c.RegisterFunc("ingress", PhaseIngress, record("ingress"))
	c.RegisterFunc("metrics", PhaseServers, record("metrics"))

	if err := c.ShutdownWithTimeout(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	want := []string{"ingress", "metrics", "bus", "telemetry"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed")
	}
	if r := c.Result(); r == nil || len(r.Steps) != 4 || r.Failed() {
		t.Errorf("result = %+v", r)
	}
}

func TestShutdown_SamePhaseConcurrent(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())

	var running, peak atomic.Int32
	step := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	c.RegisterFunc("ws", PhaseServers, step)
	c.RegisterFunc("metrics", PhaseServers, step)

	if err := c.ShutdownWithTimeout(); err != nil {
		t.Fatal(err)
	}
	if peak.Load() != 2 {
		t.Errorf("peak concurrency = %d, want 2", peak.Load())
	}
}

func TestShutdown_Failures(t *testing.T) {
	tests := []struct {
		name         string
		continueOn   bool
		wantLaterRun bool
	}{
		{"continue", true, true},
		{"stop", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(Config{Timeout: time.Second, ContinueOnError: tt.continueOn})
			var laterRan bool
			c.RegisterFunc("ingress", PhaseIngress, func(context.Context) error {
				return errors.Internal("boom")
			})
			c.RegisterFunc("bus", PhaseBus, func(context.Context) error {
				laterRan = true
				return nil
			})

			err := c.ShutdownWithTimeout()
			if err != ErrHandlerFailed {
				t.Errorf("err = %v, want ErrHandlerFailed", err)
			}
			if laterRan != tt.wantLaterRun {
				t.Errorf("later phase ran = %v", laterRan)
			}
			if failed := c.Result().FailedSteps(); len(failed) != 1 || failed[0] != "ingress" {
				t.Errorf("failed steps = %v", failed)
			}
		})
	}
}

func TestShutdown_PanickingStep(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())
	c.RegisterFunc("bad", PhaseIngress, func(context.Context) error { panic("oops") })

	if err := c.ShutdownWithTimeout(); err != ErrHandlerFailed {
		t.Fatalf("err = %v", err)
	}
	if got := c.Result().Steps[0].Err; !errors.Is(got, errors.ErrCodePanic) {
		t.Errorf("step error = %v, want PANIC", got)
	}
}

func TestShutdown_Timeout(t *testing.T) {
	c := newTestCoordinator(Config{Timeout: 30 * time.Millisecond, ContinueOnError: true})
	c.RegisterFunc("slow", PhaseIngress, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var busRan bool
	c.RegisterFunc("bus", PhaseBus, func(context.Context) error {
		busRan = true
		return nil
	})

	if err := c.ShutdownWithTimeout(); err != ErrTimeout {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if busRan {
		t.Error("phase after timeout ran")
	}
}

func TestShutdown_SecondCall(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())
	release := make(chan struct{})
	c.RegisterFunc("slow", PhaseIngress, func(context.Context) error {
		<-release
		return nil
	})

	first := make(chan error, 1)
	go func() { first <- c.ShutdownWithTimeout() }()

	// Wait until the first call has started.
	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if started || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.Shutdown(ctx); err != ErrAlreadyShutdown {
		t.Errorf("concurrent Shutdown = %v, want ErrAlreadyShutdown", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first Shutdown = %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after completion = %v", err)
	}
}

func TestShutdown_LateRegistrationIgnored(t *testing.T) {
	c := newTestCoordinator(DefaultConfig())
	if err := c.ShutdownWithTimeout(); err != nil {
		t.Fatal(err)
	}
	c.RegisterFunc("late", PhaseBus, func(context.Context) error { return nil })
	if len(c.steps) != 0 {
		t.Error("late step registered")
	}
}

func TestResultBeforeDone(t *testing.T) {
	if newTestCoordinator(DefaultConfig()).Result() != nil {
		t.Error("Result before shutdown should be nil")
	}
}

func TestGroupByPhase(t *testing.T) {
	steps := []step{{name: "a", phase: 10}, {name: "b", phase: 10}, {name: "c", phase: 40}}
	groups := groupByPhase(steps)
	if len(groups) != 2 || len(groups[0]) != 2 || groups[1][0].name != "c" {
		t.Errorf("groups = %+v", groups)
	}
	if groupByPhase(nil) != nil {
		t.Error("empty input should give no groups")
	}
}

func TestSignalContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent)
	defer stop()
	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("signal context did not follow its parent")
	}
}
