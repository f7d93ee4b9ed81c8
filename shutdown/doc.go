// Package shutdown stops the daemon's components in a fixed order.
//
// Steps are registered with a Phase. Shutdown runs the phases in
// ascending order and the steps of one phase concurrently, all under one
// deadline:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)
//	coord.RegisterFunc("ingress", shutdown.PhaseIngress, stopIngress)
//	coord.RegisterFunc("bus", shutdown.PhaseBus, func(context.Context) error {
//		return b.Close()
//	})
//
//	ctx, stop := shutdown.SignalContext(context.Background())
//	defer stop()
//	<-ctx.Done()
//	coord.ShutdownWithTimeout()
//
// A failed or panicking step is logged and recorded in the Result; later
// phases still run unless Config.ContinueOnError is false.
package shutdown
