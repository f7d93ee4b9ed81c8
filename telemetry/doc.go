// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the tag supervisor.
//
// Metrics live on a private registry served by Metrics.Handler. Every
// recording method tolerates a nil *Metrics so components can run without
// instrumentation.
//
// Tracing uses the global Tracer, a no-op until InitProvider installs an
// OTLP/gRPC exporter:
//
//	p, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
//	    Endpoint: "localhost:4317",
//	    Insecure: true,
//	})
//	defer p.Shutdown(ctx)
//
//	ctx, span := telemetry.GetTracer().StartApplySpan(ctx, tagID, false)
//	defer telemetry.End(span, err)
package telemetry
