package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/tagwatch/bus"
	"github.com/vinayprograms/tagwatch/config"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/publish"
	"github.com/vinayprograms/tagwatch/service"
	"github.com/vinayprograms/tagwatch/shutdown"
	"github.com/vinayprograms/tagwatch/telemetry"
)

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	log := logger.WithComponent("tagwatchd")

	ctx, stop := shutdown.SignalContext(cmd.Context())
	defer stop()

	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)

	var failMu sync.Mutex
	var failures []error
	fail := func(err error) {
		failMu.Lock()
		failures = append(failures, err)
		failMu.Unlock()
		stop()
	}

	tracer := telemetry.GetTracer()
	if cfg.Telemetry.Endpoint != "" {
		prov, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Insecure:       cfg.Telemetry.Insecure,
		})
		if err != nil {
			return errors.Wrap(err, "starting tracing")
		}
		tracer = prov.Tracer()
		coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, prov.Shutdown)
	}
	metrics := telemetry.NewMetrics()

	b, err := openBus(cfg.Bus)
	if err != nil {
		return err
	}
	coord.RegisterFunc("bus", shutdown.PhaseBus, func(context.Context) error {
		return b.Close()
	})

	svc, err := service.New(service.Options{
		Scanner: cfg.Scanner.HeartbeatConfig(),
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		b.Close()
		return err
	}
	if err := svc.Configure(cfg); err != nil {
		b.Close()
		return err
	}

	if err := wirePublishers(ctx, cfg, b, svc, metrics, logger, coord, fail); err != nil {
		b.Close()
		return err
	}

	if cfg.Metrics.Addr != "" {
		if d, ok := b.(interface{ Dropped() int64 }); ok {
			_ = metrics.RegisterGaugeFunc("bus_dropped_messages", "Messages dropped at full subscription buffers.",
				func() float64 { return float64(d.Dropped()) })
		}
		_ = metrics.RegisterGaugeFunc("tags", "Configured tags.", func() float64 { return float64(svc.Store().Len()) })

		if err := serve(cfg.Metrics.Addr, "metrics", opsRouter(svc, metrics), coord, fail); err != nil {
			b.Close()
			return err
		}
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := svc.Run(runCtx, b); err != nil {
			fail(err)
		}
	}()
	coord.RegisterFunc("ingress", shutdown.PhaseIngress, func(ctx context.Context) error {
		cancelRun()
		select {
		case <-runDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	log.Info("started", map[string]interface{}{
		"config":   path,
		"bus":      cfg.Bus.Kind,
		"entities": svc.Registry().Len(),
		"tags":     svc.Store().Len(),
		"version":  version,
	})

	<-ctx.Done()
	log.Info("stopping")

	shutdownErr := coord.ShutdownWithTimeout()
	failMu.Lock()
	defer failMu.Unlock()
	return errors.Join(append(failures, shutdownErr)...)
}

func openBus(cfg config.BusConfig) (bus.MessageBus, error) {
	if cfg.Kind != "nats" {
		return bus.NewMemoryBus(bus.DefaultConfig()), nil
	}
	nc := bus.DefaultNATSConfig()
	if cfg.URL != "" {
		nc.URL = cfg.URL
	}
	if cfg.Name != "" {
		nc.Name = cfg.Name
	}
	nc.Token = cfg.Token
	b, err := bus.NewNATSBus(nc)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "connecting to "+nc.URL)
	}
	return b, nil
}

func wirePublishers(ctx context.Context, cfg *config.Config, b bus.MessageBus, svc *service.Service,
	metrics *telemetry.Metrics, logger *logging.Logger, coord *shutdown.Coordinator, fail func(error)) error {
	if cfg.Publish.Bus {
		p := publish.NewBusPublisher(b, logger)
		svc.AddListener(p)
		svc.OnAlert(p.PublishAlert)
	}

	if cfg.Publish.KVBucket != "" {
		nb, ok := b.(*bus.NATSBus)
		if !ok {
			return errors.InvalidInput("publish.kv_bucket needs bus.kind = \"nats\"")
		}
		js, err := nb.JetStream()
		if err != nil {
			return errors.Wrap(err, "jetstream")
		}
		kctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		kv, err := publish.NewKVPublisher(kctx, js, publish.KVConfig{Bucket: cfg.Publish.KVBucket})
		if err != nil {
			return err
		}
		svc.AddListener(kv)
	}

	if cfg.Publish.WebSocketAddr != "" {
		hub := publish.NewWebSocketHub(publish.HubConfig{Logger: logger})
		svc.AddListener(hub)
		svc.OnAlert(hub.PublishAlert)
		_ = metrics.RegisterGaugeFunc("websocket_clients", "Connected websocket clients.",
			func() float64 { return float64(hub.Clients()) })

		if err := serve(cfg.Publish.WebSocketAddr, "websocket", streamRouter(hub), coord, fail); err != nil {
			return err
		}
		coord.RegisterFunc("websocket-clients", shutdown.PhasePublishers, func(context.Context) error {
			return hub.Close()
		})
	}
	return nil
}

// serve binds addr synchronously, so a taken port fails startup, then
// serves in the background until the coordinator stops it.
func serve(addr, name string, h http.Handler, coord *shutdown.Coordinator, fail func(error)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listening on "+addr+" for "+name)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			fail(errors.Wrap(err, name+" server"))
		}
	}()
	coord.RegisterFunc(name, shutdown.PhaseServers, srv.Shutdown)
	return nil
}
