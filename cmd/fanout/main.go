package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/harbor_fanout/internal/auth"
	"github.com/austindbirch/harbor_fanout/internal/config"
	"github.com/austindbirch/harbor_fanout/internal/db"
	"github.com/austindbirch/harbor_fanout/internal/deadletter"
	"github.com/austindbirch/harbor_fanout/internal/delivery"
	"github.com/austindbirch/harbor_fanout/internal/health"
	"github.com/austindbirch/harbor_fanout/internal/ingest"
	"github.com/austindbirch/harbor_fanout/internal/logging"
	"github.com/austindbirch/harbor_fanout/internal/metrics"
	"github.com/austindbirch/harbor_fanout/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logging.SetDefaultService(cfg.AppName)
	logger := logging.New(cfg.AppName)

	shutdownTracing, err := tracing.InitTracing(ctx, tracing.Options{
		ServiceName: cfg.AppName,
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logging.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdownTracing()

	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		logging.Plain().WithError(err).Fatal("dead letter setup failed")
	}
	defer sinks.close()

	queues := delivery.NewQueues(cfg.Dispatcher.HighCapacity, cfg.Dispatcher.LowCapacity, nil)
	dispatcher := delivery.NewDispatcher(queues, delivery.NewTargetLog(),
		delivery.NewHTTPDeliverer(cfg.Dispatcher.DeliveryTimeout),
		delivery.WithWorkers(cfg.Dispatcher.Workers),
		delivery.WithBackoff(delivery.Backoff{
			Schedule:  cfg.Dispatcher.BackoffSchedule,
			JitterPct: cfg.Dispatcher.JitterPercent,
		}),
		delivery.WithDeadLetterSink(sinks.sink),
		delivery.WithLogger(logging.New(cfg.AppName+"-dispatcher")),
	)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	metrics.MustRegisterQueueDepth(reg, queueDepth(queues.Counters()), priorityNames()...)

	flushAuth, err := flushAuthenticator(cfg.Auth)
	if err != nil {
		logging.Plain().WithError(err).Fatal("flush auth setup failed")
	}

	checker := health.NewChecker(dispatcher, sinks.pinger)
	srv := ingest.NewServer(queues, dispatcher, dispatcher.TargetLog(), ingest.Options{
		TargetsHeader:  cfg.Ingest.TargetsHeader,
		MaxBodyBytes:   cfg.Ingest.MaxBodyBytes,
		RetryBudget:    cfg.RetryBudget(),
		EnqueueTimeout: cfg.Dispatcher.EnqueueTimeout,
		FlushAuth:      flushAuth,
		Prometheus:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Health:         health.HTTPHandler(checker),
	}, logging.New(cfg.AppName+"-ingest"))

	if err := dispatcher.Start(ctx); err != nil {
		logging.Plain().WithError(err).Fatal("dispatcher start failed")
	}

	if cfg.Dispatcher.FlushSchedule != "" {
		sched, err := delivery.NewFlushScheduler(cfg.Dispatcher.FlushSchedule, dispatcher, logger)
		if err != nil {
			logging.Plain().WithError(err).Fatal("flush schedule invalid")
		}
		sched.Start()
		defer sched.Stop()
		logging.Plain().WithField("spec", cfg.Dispatcher.FlushSchedule).Info("low priority flush scheduled")
	}

	// gRPC health for orchestrators that probe over gRPC
	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	go checker.SyncGRPC(ctx, hs, cfg.AppName, 5*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logging.Plain().WithError(err).Fatal("gRPC listen failed")
	}
	go func() {
		logging.Plain().WithField("addr", cfg.GRPCPort).Info("gRPC health listening")
		if err := grpcSrv.Serve(lis); err != nil {
			logging.Plain().WithError(err).Error("gRPC serve failed")
		}
	}()

	httpSrv := &http.Server{
		Addr:         cfg.HTTPPort,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Ingest.ReadTimeout,
		WriteTimeout: cfg.Ingest.WriteTimeout,
		IdleTimeout:  cfg.Ingest.IdleTimeout,
	}
	go func() {
		logging.Plain().WithField("addr", httpSrv.Addr).Info("HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Plain().WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logging.Plain().Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(sctx)
	grpcSrv.GracefulStop()
	dispatcher.Wait()

	logging.WithFields(map[string]any{
		"queued_high": queues.Counters().Queued(delivery.High),
		"queued_low":  queues.Counters().Queued(delivery.Low),
	}).Info("stopped")
}

// deadLetters holds the configured sinks and what must be released on exit.
type deadLetters struct {
	sink    delivery.DeadLetterSink
	pinger  health.Pinger
	closers []func()
}

func (d *deadLetters) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// openSinks connects the NSQ topic and the Postgres archive when enabled.
func openSinks(ctx context.Context, cfg config.Config, logger *logging.Logger) (*deadLetters, error) {
	out := &deadLetters{}
	var sinks []delivery.DeadLetterSink

	if cfg.NSQ.PublishDLQ {
		pub, err := deadletter.NewNSQPublisher(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DLQTopic)
		if err != nil {
			return nil, fmt.Errorf("nsq producer: %w", err)
		}
		out.closers = append(out.closers, func() { _ = pub.Close() })
		sinks = append(sinks, pub)
		logger.Plain().WithFields(map[string]any{
			"nsqd":  cfg.NSQ.NsqdTCPAddr,
			"topic": pub.Topic(),
		}).Info("publishing dead letters to NSQ")
	}

	if cfg.Archive.Postgres {
		pool, err := db.Connect(ctx, cfg.DSN(), cfg.DB.MaxConns)
		if err != nil {
			out.close()
			return nil, fmt.Errorf("db connect: %w", err)
		}
		out.closers = append(out.closers, pool.Close)
		store := deadletter.NewPostgresStore(pool, cfg.Archive.Table)
		if err := store.EnsureSchema(ctx); err != nil {
			out.close()
			return nil, err
		}
		sinks = append(sinks, store)
		out.pinger = pool
		logger.Plain().WithField("table", cfg.Archive.Table).Info("archiving dead letters to Postgres")
	}

	out.sink = deadletter.Sink(sinks...)
	return out, nil
}

// flushAuthenticator returns nil, leaving the flush route open, when no key is
// configured.
func flushAuthenticator(a config.Auth) (func(http.Handler) http.Handler, error) {
	if a.FlushPublicKeyPEM == "" {
		return nil, nil
	}
	v, err := auth.NewJWTValidator(a.FlushPublicKeyPEM, a.Issuer, a.Audience, auth.ScopeFlush)
	if err != nil {
		return nil, err
	}
	return v.HTTPMiddleware, nil
}

func queueDepth(c *delivery.Counters) func(string) int64 {
	return func(name string) int64 {
		p, err := delivery.ParsePriority(name)
		if err != nil {
			return 0
		}
		return c.Queued(p)
	}
}

func priorityNames() []string {
	names := make([]string, 0, len(delivery.Priorities))
	for _, p := range delivery.Priorities {
		names = append(names, p.String())
	}
	return names
}
