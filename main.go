package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	configpkg "fleetroute/dispatch/internal/config"
	"fleetroute/dispatch/internal/dispatch"
	"fleetroute/dispatch/internal/eventbus"
	"fleetroute/dispatch/internal/grpcapi"
	"fleetroute/dispatch/internal/httpapi"
	"fleetroute/dispatch/internal/logging"
	"fleetroute/dispatch/internal/metrics"
	"fleetroute/dispatch/internal/queue"
	"fleetroute/dispatch/internal/store"
	"fleetroute/dispatch/internal/wsapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

// uptimeTracker implements httpapi.ReadinessProvider against a fixed start
// time.
type uptimeTracker struct {
	startedAt time.Time
}

func (u uptimeTracker) Uptime() time.Duration {
	return time.Since(u.startedAt)
}

func main() {
	startedAt := time.Now()

	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	repo := store.New()
	orderQueue := queue.New(cfg.OrderQueueSize)
	bus := eventbus.New(cfg.EventBufferSize)
	metricsBundle := metrics.New()

	engine := dispatch.New(repo, orderQueue, bus, metricsBundle, logger.With(logging.String("component", "dispatch")), dispatch.Config{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	})

	engineCtx, engineCancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(engineCtx)
	}()
	defer engineCancel()

	grpcLogger := logger.With(logging.String("component", "grpc"))
	grpcOptions, grpcCleanup, err := configureGRPCSecurity(cfg, grpcLogger)
	if err != nil {
		logger.Fatal("failed to configure gRPC security", logging.Error(err))
	}
	defer grpcCleanup()

	grpcServer := grpc.NewServer(grpcOptions...)
	grpcService := grpcapi.NewService(repo, orderQueue, bus, grpcLogger)
	grpcapi.RegisterDispatchServiceServer(grpcServer, grpcService)

	go func() {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("failed to start gRPC listener", logging.Error(err), logging.String("address", cfg.GRPCAddr))
		}
		logger.Info("gRPC server listening", logging.String("address", listenerURL(cfg.GRPCAddr, false)))
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error("gRPC server terminated", logging.Error(err))
		}
	}()
	defer grpcServer.GracefulStop()

	handler := buildHandler(repo, orderQueue, bus, metricsBundle, cfg, logger, uptimeTracker{startedAt: startedAt})
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		shutdownSequence(shutdownDeps{
			httpServer:    httpServer,
			grpcServer:    grpcServer,
			orderQueue:    orderQueue,
			bus:           bus,
			engineCancel:  engineCancel,
			engineDone:    engineDone,
			drainDeadline: cfg.DrainDeadline,
			logger:        logger,
		})
	}()

	logger.Info("dispatch service listening", logging.String("address", listenerURL(cfg.HTTPAddr, false)))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server terminated", logging.Error(err))
	}
}

// shutdownDeps bundles the collaborators the shutdown sequence needs to stop
// accepting work and drain what's already in flight. Split out of main() so
// the sequence itself can be exercised directly from a test without standing
// up real network listeners.
type shutdownDeps struct {
	httpServer    *http.Server
	grpcServer    *grpc.Server
	orderQueue    *queue.OrderQueue
	bus           *eventbus.Bus
	engineCancel  context.CancelFunc
	engineDone    <-chan struct{}
	drainDeadline time.Duration
	logger        *logging.Logger
}

// shutdownSequence stops accepting new work, then drains the Order Queue up
// to drainDeadline before forcing the Engine to stop, and finally closes the
// Event Bus so every subscriber's channel is closed.
//
// Order matters: closing orderQueue before shutting down the HTTP/gRPC
// servers would let an in-flight request race an Enqueue against a closed
// queue, so ingress is stopped first.
func shutdownSequence(d shutdownDeps) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("http server shutdown error", logging.Error(err))
	}
	d.grpcServer.GracefulStop()

	d.orderQueue.Close()
	select {
	case <-d.engineDone:
		d.logger.Info("order queue drained before shutdown")
	case <-time.After(d.drainDeadline):
		d.logger.Warn("drain deadline exceeded; undrained orders remain pending",
			logging.Duration("deadline", d.drainDeadline))
	}

	d.engineCancel()
	d.bus.Close()
}

func buildHandler(repo *store.Store, orderQueue *queue.OrderQueue, bus *eventbus.Bus, metricsBundle *metrics.Metrics, cfg *configpkg.Config, logger *logging.Logger, readiness httpapi.ReadinessProvider) http.Handler {
	mux := http.NewServeMux()

	var adminRateLimit httpapi.RateLimiter
	if cfg.AdminToken != "" {
		adminRateLimit = httpapi.NewSlidingWindowLimiter(time.Minute, 30, nil)
	}

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:          logger.With(logging.String("component", "httpapi")),
		Store:           repo,
		Queue:           orderQueue,
		EnqueueDeadline: cfg.EnqueueDeadline,
		AdminToken:      cfg.AdminToken,
		Readiness:       readiness,
		MetricsHandler:  promhttp.HandlerFor(metricsBundle.Registry(), promhttp.HandlerOpts{}),
		AdminRateLimit:  adminRateLimit,
	})
	handlers.Register(mux)

	hub := wsapi.NewHub(bus, logger.With(logging.String("component", "wsapi")), cfg.AllowedOrigins)
	mux.Handle("GET /ws/events", hub)

	return mux
}
