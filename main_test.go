package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleetroute/dispatch/internal/dispatch"

	configpkg "fleetroute/dispatch/internal/config"
	"fleetroute/dispatch/internal/eventbus"
	"fleetroute/dispatch/internal/logging"
	"fleetroute/dispatch/internal/metrics"
	"fleetroute/dispatch/internal/queue"
	"fleetroute/dispatch/internal/store"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestBuildHandlerRegistersRoutes(t *testing.T) {
	repo := store.New()
	orderQueue := queue.New(8)
	bus := eventbus.New(8)
	metricsBundle := metrics.New()
	cfg := &configpkg.Config{AdminToken: "test-token", EnqueueDeadline: 50 * time.Millisecond}

	handler := buildHandler(repo, orderQueue, bus, metricsBundle, cfg, logging.NewTestLogger(), uptimeTracker{startedAt: time.Now()})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.Timeout = 5 * time.Second

	respHealth, err := client.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	respHealth.Body.Close()
	require.Equal(t, http.StatusOK, respHealth.StatusCode)

	respReady, err := client.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	respReady.Body.Close()
	require.Equal(t, http.StatusOK, respReady.StatusCode)

	respMetrics, err := client.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	respMetrics.Body.Close()
	require.Equal(t, http.StatusOK, respMetrics.StatusCode)

	reqAdmin, err := http.NewRequest(http.MethodPost, srv.URL+"/admin/orders/missing/fail", nil)
	require.NoError(t, err)
	respAdmin, err := client.Do(reqAdmin)
	require.NoError(t, err)
	respAdmin.Body.Close()
	require.Equal(t, http.StatusUnauthorized, respAdmin.StatusCode)

	respNotFound, err := client.Get(srv.URL + "/does-not-exist")
	require.NoError(t, err)
	respNotFound.Body.Close()
	require.Equal(t, http.StatusNotFound, respNotFound.StatusCode)
}

func TestUptimeTrackerReportsElapsedTime(t *testing.T) {
	tracker := uptimeTracker{startedAt: time.Now().Add(-time.Minute)}
	require.GreaterOrEqual(t, tracker.Uptime(), time.Minute)
}

// TestShutdownSequenceDrainsQueueAndClosesBus exercises the wiring a
// deployed process relies on: a SIGINT/SIGTERM should leave the Order
// Queue closed-and-drained and the Event Bus closed, not merely cancel the
// Engine's context.
func TestShutdownSequenceDrainsQueueAndClosesBus(t *testing.T) {
	repo := store.New()
	orderQueue := queue.New(4)
	bus := eventbus.New(4)
	metricsBundle := metrics.New()
	logger := logging.NewTestLogger()

	engine := dispatch.New(repo, orderQueue, bus, metricsBundle, logger, dispatch.Config{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  10 * time.Millisecond,
	})

	engineCtx, engineCancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(engineCtx)
	}()

	sub := bus.Subscribe("dashboard")

	httpServer := &http.Server{Addr: "127.0.0.1:0"}
	grpcServer := grpc.NewServer()

	shutdownSequence(shutdownDeps{
		httpServer:    httpServer,
		grpcServer:    grpcServer,
		orderQueue:    orderQueue,
		bus:           bus,
		engineCancel:  engineCancel,
		engineDone:    engineDone,
		drainDeadline: time.Second,
		logger:        logger,
	})

	_, ok := orderQueue.Dequeue(context.Background())
	require.False(t, ok, "order queue should be closed and drained after shutdown")

	_, stillOpen := <-sub.Events()
	require.False(t, stillOpen, "event bus subscribers should observe a closed channel after shutdown")

	require.Equal(t, 0, bus.SubscriberCount())

	select {
	case <-engineDone:
	default:
		t.Fatal("expected engine to have stopped after shutdown")
	}
}
