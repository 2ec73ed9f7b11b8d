// Package dispatch implements the Engine: the single long-lived task that
// dequeues orders, scores eligible couriers on a lock-free snapshot,
// commits the winning assignment under the Store's race-safe discipline,
// and fans the result out over the Event Bus. This is the core of the
// system; every other package in this repository is a collaborator around
// it (Store for state, eventbus for fan-out, metrics for observability,
// ingress adapters for the external wire contract).
package dispatch

import (
	"context"
	"math"
	"sort"
	"time"

	"fleetroute/dispatch/internal/domain"
	"fleetroute/dispatch/internal/eventbus"
	"fleetroute/dispatch/internal/logging"
	"fleetroute/dispatch/internal/metrics"
	"fleetroute/dispatch/internal/queue"
	"fleetroute/dispatch/internal/scoring"
	"github.com/pkg/errors"
)

// Store is the subset of *store.Store the Engine depends on, kept as an
// interface so engine tests can substitute a fake without standing up the
// full concurrent repository.
type Store interface {
	GetOrder(id string) (domain.Order, error)
	IncrementAttempts(id string) (domain.Order, error)
	MarkFailed(id string) (domain.Order, error)
	ListCouriers() []domain.Courier
	GetCourier(id string) (domain.Courier, error)
	TryCommitAssignment(orderID, courierID string, score float64) (domain.Assignment, error)
}

// Config tunes the Engine's retry and backoff behavior.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Engine is the background assignment pipeline: dequeue, score, commit,
// publish, with bounded retry and exponential backoff on failure.
type Engine struct {
	store   Store
	queue   *queue.OrderQueue
	bus     *eventbus.Bus
	metrics *metrics.Metrics
	logger  *logging.Logger
	cfg     Config

	// sleep lets tests observe/override the backoff sleep.
	sleep func(time.Duration)
}

// New constructs an Engine wired to its collaborators.
func New(store Store, q *queue.OrderQueue, bus *eventbus.Bus, m *metrics.Metrics, logger *logging.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = logging.L()
	}
	return &Engine{
		store:   store,
		queue:   q,
		bus:     bus,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		sleep:   time.Sleep,
	}
}

// Run processes orders until the queue reports closed-and-empty or ctx is
// cancelled, whichever happens first. It does not decide when to close the
// queue or cancel ctx itself: a caller that wants a graceful drain should
// call queue.Close() and let Run keep consuming already-buffered orders for
// a bounded deadline before cancelling ctx to force an immediate stop.
func (e *Engine) Run(ctx context.Context) {
	for {
		orderID, ok := e.queue.Dequeue(ctx)
		if !ok {
			return
		}
		e.metrics.SetQueueDepth(e.queue.Len())
		e.processOnce(ctx, orderID)
	}
}

func (e *Engine) processOnce(ctx context.Context, orderID string) {
	order, err := e.store.GetOrder(orderID)
	if err != nil {
		e.logger.Warn("dequeued unknown order", logging.String("order_id", orderID), logging.Error(err))
		return
	}
	if order.Status != domain.OrderPending {
		return
	}

	order, err = e.store.IncrementAttempts(orderID)
	if err != nil {
		e.logger.Warn("failed to increment attempts", logging.String("order_id", orderID), logging.Error(err))
		return
	}

	snapshot := e.store.ListCouriers()
	candidates := filterEligible(snapshot)
	if len(candidates) == 0 {
		e.handleNoCandidates(ctx, order)
		return
	}

	winnerID, winnerScore := selectWinner(candidates, order)

	t0 := time.Now()
	assignment, err := e.store.TryCommitAssignment(order.ID, winnerID, winnerScore)
	dt := time.Since(t0)

	switch {
	case err == nil:
		e.metrics.ObserveAssignment(metrics.OutcomeSuccess, dt)
		e.publishSuccess(assignment)
	case errors.Is(err, domain.ErrCourierUnavailable):
		// Lost the race for this courier: the snapshot was stale. Retry
		// immediately rather than paying a backoff, since another courier
		// may still be eligible next pass.
		e.requeue(ctx, order.ID)
	case errors.Is(err, domain.ErrOrderNotPending):
		// Someone else finalised this order first; nothing to do.
	default:
		e.logger.Error("unexpected commit error", logging.String("order_id", orderID), logging.Error(err))
	}
}

func (e *Engine) handleNoCandidates(ctx context.Context, order domain.Order) {
	if order.Attempts >= e.cfg.MaxAttempts {
		if _, err := e.store.MarkFailed(order.ID); err != nil {
			e.logger.Error("failed to mark order failed", logging.String("order_id", order.ID), logging.Error(err))
			return
		}
		e.metrics.ObserveAssignment(metrics.OutcomeError, 0)
		e.bus.Publish(domain.AssignmentEvent{
			OrderSnapshot: order,
			Outcome:       "error",
		})
		return
	}

	backoff := backoffFor(order.Attempts, e.cfg.BackoffBase, e.cfg.BackoffCap)
	e.sleep(backoff)
	e.requeue(ctx, order.ID)
}

func (e *Engine) requeue(ctx context.Context, orderID string) {
	if err := e.queue.Enqueue(ctx, orderID); err != nil {
		e.logger.Warn("failed to requeue order", logging.String("order_id", orderID), logging.Error(err))
	}
}

func (e *Engine) publishSuccess(assignment domain.Assignment) {
	order, err := e.store.GetOrder(assignment.OrderID)
	if err != nil {
		e.logger.Warn("post-commit order lookup failed", logging.String("order_id", assignment.OrderID), logging.Error(err))
	}
	courier, err := e.store.GetCourier(assignment.CourierID)
	if err != nil {
		e.logger.Warn("post-commit courier lookup failed", logging.String("courier_id", assignment.CourierID), logging.Error(err))
	} else {
		e.metrics.SetCourierUtilization(courier.ID, courier.Utilization())
	}

	a := assignment
	e.bus.Publish(domain.AssignmentEvent{
		Assignment:      &a,
		OrderSnapshot:   order,
		CourierSnapshot: &courier,
		Outcome:         "success",
	})
}

func filterEligible(couriers []domain.Courier) []domain.Courier {
	eligible := make([]domain.Courier, 0, len(couriers))
	for _, c := range couriers {
		if c.Eligible() {
			eligible = append(eligible, c)
		}
	}
	return eligible
}

// selectWinner scores every candidate and returns the argmax, breaking
// ties by lower current_load then lexicographically smaller courier id.
func selectWinner(candidates []domain.Courier, order domain.Order) (courierID string, score float64) {
	type scored struct {
		courier domain.Courier
		score   float64
	}
	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, scored{courier: c, score: scoring.Score(c, order)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if results[i].courier.CurrentLoad != results[j].courier.CurrentLoad {
			return results[i].courier.CurrentLoad < results[j].courier.CurrentLoad
		}
		return results[i].courier.ID < results[j].courier.ID
	})

	winner := results[0]
	return winner.courier.ID, winner.score
}

// backoffFor computes min(BASE * 2^attempts, CAP).
func backoffFor(attempts int, base, cap time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	multiplier := math.Pow(2, float64(attempts))
	backoff := time.Duration(float64(base) * multiplier)
	if backoff <= 0 || backoff > cap {
		return cap
	}
	return backoff
}
