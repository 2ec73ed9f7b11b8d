package store

import (
	"sort"
	"sync"
	"testing"

	"fleetroute/dispatch/internal/domain"
	"github.com/stretchr/testify/require"
)

func newCourierInput() domain.CourierInput {
	return domain.CourierInput{
		Name:     "Berta",
		Location: domain.Location{Lat: 52.52, Lng: 13.405},
		Capacity: 5,
		Rating:   4.8,
	}
}

func newOrderInput() domain.OrderInput {
	return domain.OrderInput{
		Pickup:   domain.Location{Lat: 52.51, Lng: 13.39},
		Dropoff:  domain.Location{Lat: 52.54, Lng: 13.42},
		Priority: domain.PriorityUrgent,
	}
}

func TestCreateCourierRoundTrip(t *testing.T) {
	s := New()
	created, err := s.CreateCourier(newCourierInput())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, 0, created.CurrentLoad)
	require.Equal(t, domain.CourierAvailable, created.Status)

	fetched, err := s.GetCourier(created.ID)
	require.NoError(t, err)
	require.Equal(t, created, fetched)
}

func TestCreateCourierRejectsInvalidInput(t *testing.T) {
	s := New()
	_, err := s.CreateCourier(domain.CourierInput{Name: "", Capacity: 1, Location: domain.Location{}})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.CreateCourier(domain.CourierInput{Name: "x", Capacity: 0, Location: domain.Location{}})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetCourierNotFound(t *testing.T) {
	s := New()
	_, err := s.GetCourier("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPatchCourierStatusAndLocation(t *testing.T) {
	s := New()
	c, err := s.CreateCourier(newCourierInput())
	require.NoError(t, err)

	updated, err := s.PatchCourierStatus(c.ID, domain.CourierOffline)
	require.NoError(t, err)
	require.Equal(t, domain.CourierOffline, updated.Status)

	newLoc := domain.Location{Lat: 10, Lng: 10}
	updated, err = s.PatchCourierLocation(c.ID, newLoc)
	require.NoError(t, err)
	require.Equal(t, newLoc, updated.Location)
}

func TestCreateOrderRoundTrip(t *testing.T) {
	s := New()
	order, err := s.CreateOrder(newOrderInput())
	require.NoError(t, err)
	require.Equal(t, domain.OrderPending, order.Status)
	require.Equal(t, 0, order.Attempts)

	fetched, err := s.GetOrder(order.ID)
	require.NoError(t, err)
	require.Equal(t, order, fetched)
}

func TestTryCommitAssignmentSuccess(t *testing.T) {
	s := New()
	c, err := s.CreateCourier(newCourierInput())
	require.NoError(t, err)
	o, err := s.CreateOrder(newOrderInput())
	require.NoError(t, err)

	assignment, err := s.TryCommitAssignment(o.ID, c.ID, 0.9)
	require.NoError(t, err)
	require.Equal(t, o.ID, assignment.OrderID)
	require.Equal(t, c.ID, assignment.CourierID)

	gotOrder, err := s.GetOrder(o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderAssigned, gotOrder.Status)

	gotCourier, err := s.GetCourier(c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, gotCourier.CurrentLoad)

	assignments := s.ListAssignments()
	require.Len(t, assignments, 1)
}

func TestTryCommitAssignmentRejectsUnavailableCourier(t *testing.T) {
	s := New()
	c, err := s.CreateCourier(newCourierInput())
	require.NoError(t, err)
	_, err = s.PatchCourierStatus(c.ID, domain.CourierOffline)
	require.NoError(t, err)
	o, err := s.CreateOrder(newOrderInput())
	require.NoError(t, err)

	_, err = s.TryCommitAssignment(o.ID, c.ID, 0.9)
	require.ErrorIs(t, err, domain.ErrCourierUnavailable)
}

func TestTryCommitAssignmentRejectsNonPendingOrder(t *testing.T) {
	s := New()
	c1, _ := s.CreateCourier(newCourierInput())
	c2, _ := s.CreateCourier(newCourierInput())
	o, _ := s.CreateOrder(newOrderInput())

	_, err := s.TryCommitAssignment(o.ID, c1.ID, 0.9)
	require.NoError(t, err)

	_, err = s.TryCommitAssignment(o.ID, c2.ID, 0.9)
	require.ErrorIs(t, err, domain.ErrOrderNotPending)
}

func TestTryCommitAssignmentRejectsAtCapacity(t *testing.T) {
	s := New()
	input := newCourierInput()
	input.Capacity = 1
	c, _ := s.CreateCourier(input)
	o1, _ := s.CreateOrder(newOrderInput())
	o2, _ := s.CreateOrder(newOrderInput())

	_, err := s.TryCommitAssignment(o1.ID, c.ID, 0.9)
	require.NoError(t, err)

	_, err = s.TryCommitAssignment(o2.ID, c.ID, 0.9)
	require.ErrorIs(t, err, domain.ErrCourierUnavailable)
}

// TestConcurrentAssignmentNeverExceedsCapacity is the race-safety scenario
// (S5): two equally-eligible couriers, a hundred concurrent commit
// attempts, and the invariant that total assignments never exceeds the
// sum of both capacities.
func TestConcurrentAssignmentNeverExceedsCapacity(t *testing.T) {
	s := New()
	input := newCourierInput()
	input.Capacity = 50
	c1, _ := s.CreateCourier(input)
	c2, _ := s.CreateCourier(input)

	const totalOrders = 100
	orderIDs := make([]string, 0, totalOrders)
	for i := 0; i < totalOrders; i++ {
		o, err := s.CreateOrder(newOrderInput())
		require.NoError(t, err)
		orderIDs = append(orderIDs, o.ID)
	}

	var wg sync.WaitGroup
	for _, orderID := range orderIDs {
		orderID := orderID
		wg.Add(1)
		go func() {
			defer wg.Done()
			couriers := []string{c1.ID, c2.ID}
			sort.Strings(couriers)
			// Both concurrent "winners" race for the same two couriers;
			// try the lexicographically-first one first, like the Engine's
			// tie-break would pick, falling back on CourierUnavailable.
			if _, err := s.TryCommitAssignment(orderID, couriers[0], 0.9); err == nil {
				return
			}
			_, _ = s.TryCommitAssignment(orderID, couriers[1], 0.9)
		}()
	}
	wg.Wait()

	assignments := s.ListAssignments()
	require.LessOrEqual(t, len(assignments), 100)

	gotC1, err := s.GetCourier(c1.ID)
	require.NoError(t, err)
	gotC2, err := s.GetCourier(c2.ID)
	require.NoError(t, err)

	require.LessOrEqual(t, gotC1.CurrentLoad, gotC1.Capacity)
	require.LessOrEqual(t, gotC2.CurrentLoad, gotC2.Capacity)
	require.Equal(t, len(assignments), gotC1.CurrentLoad+gotC2.CurrentLoad)
}

func TestListCouriersAndOrdersAreSnapshots(t *testing.T) {
	s := New()
	c, _ := s.CreateCourier(newCourierInput())
	_, _ = s.CreateOrder(newOrderInput())

	couriers := s.ListCouriers()
	require.Len(t, couriers, 1)

	_, err := s.PatchCourierStatus(c.ID, domain.CourierOffline)
	require.NoError(t, err)

	// The previously captured snapshot must not reflect later mutation.
	require.Equal(t, domain.CourierAvailable, couriers[0].Status)

	orders := s.ListOrders()
	require.Len(t, orders, 1)
}
