package scoring

import (
	"testing"

	"fleetroute/dispatch/internal/domain"
	"github.com/stretchr/testify/require"
)

func baseCourier() domain.Courier {
	return domain.Courier{
		ID:          "courier-1",
		Location:    domain.Location{Lat: 52.52, Lng: 13.405},
		Capacity:    5,
		CurrentLoad: 0,
		Rating:      4.8,
		Status:      domain.CourierAvailable,
	}
}

func baseOrder() domain.Order {
	return domain.Order{
		ID:       "order-1",
		Pickup:   domain.Location{Lat: 52.51, Lng: 13.39},
		Dropoff:  domain.Location{Lat: 52.54, Lng: 13.42},
		Priority: domain.PriorityUrgent,
		Status:   domain.OrderPending,
	}
}

func TestScoreWithinUnitRange(t *testing.T) {
	s := Score(baseCourier(), baseOrder())
	require.GreaterOrEqual(t, s, 0.0)
	require.LessOrEqual(t, s, 1.0)
}

func TestScoreMonotoneNonIncreasingInDistance(t *testing.T) {
	order := baseOrder()
	near := baseCourier()
	near.Location = order.Pickup

	far := baseCourier()
	far.Location = domain.Location{Lat: 10, Lng: 10}

	require.Greater(t, Score(near, order), Score(far, order))
}

func TestScoreMonotoneNonIncreasingInLoad(t *testing.T) {
	order := baseOrder()
	idle := baseCourier()
	idle.CurrentLoad = 0

	loaded := baseCourier()
	loaded.CurrentLoad = 4

	require.Greater(t, Score(idle, order), Score(loaded, order))
}

func TestScoreNonDecreasingInRating(t *testing.T) {
	order := baseOrder()
	low := baseCourier()
	low.Rating = 1.0

	high := baseCourier()
	high.Rating = 5.0

	require.Greater(t, Score(high, order), Score(low, order))
}

func TestScoreNonDecreasingInPriorityRank(t *testing.T) {
	courier := baseCourier()

	lowPriority := baseOrder()
	lowPriority.Priority = domain.PriorityLow

	urgent := baseOrder()
	urgent.Priority = domain.PriorityUrgent

	require.Greater(t, Score(courier, urgent), Score(courier, lowPriority))
}

func TestScoreDeterministic(t *testing.T) {
	c := baseCourier()
	o := baseOrder()
	require.Equal(t, Score(c, o), Score(c, o))
}
