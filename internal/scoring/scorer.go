// Package scoring implements the pure multi-factor composite score the
// Engine uses to rank eligible couriers against a pending order.
package scoring

import (
	"fleetroute/dispatch/internal/domain"
	"fleetroute/dispatch/internal/geo"
)

const (
	weightDistance = 0.40
	weightLoad     = 0.30
	weightRating   = 0.20
	weightPriority = 0.10
)

// Score computes the composite score in [0,1] for assigning order to
// courier. It is a pure function: no I/O, deterministic given its inputs.
func Score(courier domain.Courier, order domain.Order) float64 {
	distanceKM := geo.DistanceKM(courier.Location, order.Pickup)
	distanceScore := 1 / (1 + distanceKM)

	loadScore := 0.0
	if courier.Capacity > 0 {
		loadScore = 1 - float64(courier.CurrentLoad)/float64(courier.Capacity)
	}

	ratingScore := courier.Rating / 5.0

	priorityScore := order.Priority.Weight()

	return weightDistance*distanceScore +
		weightLoad*loadScore +
		weightRating*ratingScore +
		weightPriority*priorityScore
}
