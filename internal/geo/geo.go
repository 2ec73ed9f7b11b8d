// Package geo computes great-circle distances between the Location
// points used by couriers and orders.
package geo

import (
	"math"

	"fleetroute/dispatch/internal/domain"
)

// EarthRadiusKM is the mean Earth radius used by the haversine formula.
const EarthRadiusKM = 6371.0

// DistanceKM returns the haversine great-circle distance between a and b
// in kilometres. Pure and total: every Location satisfying domain's
// latitude/longitude invariant produces a finite, non-negative result.
func DistanceKM(a, b domain.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLng := math.Sin(dLng / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLng*sinDLng
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKM * c
}
