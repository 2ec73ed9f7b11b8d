package geo

import (
	"testing"

	"fleetroute/dispatch/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDistanceKMZeroForIdenticalPoints(t *testing.T) {
	berlin := domain.Location{Lat: 52.52, Lng: 13.405}
	require.InDelta(t, 0.0, DistanceKM(berlin, berlin), 1e-9)
}

func TestDistanceKMKnownRoute(t *testing.T) {
	// Berlin Alexanderplatz to Berlin Tegel, roughly 9.5km apart.
	alexanderplatz := domain.Location{Lat: 52.5219, Lng: 13.4132}
	tegel := domain.Location{Lat: 52.5598, Lng: 13.2877}

	d := DistanceKM(alexanderplatz, tegel)
	require.InDelta(t, 9.5, d, 1.5)
}

func TestDistanceKMSymmetric(t *testing.T) {
	a := domain.Location{Lat: 10, Lng: 20}
	b := domain.Location{Lat: -5, Lng: 100}
	require.InDelta(t, DistanceKM(a, b), DistanceKM(b, a), 1e-9)
}

func TestDistanceKMAntipodal(t *testing.T) {
	a := domain.Location{Lat: 0, Lng: 0}
	b := domain.Location{Lat: 0, Lng: 180}
	require.InDelta(t, EarthRadiusKM*3.14159265358979, DistanceKM(a, b), 1.0)
}
