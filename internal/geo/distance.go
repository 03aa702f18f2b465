// Package geo provides great-circle distance and geofence containment helpers.
package geo

import (
	"fmt"
	"math"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points using the Haversine formula.
func DistanceMeters(a, b models.GeoPoint) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push s marginally above 1 for antipodal points
	if s > 1 {
		s = 1
	}
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return EarthRadiusMeters * c
}

// IsWithinRadius reports whether point lies inside the circle around center. The boundary is inclusive.
func IsWithinRadius(point, center models.GeoPoint, radiusMeters float64) bool {
	return DistanceMeters(point, center) <= radiusMeters
}

// FormatDistance renders meters as "850m" below one kilometer and "1.5km" above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", int(meters))
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
