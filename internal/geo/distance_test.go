package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	sanFrancisco = models.GeoPoint{Lat: 37.7749, Lng: -122.4194}
	london       = models.GeoPoint{Lat: 51.5074, Lng: -0.1278}
	paris        = models.GeoPoint{Lat: 48.8566, Lng: 2.3522}
)

func TestDistanceMeters_KnownPairs(t *testing.T) {
	// London to Paris is roughly 343.5km
	assert.InDelta(t, 343500, DistanceMeters(london, paris), 1500)

	// 0.01 degrees of latitude is about 1.11km anywhere
	north := models.GeoPoint{Lat: sanFrancisco.Lat + 0.01, Lng: sanFrancisco.Lng}
	assert.InDelta(t, 1111.9, DistanceMeters(sanFrancisco, north), 1)
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	points := []models.GeoPoint{
		sanFrancisco, london, paris,
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 0, Lng: 179.9},
		{Lat: 0, Lng: -179.9},
		{Lat: 90, Lng: 0},
	}

	for _, a := range points {
		for _, b := range points {
			assert.InDelta(t, DistanceMeters(a, b), DistanceMeters(b, a), 1e-6)
		}
		assert.InDelta(t, 0, DistanceMeters(a, a), 0.1)
	}
}

func TestDistanceMeters_Antipodal(t *testing.T) {
	d := DistanceMeters(models.GeoPoint{Lat: 0, Lng: 0}, models.GeoPoint{Lat: 0, Lng: 180})
	assert.InDelta(t, 20015086, d, 10)
}

func TestIsWithinRadius(t *testing.T) {
	nearby := models.GeoPoint{Lat: 37.7849, Lng: -122.4294}
	d := DistanceMeters(nearby, sanFrancisco)

	assert.True(t, IsWithinRadius(sanFrancisco, sanFrancisco, 100))
	assert.False(t, IsWithinRadius(nearby, sanFrancisco, 100))
	assert.True(t, IsWithinRadius(nearby, sanFrancisco, 2000))

	// boundary is inclusive
	assert.True(t, IsWithinRadius(nearby, sanFrancisco, d))
	assert.False(t, IsWithinRadius(nearby, sanFrancisco, d-0.001))
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters float64
		want   string
	}{
		{0, "0m"},
		{12.7, "12m"},
		{999, "999m"},
		{999.9, "999m"},
		{1000, "1.0km"},
		{1500, "1.5km"},
		{1449, "1.4km"},
		{12345, "12.3km"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDistance(tt.meters))
		})
	}
}
