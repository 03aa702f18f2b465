package trip

import (
	"math"
	"sort"
	"sync"

	"github.com/ukydev/fleet-dispatch/internal/geo"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// LocationLog accumulates the GPS fixes of one trip.
type LocationLog struct {
	mu      sync.Mutex
	samples []models.LocationSample
}

// NewLocationLog creates a log seeded with existing samples.
func NewLocationLog(samples ...models.LocationSample) *LocationLog {
	l := &LocationLog{}
	l.samples = append(l.samples, samples...)
	return l
}

// Append adds a sample to the end of the log.
func (l *LocationLog) Append(s models.LocationSample) {
	l.mu.Lock()
	l.samples = append(l.samples, s)
	l.mu.Unlock()
}

// Len returns the number of samples.
func (l *LocationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

// Samples returns a copy of the logged samples in arrival order.
func (l *LocationLog) Samples() []models.LocationSample {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.LocationSample, len(l.samples))
	copy(out, l.samples)
	return out
}

// Metrics reduces the log to trip metrics.
func (l *LocationLog) Metrics() models.TripMetrics {
	return ComputeMetrics(l.Samples())
}

// ComputeMetrics derives distance, duration and speeds from a set of samples.
// Samples are sorted by capture time first, so the result does not depend on arrival order.
func ComputeMetrics(samples []models.LocationSample) models.TripMetrics {
	m := models.TripMetrics{Samples: len(samples)}
	if len(samples) < 2 {
		return m
	}

	sorted := make([]models.LocationSample, len(samples))
	copy(sorted, samples)
	m.Reordered = !sort.SliceIsSorted(sorted, func(i, j int) bool {
		return sorted[i].CapturedAt.Before(sorted[j].CapturedAt)
	})
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CapturedAt.Before(sorted[j].CapturedAt)
	})

	var totalMeters float64
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		segMeters := geo.DistanceMeters(prev.Point(), cur.Point())
		totalMeters += segMeters

		segHours := cur.CapturedAt.Sub(prev.CapturedAt).Hours()
		if segHours <= 0 {
			m.DuplicateTimestamps++
			continue
		}
		if speed := segMeters / 1000 / segHours; speed > m.MaxSpeedKmh {
			m.MaxSpeedKmh = speed
		}
	}

	minutes := int(math.Floor(sorted[len(sorted)-1].CapturedAt.Sub(sorted[0].CapturedAt).Minutes()))
	if minutes < 0 {
		m.ClockSkew = true
		minutes = 0
	}

	m.TotalDistanceKm = totalMeters / 1000
	m.TotalDurationMinutes = minutes
	if minutes > 0 {
		m.AverageSpeedKmh = m.TotalDistanceKm / (float64(minutes) / 60)
	}
	return m
}
