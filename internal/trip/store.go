package trip

import (
	"context"
	"io"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Store persists trips and their location samples.
type Store interface {
	CreateTrip(ctx context.Context, t models.Trip) error
	// GetTrip returns nil, nil when no trip has the id.
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	// GetActiveTrip returns nil, nil when the driver has no active trip.
	GetActiveTrip(ctx context.Context, driverID string) (*models.Trip, error)
	// UpdateTrip writes t only if the stored status still equals expected.
	// It reports false when another writer got there first.
	UpdateTrip(ctx context.Context, t models.Trip, expected models.TripStatus) (bool, error)
	ListActiveTrips(ctx context.Context) ([]models.Trip, error)
	// AppendLocationSample stores s once; appending an identical sample again is a no-op.
	AppendLocationSample(ctx context.Context, s models.LocationSample) error
	// GetLocationSamples returns the samples of a trip ordered by capture time.
	GetLocationSamples(ctx context.Context, tripID string) ([]models.LocationSample, error)
}

// ImageStore keeps proof-of-delivery photos.
type ImageStore interface {
	Upload(ctx context.Context, tripID, name string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// EventPublisher announces committed lifecycle transitions.
type EventPublisher interface {
	PublishTripEvent(ctx context.Context, t models.Trip, metrics *models.TripMetrics) error
}
