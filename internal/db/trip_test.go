package db

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

func newTripCollection(t *testing.T) *MongoTripCollection {
	database := testDatabase(t)
	store, err := NewStore(database)
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndexes(context.Background()))
	return store.Trips
}

func dispatchedTrip(id, driverID string) models.Trip {
	now := time.Now().UTC().Truncate(time.Millisecond)
	meter := 1000
	return models.Trip{
		ID:                  id,
		DriverID:            driverID,
		OrgID:               "org-1",
		Status:              models.TripStatusDispatched,
		Active:              true,
		InitialMeterReading: &meter,
		DispatchedAt:        &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestMongoTripCollection_CreateAndGet(t *testing.T) {
	trips := newTripCollection(t)
	ctx := context.Background()

	missing, err := trips.GetTrip(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	tr := dispatchedTrip("trip-1", "driver-1")
	require.NoError(t, trips.CreateTrip(ctx, tr))

	found, err := trips.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tr.Status, found.Status)
	assert.Equal(t, 1000, *found.InitialMeterReading)

	active, err := trips.GetActiveTrip(ctx, "driver-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "trip-1", active.ID)

	list, err := trips.ListActiveTrips(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMongoTripCollection_OneActiveTripPerDriver(t *testing.T) {
	trips := newTripCollection(t)
	ctx := context.Background()

	require.NoError(t, trips.CreateTrip(ctx, dispatchedTrip("trip-1", "driver-1")))
	assert.Error(t, trips.CreateTrip(ctx, dispatchedTrip("trip-2", "driver-1")))
}

func TestMongoTripCollection_ConditionalUpdate(t *testing.T) {
	trips := newTripCollection(t)
	ctx := context.Background()

	tr := dispatchedTrip("trip-1", "driver-1")
	require.NoError(t, trips.CreateTrip(ctx, tr))

	cancelled := tr
	cancelled.Status = models.TripStatusCancelled
	cancelled.Active = false

	ok, err := trips.UpdateTrip(ctx, cancelled, models.TripStatusDispatched)
	require.NoError(t, err)
	assert.True(t, ok)

	// a second writer still expecting DISPATCHED loses
	delivered := tr
	delivered.Status = models.TripStatusDelivered
	ok, err = trips.UpdateTrip(ctx, delivered, models.TripStatusDispatched)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := trips.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, models.TripStatusCancelled, found.Status)

	active, err := trips.GetActiveTrip(ctx, "driver-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestMongoTripCollection_SamplesOrderedByCaptureTime(t *testing.T) {
	trips := newTripCollection(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{30 * time.Minute, 0, 15 * time.Minute} {
		require.NoError(t, trips.AppendLocationSample(ctx, models.LocationSample{
			TripID: "trip-1", Lat: 1, Lng: 2, CapturedAt: t0.Add(offset),
		}))
	}
	require.NoError(t, trips.AppendLocationSample(ctx, models.LocationSample{TripID: "other", CapturedAt: t0}))

	samples, err := trips.GetLocationSamples(ctx, "trip-1")
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.True(t, samples[0].CapturedAt.Equal(t0))
	assert.True(t, samples[2].CapturedAt.Equal(t0.Add(30*time.Minute)))
}

func TestMongoDepotCollection(t *testing.T) {
	database := testDatabase(t)
	depots := &MongoDepotCollection{Collection: database.Collection(DepotsCollection)}
	ctx := context.Background()

	none, err := depots.GetDepot(ctx, "org-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	cfg := models.DepotConfig{OrgID: "org-1", Location: models.GeoPoint{Lat: 37.7749, Lng: -122.4194}, RadiusMeters: 100, CreatedBy: "admin-1"}
	require.NoError(t, depots.UpsertDepot(ctx, cfg))
	first, err := depots.GetDepot(ctx, "org-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.False(t, first.CreatedAt.IsZero())

	time.Sleep(5 * time.Millisecond)
	cfg.RadiusMeters = 250
	cfg.CreatedBy = "admin-2"
	require.NoError(t, depots.UpsertDepot(ctx, cfg))

	found, err := depots.GetDepot(ctx, "org-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 250, found.RadiusMeters)
	assert.InDelta(t, 37.7749, found.Location.Lat, 1e-9)
	// an update keeps who created the depot and when
	assert.True(t, first.CreatedAt.Equal(found.CreatedAt))
	assert.Equal(t, "admin-1", found.CreatedBy)
	assert.True(t, found.UpdatedAt.After(first.UpdatedAt))

	deleted, err := depots.DeleteDepot(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = depots.DeleteDepot(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMongoOTPCollection(t *testing.T) {
	database := testDatabase(t)
	otps := &MongoOTPCollection{Collection: database.Collection(OTPCollectionName)}
	ctx := context.Background()

	ch := models.OTPChallenge{Phone: "+15550100", CodeHash: "hash", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, otps.SaveChallenge(ctx, ch))
	require.NoError(t, otps.IncrementAttempts(ctx, ch.Phone))

	found, err := otps.FindChallenge(ctx, ch.Phone)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 1, found.Attempts)

	// a new request resets the challenge
	require.NoError(t, otps.SaveChallenge(ctx, ch))
	found, err = otps.FindChallenge(ctx, ch.Phone)
	require.NoError(t, err)
	assert.Equal(t, 0, found.Attempts)

	require.NoError(t, otps.DeleteChallenge(ctx, ch.Phone))
	found, err = otps.FindChallenge(ctx, ch.Phone)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestGridFSImageStore(t *testing.T) {
	database := testDatabase(t)
	images, err := NewGridFSImageStore(database)
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := images.Upload(ctx, "trip-1", "proof.jpg", bytes.NewReader([]byte("jpeg bytes")))
	require.NoError(t, err)
	assert.Contains(t, ref, imageRefPrefix)

	rc, err := images.Open(ctx, ref)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "jpeg bytes", string(body))

	require.NoError(t, images.Delete(ctx, ref))
	_, err = images.Open(ctx, ref)
	assert.Error(t, err)
}
