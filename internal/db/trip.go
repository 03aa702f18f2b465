package db

import (
	"context"
	"errors"

	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/trip"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ trip.Store = (*MongoTripCollection)(nil)

// MongoTripCollection stores trips and their location samples.
type MongoTripCollection struct {
	Collection *mongo.Collection
	Samples    *mongo.Collection
}

// CreateTrip inserts a new trip.
func (c *MongoTripCollection) CreateTrip(ctx context.Context, t models.Trip) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.InsertOne(ctx, t)
	return err
}

// GetTrip finds a trip by its ID.
func (c *MongoTripCollection) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	return c.findOne(ctx, bson.M{"_id": id})
}

// GetActiveTrip finds the driver's dispatched or delivered trip.
func (c *MongoTripCollection) GetActiveTrip(ctx context.Context, driverID string) (*models.Trip, error) {
	return c.findOne(ctx, bson.M{"driver_id": driverID, "active": true})
}

func (c *MongoTripCollection) findOne(ctx context.Context, filter bson.M) (*models.Trip, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var t models.Trip
	err := c.Collection.FindOne(ctx, filter).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTrip replaces the trip document only while its status still equals expected.
func (c *MongoTripCollection) UpdateTrip(ctx context.Context, t models.Trip, expected models.TripStatus) (bool, error) {
	if c.Collection == nil {
		return false, errNilCollection
	}
	result, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": t.ID, "status": expected}, t)
	if err != nil {
		return false, err
	}
	return result.MatchedCount == 1, nil
}

// ListActiveTrips returns every trip that is still on the road.
func (c *MongoTripCollection) ListActiveTrips(ctx context.Context) ([]models.Trip, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	cursor, err := c.Collection.Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	trips := []models.Trip{}
	if err := cursor.All(ctx, &trips); err != nil {
		return nil, err
	}
	return trips, nil
}

// AppendLocationSample inserts one fix into the samples collection. The unique
// one_sample_per_fix index turns a repeated fix into a no-op.
func (c *MongoTripCollection) AppendLocationSample(ctx context.Context, s models.LocationSample) error {
	if c.Samples == nil {
		return errNilCollection
	}
	_, err := c.Samples.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// GetLocationSamples returns a trip's fixes ordered by capture time.
func (c *MongoTripCollection) GetLocationSamples(ctx context.Context, tripID string) ([]models.LocationSample, error) {
	if c.Samples == nil {
		return nil, errNilCollection
	}
	opts := options.Find().SetSort(bson.D{{Key: "captured_at", Value: 1}})
	cursor, err := c.Samples.Find(ctx, bson.M{"trip_id": tripID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	samples := []models.LocationSample{}
	if err := cursor.All(ctx, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}
