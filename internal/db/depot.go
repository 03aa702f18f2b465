package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDepotCollection implements DepotCollection for MongoDB. Depots are keyed by organization.
type MongoDepotCollection struct {
	Collection *mongo.Collection
}

// GetDepot returns the organization's depot, or nil when none is configured.
func (c *MongoDepotCollection) GetDepot(ctx context.Context, orgID string) (*models.DepotConfig, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var cfg models.DepotConfig
	err := c.Collection.FindOne(ctx, bson.M{"_id": orgID}).Decode(&cfg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertDepot creates or updates the organization's depot. The creation time and
// creator of an existing depot are kept.
func (c *MongoDepotCollection) UpsertDepot(ctx context.Context, cfg models.DepotConfig) error {
	if c.Collection == nil {
		return errNilCollection
	}
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"location":      cfg.Location,
			"radius_meters": cfg.RadiusMeters,
			"updated_at":    now,
		},
		"$setOnInsert": bson.M{
			"created_by": cfg.CreatedBy,
			"created_at": now,
		},
	}
	_, err := c.Collection.UpdateOne(ctx, bson.M{"_id": cfg.OrgID}, update, options.Update().SetUpsert(true))
	return err
}

// DeleteDepot removes the organization's depot and reports whether one existed.
func (c *MongoDepotCollection) DeleteDepot(ctx context.Context, orgID string) (bool, error) {
	if c.Collection == nil {
		return false, errNilCollection
	}
	result, err := c.Collection.DeleteOne(ctx, bson.M{"_id": orgID})
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}
