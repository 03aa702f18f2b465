package db

import (
	"context"
	"errors"

	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoOTPCollection implements OTPCollection for MongoDB.
// Expired challenges are removed by the TTL index on expires_at.
type MongoOTPCollection struct {
	Collection *mongo.Collection
}

// SaveChallenge stores the challenge, replacing any pending one for the same phone.
func (c *MongoOTPCollection) SaveChallenge(ctx context.Context, ch models.OTPChallenge) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": ch.Phone}, ch, options.Replace().SetUpsert(true))
	return err
}

// FindChallenge returns the pending challenge for phone, or nil when there is none.
func (c *MongoOTPCollection) FindChallenge(ctx context.Context, phone string) (*models.OTPChallenge, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var ch models.OTPChallenge
	err := c.Collection.FindOne(ctx, bson.M{"_id": phone}).Decode(&ch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// IncrementAttempts counts a failed verification.
func (c *MongoOTPCollection) IncrementAttempts(ctx context.Context, phone string) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.UpdateOne(ctx, bson.M{"_id": phone}, bson.M{"$inc": bson.M{"attempts": 1}})
	return err
}

// DeleteChallenge removes the challenge for phone.
func (c *MongoOTPCollection) DeleteChallenge(ctx context.Context, phone string) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.DeleteOne(ctx, bson.M{"_id": phone})
	return err
}
