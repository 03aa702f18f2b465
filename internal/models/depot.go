package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRadius is returned for a depot radius that is not positive.
var ErrInvalidRadius = errors.New("depot radius must be positive")

// DepotConfig is an organization's home base: a center point and a geofence radius.
type DepotConfig struct {
	OrgID        string    `bson:"_id" json:"org_id"`
	Location     GeoPoint  `bson:"location" json:"location"`
	RadiusMeters int       `bson:"radius_meters" json:"radius_meters"`
	CreatedBy    string    `bson:"created_by" json:"created_by"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// Validate checks the depot radius and center.
func (d DepotConfig) Validate() error {
	if d.RadiusMeters <= 0 {
		return ErrInvalidRadius
	}
	if err := d.Location.Validate(); err != nil {
		return fmt.Errorf("depot location: %w", err)
	}
	return nil
}
