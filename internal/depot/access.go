// Package depot decides whether a driver is inside their organization's depot geofence.
package depot

import (
	"context"
	"errors"
	"fmt"

	"github.com/ukydev/fleet-dispatch/internal/geo"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	// ErrLocationUnavailable is returned by a LocationProvider that has no fix.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrPermissionDenied is returned by a LocationProvider the driver has not granted access to.
	ErrPermissionDenied = errors.New("location permission denied")
)

// LocationProvider returns a driver's current position.
type LocationProvider interface {
	CurrentLocation(ctx context.Context, driverID string) (models.GeoPoint, error)
}

// ConfigProvider returns an organization's depot, or nil when none is configured.
type ConfigProvider interface {
	GetDepot(ctx context.Context, orgID string) (*models.DepotConfig, error)
}

// LocationFunc adapts a function to LocationProvider.
type LocationFunc func(ctx context.Context, driverID string) (models.GeoPoint, error)

// CurrentLocation calls f.
func (f LocationFunc) CurrentLocation(ctx context.Context, driverID string) (models.GeoPoint, error) {
	return f(ctx, driverID)
}

// Decision enumerates the outcomes of an access evaluation.
type Decision string

const (
	AccessGranted       Decision = "ACCESS_GRANTED"
	AccessDenied        Decision = "ACCESS_DENIED"
	NoDepotConfigured   Decision = "NO_DEPOT_CONFIGURED"
	LocationUnavailable Decision = "LOCATION_UNAVAILABLE"
	Error               Decision = "ERROR"
)

// Result is the outcome of an evaluation. Location and Depot are set for Granted and Denied.
type Result struct {
	Decision       Decision            `json:"decision"`
	Location       *models.GeoPoint    `json:"location,omitempty"`
	Depot          *models.DepotConfig `json:"depot,omitempty"`
	DistanceMeters float64             `json:"distance_meters,omitempty"`
	Message        string              `json:"message,omitempty"`
}

// Granted reports whether the driver is inside the geofence.
func (r Result) Granted() bool {
	return r.Decision == AccessGranted
}

// Describe renders a driver-facing explanation of the result.
func (r Result) Describe() string {
	switch r.Decision {
	case AccessGranted:
		return "inside depot"
	case AccessDenied:
		return fmt.Sprintf("you are %s from the depot (allowed %s)",
			geo.FormatDistance(r.DistanceMeters), geo.FormatDistance(float64(r.Depot.RadiusMeters)))
	case NoDepotConfigured:
		return "no depot configured for this organization"
	case LocationUnavailable:
		return "current location unavailable"
	default:
		return "depot check failed: " + r.Message
	}
}

// Evaluator decides depot access from a live location and a depot configuration.
type Evaluator struct {
	depots ConfigProvider
}

// NewEvaluator creates an evaluator backed by the given depot provider.
func NewEvaluator(depots ConfigProvider) *Evaluator {
	return &Evaluator{depots: depots}
}

// Evaluate fetches the depot for orgID and the driver's location, then compares them.
func (e *Evaluator) Evaluate(ctx context.Context, orgID, driverID string, locations LocationProvider) Result {
	cfg, err := e.depots.GetDepot(ctx, orgID)
	if err != nil {
		return Result{Decision: Error, Message: err.Error()}
	}
	if cfg == nil {
		return Result{Decision: NoDepotConfigured}
	}

	loc, err := locations.CurrentLocation(ctx, driverID)
	// any failure to obtain a fix, including a denied permission, is reported the same way
	if err != nil {
		return Result{Decision: LocationUnavailable, Depot: cfg, Message: err.Error()}
	}
	if err := loc.Validate(); err != nil {
		return Result{Decision: LocationUnavailable, Depot: cfg, Message: err.Error()}
	}

	distance := geo.DistanceMeters(loc, cfg.Location)
	res := Result{Location: &loc, Depot: cfg, DistanceMeters: distance}
	if geo.IsWithinRadius(loc, cfg.Location, float64(cfg.RadiusMeters)) {
		res.Decision = AccessGranted
	} else {
		res.Decision = AccessDenied
	}
	return res
}
