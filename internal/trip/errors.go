package trip

import (
	"errors"

	"github.com/ukydev/fleet-dispatch/internal/depot"
)

var (
	// ErrValidation is returned for bad input, before any state change.
	ErrValidation = errors.New("validation failed")

	// ErrGeofenceDenied is returned when the driver is not cleared by the depot check.
	ErrGeofenceDenied = errors.New("depot access denied")

	// ErrPersistence is returned when a store read or write fails.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidTransition is returned when an event is not allowed from the trip's current status.
	ErrInvalidTransition = errors.New("invalid trip transition")

	// ErrConcurrencyConflict is returned when another writer changed the trip first.
	ErrConcurrencyConflict = errors.New("trip modified concurrently")

	// ErrTripNotFound is returned when no trip exists for an id.
	ErrTripNotFound = errors.New("trip not found")

	// ErrDriverHasActiveTrip is returned when a driver tries to dispatch a second trip.
	ErrDriverHasActiveTrip = errors.New("driver already has an active trip")

	// ErrImageUpload is returned when the delivery image could not be stored.
	ErrImageUpload = errors.New("delivery image upload failed")

	// ErrNotTripDriver is returned when a driver reports a fix for another driver's trip.
	ErrNotTripDriver = errors.New("trip belongs to another driver")

	// errTripClosed ends a sampling loop once its trip is returned or cancelled.
	errTripClosed = errors.New("trip is closed")
)

// GeofenceError carries the depot evaluation that blocked a dispatch or return.
type GeofenceError struct {
	Result depot.Result
}

func (e *GeofenceError) Error() string {
	return "depot access denied: " + e.Result.Describe()
}

// Is matches ErrGeofenceDenied for actionable outcomes and ErrPersistence when the
// depot configuration itself could not be read.
func (e *GeofenceError) Is(target error) bool {
	if e.Result.Decision == depot.Error {
		return target == ErrPersistence
	}
	return target == ErrGeofenceDenied
}
