package trip

import (
	"fmt"
	"strings"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/depot"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Event is a lifecycle action applied to a trip.
type Event interface {
	Name() string
	apply(t *models.Trip, now time.Time) error
}

// Dispatch sends a trip out from the depot.
type Dispatch struct {
	MeterReading  int
	HasActiveTrip bool
	Access        depot.Result
}

// MarkDelivered records proof of delivery.
type MarkDelivered struct {
	ImageRef string
}

// Return brings the vehicle back to the depot.
type Return struct {
	FinalMeterReading int
	Access            depot.Result
}

// Cancel abandons an open trip.
type Cancel struct {
	CancelledBy string
}

func (Dispatch) Name() string      { return "dispatch" }
func (MarkDelivered) Name() string { return "mark_delivered" }
func (Return) Name() string        { return "return" }
func (Cancel) Name() string        { return "cancel" }

// Apply runs ev against a copy of t. On error the returned trip is the unchanged input.
func Apply(t models.Trip, ev Event, now time.Time) (models.Trip, error) {
	next := t
	if err := ev.apply(&next, now); err != nil {
		return t, err
	}
	next.UpdatedAt = now
	return next, nil
}

func invalid(t *models.Trip, ev Event) error {
	return fmt.Errorf("%w: cannot %s a trip in status %s", ErrInvalidTransition, ev.Name(), t.CurrentStatus())
}

func (ev Dispatch) apply(t *models.Trip, now time.Time) error {
	if t.CurrentStatus() != models.TripStatusNone {
		return invalid(t, ev)
	}
	if ev.MeterReading < 0 {
		return fmt.Errorf("%w: meter reading must not be negative", ErrValidation)
	}
	if ev.HasActiveTrip {
		return ErrDriverHasActiveTrip
	}
	if !ev.Access.Granted() {
		return &GeofenceError{Result: ev.Access}
	}

	meter := ev.MeterReading
	t.Status = models.TripStatusDispatched
	t.Active = true
	t.InitialMeterReading = &meter
	t.DispatchedAt = &now
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	return nil
}

func (ev MarkDelivered) apply(t *models.Trip, now time.Time) error {
	if t.CurrentStatus() != models.TripStatusDispatched {
		return invalid(t, ev)
	}
	if strings.TrimSpace(ev.ImageRef) == "" {
		return fmt.Errorf("%w: delivery image is required", ErrValidation)
	}

	ref := ev.ImageRef
	t.Status = models.TripStatusDelivered
	t.DeliveryImageRef = &ref
	t.DeliveredAt = &now
	return nil
}

func (ev Return) apply(t *models.Trip, now time.Time) error {
	if t.CurrentStatus() != models.TripStatusDelivered {
		return invalid(t, ev)
	}
	if err := checkFinalMeter(t, ev.FinalMeterReading); err != nil {
		return err
	}
	if !ev.Access.Granted() {
		return &GeofenceError{Result: ev.Access}
	}

	meter := ev.FinalMeterReading
	t.Status = models.TripStatusReturned
	t.Active = false
	t.FinalMeterReading = &meter
	t.ReturnedAt = &now
	return nil
}

func (ev Cancel) apply(t *models.Trip, now time.Time) error {
	if !t.CurrentStatus().IsOpen() {
		return invalid(t, ev)
	}

	by := ev.CancelledBy
	t.Status = models.TripStatusCancelled
	t.Active = false
	t.CancelledBy = &by
	t.CancelledAt = &now
	return nil
}

func checkFinalMeter(t *models.Trip, final int) error {
	if final < 0 {
		return fmt.Errorf("%w: meter reading must not be negative", ErrValidation)
	}
	if t.InitialMeterReading != nil && final < *t.InitialMeterReading {
		return fmt.Errorf("%w: final meter reading %d is below initial reading %d",
			ErrValidation, final, *t.InitialMeterReading)
	}
	return nil
}

// ApplyMetrics copies derived metrics onto a returned trip.
func ApplyMetrics(t *models.Trip, m models.TripMetrics) {
	distance := m.TotalDistanceKm
	duration := m.TotalDurationMinutes
	avg := m.AverageSpeedKmh
	top := m.MaxSpeedKmh
	t.DistanceTravelledKm = &distance
	t.DurationMinutes = &duration
	t.AverageSpeedKmh = &avg
	t.MaxSpeedKmh = &top
}
