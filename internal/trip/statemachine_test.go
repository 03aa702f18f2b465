package trip

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/depot"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	granted = depot.Result{Decision: depot.AccessGranted}
	denied  = depot.Result{
		Decision:       depot.AccessDenied,
		Depot:          &models.DepotConfig{RadiusMeters: 100},
		DistanceMeters: 1400,
	}
)

func tripIn(status models.TripStatus) models.Trip {
	initial := 1000
	t := models.Trip{ID: "trip-1", DriverID: "driver-1", Status: status}
	if status != models.TripStatusNone {
		t.InitialMeterReading = &initial
		t.Active = status.IsOpen()
	}
	return t
}

func TestApply_Transitions(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		from   models.TripStatus
		event  Event
		want   models.TripStatus
		active bool
	}{
		{"dispatch", models.TripStatusNone, Dispatch{MeterReading: 1000, Access: granted}, models.TripStatusDispatched, true},
		{"deliver", models.TripStatusDispatched, MarkDelivered{ImageRef: "img"}, models.TripStatusDelivered, true},
		{"return", models.TripStatusDelivered, Return{FinalMeterReading: 1000, Access: granted}, models.TripStatusReturned, false},
		{"cancel dispatched", models.TripStatusDispatched, Cancel{CancelledBy: "driver-1"}, models.TripStatusCancelled, false},
		{"cancel delivered", models.TripStatusDelivered, Cancel{CancelledBy: "admin"}, models.TripStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Apply(tripIn(tt.from), tt.event, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.Status)
			assert.Equal(t, tt.active, next.Active)
			assert.Equal(t, now, next.UpdatedAt)
		})
	}
}

func TestApply_InvalidPairs(t *testing.T) {
	events := []Event{
		Dispatch{MeterReading: 1000, Access: granted},
		MarkDelivered{ImageRef: "img"},
		Return{FinalMeterReading: 2000, Access: granted},
		Cancel{CancelledBy: "x"},
	}
	allowed := map[models.TripStatus]map[string]bool{
		models.TripStatusNone:       {"dispatch": true},
		models.TripStatusDispatched: {"mark_delivered": true, "cancel": true},
		models.TripStatusDelivered:  {"return": true, "cancel": true},
		models.TripStatusReturned:   {},
		models.TripStatusCancelled:  {},
	}

	for status, ok := range allowed {
		for _, ev := range events {
			if ok[ev.Name()] {
				continue
			}
			t.Run(string(status)+"/"+ev.Name(), func(t *testing.T) {
				in := tripIn(status)
				out, err := Apply(in, ev, time.Now())
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, in, out)
			})
		}
	}
}

func TestApply_DispatchGuards(t *testing.T) {
	now := time.Now()
	in := tripIn(models.TripStatusNone)

	_, err := Apply(in, Dispatch{MeterReading: -5, Access: granted}, now)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Apply(in, Dispatch{MeterReading: 10, HasActiveTrip: true, Access: granted}, now)
	assert.ErrorIs(t, err, ErrDriverHasActiveTrip)

	out, err := Apply(in, Dispatch{MeterReading: 10, Access: denied}, now)
	assert.ErrorIs(t, err, ErrGeofenceDenied)
	assert.Equal(t, in, out)

	var gerr *GeofenceError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "depot access denied: you are 1.4km from the depot (allowed 100m)", gerr.Error())
}

func TestApply_ReturnGuards(t *testing.T) {
	now := time.Now()
	in := tripIn(models.TripStatusDelivered)

	_, err := Apply(in, Return{FinalMeterReading: 999, Access: granted}, now)
	assert.ErrorIs(t, err, ErrValidation)

	out, err := Apply(in, Return{FinalMeterReading: 1200, Access: depot.Result{Decision: depot.LocationUnavailable}}, now)
	assert.ErrorIs(t, err, ErrGeofenceDenied)
	assert.Equal(t, in, out)

	_, err = Apply(in, Return{FinalMeterReading: 1200, Access: depot.Result{Decision: depot.Error, Message: "boom"}}, now)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrGeofenceDenied)
}

func TestApply_DeliverNeedsImage(t *testing.T) {
	_, err := Apply(tripIn(models.TripStatusDispatched), MarkDelivered{ImageRef: "  "}, time.Now())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApply_CancelRecordsActor(t *testing.T) {
	now := time.Now()
	out, err := Apply(tripIn(models.TripStatusDispatched), Cancel{CancelledBy: "driverX"}, now)
	require.NoError(t, err)
	assert.Equal(t, "driverX", *out.CancelledBy)
	assert.Equal(t, now, *out.CancelledAt)
}

func TestApplyMetrics(t *testing.T) {
	tr := tripIn(models.TripStatusReturned)
	ApplyMetrics(&tr, models.TripMetrics{TotalDistanceKm: 5, TotalDurationMinutes: 30, AverageSpeedKmh: 10, MaxSpeedKmh: 12})
	assert.Equal(t, 5.0, *tr.DistanceTravelledKm)
	assert.Equal(t, 30, *tr.DurationMinutes)
	assert.Equal(t, 10.0, *tr.AverageSpeedKmh)
	assert.Equal(t, 12.0, *tr.MaxSpeedKmh)
}
