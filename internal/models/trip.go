package models

import (
	"time"
)

// TripStatus is the lifecycle state of a delivery trip.
type TripStatus string

const (
	TripStatusNone       TripStatus = "NONE" // no trip dispatched yet
	TripStatusDispatched TripStatus = "DISPATCHED"
	TripStatusDelivered  TripStatus = "DELIVERED"
	TripStatusReturned   TripStatus = "RETURNED"
	TripStatusCancelled  TripStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusReturned || s == TripStatusCancelled
}

// IsOpen reports whether the trip is on the road (dispatched or delivered).
func (s TripStatus) IsOpen() bool {
	return s == TripStatusDispatched || s == TripStatusDelivered
}

// Trip represents one delivery run by a driver, from dispatch to return or cancellation.
type Trip struct {
	ID        string     `json:"id" bson:"_id"`
	OrderID   string     `json:"order_id" bson:"order_id"`
	DriverID  string     `json:"driver_id" bson:"driver_id"`
	OrgID     string     `json:"org_id" bson:"org_id"`
	VehicleID string     `json:"vehicle_id" bson:"vehicle_id"`
	Status    TripStatus `json:"status" bson:"status"`
	Active    bool       `json:"active" bson:"active"`

	InitialMeterReading *int `json:"initial_meter_reading,omitempty" bson:"initial_meter_reading,omitempty"`
	FinalMeterReading   *int `json:"final_meter_reading,omitempty" bson:"final_meter_reading,omitempty"`

	DistanceTravelledKm *float64 `json:"distance_travelled_km,omitempty" bson:"distance_travelled_km,omitempty"`
	DurationMinutes     *int     `json:"duration_minutes,omitempty" bson:"duration_minutes,omitempty"`
	AverageSpeedKmh     *float64 `json:"average_speed_kmh,omitempty" bson:"average_speed_kmh,omitempty"`
	MaxSpeedKmh         *float64 `json:"max_speed_kmh,omitempty" bson:"max_speed_kmh,omitempty"`

	DeliveryImageRef *string `json:"delivery_image_ref,omitempty" bson:"delivery_image_ref,omitempty"`
	CancelledBy      *string `json:"cancelled_by,omitempty" bson:"cancelled_by,omitempty"`

	DispatchedAt *time.Time `json:"dispatched_at,omitempty" bson:"dispatched_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty" bson:"delivered_at,omitempty"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty" bson:"returned_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// CurrentStatus returns the trip status, treating an unset status as NONE.
func (t *Trip) CurrentStatus() TripStatus {
	if t == nil || t.Status == "" {
		return TripStatusNone
	}
	return t.Status
}

// LocationSample is one GPS fix captured while a trip is on the road.
type LocationSample struct {
	TripID     string    `json:"trip_id" bson:"trip_id"`
	Lat        float64   `json:"lat" bson:"lat"`
	Lng        float64   `json:"lng" bson:"lng"`
	CapturedAt time.Time `json:"captured_at" bson:"captured_at"`
}

// Point returns the sample position.
func (s LocationSample) Point() GeoPoint {
	return GeoPoint{Lat: s.Lat, Lng: s.Lng}
}

// TripMetrics is derived from a trip's location log when the trip is returned.
type TripMetrics struct {
	TotalDistanceKm      float64 `json:"total_distance_km"`
	TotalDurationMinutes int     `json:"total_duration_minutes"`
	AverageSpeedKmh      float64 `json:"average_speed_kmh"`
	MaxSpeedKmh          float64 `json:"max_speed_kmh"`
	Samples              int     `json:"samples"`

	// Data-quality flags; none of them make the metrics invalid.
	Reordered           bool `json:"reordered,omitempty"`
	DuplicateTimestamps int  `json:"duplicate_timestamps,omitempty"`
	ClockSkew           bool `json:"clock_skew,omitempty"`
}
