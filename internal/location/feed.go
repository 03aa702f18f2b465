// Package location tracks the latest GPS fix reported by each driver.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/depot"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/trip"
)

// DefaultMaxAge is how long a fix is trusted for depot checks.
const DefaultMaxAge = 2 * time.Minute

// ErrStaleFix is returned when the latest fix is older than the feed's max age.
var ErrStaleFix = errors.New("location fix is stale")

// Fix is a driver position report as published on drivers/<id>/location.
type Fix struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	CapturedAt time.Time `json:"captured_at"`
	TripID     string    `json:"trip_id,omitempty"`
}

// SampleRecorder appends a fix reported by driverID to a trip's location log.
type SampleRecorder func(ctx context.Context, driverID, tripID string, p models.GeoPoint, capturedAt time.Time) error

var (
	_ depot.LocationProvider = (*Feed)(nil)
	_ trip.FixSource         = (*Feed)(nil)
)

// Feed keeps the latest fix per driver.
type Feed struct {
	maxAge time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	latest map[string]Fix

	record SampleRecorder
}

// NewFeed creates a feed that trusts fixes for maxAge (DefaultMaxAge when zero).
func NewFeed(maxAge time.Duration) *Feed {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Feed{maxAge: maxAge, now: time.Now, latest: make(map[string]Fix)}
}

// ForwardTo makes fixes that name a trip also land in that trip's location log.
func (f *Feed) ForwardTo(record SampleRecorder) {
	f.record = record
}

// Update records a fix for driverID. Older fixes never replace newer ones.
func (f *Feed) Update(ctx context.Context, driverID string, fix Fix) error {
	p := models.GeoPoint{Lat: fix.Lat, Lng: fix.Lng}
	if err := p.Validate(); err != nil {
		return err
	}
	if fix.CapturedAt.IsZero() {
		fix.CapturedAt = f.now()
	}

	f.mu.Lock()
	if prev, ok := f.latest[driverID]; !ok || !fix.CapturedAt.Before(prev.CapturedAt) {
		f.latest[driverID] = fix
	}
	f.mu.Unlock()

	if fix.TripID == "" || f.record == nil {
		return nil
	}
	err := f.record(ctx, driverID, fix.TripID, p, fix.CapturedAt)
	switch {
	case errors.Is(err, trip.ErrTripNotFound):
		log.WithFields(log.Fields{"driver_id": driverID, "trip_id": fix.TripID}).Debug("Fix names an unknown trip")
		return nil
	case errors.Is(err, trip.ErrNotTripDriver):
		log.WithFields(log.Fields{"driver_id": driverID, "trip_id": fix.TripID}).Warn("Fix names another driver's trip")
		return nil
	}
	return err
}

// CurrentLocation returns the driver's latest fix if it is fresh enough.
func (f *Feed) CurrentLocation(ctx context.Context, driverID string) (models.GeoPoint, error) {
	p, _, err := f.LatestFix(ctx, driverID)
	return p, err
}

// LatestFix is CurrentLocation plus the time the fix was captured.
func (f *Feed) LatestFix(ctx context.Context, driverID string) (models.GeoPoint, time.Time, error) {
	f.mu.RLock()
	fix, ok := f.latest[driverID]
	f.mu.RUnlock()

	if !ok {
		return models.GeoPoint{}, time.Time{}, depot.ErrLocationUnavailable
	}
	if age := f.now().Sub(fix.CapturedAt); age > f.maxAge {
		return models.GeoPoint{}, time.Time{}, fmt.Errorf("%w: last fix %s old", ErrStaleFix, age.Round(time.Second))
	}
	return models.GeoPoint{Lat: fix.Lat, Lng: fix.Lng}, fix.CapturedAt, nil
}

// HandleMessage decodes a fix published on drivers/<id>/location.
func (f *Feed) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	driverID, err := DriverFromTopic(topic)
	if err != nil {
		return err
	}
	var fix Fix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return fmt.Errorf("decode fix: %w", err)
	}
	return f.Update(ctx, driverID, fix)
}

// DriverFromTopic extracts the driver id from drivers/<id>/location.
func DriverFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "drivers" || parts[2] != "location" || parts[1] == "" {
		return "", fmt.Errorf("unexpected location topic %q", topic)
	}
	return parts[1], nil
}

// Topic returns the topic a driver publishes fixes on.
func Topic(driverID string) string {
	return "drivers/" + driverID + "/location"
}
