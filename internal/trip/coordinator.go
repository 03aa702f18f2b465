// Package trip implements the delivery trip lifecycle: the state machine, the location log
// and the coordinator that gates dispatch and return on the depot geofence.
package trip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/depot"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// DefaultSampleInterval is how often an active trip's location is sampled.
const DefaultSampleInterval = 30 * time.Second

// Coordinator runs lifecycle operations against the store, one at a time per trip.
type Coordinator struct {
	trips     Store
	images    ImageStore
	events    EventPublisher
	locations depot.LocationProvider

	// authoritative decides dispatch and return; views may be served from a cache
	authoritative *depot.Evaluator
	views         *depot.Evaluator

	sampler *Sampler
	locks   *keyedMutex
	now     func() time.Time
	newID   func() string
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithEvents publishes committed transitions.
func WithEvents(p EventPublisher) Option {
	return func(c *Coordinator) { c.events = p }
}

// WithCachedDepots serves read-only depot checks from a cached provider.
func WithCachedDepots(p depot.ConfigProvider) Option {
	return func(c *Coordinator) { c.views = depot.NewEvaluator(p) }
}

// WithSampleInterval overrides DefaultSampleInterval.
func WithSampleInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.sampler.interval = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator wires a coordinator. depots must read the source of truth, never a cache.
func NewCoordinator(trips Store, depots depot.ConfigProvider, images ImageStore, locations depot.LocationProvider, opts ...Option) *Coordinator {
	c := &Coordinator{
		trips:         trips,
		images:        images,
		locations:     locations,
		authoritative: depot.NewEvaluator(depots),
		locks:         newKeyedMutex(),
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
	}
	c.views = c.authoritative
	c.sampler = NewSampler(DefaultSampleInterval, locations, c.sampleFromProvider)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DispatchRequest starts a trip. Location is the fix reported with the request; when nil the
// coordinator's location provider is asked.
type DispatchRequest struct {
	DriverID     string
	OrgID        string
	VehicleID    string
	OrderID      string
	MeterReading int
	Location     *models.GeoPoint
}

// ReturnRequest closes a delivered trip at the depot.
type ReturnRequest struct {
	TripID            string
	FinalMeterReading int
	Location          *models.GeoPoint
}

// DeliveryImage is the proof-of-delivery photo to upload.
type DeliveryImage struct {
	Name    string
	Content io.Reader
}

func (r DispatchRequest) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"driver_id": r.DriverID, "org_id": r.OrgID, "vehicle_id": r.VehicleID, "order_id": r.OrderID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if r.MeterReading < 0 {
		return fmt.Errorf("%w: meter reading must not be negative", ErrValidation)
	}
	return validateReported(r.Location)
}

func validateReported(p *models.GeoPoint) error {
	if p == nil {
		return nil
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// locationFor prefers a fix reported with the request over the provider.
func (c *Coordinator) locationFor(reported *models.GeoPoint) depot.LocationProvider {
	if reported == nil {
		return c.locations
	}
	p := *reported
	return depot.LocationFunc(func(context.Context, string) (models.GeoPoint, error) { return p, nil })
}

// Dispatch creates a DISPATCHED trip when the driver is inside the depot and has no other active trip.
func (c *Coordinator) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	access := c.authoritative.Evaluate(ctx, req.OrgID, req.DriverID, c.locationFor(req.Location))

	unlock := c.locks.Lock(driverKey(req.DriverID))
	defer unlock()

	active, err := c.trips.GetActiveTrip(ctx, req.DriverID)
	if err != nil {
		return "", fmt.Errorf("%w: load active trip: %v", ErrPersistence, err)
	}

	draft := models.Trip{
		ID:        c.newID(),
		OrderID:   req.OrderID,
		DriverID:  req.DriverID,
		OrgID:     req.OrgID,
		VehicleID: req.VehicleID,
		Status:    models.TripStatusNone,
	}
	t, err := Apply(draft, Dispatch{
		MeterReading:  req.MeterReading,
		HasActiveTrip: active != nil,
		Access:        access,
	}, c.now())
	if err != nil {
		c.logRejected("dispatch", draft, err)
		return "", err
	}

	// a cancel of the new trip waits until it is sampled and announced
	unlockTrip := c.locks.Lock(tripKey(t.ID))
	defer unlockTrip()

	if err := c.trips.CreateTrip(ctx, t); err != nil {
		return "", fmt.Errorf("%w: create trip: %v", ErrPersistence, err)
	}

	c.sampler.Start(t.ID, t.DriverID)
	c.committed(ctx, t, nil)
	return t.ID, nil
}

// MarkDelivered uploads the delivery photo and moves the trip to DELIVERED.
// Nothing is transitioned when the upload fails.
func (c *Coordinator) MarkDelivered(ctx context.Context, tripID string, img DeliveryImage) (*models.Trip, error) {
	if strings.TrimSpace(img.Name) == "" || img.Content == nil {
		return nil, fmt.Errorf("%w: delivery image is required", ErrValidation)
	}

	cur, err := c.load(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if cur.CurrentStatus() != models.TripStatusDispatched {
		return nil, invalid(cur, MarkDelivered{})
	}

	ref, err := c.images.Upload(ctx, tripID, img.Name, img.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUpload, err)
	}

	t, err := c.transition(ctx, tripID, MarkDelivered{ImageRef: ref}, nil)
	if err != nil {
		if derr := c.images.Delete(ctx, ref); derr != nil {
			log.WithError(derr).WithField("image_ref", ref).Warn("Failed to remove orphaned delivery image")
		}
		return nil, err
	}
	return t, nil
}

// ReturnTrip closes a delivered trip at the depot and stores the metrics derived from its location log.
func (c *Coordinator) ReturnTrip(ctx context.Context, req ReturnRequest) (*models.Trip, error) {
	if err := validateReported(req.Location); err != nil {
		return nil, err
	}

	cur, err := c.load(ctx, req.TripID)
	if err != nil {
		return nil, err
	}
	if cur.CurrentStatus() != models.TripStatusDelivered {
		return nil, invalid(cur, Return{})
	}
	if err := checkFinalMeter(cur, req.FinalMeterReading); err != nil {
		return nil, err
	}

	access := c.authoritative.Evaluate(ctx, cur.OrgID, cur.DriverID, c.locationFor(req.Location))

	t, err := c.transition(ctx, req.TripID, Return{FinalMeterReading: req.FinalMeterReading, Access: access},
		func(next *models.Trip) error {
			samples, err := c.trips.GetLocationSamples(ctx, next.ID)
			if err != nil {
				return fmt.Errorf("%w: load location samples: %v", ErrPersistence, err)
			}
			metrics := NewLocationLog(samples...).Metrics()
			ApplyMetrics(next, metrics)
			logDataQuality(next.ID, metrics)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Cancel abandons a trip that has not been returned yet.
func (c *Coordinator) Cancel(ctx context.Context, tripID, cancelledBy string) (*models.Trip, error) {
	return c.transition(ctx, tripID, Cancel{CancelledBy: cancelledBy}, nil)
}

// AddLocationSample appends a fix to an open trip's log. Samples for returned or cancelled
// trips are dropped without error.
func (c *Coordinator) AddLocationSample(ctx context.Context, tripID string, p models.GeoPoint, capturedAt time.Time) error {
	return ignoreClosed(c.appendSample(ctx, tripID, "", p, capturedAt))
}

// AddDriverSample is AddLocationSample for a fix reported by driverID. It returns
// ErrNotTripDriver when the trip belongs to someone else.
func (c *Coordinator) AddDriverSample(ctx context.Context, driverID, tripID string, p models.GeoPoint, capturedAt time.Time) error {
	if strings.TrimSpace(driverID) == "" {
		return fmt.Errorf("%w: driver id is required", ErrValidation)
	}
	return ignoreClosed(c.appendSample(ctx, tripID, driverID, p, capturedAt))
}

// sampleFromProvider is the sampler's sink; it reports closed trips so the loop can end.
func (c *Coordinator) sampleFromProvider(ctx context.Context, tripID string, p models.GeoPoint, capturedAt time.Time) error {
	return c.appendSample(ctx, tripID, "", p, capturedAt)
}

// appendSample writes one fix under the trip lock. An empty driverID skips the owner check.
func (c *Coordinator) appendSample(ctx context.Context, tripID, driverID string, p models.GeoPoint, capturedAt time.Time) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if capturedAt.IsZero() {
		capturedAt = c.now()
	}

	unlock := c.locks.Lock(tripKey(tripID))
	defer unlock()

	cur, err := c.load(ctx, tripID)
	if err != nil {
		return err
	}
	if driverID != "" && cur.DriverID != driverID {
		log.WithFields(log.Fields{"trip_id": tripID, "driver_id": driverID}).Warn("Dropping location sample for another driver's trip")
		return ErrNotTripDriver
	}
	if !cur.CurrentStatus().IsOpen() {
		log.WithFields(log.Fields{"trip_id": tripID, "status": cur.Status}).Debug("Dropping late location sample")
		return errTripClosed
	}

	s := models.LocationSample{TripID: tripID, Lat: p.Lat, Lng: p.Lng, CapturedAt: capturedAt}
	if err := c.trips.AppendLocationSample(ctx, s); err != nil {
		return fmt.Errorf("%w: append location sample: %v", ErrPersistence, err)
	}
	return nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, errTripClosed) {
		return nil
	}
	return err
}

// Get returns a trip by id.
func (c *Coordinator) Get(ctx context.Context, tripID string) (*models.Trip, error) {
	return c.load(ctx, tripID)
}

// ActiveTrip returns the driver's active trip, or nil when there is none.
func (c *Coordinator) ActiveTrip(ctx context.Context, driverID string) (*models.Trip, error) {
	t, err := c.trips.GetActiveTrip(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("%w: load active trip: %v", ErrPersistence, err)
	}
	return t, nil
}

// CheckDepot evaluates depot access for display only. It may use cached depot configuration
// and must never be the basis of a state change.
func (c *Coordinator) CheckDepot(ctx context.Context, orgID, driverID string, reported *models.GeoPoint) (depot.Result, error) {
	if err := validateReported(reported); err != nil {
		return depot.Result{}, err
	}
	return c.views.Evaluate(ctx, orgID, driverID, c.locationFor(reported)), nil
}

// ResumeSampling restarts the sampling loops of trips that are still open, e.g. after a restart.
func (c *Coordinator) ResumeSampling(ctx context.Context) (int, error) {
	active, err := c.trips.ListActiveTrips(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list active trips: %v", ErrPersistence, err)
	}
	for _, t := range active {
		c.sampler.Start(t.ID, t.DriverID)
	}
	return len(active), nil
}

// Sampling reports whether a sampling loop runs for tripID.
func (c *Coordinator) Sampling(tripID string) bool {
	return c.sampler.Running(tripID)
}

// Shutdown stops every sampling loop.
func (c *Coordinator) Shutdown() {
	c.sampler.StopAll()
}

func (c *Coordinator) load(ctx context.Context, tripID string) (*models.Trip, error) {
	if strings.TrimSpace(tripID) == "" {
		return nil, fmt.Errorf("%w: trip id is required", ErrValidation)
	}
	t, err := c.trips.GetTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("%w: load trip: %v", ErrPersistence, err)
	}
	if t == nil {
		return nil, ErrTripNotFound
	}
	return t, nil
}

// transition applies ev under the trip lock: re-read, apply, optionally enrich, conditional write.
// Sampling is stopped and the event published after the lock is released.
func (c *Coordinator) transition(ctx context.Context, tripID string, ev Event, enrich func(*models.Trip) error) (*models.Trip, error) {
	next, err := c.commit(ctx, tripID, ev, enrich)
	if err != nil {
		return nil, err
	}

	if next.CurrentStatus().IsTerminal() {
		c.sampler.Stop(tripID)
	}
	c.committed(ctx, next, metricsOf(next))
	return &next, nil
}

func (c *Coordinator) commit(ctx context.Context, tripID string, ev Event, enrich func(*models.Trip) error) (models.Trip, error) {
	unlock := c.locks.Lock(tripKey(tripID))
	defer unlock()

	cur, err := c.load(ctx, tripID)
	if err != nil {
		return models.Trip{}, err
	}
	next, err := Apply(*cur, ev, c.now())
	if err != nil {
		c.logRejected(ev.Name(), *cur, err)
		return models.Trip{}, err
	}
	if enrich != nil {
		if err := enrich(&next); err != nil {
			return models.Trip{}, err
		}
	}

	ok, err := c.trips.UpdateTrip(ctx, next, cur.Status)
	if err != nil {
		return models.Trip{}, fmt.Errorf("%w: update trip: %v", ErrPersistence, err)
	}
	if !ok {
		return models.Trip{}, fmt.Errorf("%w: trip %s left status %s", ErrConcurrencyConflict, tripID, cur.Status)
	}
	return next, nil
}

func metricsOf(t models.Trip) *models.TripMetrics {
	if t.Status != models.TripStatusReturned || t.DistanceTravelledKm == nil {
		return nil
	}
	return &models.TripMetrics{
		TotalDistanceKm:      *t.DistanceTravelledKm,
		TotalDurationMinutes: *t.DurationMinutes,
		AverageSpeedKmh:      *t.AverageSpeedKmh,
		MaxSpeedKmh:          *t.MaxSpeedKmh,
	}
}

func (c *Coordinator) committed(ctx context.Context, t models.Trip, metrics *models.TripMetrics) {
	log.WithFields(log.Fields{
		"trip_id":   t.ID,
		"driver_id": t.DriverID,
		"org_id":    t.OrgID,
		"status":    t.Status,
	}).Info("Trip transition committed")

	if c.events == nil {
		return
	}
	if err := c.events.PublishTripEvent(ctx, t, metrics); err != nil {
		log.WithError(err).WithField("trip_id", t.ID).Warn("Failed to publish trip event")
	}
}

func (c *Coordinator) logRejected(action string, t models.Trip, err error) {
	log.WithError(err).WithFields(log.Fields{
		"action":    action,
		"trip_id":   t.ID,
		"driver_id": t.DriverID,
		"status":    t.CurrentStatus(),
	}).Info("Trip transition rejected")
}

func logDataQuality(tripID string, m models.TripMetrics) {
	if !m.Reordered && m.DuplicateTimestamps == 0 && !m.ClockSkew {
		return
	}
	log.WithFields(log.Fields{
		"trip_id":              tripID,
		"samples":              m.Samples,
		"reordered":            m.Reordered,
		"duplicate_timestamps": m.DuplicateTimestamps,
		"clock_skew":           m.ClockSkew,
	}).Warn("Location log has data-quality issues")
}
