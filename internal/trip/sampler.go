package trip

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/depot"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// SampleSink receives fixes captured by the sampler. Returning errTripClosed or
// ErrTripNotFound ends the trip's loop.
type SampleSink func(ctx context.Context, tripID string, p models.GeoPoint, capturedAt time.Time) error

// FixSource is a LocationProvider that also knows when its latest fix was captured.
type FixSource interface {
	LatestFix(ctx context.Context, driverID string) (models.GeoPoint, time.Time, error)
}

// Sampler runs one periodic location-sampling loop per active trip.
type Sampler struct {
	interval  time.Duration
	locations depot.LocationProvider
	sink      SampleSink

	mu      sync.Mutex
	running map[string]*samplingRun
	wg      sync.WaitGroup
}

type samplingRun struct {
	cancel context.CancelFunc
}

// NewSampler creates a sampler that polls locations every interval and hands fixes to sink.
func NewSampler(interval time.Duration, locations depot.LocationProvider, sink SampleSink) *Sampler {
	return &Sampler{
		interval:  interval,
		locations: locations,
		sink:      sink,
		running:   make(map[string]*samplingRun),
	}
}

// Start launches the loop for tripID. Starting a trip that is already sampled is a no-op.
func (s *Sampler) Start(tripID, driverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[tripID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &samplingRun{cancel: cancel}
	s.running[tripID] = run
	s.wg.Add(1)
	go s.loop(ctx, run, tripID, driverID)

	log.WithFields(log.Fields{"trip_id": tripID, "driver_id": driverID, "interval": s.interval}).Info("Location sampling started")
}

// Stop cancels the loop for tripID. A sample already in flight may still complete.
func (s *Sampler) Stop(tripID string) {
	s.mu.Lock()
	run, ok := s.running[tripID]
	delete(s.running, tripID)
	s.mu.Unlock()

	if ok {
		run.cancel()
		log.WithField("trip_id", tripID).Info("Location sampling stopped")
	}
}

// Running reports whether tripID is being sampled.
func (s *Sampler) Running(tripID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[tripID]
	return ok
}

// StopAll cancels every loop and waits for them to exit.
func (s *Sampler) StopAll() {
	s.mu.Lock()
	for id, run := range s.running {
		run.cancel()
		delete(s.running, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// latest returns the driver's fix and its capture time. Providers that cannot tell when a
// fix was taken are stamped with the current time.
func (s *Sampler) latest(ctx context.Context, driverID string) (models.GeoPoint, time.Time, error) {
	if src, ok := s.locations.(FixSource); ok {
		return src.LatestFix(ctx, driverID)
	}
	p, err := s.locations.CurrentLocation(ctx, driverID)
	return p, time.Now(), err
}

// retire removes run from the table unless a newer loop replaced it.
func (s *Sampler) retire(tripID string, run *samplingRun) {
	s.mu.Lock()
	if s.running[tripID] == run {
		delete(s.running, tripID)
	}
	s.mu.Unlock()
	run.cancel()
}

func (s *Sampler) loop(ctx context.Context, run *samplingRun, tripID, driverID string) {
	defer s.wg.Done()

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		p, capturedAt, err := s.latest(ctx, driverID)
		if err != nil {
			log.WithError(err).WithField("trip_id", tripID).Debug("No location fix for sample")
			continue
		}
		// no new fix since the last tick
		if !capturedAt.After(last) {
			continue
		}

		// a stop must not abort a sample that is already being written
		err = s.sink(context.WithoutCancel(ctx), tripID, p, capturedAt)
		switch {
		case errors.Is(err, errTripClosed), errors.Is(err, ErrTripNotFound):
			log.WithField("trip_id", tripID).Info("Trip closed, location sampling ends")
			s.retire(tripID, run)
			return
		case err != nil:
			log.WithError(err).WithField("trip_id", tripID).Warn("Failed to record location sample")
		default:
			last = capturedAt
		}
	}
}
