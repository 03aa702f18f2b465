package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/location"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/trip"
)

// maxImageSize bounds a delivery photo upload.
const maxImageSize = 10 << 20

// TripService is the trip lifecycle as seen by the HTTP layer.
type TripService interface {
	Dispatch(ctx context.Context, req trip.DispatchRequest) (string, error)
	MarkDelivered(ctx context.Context, tripID string, img trip.DeliveryImage) (*models.Trip, error)
	ReturnTrip(ctx context.Context, req trip.ReturnRequest) (*models.Trip, error)
	Cancel(ctx context.Context, tripID, cancelledBy string) (*models.Trip, error)
	AddLocationSample(ctx context.Context, tripID string, p models.GeoPoint, capturedAt time.Time) error
	Get(ctx context.Context, tripID string) (*models.Trip, error)
	ActiveTrip(ctx context.Context, driverID string) (*models.Trip, error)
}

// LocationUpdater records the latest fix of a driver.
type LocationUpdater interface {
	Update(ctx context.Context, driverID string, fix location.Fix) error
}

// ImageOpener reads stored delivery photos.
type ImageOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// TripHandler serves the trip lifecycle endpoints.
type TripHandler struct {
	trips     TripService
	locations LocationUpdater
	images    ImageOpener
}

// NewTripHandler creates a trip handler. locations and images may be nil.
func NewTripHandler(trips TripService, locations LocationUpdater, images ImageOpener) *TripHandler {
	return &TripHandler{trips: trips, locations: locations, images: images}
}

// DispatchRequest starts a trip for the calling driver.
type DispatchRequest struct {
	VehicleID    string           `json:"vehicle_id"`
	OrderID      string           `json:"order_id"`
	MeterReading int              `json:"meter_reading"`
	Location     *models.GeoPoint `json:"location,omitempty"`
}

// ReturnRequest closes a delivered trip.
type ReturnRequest struct {
	FinalMeterReading int              `json:"final_meter_reading"`
	Location          *models.GeoPoint `json:"location,omitempty"`
}

// LocationFix is one position report of a trip.
type LocationFix struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	CapturedAt time.Time `json:"captured_at"`
}

// LocationBatch carries the fixes a device collected since its last upload.
type LocationBatch struct {
	Fixes []LocationFix `json:"fixes"`
}

// DispatchResponse is returned for a new trip.
type DispatchResponse struct {
	TripID string       `json:"trip_id"`
	Trip   *models.Trip `json:"trip,omitempty"`
}

// Dispatch starts a trip for the calling driver in their selected organization.
func (h *TripHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	var req DispatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.trips.Dispatch(r.Context(), trip.DispatchRequest{
		DriverID:     claims.UserID,
		OrgID:        claims.OrgID,
		VehicleID:    req.VehicleID,
		OrderID:      req.OrderID,
		MeterReading: req.MeterReading,
		Location:     req.Location,
	})
	if err != nil {
		writeTripError(w, err)
		return
	}

	resp := DispatchResponse{TripID: id}
	if t, err := h.trips.Get(r.Context(), id); err == nil {
		resp.Trip = t
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetActive returns the calling driver's active trip, or null.
func (h *TripHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	t, err := h.trips.ActiveTrip(r.Context(), claims.UserID)
	if err != nil {
		writeTripError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetTrip returns one trip.
func (h *TripHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, ok := h.authorizedTrip(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Deliver accepts the proof-of-delivery photo as the multipart field "image".
func (h *TripHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	t, ok := h.authorizedTrip(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+(1<<20))
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		writeError(w, http.StatusBadRequest, "image must be an image")
		return
	}

	updated, err := h.trips.MarkDelivered(r.Context(), t.ID, trip.DeliveryImage{Name: header.Filename, Content: file})
	if err != nil {
		writeTripError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Return closes a delivered trip at the depot.
func (h *TripHandler) Return(w http.ResponseWriter, r *http.Request) {
	t, ok := h.authorizedTrip(w, r)
	if !ok {
		return
	}

	var req ReturnRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.trips.ReturnTrip(r.Context(), trip.ReturnRequest{
		TripID:            t.ID,
		FinalMeterReading: req.FinalMeterReading,
		Location:          req.Location,
	})
	if err != nil {
		writeTripError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Cancel abandons a trip on behalf of the caller.
func (h *TripHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	t, ok := h.authorizedTrip(w, r)
	if !ok {
		return
	}
	claims, _ := middleware.GetUserFromContext(r.Context())

	updated, err := h.trips.Cancel(r.Context(), t.ID, claims.UserID)
	if err != nil {
		writeTripError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// AddLocations appends a batch of fixes to the trip's location log. The newest fix also
// becomes the driver's current location.
func (h *TripHandler) AddLocations(w http.ResponseWriter, r *http.Request) {
	t, ok := h.authorizedTrip(w, r)
	if !ok {
		return
	}

	var batch LocationBatch
	if !decodeJSON(w, r, &batch) {
		return
	}
	if len(batch.Fixes) == 0 {
		writeError(w, http.StatusBadRequest, "fixes must not be empty")
		return
	}

	// one bad fix rejects the whole batch before anything is recorded
	for i, fix := range batch.Fixes {
		if err := (models.GeoPoint{Lat: fix.Lat, Lng: fix.Lng}).Validate(); err != nil {
			writeTripError(w, fmt.Errorf("fix %d: %w: %v", i, trip.ErrValidation, err))
			return
		}
	}

	var newest *LocationFix
	for i, fix := range batch.Fixes {
		if err := h.trips.AddLocationSample(r.Context(), t.ID, models.GeoPoint{Lat: fix.Lat, Lng: fix.Lng}, fix.CapturedAt); err != nil {
			writeTripError(w, fmt.Errorf("fix %d: %w", i, err))
			return
		}
		if newest == nil || fix.CapturedAt.After(newest.CapturedAt) {
			newest = &batch.Fixes[i]
		}
	}

	if h.locations != nil && !newest.CapturedAt.IsZero() {
		err := h.locations.Update(r.Context(), t.DriverID, location.Fix{Lat: newest.Lat, Lng: newest.Lng, CapturedAt: newest.CapturedAt})
		if err != nil {
			log.WithError(err).WithField("driver_id", t.DriverID).Warn("Failed to update current location")
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(batch.Fixes)})
}

// GetImage streams the proof-of-delivery photo of a trip.
func (h *TripHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	t, ok := h.authorizedTrip(w, r)
	if !ok {
		return
	}
	if h.images == nil || t.DeliveryImageRef == nil {
		writeError(w, http.StatusNotFound, "No delivery image")
		return
	}

	img, err := h.images.Open(r.Context(), *t.DeliveryImageRef)
	if err != nil {
		log.WithError(err).WithField("trip_id", t.ID).Error("Failed to open delivery image")
		writeError(w, http.StatusBadGateway, "Failed to load delivery image")
		return
	}
	defer img.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, img); err != nil {
		log.WithError(err).WithField("trip_id", t.ID).Warn("Delivery image download interrupted")
	}
}

// ReportLocation records the caller's current position without touching any trip log.
func (h *TripHandler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}
	if h.locations == nil {
		writeError(w, http.StatusNotImplemented, "Location feed disabled")
		return
	}

	var fix LocationFix
	if !decodeJSON(w, r, &fix) {
		return
	}
	if err := (models.GeoPoint{Lat: fix.Lat, Lng: fix.Lng}).Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fix.CapturedAt.IsZero() {
		fix.CapturedAt = time.Now()
	}

	if err := h.locations.Update(r.Context(), claims.UserID, location.Fix{Lat: fix.Lat, Lng: fix.Lng, CapturedAt: fix.CapturedAt}); err != nil {
		log.WithError(err).WithField("driver_id", claims.UserID).Warn("Failed to update current location")
		writeError(w, http.StatusInternalServerError, "Failed to record location")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizedTrip loads the trip in the path. Trips of other organizations are reported as
// missing; drivers may only touch their own trips.
func (h *TripHandler) authorizedTrip(w http.ResponseWriter, r *http.Request) (*models.Trip, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return nil, false
	}

	t, err := h.trips.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTripError(w, err)
		return nil, false
	}
	if t.OrgID != claims.OrgID {
		writeTripError(w, trip.ErrTripNotFound)
		return nil, false
	}
	if claims.Role != models.RoleAdmin && t.DriverID != claims.UserID {
		writeError(w, http.StatusForbidden, "Trip belongs to another driver")
		return nil, false
	}
	return t, true
}
