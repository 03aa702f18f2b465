package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/depot"
	"github.com/ukydev/fleet-dispatch/internal/trip"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// GeofenceResponse is returned when a dispatch or return is refused by the depot check.
type GeofenceResponse struct {
	Error          string         `json:"error"`
	Decision       depot.Decision `json:"decision"`
	DistanceMeters float64        `json:"distance_meters,omitempty"`
	RadiusMeters   int            `json:"radius_meters,omitempty"`
	Message        string         `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

// writeError sends an error response.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

// writeTripError maps trip lifecycle errors to HTTP responses.
func writeTripError(w http.ResponseWriter, err error) {
	var gerr *trip.GeofenceError
	if errors.As(err, &gerr) && errors.Is(err, trip.ErrGeofenceDenied) {
		resp := GeofenceResponse{
			Error:          trip.ErrGeofenceDenied.Error(),
			Decision:       gerr.Result.Decision,
			DistanceMeters: gerr.Result.DistanceMeters,
			Message:        gerr.Result.Describe(),
		}
		if gerr.Result.Depot != nil {
			resp.RadiusMeters = gerr.Result.Depot.RadiusMeters
		}
		writeJSON(w, http.StatusForbidden, resp)
		return
	}

	code := mapErrorToHTTPStatus(err)
	if code >= http.StatusInternalServerError {
		log.WithError(err).Error("Trip request failed")
	}
	writeError(w, code, err.Error())
}

// mapErrorToHTTPStatus maps trip errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, trip.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, trip.ErrTripNotFound):
		return http.StatusNotFound
	case errors.Is(err, trip.ErrGeofenceDenied), errors.Is(err, trip.ErrNotTripDriver):
		return http.StatusForbidden
	case errors.Is(err, trip.ErrInvalidTransition),
		errors.Is(err, trip.ErrConcurrencyConflict),
		errors.Is(err, trip.ErrDriverHasActiveTrip):
		return http.StatusConflict
	case errors.Is(err, trip.ErrPersistence):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}
