package handlers

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/depot"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// DepotChecker runs the driver-facing depot check.
type DepotChecker interface {
	CheckDepot(ctx context.Context, orgID, driverID string, reported *models.GeoPoint) (depot.Result, error)
}

// CacheInvalidator drops a cached depot configuration.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, orgID string) error
}

// DepotHandler serves depot configuration and check-in endpoints.
type DepotHandler struct {
	depots  db.DepotCollection
	checker DepotChecker
	cache   CacheInvalidator
}

// NewDepotHandler creates a depot handler. cache may be nil.
func NewDepotHandler(depots db.DepotCollection, checker DepotChecker, cache CacheInvalidator) *DepotHandler {
	return &DepotHandler{depots: depots, checker: checker, cache: cache}
}

// DepotRequest configures an organization's depot.
type DepotRequest struct {
	Location     models.GeoPoint `json:"location"`
	RadiusMeters int             `json:"radius_meters"`
}

// CheckRequest carries an optional fix reported by the driver's device.
type CheckRequest struct {
	Location *models.GeoPoint `json:"location,omitempty"`
}

// CheckResponse is the outcome of a depot check.
type CheckResponse struct {
	depot.Result
	Granted bool   `json:"granted"`
	Summary string `json:"summary"`
}

// GetDepot returns the depot of the organization in the path.
func (h *DepotHandler) GetDepot(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("orgID")

	cfg, err := h.depots.GetDepot(r.Context(), orgID)
	if err != nil {
		log.WithError(err).WithField("org_id", orgID).Error("Failed to load depot")
		writeError(w, http.StatusBadGateway, "Failed to load depot")
		return
	}
	if cfg == nil {
		writeError(w, http.StatusNotFound, "No depot configured")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// PutDepot creates or replaces the depot of the organization in the path.
func (h *DepotHandler) PutDepot(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	var req DepotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cfg := models.DepotConfig{
		OrgID:        r.PathValue("orgID"),
		Location:     req.Location,
		RadiusMeters: req.RadiusMeters,
		CreatedBy:    claims.UserID,
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.depots.UpsertDepot(r.Context(), cfg); err != nil {
		log.WithError(err).WithField("org_id", cfg.OrgID).Error("Failed to save depot")
		writeError(w, http.StatusBadGateway, "Failed to save depot")
		return
	}
	h.invalidate(r.Context(), cfg.OrgID)

	log.WithFields(log.Fields{
		"org_id":        cfg.OrgID,
		"radius_meters": cfg.RadiusMeters,
		"user_id":       claims.UserID,
	}).Info("Depot configured")

	saved, err := h.depots.GetDepot(r.Context(), cfg.OrgID)
	if err != nil || saved == nil {
		writeJSON(w, http.StatusOK, cfg)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// DeleteDepot removes the depot of the organization in the path.
func (h *DepotHandler) DeleteDepot(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("orgID")

	deleted, err := h.depots.DeleteDepot(r.Context(), orgID)
	if err != nil {
		log.WithError(err).WithField("org_id", orgID).Error("Failed to delete depot")
		writeError(w, http.StatusBadGateway, "Failed to delete depot")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "No depot configured")
		return
	}
	h.invalidate(r.Context(), orgID)

	w.WriteHeader(http.StatusNoContent)
}

// Check tells the calling driver whether they are inside their organization's depot.
func (h *DepotHandler) Check(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	var req CheckRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.checker.CheckDepot(r.Context(), claims.OrgID, claims.UserID, req.Location)
	if err != nil {
		writeTripError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckResponse{Result: res, Granted: res.Granted(), Summary: res.Describe()})
}

func (h *DepotHandler) invalidate(ctx context.Context, orgID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, orgID); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).WithField("org_id", orgID).Warn("Failed to invalidate depot cache")
	}
}
