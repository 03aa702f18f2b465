package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/handlers"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
)

// routerDeps holds everything the HTTP routes need.
type routerDeps struct {
	Auth   *handlers.AuthHandler
	Depots *handlers.DepotHandler
	Trips  *handlers.TripHandler
	Guard  *middleware.AuthMiddleware
	Health func(ctx context.Context) error
}

// newRouter registers every route on a ServeMux and wraps it in request logging.
func newRouter(d routerDeps) http.Handler {
	mux := http.NewServeMux()

	otpRequests := middleware.NewRateLimiter(5, time.Minute)
	otpVerifications := middleware.NewRateLimiter(10, time.Minute)

	authed := func(h http.HandlerFunc) http.Handler {
		return d.Guard.Authenticate(h)
	}
	scoped := func(action string, h http.HandlerFunc) http.Handler {
		return d.Guard.Authenticate(d.Guard.RequireOrg(d.Guard.RequirePermission(action)(h)))
	}

	// Public
	mux.HandleFunc("GET /health", healthHandler(d.Health))
	mux.Handle("POST /api/auth/otp/request", otpRequests.Limit(http.HandlerFunc(d.Auth.RequestOTP)))
	mux.Handle("POST /api/auth/otp/verify", otpVerifications.Limit(http.HandlerFunc(d.Auth.VerifyOTP)))

	// Session
	mux.Handle("GET /api/auth/me", authed(d.Auth.GetProfile))
	mux.Handle("PUT /api/auth/me", authed(d.Auth.UpdateProfile))
	mux.Handle("POST /api/auth/org", authed(d.Auth.SelectOrg))

	// Organization administration
	mux.Handle("GET /api/orgs/{orgID}/depot", scoped("view_depot", d.Depots.GetDepot))
	mux.Handle("PUT /api/orgs/{orgID}/depot", scoped("manage_depot", d.Depots.PutDepot))
	mux.Handle("DELETE /api/orgs/{orgID}/depot", scoped("manage_depot", d.Depots.DeleteDepot))
	mux.Handle("POST /api/orgs/{orgID}/users", scoped("manage_users", d.Auth.RegisterMember))

	// Driver
	mux.Handle("POST /api/depot/check", scoped("check_depot", d.Depots.Check))
	mux.Handle("POST /api/location", scoped("update_trip", d.Trips.ReportLocation))
	mux.Handle("POST /api/trips", scoped("dispatch_trip", d.Trips.Dispatch))
	mux.Handle("GET /api/trips/active", scoped("view_trips", d.Trips.GetActive))
	mux.Handle("GET /api/trips/{id}", scoped("view_trips", d.Trips.GetTrip))
	mux.Handle("GET /api/trips/{id}/image", scoped("view_trips", d.Trips.GetImage))
	mux.Handle("POST /api/trips/{id}/deliver", scoped("update_trip", d.Trips.Deliver))
	mux.Handle("POST /api/trips/{id}/return", scoped("update_trip", d.Trips.Return))
	mux.Handle("POST /api/trips/{id}/cancel", scoped("update_trip", d.Trips.Cancel))
	mux.Handle("POST /api/trips/{id}/locations", scoped("update_trip", d.Trips.AddLocations))

	return middleware.RequestLogger(mux)
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := map[string]string{"status": "ok"}

		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				log.WithError(err).Warn("Health check failed")
				status = map[string]string{"status": "unavailable", "error": err.Error()}
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}
		json.NewEncoder(w).Encode(status)
	}
}
