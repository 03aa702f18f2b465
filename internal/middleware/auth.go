package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	UserContextKey contextKey = "user"
)

// AuthMiddleware guards routes with bearer tokens issued by the auth service
type AuthMiddleware struct {
	authService *auth.Service
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authService *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Authenticate validates the bearer token and stores its claims in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			deny(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		token, err := m.authService.ExtractTokenFromHeader(header)
		if err != nil {
			deny(w, http.StatusUnauthorized, "Bearer token required")
			return
		}
		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			log.WithError(err).WithField("path", r.URL.Path).Debug("Rejected bearer token")
			deny(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, claims)))
	})
}

// guard runs allow against the caller's claims; Authenticate must run first.
func guard(next http.Handler, allow func(r *http.Request, c *models.Claims) (int, string)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r.Context())
		if !ok {
			deny(w, http.StatusUnauthorized, "User context not found")
			return
		}
		if status, msg := allow(r, claims); status != 0 {
			deny(w, status, msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission admits callers whose role grants action.
func (m *AuthMiddleware) RequirePermission(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return guard(next, func(r *http.Request, c *models.Claims) (int, string) {
			if !(&models.User{Role: c.Role}).HasPermission(action) {
				log.WithFields(log.Fields{"user_id": c.UserID, "role": c.Role, "action": action}).Info("Permission denied")
				return http.StatusForbidden, "Insufficient permissions"
			}
			return 0, ""
		})
	}
}

// RequireOrg middleware requires a token scoped to an organization. When the route
// carries an {orgID} wildcard it must match the selected organization.
func (m *AuthMiddleware) RequireOrg(next http.Handler) http.Handler {
	return guard(next, func(r *http.Request, c *models.Claims) (int, string) {
		if c.OrgID == "" {
			return http.StatusForbidden, "Select an organization first"
		}
		if orgID := r.PathValue("orgID"); orgID != "" && orgID != c.OrgID {
			log.WithFields(log.Fields{"user_id": c.UserID, "org_id": orgID}).Warn("Cross-organization request refused")
			return http.StatusForbidden, "Organization mismatch"
		}
		return 0, ""
	})
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*models.Claims)
	return claims, ok
}

// RateLimiter allows limit requests per client in each fixed window.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*bucket
	swept   time.Time
}

type bucket struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter of limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, now: time.Now, clients: make(map[string]*bucket)}
}

// Allow counts one request from client and reports whether it is admitted, and if not,
// how long until the window resets.
func (l *RateLimiter) Allow(client string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) >= l.window {
		for k, b := range l.clients {
			if now.Sub(b.start) >= l.window {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	b, ok := l.clients[client]
	if !ok || now.Sub(b.start) >= l.window {
		l.clients[client] = &bucket{start: now, count: 1}
		return true, 0
	}
	if b.count >= l.limit {
		return false, b.start.Add(l.window).Sub(now)
	}
	b.count++
	return true, 0
}

// Limit rejects clients over the limit with 429 and a Retry-After header.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		ok, wait := l.Allow(client)
		if !ok {
			log.WithFields(log.Fields{"client_ip": client, "path": r.URL.Path}).Warn("Rate limit exceeded")
			secs := int(wait.Round(time.Second) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			deny(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Info("HTTP request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
