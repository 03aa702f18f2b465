package handlers

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// OTPFlow issues and checks one-time codes.
type OTPFlow interface {
	Request(ctx context.Context, phone string) error
	Verify(ctx context.Context, phone, code string) error
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService    *auth.Service
	otp            OTPFlow
	userCollection db.UserCollection
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, otp OTPFlow, userCollection db.UserCollection) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		otp:            otp,
		userCollection: userCollection,
	}
}

// RequestOTP sends a login code to a registered phone number. The response does not reveal
// whether the number is registered.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req models.OTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	phone, err := auth.NormalizePhone(req.Phone)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted := map[string]string{"message": "If the number is registered, a code has been sent"}

	user, err := h.userCollection.FindUserByPhone(r.Context(), phone)
	if err != nil {
		log.WithError(err).Error("Failed to look up user by phone")
		writeError(w, http.StatusInternalServerError, "Failed to request code")
		return
	}
	if user == nil || !user.IsActive {
		log.WithField("phone", phone).Info("OTP requested for unknown or inactive user")
		writeJSON(w, http.StatusAccepted, accepted)
		return
	}

	if err := h.otp.Request(r.Context(), phone); err != nil {
		log.WithError(err).WithField("user_id", user.ID.Hex()).Error("Failed to send OTP")
		writeError(w, http.StatusBadGateway, "Failed to send code")
		return
	}

	writeJSON(w, http.StatusAccepted, accepted)
}

// VerifyOTP exchanges a valid code for a token. Users with exactly one organization get a
// token already scoped to it.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req models.OTPVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	phone, err := auth.NormalizePhone(req.Phone)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "Code is required")
		return
	}

	if err := h.otp.Verify(r.Context(), phone, req.Code); err != nil {
		switch {
		case errors.Is(err, auth.ErrTooManyAttempts):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, auth.ErrInvalidCode), errors.Is(err, auth.ErrCodeExpired):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			log.WithError(err).Error("Failed to verify OTP")
			writeError(w, http.StatusInternalServerError, "Failed to verify code")
		}
		return
	}

	user, err := h.userCollection.FindUserByPhone(r.Context(), phone)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusForbidden, auth.ErrUserInactive.Error())
		return
	}

	orgID := ""
	if len(user.OrgIDs) == 1 {
		orgID = user.OrgIDs[0]
	}
	token, err := h.authService.GenerateToken(user, orgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID.Hex()); err != nil {
		log.WithError(err).WithField("user_id", user.ID.Hex()).Warn("Failed to update last login")
	}

	log.WithFields(log.Fields{"user_id": user.ID.Hex(), "org_id": orgID}).Info("User logged in")
	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, User: *user})
}

// SelectOrg re-issues the caller's token scoped to one of their organizations.
func (h *AuthHandler) SelectOrg(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	var req models.SelectOrgRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusForbidden, auth.ErrUserInactive.Error())
		return
	}

	token, err := h.authService.GenerateToken(user, req.OrgID)
	if errors.Is(err, auth.ErrOrgNotAllowed) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, User: *user})
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile updates the current user's display name
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	var updateReq struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &updateReq) {
		return
	}
	if updateReq.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	user.Name = updateReq.Name
	if err := h.userCollection.UpdateUser(r.Context(), claims.UserID, *user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Profile updated successfully"})
}

// RegisterMemberRequest adds a phone number to an organization.
type RegisterMemberRequest struct {
	Phone string      `json:"phone"`
	Name  string      `json:"name"`
	Role  models.Role `json:"role"`
}

// RegisterMember adds a user to the organization in the path, creating the user when the phone
// number is new. Admin only.
func (h *AuthHandler) RegisterMember(w http.ResponseWriter, r *http.Request) {
	var req RegisterMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	phone, err := auth.NormalizePhone(req.Phone)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = models.RoleDriver
	}
	if !models.IsValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	user, created, err := EnsureMember(r.Context(), h.userCollection, phone, req.Name, req.Role, r.PathValue("orgID"))
	if err != nil {
		log.WithError(err).Error("Failed to register member")
		writeError(w, http.StatusInternalServerError, "Failed to register member")
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, user)
}

// EnsureMember makes sure a user with phone exists and belongs to orgID. It reports whether
// the user was created. An existing user keeps their role.
func EnsureMember(ctx context.Context, users db.UserCollection, phone, name string, role models.Role, orgID string) (*models.User, bool, error) {
	user, err := users.FindUserByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}

	if user == nil {
		user, err = users.InsertUser(ctx, models.User{
			Phone:  phone,
			Name:   name,
			Role:   role,
			OrgIDs: []string{orgID},
		})
		if err != nil {
			return nil, false, err
		}
		log.WithFields(log.Fields{"user_id": user.ID.Hex(), "org_id": orgID, "role": role}).Info("User registered")
		return user, true, nil
	}

	if user.BelongsTo(orgID) {
		return user, false, nil
	}
	user.OrgIDs = append(user.OrgIDs, orgID)
	if err := users.UpdateUser(ctx, user.ID.Hex(), *user); err != nil {
		return nil, false, err
	}
	log.WithFields(log.Fields{"user_id": user.ID.Hex(), "org_id": orgID}).Info("User added to organization")
	return user, false, nil
}
