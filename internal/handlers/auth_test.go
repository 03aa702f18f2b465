package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MockUserCollection is a mock implementation of UserCollection
type MockUserCollection struct {
	mock.Mock
}

func (m *MockUserCollection) InsertUser(ctx context.Context, user models.User) (*models.User, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) UpdateUser(ctx context.Context, id string, user models.User) error {
	args := m.Called(ctx, id, user)
	return args.Error(0)
}

func (m *MockUserCollection) UpdateLastLogin(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockOTP is a mock implementation of OTPFlow
type MockOTP struct {
	mock.Mock
}

func (m *MockOTP) Request(ctx context.Context, phone string) error {
	return m.Called(ctx, phone).Error(0)
}

func (m *MockOTP) Verify(ctx context.Context, phone, code string) error {
	return m.Called(ctx, phone, code).Error(0)
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func withClaims(req *http.Request, claims *models.Claims) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, claims))
}

func activeDriver(orgs ...string) *models.User {
	return &models.User{
		ID:       primitive.NewObjectID(),
		Phone:    "+15550100",
		Role:     models.RoleDriver,
		OrgIDs:   orgs,
		IsActive: true,
	}
}

func newAuthHandler(t *testing.T) (*AuthHandler, *auth.Service, *MockOTP, *MockUserCollection) {
	t.Helper()
	authService, err := auth.NewService("secret", time.Hour)
	require.NoError(t, err)
	otp := new(MockOTP)
	users := new(MockUserCollection)
	return NewAuthHandler(authService, otp, users), authService, otp, users
}

func TestAuthHandler_RequestOTP(t *testing.T) {
	t.Run("registered user gets a code", func(t *testing.T) {
		handler, _, otp, users := newAuthHandler(t)
		users.On("FindUserByPhone", mock.Anything, "+15550100").Return(activeDriver("org-1"), nil)
		otp.On("Request", mock.Anything, "+15550100").Return(nil)

		req := httptest.NewRequest("POST", "/api/auth/otp/request", jsonBody(t, models.OTPRequest{Phone: "+1 555 0100"}))
		w := httptest.NewRecorder()
		handler.RequestOTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		otp.AssertExpectations(t)
	})

	t.Run("unknown phone looks the same but sends nothing", func(t *testing.T) {
		handler, _, otp, users := newAuthHandler(t)
		users.On("FindUserByPhone", mock.Anything, "+15550199").Return(nil, nil)

		req := httptest.NewRequest("POST", "/api/auth/otp/request", jsonBody(t, models.OTPRequest{Phone: "+15550199"}))
		w := httptest.NewRecorder()
		handler.RequestOTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		otp.AssertNotCalled(t, "Request", mock.Anything, mock.Anything)
	})

	t.Run("invalid phone", func(t *testing.T) {
		handler, _, _, _ := newAuthHandler(t)

		req := httptest.NewRequest("POST", "/api/auth/otp/request", jsonBody(t, models.OTPRequest{Phone: "5550100"}))
		w := httptest.NewRecorder()
		handler.RequestOTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("sender failure", func(t *testing.T) {
		handler, _, otp, users := newAuthHandler(t)
		users.On("FindUserByPhone", mock.Anything, "+15550100").Return(activeDriver(), nil)
		otp.On("Request", mock.Anything, "+15550100").Return(errors.New("sms gateway down"))

		req := httptest.NewRequest("POST", "/api/auth/otp/request", jsonBody(t, models.OTPRequest{Phone: "+15550100"}))
		w := httptest.NewRecorder()
		handler.RequestOTP(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		handler, _, _, _ := newAuthHandler(t)

		req := httptest.NewRequest("POST", "/api/auth/otp/request", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		handler.RequestOTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthHandler_VerifyOTP(t *testing.T) {
	t.Run("single organization gets a scoped token", func(t *testing.T) {
		handler, authService, otp, users := newAuthHandler(t)
		user := activeDriver("org-1")
		otp.On("Verify", mock.Anything, "+15550100", "123456").Return(nil)
		users.On("FindUserByPhone", mock.Anything, "+15550100").Return(user, nil)
		users.On("UpdateLastLogin", mock.Anything, user.ID.Hex()).Return(nil)

		req := httptest.NewRequest("POST", "/api/auth/otp/verify",
			jsonBody(t, models.OTPVerifyRequest{Phone: "+15550100", Code: "123456"}))
		w := httptest.NewRecorder()
		handler.VerifyOTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp models.LoginResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, user.Phone, resp.User.Phone)

		claims, err := authService.ValidateToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID.Hex(), claims.UserID)
		assert.Equal(t, "org-1", claims.OrgID)
		users.AssertExpectations(t)
	})

	t.Run("several organizations need a selection", func(t *testing.T) {
		handler, authService, otp, users := newAuthHandler(t)
		user := activeDriver("org-1", "org-2")
		otp.On("Verify", mock.Anything, "+15550100", "123456").Return(nil)
		users.On("FindUserByPhone", mock.Anything, "+15550100").Return(user, nil)
		users.On("UpdateLastLogin", mock.Anything, user.ID.Hex()).Return(errors.New("write failed"))

		req := httptest.NewRequest("POST", "/api/auth/otp/verify",
			jsonBody(t, models.OTPVerifyRequest{Phone: "+15550100", Code: "123456"}))
		w := httptest.NewRecorder()
		handler.VerifyOTP(w, req)

		// a failed last-login write does not fail the login
		require.Equal(t, http.StatusOK, w.Code)
		var resp models.LoginResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		claims, err := authService.ValidateToken(resp.Token)
		require.NoError(t, err)
		assert.Empty(t, claims.OrgID)
	})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"wrong code", auth.ErrInvalidCode, http.StatusUnauthorized},
		{"expired code", auth.ErrCodeExpired, http.StatusUnauthorized},
		{"too many attempts", auth.ErrTooManyAttempts, http.StatusTooManyRequests},
		{"store failure", errors.New("load challenge: timeout"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, otp, users := newAuthHandler(t)
			otp.On("Verify", mock.Anything, "+15550100", "123456").Return(tt.err)

			req := httptest.NewRequest("POST", "/api/auth/otp/verify",
				jsonBody(t, models.OTPVerifyRequest{Phone: "+15550100", Code: "123456"}))
			w := httptest.NewRecorder()
			handler.VerifyOTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			users.AssertNotCalled(t, "FindUserByPhone", mock.Anything, mock.Anything)
		})
	}

	t.Run("inactive user", func(t *testing.T) {
		handler, _, otp, users := newAuthHandler(t)
		user := activeDriver("org-1")
		user.IsActive = false
		otp.On("Verify", mock.Anything, "+15550100", "123456").Return(nil)
		users.On("FindUserByPhone", mock.Anything, "+15550100").Return(user, nil)

		req := httptest.NewRequest("POST", "/api/auth/otp/verify",
			jsonBody(t, models.OTPVerifyRequest{Phone: "+15550100", Code: "123456"}))
		w := httptest.NewRecorder()
		handler.VerifyOTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		handler, _, _, _ := newAuthHandler(t)

		req := httptest.NewRequest("POST", "/api/auth/otp/verify", jsonBody(t, models.OTPVerifyRequest{Phone: "+15550100"}))
		w := httptest.NewRecorder()
		handler.VerifyOTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthHandler_SelectOrg(t *testing.T) {
	user := activeDriver("org-1", "org-2")
	claims := &models.Claims{UserID: user.ID.Hex(), Role: user.Role, OrgIDs: user.OrgIDs}

	t.Run("member organization", func(t *testing.T) {
		handler, authService, _, users := newAuthHandler(t)
		users.On("FindUserByID", mock.Anything, user.ID.Hex()).Return(user, nil)

		req := withClaims(httptest.NewRequest("POST", "/api/auth/org", jsonBody(t, models.SelectOrgRequest{OrgID: "org-2"})), claims)
		w := httptest.NewRecorder()
		handler.SelectOrg(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp models.LoginResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		scoped, err := authService.ValidateToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "org-2", scoped.OrgID)
	})

	t.Run("foreign organization", func(t *testing.T) {
		handler, _, _, users := newAuthHandler(t)
		users.On("FindUserByID", mock.Anything, user.ID.Hex()).Return(user, nil)

		req := withClaims(httptest.NewRequest("POST", "/api/auth/org", jsonBody(t, models.SelectOrgRequest{OrgID: "org-9"})), claims)
		w := httptest.NewRecorder()
		handler.SelectOrg(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("no claims", func(t *testing.T) {
		handler, _, _, _ := newAuthHandler(t)

		req := httptest.NewRequest("POST", "/api/auth/org", jsonBody(t, models.SelectOrgRequest{OrgID: "org-1"}))
		w := httptest.NewRecorder()
		handler.SelectOrg(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthHandler_GetProfile(t *testing.T) {
	handler, _, _, users := newAuthHandler(t)
	user := activeDriver("org-1")
	users.On("FindUserByID", mock.Anything, user.ID.Hex()).Return(user, nil)
	users.On("FindUserByID", mock.Anything, "missing").Return(nil, nil)

	req := withClaims(httptest.NewRequest("GET", "/api/auth/me", nil), &models.Claims{UserID: user.ID.Hex()})
	w := httptest.NewRecorder()
	handler.GetProfile(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got models.User
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, user.Phone, got.Phone)

	req = withClaims(httptest.NewRequest("GET", "/api/auth/me", nil), &models.Claims{UserID: "missing"})
	w = httptest.NewRecorder()
	handler.GetProfile(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthHandler_UpdateProfile(t *testing.T) {
	handler, _, _, users := newAuthHandler(t)
	user := activeDriver("org-1")
	users.On("FindUserByID", mock.Anything, user.ID.Hex()).Return(user, nil)
	users.On("UpdateUser", mock.Anything, user.ID.Hex(), mock.MatchedBy(func(u models.User) bool {
		return u.Name == "Dana"
	})).Return(nil)

	req := withClaims(httptest.NewRequest("PUT", "/api/auth/me", jsonBody(t, map[string]string{"name": "Dana"})),
		&models.Claims{UserID: user.ID.Hex()})
	w := httptest.NewRecorder()
	handler.UpdateProfile(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	users.AssertExpectations(t)
}

func TestAuthHandler_RegisterMember(t *testing.T) {
	serve := func(handler *AuthHandler, body any) *httptest.ResponseRecorder {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/orgs/{orgID}/users", handler.RegisterMember)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("POST", "/api/orgs/org-1/users", jsonBody(t, body)))
		return w
	}

	t.Run("new phone creates a driver", func(t *testing.T) {
		handler, _, _, users := newAuthHandler(t)
		created := activeDriver("org-1")
		users.On("FindUserByPhone", mock.Anything, "+15550100").Return(nil, nil)
		users.On("InsertUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
			return u.Role == models.RoleDriver && len(u.OrgIDs) == 1 && u.OrgIDs[0] == "org-1"
		})).Return(created, nil)

		w := serve(handler, RegisterMemberRequest{Phone: "+15550100", Name: "Dana"})
		assert.Equal(t, http.StatusCreated, w.Code)
		users.AssertExpectations(t)
	})

	t.Run("existing user joins the organization", func(t *testing.T) {
		handler, _, _, users := newAuthHandler(t)
		existing := activeDriver("org-2")
		users.On("FindUserByPhone", mock.Anything, "+15550100").Return(existing, nil)
		users.On("UpdateUser", mock.Anything, existing.ID.Hex(), mock.MatchedBy(func(u models.User) bool {
			return u.BelongsTo("org-1") && u.BelongsTo("org-2")
		})).Return(nil)

		w := serve(handler, RegisterMemberRequest{Phone: "+15550100", Role: models.RoleAdmin})
		assert.Equal(t, http.StatusOK, w.Code)
		users.AssertExpectations(t)
	})

	t.Run("already a member", func(t *testing.T) {
		handler, _, _, users := newAuthHandler(t)
		users.On("FindUserByPhone", mock.Anything, "+15550100").Return(activeDriver("org-1"), nil)

		w := serve(handler, RegisterMemberRequest{Phone: "+15550100"})
		assert.Equal(t, http.StatusOK, w.Code)
		users.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid role", func(t *testing.T) {
		handler, _, _, _ := newAuthHandler(t)

		w := serve(handler, RegisterMemberRequest{Phone: "+15550100", Role: "dispatcher"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
