package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrUserInactive  = errors.New("user is inactive")
	ErrInvalidPhone  = errors.New("phone number must be in international format, e.g. +15550100")
	ErrOrgNotAllowed = errors.New("user is not a member of the organization")
)

const defaultSecret = "default-secret-key-change-in-production"

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// Service issues and validates session tokens
type Service struct {
	jwtSecret []byte
	tokenExp  time.Duration
}

// NewService creates a new authentication service
func NewService(secret string, tokenExp time.Duration) (*Service, error) {
	if secret == "" {
		secret = defaultSecret
	}
	if tokenExp <= 0 {
		tokenExp = 24 * time.Hour // default 24 hours
	}
	return &Service{
		jwtSecret: []byte(secret),
		tokenExp:  tokenExp,
	}, nil
}

// GenerateToken generates a JWT token for a user. orgID scopes the session to one
// organization and may be empty until the user selects one.
func (s *Service) GenerateToken(user *models.User, orgID string) (string, error) {
	if orgID != "" && !user.BelongsTo(orgID) {
		return "", ErrOrgNotAllowed
	}
	orgIDs := user.OrgIDs
	if orgIDs == nil {
		orgIDs = []string{}
	}
	claims := jwt.MapClaims{
		"user_id": user.ID.Hex(),
		"phone":   user.Phone,
		"role":    string(user.Role),
		"org_ids": orgIDs,
		"org_id":  orgID,
		"exp":     time.Now().Add(s.tokenExp).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	// Remove "Bearer " prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	// Extract claims
	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	phone, ok := claims["phone"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	roleStr, ok := claims["role"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	rawOrgs, _ := claims["org_ids"].([]interface{})
	orgIDs := make([]string, 0, len(rawOrgs))
	for _, raw := range rawOrgs {
		id, ok := raw.(string)
		if !ok {
			return nil, ErrInvalidToken
		}
		orgIDs = append(orgIDs, id)
	}
	orgID, _ := claims["org_id"].(string)

	return &models.Claims{
		UserID: userID,
		Phone:  phone,
		Role:   models.Role(roleStr),
		OrgIDs: orgIDs,
		OrgID:  orgID,
		Exp:    int64(exp),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}

// NormalizePhone strips spaces, dashes and parentheses and validates the E.164 format
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	if !phonePattern.MatchString(cleaned) {
		return "", ErrInvalidPhone
	}
	return cleaned, nil
}
