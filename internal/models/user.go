package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
)

// User represents a phone-authenticated user in the system
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Phone     string             `bson:"phone" json:"phone"`
	Name      string             `bson:"name" json:"name"`
	Role      Role               `bson:"role" json:"role"`
	OrgIDs    []string           `bson:"org_ids" json:"org_ids"`
	IsActive  bool               `bson:"is_active" json:"is_active"`
	LastLogin *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// OTPChallenge is a pending one-time password for a phone number.
type OTPChallenge struct {
	Phone     string    `bson:"_id" json:"phone"`
	CodeHash  string    `bson:"code_hash" json:"-"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	Attempts  int       `bson:"attempts" json:"attempts"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// OTPRequest asks for a code to be sent to a phone number
type OTPRequest struct {
	Phone string `json:"phone"`
}

// OTPVerifyRequest submits the code received by SMS
type OTPVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// SelectOrgRequest scopes the session to one organization
type SelectOrgRequest struct {
	OrgID string `json:"org_id"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID string   `json:"user_id"`
	Phone  string   `json:"phone"`
	Role   Role     `json:"role"`
	OrgIDs []string `json:"org_ids"`
	OrgID  string   `json:"org_id,omitempty"` // selected organization
	Exp    int64    `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleDriver:
		return true
	default:
		return false
	}
}

// BelongsTo reports whether the user is a member of the organization.
func (u *User) BelongsTo(orgID string) bool {
	for _, id := range u.OrgIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleDriver:
		return action == "view_depot" || action == "check_depot" ||
			action == "dispatch_trip" || action == "update_trip" ||
			action == "view_trips"
	default:
		return false
	}
}
