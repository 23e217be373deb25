package accounts

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole string

const (
	// RoleGuest is a guest role (ie. view)
	RoleGuest UserRole = "guest"
	// RoleMember is a member (i.e. view, edit)
	RoleMember UserRole = "member"
	// RoleAdmin is an admin role (i.e. view, edit, create)
	RoleAdmin UserRole = "admin"
	// RoleOwner is an admin role (i.e. view, edit, create, delete)
	RoleOwner UserRole = "owner"
)

var roleWeight = map[UserRole]int{
	RoleGuest:  0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// ParseRole maps a raw string to a known role.
func ParseRole(raw string) (UserRole, bool) {
	role := UserRole(raw)
	_, ok := roleWeight[role]
	return role, ok
}

// IsAtLeast reports whether the role meets a minimum required role.
func (r UserRole) IsAtLeast(min UserRole) bool {
	w, ok := roleWeight[r]
	if !ok {
		return false
	}
	mw, ok := roleWeight[min]
	if !ok {
		return false
	}
	return w >= mw
}

// CanRead reports whether the role can view records.
func (r UserRole) CanRead() bool { return r.IsAtLeast(RoleGuest) }

// CanEdit reports whether the role can modify existing records.
func (r UserRole) CanEdit() bool { return r.IsAtLeast(RoleMember) }

// CanCreate reports whether the role can create records.
func (r UserRole) CanCreate() bool { return r.IsAtLeast(RoleAdmin) }

// CanDelete reports whether the role can delete records.
func (r UserRole) CanDelete() bool { return r.IsAtLeast(RoleOwner) }

// User is the identity record. Username and social id are unique across
// all users; the password hash may be empty for social-only accounts,
// in which case password login always fails verification.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Username       string     `bun:"username,notnull,unique" json:"username,omitempty"`
	FirstName      string     `bun:"first_name" json:"first_name,omitempty"`
	LastName       string     `bun:"last_name" json:"last_name,omitempty"`
	Phone          string     `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"password_hash,omitempty"`
	PrimaryEmailID *uuid.UUID `bun:"primary_email_id,nullzero,type:uuid" json:"primary_email_id,omitempty"`
	SocialID       *string    `bun:"social_id,unique,nullzero" json:"social_id,omitempty"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// UserEmailAddress is an e-mail owned by exactly one user. Address
// uniqueness is global, not per user.
type UserEmailAddress struct {
	bun.BaseModel `bun:"table:user_email_addresses,alias:uea"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Address       string     `bun:"email_address,notnull,unique" json:"email_address,omitempty"`
	Confirmed     bool       `bun:"confirmed" json:"confirmed,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ActivationKind tags what an activation code may be used for.
// The kind is fixed at issue time so a confirmation code cannot be
// replayed as a reset code or vice versa.
type ActivationKind = string

const (
	// ActivationKindConfirm authorizes confirming an e-mail address
	ActivationKindConfirm ActivationKind = "confirm"
	// ActivationKindPasswordReset authorizes one password reset
	ActivationKindPasswordReset ActivationKind = "password_reset"
)

// DefaultActivationTTL is the window in which an activation code can be
// consumed, measured from issue time and evaluated lazily at consume time.
var DefaultActivationTTL = "24h"

// EmailActivation is a single-use expiring code. Rows are never deleted;
// consumed codes stay behind as an audit trail.
type EmailActivation struct {
	bun.BaseModel  `bun:"table:email_activations,alias:act"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Code           string         `bun:"activation_code,notnull,unique" json:"activation_code,omitempty"`
	Kind           ActivationKind `bun:"kind,notnull" json:"kind,omitempty"`
	UserID         uuid.UUID      `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	EmailAddressID uuid.UUID      `bun:"email_address_id,notnull,type:uuid" json:"email_address_id,omitempty"`
	Activated      bool           `bun:"activated" json:"activated,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the code is past its consume window.
func (a *EmailActivation) Expired(ttl string) (bool, error) {
	if a.CreatedAt == nil {
		return true, nil
	}
	return IsOutsideThresholdPeriod(*a.CreatedAt, ttl)
}

// PasswordResetStep step on password reset
type PasswordResetStep = string

const (
	// ResetUnknown is the unknown status
	ResetUnknown PasswordResetStep = "unknown"
	// ResetInit is the initial step
	ResetInit PasswordResetStep = "show-reset"
	// AccountVerification notification sent
	AccountVerification PasswordResetStep = "email-sent"
	// ChangingPassword user will change password
	ChangingPassword PasswordResetStep = "change-password"
	// ChangeFinalized processing change
	ChangeFinalized PasswordResetStep = "password-changed"
)
