// Package store persists users, organizations, password-reset tokens and
// revoked session ids. Each concern has an interface with in-memory, gorm
// (PostgreSQL) and, where a TTL store fits, Redis implementations.
package store

import (
	"context"
	"errors"
	"time"

	"crm-auth-service/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
	ErrSlugTaken  = errors.New("organization slug already taken")
)

// UserStore keeps user accounts, unique by normalized email
type UserStore interface {
	CreateWithOrganization(ctx context.Context, user *model.User, org *model.Organization) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	UpdatePassword(ctx context.Context, id, hash string) error
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// OrganizationStore keeps tenants
type OrganizationStore interface {
	FindByID(ctx context.Context, id string) (*model.Organization, error)
	Update(ctx context.Context, id string, update model.OrganizationUpdate) (*model.Organization, error)
}

// ResetTokenStore keeps outstanding password-reset tokens keyed by token hash
type ResetTokenStore interface {
	// Save stores rec and drops any other outstanding token for the same email.
	Save(ctx context.Context, rec *model.PasswordReset) error
	Get(ctx context.Context, hash string) (*model.PasswordReset, error)
	// Consume atomically returns and deletes the record.
	Consume(ctx context.Context, hash string) (*model.PasswordReset, error)
	Delete(ctx context.Context, hash string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RevocationStore remembers session token ids that were logged out
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
