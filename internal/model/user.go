package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// UserPreferences are per-user UI settings
type UserPreferences struct {
	Theme         string `json:"theme,omitempty"`
	Language      string `json:"language,omitempty"`
	Notifications bool   `json:"notifications"`
}

// User represents the user model stored in the database
type User struct {
	ID             string                              `json:"id" gorm:"type:uuid;primaryKey"`
	Email          string                              `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Password       string                              `json:"-" gorm:"type:varchar(255);not null"`
	FirstName      string                              `json:"firstName" gorm:"type:varchar(100)"`
	LastName       string                              `json:"lastName" gorm:"type:varchar(100)"`
	OrganizationID string                              `json:"organizationId" gorm:"type:uuid;index;not null"`
	Role           string                              `json:"role" gorm:"type:varchar(50);not null;default:'member'"`
	Preferences    datatypes.JSONType[UserPreferences] `json:"preferences"`
	Avatar         string                              `json:"avatar,omitempty" gorm:"type:varchar(512)"`
	LastLoginAt    *time.Time                          `json:"lastLoginAt,omitempty"`
	CreatedAt      time.Time                           `json:"createdAt"`
	UpdatedAt      time.Time                           `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt                      `json:"-" gorm:"index"`
}

// PublicUser is the projection of a user returned to clients; it never carries the password hash.
type PublicUser struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	FirstName      string          `json:"firstName"`
	LastName       string          `json:"lastName"`
	OrganizationID string          `json:"organizationId"`
	Role           string          `json:"role"`
	Preferences    UserPreferences `json:"preferences"`
	Avatar         string          `json:"avatar,omitempty"`
	LastLoginAt    *time.Time      `json:"lastLoginAt,omitempty"`
}

// BeforeCreate assigns an id if the caller did not
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// FullName joins first and last name
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Public returns the client-facing projection of the user
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		OrganizationID: u.OrganizationID,
		Role:           u.Role,
		Preferences:    u.Preferences.Data(),
		Avatar:         u.Avatar,
		LastLoginAt:    u.LastLoginAt,
	}
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProfileUpdate carries the mutable profile fields; nil means unchanged
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	Avatar      *string
	Preferences *UserPreferences
}

// Apply merges the update into u
func (p ProfileUpdate) Apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	if p.Preferences != nil {
		u.Preferences = datatypes.NewJSONType(*p.Preferences)
	}
}
