package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const PlanFree = "free"

// OrganizationSettings are tenant-wide preferences
type OrganizationSettings struct {
	Currency   string   `json:"currency"`
	Timezone   string   `json:"timezone"`
	DateFormat string   `json:"dateFormat"`
	Industry   string   `json:"industry,omitempty"`
	Features   []string `json:"features"`
}

// DefaultOrganizationSettings are applied to newly registered tenants
func DefaultOrganizationSettings() OrganizationSettings {
	return OrganizationSettings{
		Currency:   "USD",
		Timezone:   "UTC",
		DateFormat: "MM/DD/YYYY",
		Features:   []string{"contacts", "companies", "deals", "dashboard"},
	}
}

// Organization is the tenant every user belongs to
type Organization struct {
	ID        string                                   `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string                                   `json:"name" gorm:"type:varchar(150);not null"`
	Slug      string                                   `json:"slug" gorm:"type:varchar(160);uniqueIndex;not null"`
	Plan      string                                   `json:"plan" gorm:"type:varchar(50);not null;default:'free'"`
	Settings  datatypes.JSONType[OrganizationSettings] `json:"settings"`
	CreatedAt time.Time                                `json:"createdAt"`
	UpdatedAt time.Time                                `json:"updatedAt"`
	DeletedAt gorm.DeletedAt                           `json:"-" gorm:"index"`
}

// BeforeCreate assigns an id if the caller did not
func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// OrganizationUpdate carries the mutable organization fields; nil means unchanged
type OrganizationUpdate struct {
	Name       *string
	Currency   *string
	Timezone   *string
	DateFormat *string
	Industry   *string
	Features   []string
}

// Apply merges the update into o
func (u OrganizationUpdate) Apply(o *Organization) {
	if u.Name != nil {
		o.Name = *u.Name
	}
	settings := o.Settings.Data()
	if u.Currency != nil {
		settings.Currency = *u.Currency
	}
	if u.Timezone != nil {
		settings.Timezone = *u.Timezone
	}
	if u.DateFormat != nil {
		settings.DateFormat = *u.DateFormat
	}
	if u.Industry != nil {
		settings.Industry = *u.Industry
	}
	if u.Features != nil {
		settings.Features = append([]string(nil), u.Features...)
	}
	o.Settings = datatypes.NewJSONType(settings)
}
