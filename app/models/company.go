package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Company is a tenant. Only the fields the sync engine reads are mapped here;
// the rest of the tenant administration owns the row.
type Company struct {
	ID                string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name              string            `gorm:"type:varchar(255);not null" json:"name"`
	Slug              string            `gorm:"type:varchar(100);uniqueIndex" json:"slug"`
	IntegrationConfig IntegrationConfig `gorm:"column:integration_config;type:json;serializer:json" json:"integration_config"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasActiveIntegration reports whether jobs for this company may call the provider.
func (c *Company) HasActiveIntegration() bool {
	return c != nil && c.IntegrationConfig.Enabled && c.IntegrationConfig.Provider != ""
}

// BeforeCreate assigns a uuid primary key when none is set
func (c *Company) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
