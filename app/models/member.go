package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Member maps (company, external id) of the external platform to an internal account.
type Member struct {
	ID            string                 `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CompanyID     string                 `gorm:"type:varchar(36);not null;index:ux_members_company_external,unique,priority:1" json:"company_id"`
	ExternalID    string                 `gorm:"type:varchar(191);not null;index:ux_members_company_external,unique,priority:2" json:"external_id"`
	Username      string                 `gorm:"type:varchar(255)" json:"username"`
	RealName      string                 `gorm:"type:varchar(255)" json:"real_name"`
	PhoneNumber   string                 `gorm:"type:varchar(64)" json:"phone_number"`
	Email         string                 `gorm:"type:varchar(255)" json:"email"`
	PointsBalance int64                  `gorm:"not null;default:0" json:"points_balance"`
	Metadata      map[string]interface{} `gorm:"type:json;serializer:json" json:"metadata"`
	LastSyncedAt  *time.Time             `gorm:"type:timestamp;default:null" json:"last_synced_at,omitempty"`
	CreatedAt     time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

// MemberProfile carries the dedicated profile fields of a synced member.
// Metadata must not repeat any of them.
type MemberProfile struct {
	Username    string
	RealName    string
	PhoneNumber string
	Email       string
	Metadata    map[string]interface{}
}

// BeforeCreate assigns a uuid primary key when none is set
func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
