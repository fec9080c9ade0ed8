package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting keys read by the sync engine.
const (
	SettingSyncHourlyCron = "sync_hourly_cron"

	DefaultSyncCron = "0 */4 * * *"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:191;not null;uniqueIndex" json:"key" validate:"required,min=1,max=191"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null;default:'string'" json:"type" validate:"required,oneof=string boolean integer float"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var settingValidate = validator.New()

// Validate validates the setting
func (s *Setting) Validate() error {
	if strings.TrimSpace(s.Type) == "" {
		s.Type = "string"
	}
	if err := settingValidate.Struct(s); err != nil {
		return fmt.Errorf("invalid setting %q: %w", s.Key, err)
	}
	return nil
}

// GetSettingValue returns the value stored for key, or "" when the key is missing.
func GetSettingValue(db *gorm.DB, key string) (string, error) {
	var setting Setting
	err := db.Where("setting_key = ?", key).First(&setting).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return setting.Value, nil
}
