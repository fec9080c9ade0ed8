package repository

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
)

// settingRepository implements the SettingRepository interface
type settingRepository struct {
	db       *gorm.DB
	notifier ConfigChangeNotifier
}

// NewSettingRepository creates a new setting repository instance. notifier may be nil.
func NewSettingRepository(db *gorm.DB, notifier ConfigChangeNotifier) SettingRepository {
	return &settingRepository{db: db, notifier: notifier}
}

// GetValue returns the value of key, or "" when it was never set
func (r *settingRepository) GetValue(key string) (string, error) {
	return models.GetSettingValue(r.db, key)
}

// SetValue upserts key and raises the config-changed signal, since the
// global cron default changes the schedule of every company.
func (r *settingRepository) SetValue(ctx context.Context, key, value string) error {
	setting := models.Setting{Key: key, Value: value, Type: "string"}
	if err := setting.Validate(); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}

	if r.notifier == nil {
		return nil
	}
	if err := r.notifier.PublishConfigChanged(ctx); err != nil {
		log.Errorf("[SettingRepository] Setting %s saved but refresh signal failed: %v", key, err)
		return fmt.Errorf("publish config change: %w", err)
	}
	return nil
}
