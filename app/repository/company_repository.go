package repository

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
)

type companyRepository struct {
	db       *gorm.DB
	notifier ConfigChangeNotifier
}

// NewCompanyRepository creates a new company repository instance
func NewCompanyRepository(db *gorm.DB, notifier ConfigChangeNotifier) CompanyRepository {
	return &companyRepository{db: db, notifier: notifier}
}

// GetByID returns gorm.ErrRecordNotFound for unknown ids
func (r *companyRepository) GetByID(ctx context.Context, id string) (*models.Company, error) {
	var company models.Company
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

// ListIntegrationEnabled returns every company whose integration is enabled and
// names a provider. The config is a JSON column, so the filter runs here rather
// than in SQL to stay portable across MySQL and SQLite.
func (r *companyRepository) ListIntegrationEnabled(ctx context.Context) ([]models.Company, error) {
	var all []models.Company
	if err := r.db.WithContext(ctx).Order("id").Find(&all).Error; err != nil {
		return nil, err
	}

	enabled := make([]models.Company, 0, len(all))
	for i := range all {
		if all[i].HasActiveIntegration() {
			enabled = append(enabled, all[i])
		}
	}
	return enabled, nil
}

// UpdateIntegrationConfig validates and stores cfg, then raises the config-changed signal.
func (r *companyRepository) UpdateIntegrationConfig(ctx context.Context, id string, cfg models.IntegrationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).
		Model(&models.Company{ID: id}).
		Select("IntegrationConfig").
		Updates(&models.Company{IntegrationConfig: cfg}).Error
	if err != nil {
		return fmt.Errorf("update integration config of company %s: %w", id, err)
	}

	if r.notifier == nil {
		return nil
	}
	if err := r.notifier.PublishConfigChanged(ctx); err != nil {
		log.Errorf("[CompanyRepository] Config of company %s saved but refresh signal failed: %v", id, err)
		return fmt.Errorf("publish config change: %w", err)
	}
	return nil
}
