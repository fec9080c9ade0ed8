package repository

import (
	"context"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
)

// CompanyRepository reads tenants and their integration config
type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*models.Company, error)
	ListIntegrationEnabled(ctx context.Context) ([]models.Company, error)
	UpdateIntegrationConfig(ctx context.Context, id string, cfg models.IntegrationConfig) error
}

// MemberRepository maps external platform users to internal members
type MemberRepository interface {
	GetByExternalID(ctx context.Context, companyID, externalID string) (*models.Member, error)
	FindOrCreate(ctx context.Context, companyID, externalID string) (*models.Member, error)
	UpsertExternalMember(ctx context.Context, companyID, externalID string, profile models.MemberProfile) (*models.Member, error)
}

// SettingRepository defines the interface for setting-related database operations
type SettingRepository interface {
	GetValue(key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
}

// ConfigChangeNotifier is told whenever a tenant's integration config was written
type ConfigChangeNotifier interface {
	PublishConfigChanged(ctx context.Context) error
}

// Repositories holds all repository instances
type Repositories struct {
	Company CompanyRepository
	Member  MemberRepository
	Setting SettingRepository
}
