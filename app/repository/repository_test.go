package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Company{}, &models.Member{}, &models.CreditTransaction{}, &models.Setting{}))
	return db
}

type recordingNotifier struct {
	calls int
	err   error
}

func (n *recordingNotifier) PublishConfigChanged(ctx context.Context) error {
	n.calls++
	return n.err
}

func TestListIntegrationEnabled(t *testing.T) {
	db := newTestDB(t)
	repo := NewCompanyRepository(db, nil)
	ctx := context.Background()

	companies := []models.Company{
		{ID: "c1", Name: "One", Slug: "one", IntegrationConfig: models.IntegrationConfig{Provider: "JK", Enabled: true}},
		{ID: "c2", Name: "Two", Slug: "two", IntegrationConfig: models.IntegrationConfig{Provider: "JK", Enabled: false}},
		{ID: "c3", Name: "Three", Slug: "three", IntegrationConfig: models.IntegrationConfig{Enabled: true}},
	}
	require.NoError(t, db.Create(&companies).Error)

	enabled, err := repo.ListIntegrationEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "c1", enabled[0].ID)
	assert.Equal(t, "JK", enabled[0].IntegrationConfig.Provider)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestUpdateIntegrationConfigPublishes(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	repo := NewCompanyRepository(db, notifier)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Company{ID: "c1", Name: "One", Slug: "one"}).Error)

	cfg := models.IntegrationConfig{
		Provider: "JK",
		Enabled:  true,
		SyncCron: "*/5 * * * *",
		SyncConfigs: map[string]models.SyncTypeConfig{
			models.SyncTypeDeposit: {Enabled: true, SyncDays: 3},
		},
	}
	require.NoError(t, repo.UpdateIntegrationConfig(ctx, "c1", cfg))
	assert.Equal(t, 1, notifier.calls)

	stored, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, stored.IntegrationConfig.Enabled)
	assert.Equal(t, "*/5 * * * *", stored.IntegrationConfig.SyncCron)
	assert.Equal(t, 3, stored.IntegrationConfig.SyncConfigs[models.SyncTypeDeposit].SyncDays)

	// invalid configs are rejected before anything is written
	err = repo.UpdateIntegrationConfig(ctx, "c1", models.IntegrationConfig{Enabled: true, SyncMode: "sometimes"})
	assert.Error(t, err)
	assert.Equal(t, 1, notifier.calls)

	err = repo.UpdateIntegrationConfig(ctx, "missing", cfg)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestUpdateIntegrationConfigSignalFailure(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{err: errors.New("redis down")}
	repo := NewCompanyRepository(db, notifier)

	require.NoError(t, db.Create(&models.Company{ID: "c1", Name: "One", Slug: "one"}).Error)
	err := repo.UpdateIntegrationConfig(context.Background(), "c1", models.IntegrationConfig{Provider: "JK", Enabled: true})
	assert.ErrorContains(t, err, "redis down")
}

func TestUpsertExternalMember(t *testing.T) {
	db := newTestDB(t)
	repo := NewMemberRepository(db)
	ctx := context.Background()

	first, err := repo.UpsertExternalMember(ctx, "c1", "u1", models.MemberProfile{
		Username: "alice",
		Metadata: map[string]interface{}{"cash": "10.00"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.NotNil(t, first.LastSyncedAt)

	second, err := repo.UpsertExternalMember(ctx, "c1", "u1", models.MemberProfile{
		Username: "alice2",
		Email:    "a@example.com",
		Metadata: map[string]interface{}{"cash": "20.00"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice2", second.Username)
	assert.Equal(t, "a@example.com", second.Email)
	assert.Equal(t, "20.00", second.Metadata["cash"])

	var count int64
	require.NoError(t, db.Model(&models.Member{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFindOrCreate(t *testing.T) {
	db := newTestDB(t)
	repo := NewMemberRepository(db)
	ctx := context.Background()

	created, err := repo.FindOrCreate(ctx, "c1", "u9")
	require.NoError(t, err)

	again, err := repo.FindOrCreate(ctx, "c1", "u9")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	// same external id in another tenant is a different member
	other, err := repo.FindOrCreate(ctx, "c2", "u9")
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, other.ID)
}

func TestSettingRepository(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	repo := NewSettingRepository(db, notifier)
	ctx := context.Background()

	value, err := repo.GetValue(models.SettingSyncHourlyCron)
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, repo.SetValue(ctx, models.SettingSyncHourlyCron, "0 * * * *"))
	require.NoError(t, repo.SetValue(ctx, models.SettingSyncHourlyCron, "*/30 * * * *"))

	value, err = repo.GetValue(models.SettingSyncHourlyCron)
	require.NoError(t, err)
	assert.Equal(t, "*/30 * * * *", value)
	assert.Equal(t, 2, notifier.calls)

	var count int64
	require.NoError(t, db.Model(&models.Setting{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSettingRepositorySignalFailure(t *testing.T) {
	repo := NewSettingRepository(newTestDB(t), &recordingNotifier{err: errors.New("redis down")})

	err := repo.SetValue(context.Background(), models.SettingSyncHourlyCron, "0 * * * *")
	assert.Error(t, err)

	// the value is stored even when the signal could not be sent
	value, err := repo.GetValue(models.SettingSyncHourlyCron)
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", value)
}

func TestFactoryReturnsSameInstances(t *testing.T) {
	f := NewFactory(newTestDB(t), nil)
	assert.Same(t, f.GetRepositories(), f.GetRepositories())
	assert.NotNil(t, f.GetCompanyRepository())
	assert.NotNil(t, f.GetMemberRepository())
	assert.NotNil(t, f.GetSettingRepository())
}
