package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
)

type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a new member repository instance
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

var memberKeyColumns = []clause.Column{{Name: "company_id"}, {Name: "external_id"}}

func (r *memberRepository) GetByExternalID(ctx context.Context, companyID, externalID string) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND external_id = ?", companyID, externalID).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// FindOrCreate returns the member of (companyID, externalID), creating an empty one on first sight.
func (r *memberRepository) FindOrCreate(ctx context.Context, companyID, externalID string) (*models.Member, error) {
	member, err := r.GetByExternalID(ctx, companyID, externalID)
	if err == nil {
		return member, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// a concurrent worker may create the same member; the unique index decides
	fresh := models.Member{CompanyID: companyID, ExternalID: externalID, Metadata: map[string]interface{}{}}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{Columns: memberKeyColumns, DoNothing: true}).Create(&fresh).Error; err != nil {
		return nil, err
	}
	return r.GetByExternalID(ctx, companyID, externalID)
}

// UpsertExternalMember creates or updates the profile of a synced member.
func (r *memberRepository) UpsertExternalMember(ctx context.Context, companyID, externalID string, profile models.MemberProfile) (*models.Member, error) {
	now := time.Now()
	member := models.Member{
		CompanyID:    companyID,
		ExternalID:   externalID,
		Username:     profile.Username,
		RealName:     profile.RealName,
		PhoneNumber:  profile.PhoneNumber,
		Email:        profile.Email,
		Metadata:     profile.Metadata,
		LastSyncedAt: &now,
	}
	if member.Metadata == nil {
		member.Metadata = map[string]interface{}{}
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   memberKeyColumns,
		DoUpdates: clause.AssignmentColumns([]string{"username", "real_name", "phone_number", "email", "metadata", "last_synced_at", "updated_at"}),
	}).Create(&member).Error
	if err != nil {
		return nil, err
	}

	// the row may have existed under another id
	return r.GetByExternalID(ctx, companyID, externalID)
}
