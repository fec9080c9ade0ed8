package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/app/repository"
)

var (
	ErrInvalidExchangeRate = errors.New("exchange rate must be greater than zero")

	errDuplicateReference = errors.New("reference already processed")
)

const (
	ReasonInvalidRate      = "invalid exchange rate"
	ReasonInvalidDeposit   = "invalid deposit"
	ReasonBelowOnePoint    = "amount converts to zero points"
	ReasonAlreadyProcessed = "already processed"
	ReasonDailyDepositCap  = "daily eligible deposit limit reached"
	ReasonDailyPointsCap   = "daily points limit reached"
)

// Limits caps how much a member can earn from deposits per UTC day. Zero disables a limit.
type Limits struct {
	MaxPointsPerDay     int64
	MaxEligibleDeposits int
}

// DepositRequest is one deposit to convert into points
type DepositRequest struct {
	CompanyID      string
	ExternalUserID string
	Amount         decimal.Decimal
	ExchangeRate   decimal.Decimal
	ReferenceID    string
	Metadata       map[string]interface{}
	Limits         Limits
}

// Result is the outcome of ProcessDeposit. Duplicate is set when the reference was already consumed.
type Result struct {
	Success      bool   `json:"success"`
	Reason       string `json:"reason,omitempty"`
	PointsAdded  int64  `json:"pointsAdded"`
	BalanceAfter int64  `json:"balanceAfter"`
	Duplicate    bool   `json:"duplicate,omitempty"`
	MemberID     string `json:"memberId,omitempty"`
	EntryID      string `json:"entryId,omitempty"`
}

// Service applies deposit-to-points conversions exactly once per (company, reference)
type Service struct {
	db      *gorm.DB
	members repository.MemberRepository
	now     func() time.Time
}

// NewService creates a ledger service
func NewService(db *gorm.DB, members repository.MemberRepository) *Service {
	return &Service{
		db:      db,
		members: members,
		now:     time.Now,
	}
}

// Points returns floor(amount * rate).
func Points(amount, rate decimal.Decimal) int64 {
	return amount.Mul(rate).Floor().IntPart()
}

// ProcessDeposit credits floor(amount * rate) points to the member. A replay of the
// same reference id is absorbed: it returns success with Duplicate set and changes nothing.
func (s *Service) ProcessDeposit(ctx context.Context, req DepositRequest) (*Result, error) {
	if !req.ExchangeRate.IsPositive() {
		log.Warnf("[Ledger] Rejecting deposit %s of company %s: %v", req.ReferenceID, req.CompanyID, ErrInvalidExchangeRate)
		return &Result{Success: false, Reason: ReasonInvalidRate}, nil
	}
	if req.ExternalUserID == "" || req.ReferenceID == "" || !req.Amount.IsPositive() {
		return &Result{Success: false, Reason: ReasonInvalidDeposit}, nil
	}

	member, err := s.members.FindOrCreate(ctx, req.CompanyID, req.ExternalUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve member %s: %w", req.ExternalUserID, err)
	}

	points := Points(req.Amount, req.ExchangeRate)
	if points == 0 {
		return &Result{Success: true, Reason: ReasonBelowOnePoint, MemberID: member.ID, BalanceAfter: member.PointsBalance}, nil
	}

	result := &Result{Success: true, MemberID: member.ID}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Member
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", member.ID).First(&locked).Error; err != nil {
			return err
		}

		credited, reason, err := s.applyLimits(tx, locked, points, req.Limits)
		if err != nil {
			return err
		}

		entry := models.CreditTransaction{
			CompanyID:     req.CompanyID,
			MemberID:      locked.ID,
			Amount:        credited,
			BalanceBefore: locked.PointsBalance,
			BalanceAfter:  locked.PointsBalance + credited,
			Type:          models.CreditTypeDepositReward,
			ReferenceID:   req.ReferenceID,
			Reason:        reason,
			Metadata:      entryMetadata(req, points),
			CreatedAt:     s.now().UTC(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			if IsDuplicateKey(err) {
				return errDuplicateReference
			}
			return err
		}

		if credited > 0 {
			if err := tx.Model(&models.Member{}).Where("id = ?", locked.ID).
				Update("points_balance", gorm.Expr("points_balance + ?", credited)).Error; err != nil {
				return err
			}
		}

		result.PointsAdded = credited
		result.BalanceAfter = entry.BalanceAfter
		result.EntryID = entry.ID
		result.Reason = reason
		return nil
	})

	if errors.Is(err, errDuplicateReference) {
		log.Infof("[Ledger] Deposit %s of company %s already processed", req.ReferenceID, req.CompanyID)
		current, lookupErr := s.members.GetByExternalID(ctx, req.CompanyID, req.ExternalUserID)
		balance := member.PointsBalance
		if lookupErr == nil {
			balance = current.PointsBalance
		}
		return &Result{Success: true, Duplicate: true, Reason: ReasonAlreadyProcessed, MemberID: member.ID, BalanceAfter: balance}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("process deposit %s: %w", req.ReferenceID, err)
	}

	log.Infof("[Ledger] Credited %d points to member %s (company %s, ref %s)", result.PointsAdded, member.ID, req.CompanyID, req.ReferenceID)
	return result, nil
}

// applyLimits returns the points that may still be credited today.
func (s *Service) applyLimits(tx *gorm.DB, member models.Member, points int64, limits Limits) (int64, string, error) {
	if limits.MaxPointsPerDay <= 0 && limits.MaxEligibleDeposits <= 0 {
		return points, "", nil
	}

	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var today struct {
		Total int64
		Count int64
	}
	err := tx.Model(&models.CreditTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("member_id = ? AND type = ? AND amount > 0 AND created_at >= ?", member.ID, models.CreditTypeDepositReward, dayStart).
		Scan(&today).Error
	if err != nil {
		return 0, "", err
	}

	if limits.MaxEligibleDeposits > 0 && today.Count >= int64(limits.MaxEligibleDeposits) {
		return 0, ReasonDailyDepositCap, nil
	}
	if limits.MaxPointsPerDay > 0 {
		remaining := limits.MaxPointsPerDay - today.Total
		if remaining <= 0 {
			return 0, ReasonDailyPointsCap, nil
		}
		if points > remaining {
			return remaining, ReasonDailyPointsCap, nil
		}
	}
	return points, "", nil
}

func entryMetadata(req DepositRequest, computed int64) map[string]interface{} {
	meta := make(map[string]interface{}, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["depositAmount"] = req.Amount.String()
	meta["exchangeRate"] = req.ExchangeRate.String()
	meta["computedPoints"] = computed
	return meta
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	// sqlite without error translation
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
