package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/app/repository"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *time.Time) {
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
	require.NoError(t, db.AutoMigrate(&models.Member{}, &models.CreditTransaction{}))

	clock := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(db, repository.NewMemberRepository(db))
	svc.now = func() time.Time { return clock }
	return svc, db, &clock
}

func deposit(ref string, amount, rate string) DepositRequest {
	return DepositRequest{
		CompanyID:      "c1",
		ExternalUserID: "u1",
		Amount:         decimal.RequireFromString(amount),
		ExchangeRate:   decimal.RequireFromString(rate),
		ReferenceID:    ref,
		Metadata:       map[string]interface{}{"orderId": ref},
	}
}

func countEntries(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.CreditTransaction{}).Count(&n).Error)
	return n
}

func balanceOf(t *testing.T, db *gorm.DB, externalID string) int64 {
	t.Helper()
	var m models.Member
	require.NoError(t, db.Where("company_id = ? AND external_id = ?", "c1", externalID).First(&m).Error)
	return m.PointsBalance
}

func TestProcessDepositIsIdempotent(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.ProcessDeposit(ctx, deposit("ref-1", "10", "10"))
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(100), first.PointsAdded)
	assert.Equal(t, int64(100), first.BalanceAfter)

	var entry models.CreditTransaction
	require.NoError(t, db.Where("reference_id = ?", "ref-1").First(&entry).Error)
	assert.Equal(t, int64(0), entry.BalanceBefore)
	assert.Equal(t, int64(100), entry.BalanceAfter)
	assert.Equal(t, models.CreditTypeDepositReward, entry.Type)
	assert.Equal(t, "10", entry.Metadata["depositAmount"])

	second, err := svc.ProcessDeposit(ctx, deposit("ref-1", "10", "10"))
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(0), second.PointsAdded)
	assert.Equal(t, int64(100), second.BalanceAfter)

	assert.Equal(t, int64(1), countEntries(t, db))
	assert.Equal(t, int64(100), balanceOf(t, db, "u1"))
}

func TestProcessDepositRejectsNonPositiveRate(t *testing.T) {
	for _, rate := range []string{"0", "-2.5"} {
		t.Run(rate, func(t *testing.T) {
			svc, db, _ := newTestService(t)

			result, err := svc.ProcessDeposit(context.Background(), deposit("ref-1", "10", rate))
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, ReasonInvalidRate, result.Reason)
			assert.Equal(t, int64(0), result.PointsAdded)

			assert.Equal(t, int64(0), countEntries(t, db))
			var members int64
			require.NoError(t, db.Model(&models.Member{}).Count(&members).Error)
			assert.Equal(t, int64(0), members)
		})
	}
}

func TestProcessDepositFloorsPoints(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.ProcessDeposit(ctx, deposit("ref-1", "10.5", "1.5"))
	require.NoError(t, err)
	assert.Equal(t, int64(15), result.PointsAdded)

	// below one point: trivially successful, nothing written
	result, err = svc.ProcessDeposit(ctx, deposit("ref-2", "0.5", "1"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(0), result.PointsAdded)
	assert.Equal(t, ReasonBelowOnePoint, result.Reason)
	assert.Equal(t, int64(1), countEntries(t, db))
	assert.Equal(t, int64(15), balanceOf(t, db, "u1"))
}

func TestProcessDepositCreatesMemberLazily(t *testing.T) {
	svc, db, _ := newTestService(t)

	req := deposit("ref-1", "3", "2")
	req.ExternalUserID = "brand-new"
	result, err := svc.ProcessDeposit(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, result.MemberID)
	assert.Equal(t, int64(6), balanceOf(t, db, "brand-new"))
}

func TestProcessDepositRejectsInvalidInput(t *testing.T) {
	svc, db, _ := newTestService(t)

	tests := []struct {
		name string
		req  DepositRequest
	}{
		{"missing reference", deposit("", "10", "1")},
		{"zero amount", deposit("ref-1", "0", "1")},
		{"negative amount", deposit("ref-1", "-5", "1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.ProcessDeposit(context.Background(), tt.req)
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, ReasonInvalidDeposit, result.Reason)
		})
	}
	assert.Equal(t, int64(0), countEntries(t, db))
}

func TestDailyPointsLimit(t *testing.T) {
	svc, db, clock := newTestService(t)
	ctx := context.Background()
	limits := Limits{MaxPointsPerDay: 150}

	req := deposit("ref-1", "10", "10")
	req.Limits = limits
	result, err := svc.ProcessDeposit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.PointsAdded)

	req = deposit("ref-2", "10", "10")
	req.Limits = limits
	result, err = svc.ProcessDeposit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(50), result.PointsAdded)
	assert.Equal(t, ReasonDailyPointsCap, result.Reason)

	// capped to zero still consumes the reference
	req = deposit("ref-3", "10", "10")
	req.Limits = limits
	result, err = svc.ProcessDeposit(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(0), result.PointsAdded)
	assert.Equal(t, int64(3), countEntries(t, db))
	assert.Equal(t, int64(150), balanceOf(t, db, "u1"))

	// a new day starts a new budget
	*clock = clock.Add(24 * time.Hour)
	req = deposit("ref-4", "10", "10")
	req.Limits = limits
	result, err = svc.ProcessDeposit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.PointsAdded)
	assert.Equal(t, int64(250), balanceOf(t, db, "u1"))
}

func TestMaxEligibleDeposits(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	for i, expected := range []int64{20, 20, 0} {
		req := deposit(fmt.Sprintf("ref-%d", i), "2", "10")
		req.Limits = Limits{MaxEligibleDeposits: 2}
		result, err := svc.ProcessDeposit(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, expected, result.PointsAdded, "deposit %d", i)
	}
	assert.Equal(t, int64(40), balanceOf(t, db, "u1"))
}

func TestConcurrentReplaysCreditOnce(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.ProcessDeposit(ctx, deposit("ref-1", "10", "10"))
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	credited := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.True(t, r.Success)
		if !r.Duplicate {
			credited++
		}
	}
	assert.Equal(t, 1, credited)
	assert.Equal(t, int64(1), countEntries(t, db))
	assert.Equal(t, int64(100), balanceOf(t, db, "u1"))
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"gorm", gorm.ErrDuplicatedKey, true},
		{"mysql 1062", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"mysql other", &mysql.MySQLError{Number: 1213, Message: "Deadlock"}, false},
		{"sqlite", errors.New("UNIQUE constraint failed: credit_transactions.company_id"), true},
		{"wrapped", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"other", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsDuplicateKey(tt.err))
		})
	}
}

func TestPoints(t *testing.T) {
	assert.Equal(t, int64(100), Points(decimal.NewFromInt(10), decimal.NewFromInt(10)))
	assert.Equal(t, int64(3), Points(decimal.RequireFromString("0.1"), decimal.RequireFromString("33.3")))
	assert.Equal(t, int64(0), Points(decimal.RequireFromString("0.99"), decimal.NewFromInt(1)))
}
