package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Credit transaction types.
const (
	CreditTypeDepositReward = "DEPOSIT_REWARD"
)

// CreditTransaction is an immutable ledger row. (company_id, reference_id) is unique,
// which is what makes a replayed deposit a no-op.
type CreditTransaction struct {
	ID            string                 `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CompanyID     string                 `gorm:"type:varchar(36);not null;index:ux_credit_tx_company_reference,unique,priority:1" json:"company_id"`
	MemberID      string                 `gorm:"type:varchar(36);not null;index" json:"member_id"`
	Amount        int64                  `gorm:"not null" json:"amount"`
	BalanceBefore int64                  `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64                  `gorm:"not null" json:"balance_after"`
	Type          string                 `gorm:"type:varchar(50);not null;index" json:"type"`
	ReferenceID   string                 `gorm:"type:varchar(191);not null;index:ux_credit_tx_company_reference,unique,priority:2" json:"reference_id"`
	Reason        string                 `gorm:"type:varchar(255)" json:"reason,omitempty"`
	Metadata      map[string]interface{} `gorm:"type:json;serializer:json" json:"metadata"`
	CreatedAt     time.Time              `gorm:"autoCreateTime;index" json:"created_at"`
}

// BeforeCreate assigns a uuid primary key when none is set
func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
