package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/enums"
)

// CreditBalance holds the metered credits of one customer for one product.
// Balance is only changed through compare-and-swap updates.
type CreditBalance struct {
	ID             uuid.UUID     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID uuid.UUID     `gorm:"column:organization_id;type:uuid;not null"`
	Environment    enums.Network `gorm:"column:environment;type:network_environment;not null"`
	CustomerID     uuid.UUID     `gorm:"column:customer_id;type:uuid;not null"`
	ProductID      uuid.UUID     `gorm:"column:product_id;type:uuid;not null"`
	Balance        int64         `gorm:"column:balance;not null;default:0"`
	Consumed       int64         `gorm:"column:consumed;not null;default:0"`
	Granted        int64         `gorm:"column:granted;not null;default:0"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *CreditBalance) BeforeCreate(*gorm.DB) error {
	assignID(&b.ID)
	return nil
}

// CreditTransaction is the immutable journal entry for a balance movement.
type CreditTransaction struct {
	ID            uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BalanceID     uuid.UUID                   `gorm:"column:balance_id;type:uuid;not null;index"`
	CustomerID    uuid.UUID                   `gorm:"column:customer_id;type:uuid;not null"`
	ProductID     uuid.UUID                   `gorm:"column:product_id;type:uuid;not null"`
	Type          enums.CreditTransactionType `gorm:"column:type;type:credit_transaction_type;not null"`
	Amount        int64                       `gorm:"column:amount;not null"`
	BalanceBefore int64                       `gorm:"column:balance_before;not null"`
	BalanceAfter  int64                       `gorm:"column:balance_after;not null"`
	Reason        *string                     `gorm:"column:reason"`
	CreatedAt     time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (t *CreditTransaction) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}
