package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/enums"
)

// Payment is the append-only record of a settled ledger transaction.
type Payment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID  uuid.UUID           `gorm:"column:organization_id;type:uuid;not null;index"`
	Environment     enums.Network       `gorm:"column:environment;type:network_environment;not null"`
	CheckoutID      *uuid.UUID          `gorm:"column:checkout_id;type:uuid"`
	SubscriptionID  *uuid.UUID          `gorm:"column:subscription_id;type:uuid"`
	CustomerID      *uuid.UUID          `gorm:"column:customer_id;type:uuid"`
	Amount          int64               `gorm:"column:amount;not null"`
	AssetCode       string              `gorm:"column:asset_code;not null;default:'XLM'"`
	TransactionHash string              `gorm:"column:transaction_hash;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;type:payment_status;not null"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
