package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/enums"
)

// Subscription is the off-chain mirror of a contract subscription.
type Subscription struct {
	ID                  uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID      uuid.UUID                `gorm:"column:organization_id;type:uuid;not null;index"`
	Environment         enums.Network            `gorm:"column:environment;type:network_environment;not null"`
	CustomerID          uuid.UUID                `gorm:"column:customer_id;type:uuid;not null;index"`
	ProductID           uuid.UUID                `gorm:"column:product_id;type:uuid;not null"`
	CheckoutID          *uuid.UUID               `gorm:"column:checkout_id;type:uuid"`
	Status              enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	CurrentPeriodStart  time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd    time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd   bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	PausedAt            *time.Time               `gorm:"column:paused_at"`
	CanceledAt          *time.Time               `gorm:"column:canceled_at"`
	// PendingChargeTx is a charge transaction that was sent but not seen final.
	PendingChargeTx     *string                  `gorm:"column:pending_charge_tx"`
	PendingChargeAt     *time.Time               `gorm:"column:pending_charge_at"`
	LastChargeAttemptAt *time.Time               `gorm:"column:last_charge_attempt_at"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}
