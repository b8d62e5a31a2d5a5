package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/types"
)

// Checkout is a single payment intent waiting for a matching ledger payment.
// The memo of the paying transaction must equal the checkout ID.
type Checkout struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID     uuid.UUID               `gorm:"column:organization_id;type:uuid;not null;index"`
	Environment        enums.Network           `gorm:"column:environment;type:network_environment;not null"`
	Status             enums.CheckoutStatus    `gorm:"column:status;type:checkout_status;not null;default:'open'"`
	ProductID          *uuid.UUID              `gorm:"column:product_id;type:uuid"`
	Amount             *int64                  `gorm:"column:amount"`
	AssetCode          string                  `gorm:"column:asset_code;not null;default:'XLM'"`
	CustomerID         *uuid.UUID              `gorm:"column:customer_id;type:uuid"`
	ExpiresAt          time.Time               `gorm:"column:expires_at;not null"`
	MerchantPublicKey  string                  `gorm:"column:merchant_public_key;not null"`
	InitialPagingToken string                  `gorm:"column:initial_paging_token;not null"`
	// SearchCursor is where the next ledger search resumes once earlier
	// pages were read without a settling payment.
	SearchCursor       *string                 `gorm:"column:search_cursor"`
	SubscriptionData   *types.SubscriptionData `gorm:"column:subscription_data;type:jsonb"`
	SuccessURL         *string                 `gorm:"column:success_url"`
	CompletedAt        *time.Time              `gorm:"column:completed_at"`
	FailedAt           *time.Time              `gorm:"column:failed_at"`
	ExpiredAt          *time.Time              `gorm:"column:expired_at"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Checkout) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}
