package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/enums"
)

// Product is read by settlement to price charges and detect subscriptions.
type Product struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID    uuid.UUID         `gorm:"column:organization_id;type:uuid;not null;index"`
	Environment       enums.Network     `gorm:"column:environment;type:network_environment;not null"`
	Name              string            `gorm:"column:name;not null"`
	Type              enums.ProductType `gorm:"column:type;type:product_type;not null"`
	PriceAmount       int64             `gorm:"column:price_amount;not null"`
	AssetCode         string            `gorm:"column:asset_code;not null;default:'XLM'"`
	BillingPeriodDays *int              `gorm:"column:billing_period_days"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// IsSubscription reports whether paying for the product provisions a subscription.
func (p Product) IsSubscription() bool {
	return p.Type == enums.ProductTypeSubscription
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
