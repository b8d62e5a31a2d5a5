package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization carries the plan limits enforced on event delivery.
type Organization struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name              string    `gorm:"column:name;not null"`
	Plan              string    `gorm:"column:plan;not null;default:'free'"`
	BillingEventQuota *int64    `gorm:"column:billing_event_quota"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Organization) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}
