package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/types"
)

// Webhook is a merchant endpoint subscribed to a set of event types.
type Webhook struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID uuid.UUID      `gorm:"column:organization_id;type:uuid;not null;index"`
	Environment    enums.Network  `gorm:"column:environment;type:network_environment;not null"`
	URL            string         `gorm:"column:url;not null"`
	Secret         string         `gorm:"column:secret;not null"`
	Events         pq.StringArray `gorm:"column:events;type:text[];not null"`
	Enabled        bool           `gorm:"column:enabled;not null;default:true"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// Subscribes reports whether the webhook wants eventType; "*" matches everything.
func (w Webhook) Subscribes(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// WebhookLog records one delivery attempt, including quota rejections.
type WebhookLog struct {
	ID             uuid.UUID     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WebhookID      uuid.UUID     `gorm:"column:webhook_id;type:uuid;not null;index"`
	OrganizationID uuid.UUID     `gorm:"column:organization_id;type:uuid;not null"`
	Environment    enums.Network `gorm:"column:environment;type:network_environment;not null"`
	EventID        uuid.UUID     `gorm:"column:event_id;type:uuid;not null"`
	EventType      string        `gorm:"column:event_type;not null"`
	Request        types.JSONMap `gorm:"column:request;type:jsonb;not null"`
	StatusCode     *int          `gorm:"column:status_code"`
	ResponseTimeMS int64         `gorm:"column:response_time_ms;not null;default:0"`
	Error          *string       `gorm:"column:error"`
	NextRetry      *time.Time    `gorm:"column:next_retry"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime"`
}

func (l *WebhookLog) BeforeCreate(*gorm.DB) error {
	assignID(&l.ID)
	return nil
}

func (w *Webhook) BeforeCreate(*gorm.DB) error {
	assignID(&w.ID)
	return nil
}
