package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/types"
)

// Event is the internal append-only audit trail of settlement activity.
// ID reuses the outbox event id so replays collide on the primary key.
type Event struct {
	ID             uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID     `gorm:"column:organization_id;type:uuid;not null;index"`
	Environment    enums.Network `gorm:"column:environment;type:network_environment;not null"`
	Type           string        `gorm:"column:type;not null"`
	AggregateID    uuid.UUID     `gorm:"column:aggregate_id;type:uuid;not null"`
	Data           types.JSONMap `gorm:"column:data;type:jsonb;not null"`
	OccurredAt     time.Time     `gorm:"column:occurred_at;not null"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime"`
}
