package webhooks

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/repo"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
)

// Repository reads subscriber endpoints and appends delivery logs.
type Repository interface {
	ListSubscribed(ctx context.Context, organizationID uuid.UUID, env enums.Network, eventType string) ([]models.Webhook, error)
	CreateLog(ctx context.Context, log *models.WebhookLog) error
	ListLogs(ctx context.Context, webhookID uuid.UUID) ([]models.WebhookLog, error)
	BillingEventQuota(ctx context.Context, organizationID uuid.UUID) (*int64, error)
}

type repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

// ListSubscribed returns enabled webhooks of the org/env whose event filter
// matches eventType.
func (r *repository) ListSubscribed(ctx context.Context, organizationID uuid.UUID, env enums.Network, eventType string) ([]models.Webhook, error) {
	var rows []models.Webhook
	err := r.base.DB(ctx).
		Where("organization_id = ? AND environment = ? AND enabled = ?", organizationID, env, true).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	subscribed := rows[:0]
	for _, hook := range rows {
		if hook.Subscribes(eventType) {
			subscribed = append(subscribed, hook)
		}
	}
	return subscribed, nil
}

func (r *repository) CreateLog(ctx context.Context, log *models.WebhookLog) error {
	return r.base.DB(ctx).Create(log).Error
}

func (r *repository) ListLogs(ctx context.Context, webhookID uuid.UUID) ([]models.WebhookLog, error) {
	var rows []models.WebhookLog
	err := r.base.DB(ctx).
		Where("webhook_id = ?", webhookID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// BillingEventQuota returns the organization's plan quota, nil when the
// organization has none configured or does not exist.
func (r *repository) BillingEventQuota(ctx context.Context, organizationID uuid.UUID) (*int64, error) {
	var org models.Organization
	err := r.base.DB(ctx).
		Select("id", "billing_event_quota").
		Where("id = ?", organizationID).
		First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return org.BillingEventQuota, nil
}
