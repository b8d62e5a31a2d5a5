package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/repo"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
)

// Repository persists the off-chain subscription mirror.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindScoped(ctx context.Context, id, organizationID uuid.UUID, env enums.Network) (*models.Subscription, error)
	FindByCheckoutCustomer(ctx context.Context, checkoutID, customerID uuid.UUID) (*models.Subscription, error)
	FindLiveByCustomerProduct(ctx context.Context, customerID, productID uuid.UUID) (*models.Subscription, error)
	ListDue(ctx context.Context, now time.Time, retryAfter time.Duration, limit int) ([]models.Subscription, error)
	MarkChargePending(ctx context.Context, id uuid.UUID, txHash string, at time.Time) error
	RecordChargeAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePeriod(ctx context.Context, id uuid.UUID, oldEnd, newStart, newEnd time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, to enums.SubscriptionStatus, at time.Time) (bool, error)
}

type repository struct {
	base repo.Base
}

// NewRepository builds a subscriptions repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.base.DB(ctx).Create(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.base.DB(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindScoped(ctx context.Context, id, organizationID uuid.UUID, env enums.Network) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.base.DB(ctx).
		Where("id = ? AND organization_id = ? AND environment = ?", id, organizationID, env).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByCheckoutCustomer(ctx context.Context, checkoutID, customerID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.base.DB(ctx).
		Where("checkout_id = ? AND customer_id = ?", checkoutID, customerID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindLiveByCustomerProduct returns the customer's subscription to product
// that has not been canceled.
func (r *repository) FindLiveByCustomerProduct(ctx context.Context, customerID, productID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.base.DB(ctx).
		Where("customer_id = ? AND product_id = ? AND status <> ?", customerID, productID, enums.SubscriptionStatusCanceled).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListDue returns active subscriptions whose current period has ended.
// A subscription whose charge of this period already failed comes back once
// retryAfter has passed; one with a charge in flight always comes back.
// Never attempted subscriptions come first, then the longest waiting.
func (r *repository) ListDue(ctx context.Context, now time.Time, retryAfter time.Duration, limit int) ([]models.Subscription, error) {
	var rows []models.Subscription
	q := r.base.DB(ctx).
		Where("status = ? AND current_period_end <= ?", enums.SubscriptionStatusActive, now).
		Where(
			"pending_charge_tx IS NOT NULL OR last_charge_attempt_at IS NULL OR last_charge_attempt_at < current_period_end OR last_charge_attempt_at <= ?",
			now.Add(-retryAfter),
		).
		Order("last_charge_attempt_at IS NOT NULL").
		Order("last_charge_attempt_at ASC").
		Order("current_period_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkChargePending keeps the hash of a charge that was sent but not seen
// final, so the next run looks it up instead of charging again.
func (r *repository) MarkChargePending(ctx context.Context, id uuid.UUID, txHash string, at time.Time) error {
	return r.base.DB(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"pending_charge_tx": txHash,
			"pending_charge_at": at,
			"updated_at":        at,
		}).Error
}

// RecordChargeAttempt stamps a finished charge attempt and clears any charge
// in flight.
func (r *repository) RecordChargeAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.base.DB(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_charge_attempt_at": at,
			"pending_charge_tx":      nil,
			"pending_charge_at":      nil,
			"updated_at":             at,
		}).Error
}

// UpdatePeriod advances the billing period only if it still ends at oldEnd,
// so a renewal is applied once even when two billers race.
func (r *repository) UpdatePeriod(ctx context.Context, id uuid.UUID, oldEnd, newStart, newEnd time.Time) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND current_period_end = ?", id, enums.SubscriptionStatusActive, oldEnd).
		Updates(map[string]any{
			"current_period_start": newStart,
			"current_period_end":   newEnd,
			"updated_at":           time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateStatus moves the subscription to status when it is currently in one
// of from.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, to enums.SubscriptionStatus, at time.Time) (bool, error) {
	patch := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case enums.SubscriptionStatusPaused:
		patch["paused_at"] = at
	case enums.SubscriptionStatusActive:
		patch["paused_at"] = nil
	case enums.SubscriptionStatusCanceled:
		patch["canceled_at"] = at
	}
	res := r.base.DB(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(patch)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
