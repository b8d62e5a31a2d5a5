package checkouts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/repo"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
)

type repository struct {
	base repo.Base
}

// NewRepository builds a checkouts repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.Bind(tx)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	var checkout models.Checkout
	if err := r.base.DB(ctx).Where("id = ?", id).First(&checkout).Error; err != nil {
		return nil, err
	}
	return &checkout, nil
}

func (r *repository) FindScoped(ctx context.Context, id, organizationID uuid.UUID, env enums.Network) (*models.Checkout, error) {
	var checkout models.Checkout
	err := r.base.DB(ctx).
		Where("id = ? AND organization_id = ? AND environment = ?", id, organizationID, env).
		First(&checkout).Error
	if err != nil {
		return nil, err
	}
	return &checkout, nil
}

// ListOpen returns open checkouts across every organization, oldest first.
func (r *repository) ListOpen(ctx context.Context, limit int) ([]models.Checkout, error) {
	var rows []models.Checkout
	q := r.base.DB(ctx).
		Where("status = ?", enums.CheckoutStatusOpen).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// TransitionStatus moves the checkout from one status to another only if it is
// still in from. It reports false when another writer got there first.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.CheckoutStatus, at time.Time) (bool, error) {
	stamp, err := timestampColumn(to)
	if err != nil {
		return false, err
	}
	res := r.base.DB(ctx).
		Model(&models.Checkout{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			stamp:        at,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AdvanceSearchCursor records where the ledger search of an open checkout
// resumes. Closed checkouts are left alone.
func (r *repository) AdvanceSearchCursor(ctx context.Context, id uuid.UUID, cursor string) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.Checkout{}).
		Where("id = ? AND status = ?", id, enums.CheckoutStatusOpen).
		Updates(map[string]any{
			"search_cursor": cursor,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func timestampColumn(status enums.CheckoutStatus) (string, error) {
	switch status {
	case enums.CheckoutStatusCompleted:
		return "completed_at", nil
	case enums.CheckoutStatusFailed:
		return "failed_at", nil
	case enums.CheckoutStatusExpired:
		return "expired_at", nil
	default:
		return "", fmt.Errorf("checkout cannot transition to %q", status)
	}
}
