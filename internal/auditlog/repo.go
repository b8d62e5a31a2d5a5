package auditlog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/repo"
	"github.com/lumenpay/settlement-backend/pkg/db"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
)

// Repository appends audit events. Rows are keyed by the outbox event id.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Record(ctx context.Context, event *models.Event) (bool, error)
	ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.Event, error)
}

type repository struct {
	base repo.Base
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.Bind(tx)}
}

// Record inserts the event and reports false when the id was already stored.
func (r *repository) Record(ctx context.Context, event *models.Event) (bool, error) {
	err := r.base.DB(ctx).Create(event).Error
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.Event, error) {
	var rows []models.Event
	err := r.base.DB(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("occurred_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
