package customers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/repo"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
)

type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Customer, error)
}

type repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.base.DB(ctx).Where("id = ?", id).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Customer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Customer
	if err := r.base.DB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
