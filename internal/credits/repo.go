package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/repo"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
)

// Repository reads balances and applies compare-and-swap updates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBalance(ctx context.Context, customerID, productID uuid.UUID) (*models.CreditBalance, error)
	CreateBalance(ctx context.Context, balance *models.CreditBalance) error
	SwapBalance(ctx context.Context, swap Swap) (bool, error)
	CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error
	ListTransactions(ctx context.Context, balanceID uuid.UUID) ([]models.CreditTransaction, error)
}

// Swap moves a balance from Expected to Next only if nobody changed it in
// between. Consumed and Granted are added to the running totals.
type Swap struct {
	BalanceID uuid.UUID
	Expected  int64
	Next      int64
	Consumed  int64
	Granted   int64
	At        time.Time
}

type repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.Bind(tx)}
}

func (r *repository) FindBalance(ctx context.Context, customerID, productID uuid.UUID) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	err := r.base.DB(ctx).
		Where("customer_id = ? AND product_id = ?", customerID, productID).
		First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) CreateBalance(ctx context.Context, balance *models.CreditBalance) error {
	return r.base.DB(ctx).Create(balance).Error
}

func (r *repository) SwapBalance(ctx context.Context, swap Swap) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.CreditBalance{}).
		Where("id = ? AND balance = ?", swap.BalanceID, swap.Expected).
		Updates(map[string]any{
			"balance":    swap.Next,
			"consumed":   gorm.Expr("consumed + ?", swap.Consumed),
			"granted":    gorm.Expr("granted + ?", swap.Granted),
			"updated_at": swap.At,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	return r.base.DB(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, balanceID uuid.UUID) ([]models.CreditTransaction, error) {
	var rows []models.CreditTransaction
	err := r.base.DB(ctx).
		Where("balance_id = ?", balanceID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
