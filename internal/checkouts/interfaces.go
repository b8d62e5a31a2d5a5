package checkouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
)

// Repository exposes checkout reads and the single conditional state change.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Checkout, error)
	FindScoped(ctx context.Context, id, organizationID uuid.UUID, env enums.Network) (*models.Checkout, error)
	ListOpen(ctx context.Context, limit int) ([]models.Checkout, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.CheckoutStatus, at time.Time) (bool, error)
	AdvanceSearchCursor(ctx context.Context, id uuid.UUID, cursor string) (bool, error)
}
