package checkouts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/db/dbtest"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
)

func TestListOpenSkipsSettledCheckouts(t *testing.T) {
	db := dbtest.Open(t)
	org := dbtest.Organization(t, db)
	product := dbtest.Product(t, db, org.ID, enums.ProductTypeOneTime)

	first := dbtest.Checkout(t, db, product)
	dbtest.Checkout(t, db, product, func(c *models.Checkout) { c.Status = enums.CheckoutStatusCompleted })
	second := dbtest.Checkout(t, db, product)

	rows, err := NewRepository(db).ListOpen(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	ids := []uuid.UUID{rows[0].ID, rows[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, ids)
}

func TestListOpenHonoursLimit(t *testing.T) {
	db := dbtest.Open(t)
	org := dbtest.Organization(t, db)
	product := dbtest.Product(t, db, org.ID, enums.ProductTypeOneTime)
	for i := 0; i < 3; i++ {
		dbtest.Checkout(t, db, product)
	}

	rows, err := NewRepository(db).ListOpen(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestFindScopedRequiresMatchingOrganization(t *testing.T) {
	db := dbtest.Open(t)
	org := dbtest.Organization(t, db)
	product := dbtest.Product(t, db, org.ID, enums.ProductTypeOneTime)
	checkout := dbtest.Checkout(t, db, product)
	repo := NewRepository(db)
	ctx := context.Background()

	found, err := repo.FindScoped(ctx, checkout.ID, org.ID, enums.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, checkout.ID, found.ID)

	_, err = repo.FindScoped(ctx, checkout.ID, uuid.New(), enums.NetworkTestnet)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	_, err = repo.FindScoped(ctx, checkout.ID, org.ID, enums.NetworkMainnet)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestTransitionStatusOnlyLeavesOpenOnce(t *testing.T) {
	db := dbtest.Open(t)
	org := dbtest.Organization(t, db)
	product := dbtest.Product(t, db, org.ID, enums.ProductTypeOneTime)
	checkout := dbtest.Checkout(t, db, product)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	moved, err := repo.TransitionStatus(ctx, checkout.ID, enums.CheckoutStatusOpen, enums.CheckoutStatusCompleted, now)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repo.TransitionStatus(ctx, checkout.ID, enums.CheckoutStatusOpen, enums.CheckoutStatusFailed, now)
	require.NoError(t, err)
	assert.False(t, moved, "second transition must miss")

	stored, err := repo.FindByID(ctx, checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.FailedAt)
}

func TestTransitionStatusStampsExpiry(t *testing.T) {
	db := dbtest.Open(t)
	org := dbtest.Organization(t, db)
	product := dbtest.Product(t, db, org.ID, enums.ProductTypeOneTime)
	checkout := dbtest.Checkout(t, db, product)
	repo := NewRepository(db)
	ctx := context.Background()

	moved, err := repo.TransitionStatus(ctx, checkout.ID, enums.CheckoutStatusOpen, enums.CheckoutStatusExpired, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, moved)

	stored, err := repo.FindByID(ctx, checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStatusExpired, stored.Status)
	assert.NotNil(t, stored.ExpiredAt)
}

func TestTransitionStatusRejectsOpenTarget(t *testing.T) {
	db := dbtest.Open(t)
	_, err := NewRepository(db).TransitionStatus(context.Background(), uuid.New(), enums.CheckoutStatusCompleted, enums.CheckoutStatusOpen, time.Now())
	assert.Error(t, err)
}

func TestWithTxRollsBackTransition(t *testing.T) {
	db := dbtest.Open(t)
	org := dbtest.Organization(t, db)
	product := dbtest.Product(t, db, org.ID, enums.ProductTypeOneTime)
	checkout := dbtest.Checkout(t, db, product)
	repo := NewRepository(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.Transaction(func(tx *gorm.DB) error {
		moved, err := repo.WithTx(tx).TransitionStatus(ctx, checkout.ID, enums.CheckoutStatusOpen, enums.CheckoutStatusCompleted, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, moved)
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := repo.FindByID(ctx, checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStatusOpen, stored.Status)
}

func TestAdvanceSearchCursorOnlyWhileOpen(t *testing.T) {
	db := dbtest.Open(t)
	org := dbtest.Organization(t, db)
	product := dbtest.Product(t, db, org.ID, enums.ProductTypeOneTime)
	open := dbtest.Checkout(t, db, product)
	closed := dbtest.Checkout(t, db, product, func(c *models.Checkout) { c.Status = enums.CheckoutStatusExpired })
	repo := NewRepository(db)

	moved, err := repo.AdvanceSearchCursor(context.Background(), open.ID, "2000")
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = repo.AdvanceSearchCursor(context.Background(), closed.ID, "2000")
	require.NoError(t, err)
	assert.False(t, moved)

	stored, err := repo.FindByID(context.Background(), open.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SearchCursor)
	assert.Equal(t, "2000", *stored.SearchCursor)
	assert.Equal(t, "1000", stored.InitialPagingToken)
}
