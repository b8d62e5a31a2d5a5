package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/db/dbtest"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
)

func TestRepositoryListDueOnlyActiveAndEnded(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	org := dbtest.Organization(t, conn)
	product := dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, conn, org.ID)
	now := time.Now().UTC().Truncate(time.Second)

	due := dbtest.Subscription(t, conn, customer, product, now.Add(-time.Hour))
	dbtest.Subscription(t, conn, customer, product, now.Add(time.Hour))
	paused := dbtest.Subscription(t, conn, customer, product, now.Add(-2*time.Hour))
	require.NoError(t, conn.Model(&models.Subscription{}).Where("id = ?", paused.ID).Update("status", enums.SubscriptionStatusPaused).Error)

	rows, err := repo.ListDue(context.Background(), now, time.Hour, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, due.ID, rows[0].ID)
}

func TestRepositoryListDueDoesNotStarveBehindFailingCharges(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	org := dbtest.Organization(t, conn)
	product := dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, conn, org.ID)
	now := time.Now().UTC().Truncate(time.Second)

	// The two oldest periods keep failing; the newer one was never tried.
	failingA := dbtest.Subscription(t, conn, customer, product, now.Add(-72*time.Hour))
	failingB := dbtest.Subscription(t, conn, customer, product, now.Add(-48*time.Hour))
	fresh := dbtest.Subscription(t, conn, customer, product, now.Add(-time.Hour))
	require.NoError(t, repo.RecordChargeAttempt(ctx, failingA.ID, now.Add(-10*time.Minute)))
	require.NoError(t, repo.RecordChargeAttempt(ctx, failingB.ID, now.Add(-5*time.Minute)))

	rows, err := repo.ListDue(ctx, now, time.Hour, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, fresh.ID, rows[0].ID)

	// Once the retry delay has passed the failing ones come back, never-tried
	// first and then the longest waiting.
	later := now.Add(2 * time.Hour)
	rows, err = repo.ListDue(ctx, later, time.Hour, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, fresh.ID, rows[0].ID)
	require.Equal(t, failingA.ID, rows[1].ID)
}

func TestRepositoryListDueKeepsPendingCharges(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	org := dbtest.Organization(t, conn)
	product := dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, conn, org.ID)
	now := time.Now().UTC().Truncate(time.Second)

	sub := dbtest.Subscription(t, conn, customer, product, now.Add(-time.Hour))
	require.NoError(t, repo.RecordChargeAttempt(ctx, sub.ID, now.Add(-time.Minute)))
	require.NoError(t, repo.MarkChargePending(ctx, sub.ID, "tx-inflight", now))

	rows, err := repo.ListDue(ctx, now, time.Hour, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].PendingChargeTx)
	require.Equal(t, "tx-inflight", *rows[0].PendingChargeTx)

	require.NoError(t, repo.RecordChargeAttempt(ctx, sub.ID, now))
	stored, err := repo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.Nil(t, stored.PendingChargeTx)
	require.Nil(t, stored.PendingChargeAt)
	require.NotNil(t, stored.LastChargeAttemptAt)
}

func TestRepositoryListDueAfterRenewal(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	org := dbtest.Organization(t, conn)
	product := dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, conn, org.ID)
	now := time.Now().UTC().Truncate(time.Second)

	// Renewed 30 minutes ago into a short period that has already ended.
	sub := dbtest.Subscription(t, conn, customer, product, now.Add(-10*time.Minute))
	require.NoError(t, repo.RecordChargeAttempt(ctx, sub.ID, now.Add(-30*time.Minute)))

	rows, err := repo.ListDue(ctx, now, 6*time.Hour, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestRepositoryUpdatePeriodGuardsOnOldEnd(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	org := dbtest.Organization(t, conn)
	product := dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, conn, org.ID)
	end := time.Now().UTC().Truncate(time.Second).Add(-time.Minute)
	sub := dbtest.Subscription(t, conn, customer, product, end)
	next := end.AddDate(0, 1, 0)

	moved, err := repo.UpdatePeriod(context.Background(), sub.ID, end, end, next)
	require.NoError(t, err)
	require.True(t, moved)

	moved, err = repo.UpdatePeriod(context.Background(), sub.ID, end, end, next.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.False(t, moved, "stale period end must not advance twice")

	stored, err := repo.FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	require.True(t, stored.CurrentPeriodEnd.Equal(next))
	require.True(t, stored.CurrentPeriodStart.Equal(end))
}

func TestRepositoryUpdateStatusStampsTimestamps(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	org := dbtest.Organization(t, conn)
	product := dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, conn, org.ID)
	sub := dbtest.Subscription(t, conn, customer, product, time.Now().UTC().Add(time.Hour))
	at := time.Now().UTC().Truncate(time.Second)

	moved, err := repo.UpdateStatus(context.Background(), sub.ID, pauseAction.from, enums.SubscriptionStatusPaused, at)
	require.NoError(t, err)
	require.True(t, moved)

	stored, err := repo.FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusPaused, stored.Status)
	require.NotNil(t, stored.PausedAt)

	moved, err = repo.UpdateStatus(context.Background(), sub.ID, pauseAction.from, enums.SubscriptionStatusPaused, at)
	require.NoError(t, err)
	require.False(t, moved)

	moved, err = repo.UpdateStatus(context.Background(), sub.ID, cancelAction.from, enums.SubscriptionStatusCanceled, at)
	require.NoError(t, err)
	require.True(t, moved)
	stored, err = repo.FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CanceledAt)
}

func TestRepositoryFindLiveIgnoresCanceled(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	org := dbtest.Organization(t, conn)
	product := dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, conn, org.ID)
	sub := dbtest.Subscription(t, conn, customer, product, time.Now().UTC().Add(time.Hour))
	require.NoError(t, conn.Model(&models.Subscription{}).Where("id = ?", sub.ID).Update("status", enums.SubscriptionStatusCanceled).Error)

	_, err := repo.FindLiveByCustomerProduct(context.Background(), customer.ID, product.ID)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepositoryFindScopedChecksOrganization(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	org := dbtest.Organization(t, conn)
	product := dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, conn, org.ID)
	sub := dbtest.Subscription(t, conn, customer, product, time.Now().UTC().Add(time.Hour))

	_, err := repo.FindScoped(context.Background(), sub.ID, uuid.New(), enums.NetworkTestnet)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	found, err := repo.FindScoped(context.Background(), sub.ID, org.ID, enums.NetworkTestnet)
	require.NoError(t, err)
	require.Equal(t, sub.ID, found.ID)
}

func TestRepositoryCheckoutCustomerUnique(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	org := dbtest.Organization(t, conn)
	product := dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, conn, org.ID)
	checkoutID := uuid.New()
	start := time.Now().UTC().Truncate(time.Second)

	newSub := func() *models.Subscription {
		return &models.Subscription{
			OrganizationID:     org.ID,
			Environment:        enums.NetworkTestnet,
			CustomerID:         customer.ID,
			ProductID:          product.ID,
			CheckoutID:         &checkoutID,
			Status:             enums.SubscriptionStatusActive,
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		}
	}
	require.NoError(t, repo.Create(context.Background(), newSub()))
	require.Error(t, repo.Create(context.Background(), newSub()))

	found, err := repo.FindByCheckoutCustomer(context.Background(), checkoutID, customer.ID)
	require.NoError(t, err)
	require.Equal(t, customer.ID, found.CustomerID)
}
