package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenpay/settlement-backend/pkg/db/dbtest"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

func TestSettleCompletesSubscriptionCheckout(t *testing.T) {
	h := newHarness(t)
	product := dbtest.Product(t, h.conn, h.org.ID, enums.ProductTypeSubscription)
	customer := dbtest.Customer(t, h.conn, h.org.ID)
	checkout := dbtest.Checkout(t, h.conn, product, func(c *models.Checkout) { c.CustomerID = &customer.ID })

	result, err := h.settler.Settle(context.Background(), Settlement{
		Checkout:        checkout,
		TransactionHash: "hash-1",
		Amount:          product.PriceAmount,
		AssetCode:       "XLM",
		Successful:      true,
		Source:          SourceSweeper,
	})
	require.NoError(t, err)
	assert.True(t, result.Settled)
	assert.Equal(t, enums.CheckoutStatusCompleted, result.Status)

	stored := h.reload(t, checkout)
	assert.Equal(t, enums.CheckoutStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	paid := h.paymentsFor(t, checkout)
	require.Len(t, paid, 1)
	assert.Equal(t, enums.PaymentStatusConfirmed, paid[0].Status)
	assert.Equal(t, "hash-1", paid[0].TransactionHash)
	require.NotNil(t, paid[0].CustomerID)
	assert.Equal(t, customer.ID, *paid[0].CustomerID)

	rows := h.outboxRows(t)
	require.Len(t, rows, 2)
	types := []enums.OutboxEventType{rows[0].EventType, rows[1].EventType}
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventCheckoutCompleted, enums.EventPaymentConfirmed}, types)

	for _, row := range rows {
		if row.EventType != enums.EventCheckoutCompleted {
			continue
		}
		var data payloads.CheckoutSettledEvent
		decodeData(t, row, &data)
		require.NotNil(t, data.Subscription, "subscription data drives provisioning")
		assert.Equal(t, "sweeper", data.Source)
	}
	assert.Equal(t, 1, h.metrics.count("sweeper/settled"))
}

func TestSettleUnsuccessfulPaymentFailsCheckout(t *testing.T) {
	h := newHarness(t)
	product := dbtest.Product(t, h.conn, h.org.ID, enums.ProductTypeOneTime)
	checkout := dbtest.Checkout(t, h.conn, product)

	result, err := h.settler.Settle(context.Background(), Settlement{
		Checkout:        checkout,
		TransactionHash: "hash-failed",
		Amount:          product.PriceAmount,
		Successful:      false,
		Source:          SourceSweeper,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutStatusFailed, result.Status)

	stored := h.reload(t, checkout)
	assert.Equal(t, enums.CheckoutStatusFailed, stored.Status)
	assert.NotNil(t, stored.FailedAt)

	paid := h.paymentsFor(t, checkout)
	require.Len(t, paid, 1)
	assert.Equal(t, enums.PaymentStatusFailed, paid[0].Status)

	for _, row := range h.outboxRows(t) {
		assert.Contains(t, []enums.OutboxEventType{enums.EventCheckoutFailed, enums.EventPaymentFailed}, row.EventType)
		if row.EventType == enums.EventCheckoutFailed {
			var data payloads.CheckoutSettledEvent
			decodeData(t, row, &data)
			assert.Nil(t, data.Subscription)
		}
	}
}

func TestSettleSecondWriterIsNoop(t *testing.T) {
	h := newHarness(t)
	product := dbtest.Product(t, h.conn, h.org.ID, enums.ProductTypeOneTime)
	checkout := dbtest.Checkout(t, h.conn, product)
	in := Settlement{Checkout: checkout, TransactionHash: "hash-1", Amount: product.PriceAmount, Successful: true, Source: SourceSweeper}

	_, err := h.settler.Settle(context.Background(), in)
	require.NoError(t, err)

	in.Source = SourceCallback
	in.Successful = false
	result, err := h.settler.Settle(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, result.Settled)
	assert.Equal(t, enums.CheckoutStatusCompleted, result.Status, "status never moves backward")

	assert.Len(t, h.paymentsFor(t, checkout), 1)
	assert.Len(t, h.outboxRows(t), 2)
	assert.Equal(t, 1, h.metrics.count("callback/noop"))
}

func TestSettleConcurrentWritersCreateOnePayment(t *testing.T) {
	h := newHarness(t)
	product := dbtest.Product(t, h.conn, h.org.ID, enums.ProductTypeOneTime)
	checkout := dbtest.Checkout(t, h.conn, product)

	const writers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < writers; i++ {
		source := SourceSweeper
		if i%2 == 1 {
			source = SourceCallback
		}
		wg.Add(1)
		go func(source Source) {
			defer wg.Done()
			result, err := h.settler.Settle(context.Background(), Settlement{
				Checkout:        checkout,
				TransactionHash: "hash-1",
				Amount:          product.PriceAmount,
				Successful:      true,
				Source:          source,
			})
			if !assert.NoError(t, err) {
				return
			}
			if result.Settled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}(source)
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	paid := h.paymentsFor(t, checkout)
	require.Len(t, paid, 1)
	assert.Equal(t, enums.PaymentStatusConfirmed, paid[0].Status)
}

func TestExpireMovesOnlyOpenCheckouts(t *testing.T) {
	h := newHarness(t)
	product := dbtest.Product(t, h.conn, h.org.ID, enums.ProductTypeOneTime)
	stale := dbtest.Checkout(t, h.conn, product, func(c *models.Checkout) {
		c.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	})
	done := dbtest.Checkout(t, h.conn, product, func(c *models.Checkout) {
		c.Status = enums.CheckoutStatusCompleted
	})
	ctx := context.Background()

	moved, err := h.settler.Expire(ctx, stale)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, enums.CheckoutStatusExpired, h.reload(t, stale).Status)

	moved, err = h.settler.Expire(ctx, done)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, enums.CheckoutStatusCompleted, h.reload(t, done).Status)

	rows := h.outboxRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventCheckoutExpired, rows[0].EventType)
	assert.Empty(t, h.paymentsFor(t, stale))
}

func TestNewSettlerRequiresDependencies(t *testing.T) {
	_, err := NewSettler(SettlerParams{})
	assert.Error(t, err)
}
