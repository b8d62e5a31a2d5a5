package router

import (
	"context"
	"fmt"

	"github.com/lumenpay/settlement-backend/internal/consumers/worker"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

type checkoutHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newCheckoutHandler(writer Writer, logg *logger.Logger) Handler {
	return &checkoutHandler{writer: writer, logg: logg}
}

func (h *checkoutHandler) Handle(ctx context.Context, event worker.Event, payload any) error {
	settled, ok := payload.(*payloads.CheckoutSettledEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", event.EventType)
	}
	logCtx := h.logg.WithCheckoutID(ctx, settled.CheckoutID.String())

	row, err := buildBaseRow(event, settled)
	if err != nil {
		h.logg.Error(logCtx, "failed to build checkout row", err)
		return err
	}
	if src := stringPtr(settled.Source); src != nil {
		row.Source = src
	}
	row.CheckoutID = stringPtr(settled.CheckoutID.String())
	row.PaymentID = uuidPtr(settled.PaymentID)
	row.CustomerID = uuidPtr(settled.CustomerID)
	row.ProductID = uuidPtr(settled.ProductID)
	row.Status = stringPtr(string(settled.Status))
	row.AssetCode = stringPtr(settled.AssetCode)
	row.TransactionHash = stringPtr(settled.TransactionHash)
	if settled.Amount > 0 {
		row.AmountStroops = int64Ptr(settled.Amount)
	}
	if !settled.SettledAt.IsZero() {
		row.OccurredAt = settled.SettledAt.UTC()
	}
	if settled.Subscription != nil {
		row.PeriodEnd = timePtr(settled.Subscription.PeriodEnd)
	}

	if err := h.writer.InsertSettlement(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert checkout row", err)
		return err
	}
	h.logg.Debug(logCtx, "checkout row inserted")
	return nil
}
