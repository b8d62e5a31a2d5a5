package router

import (
	"context"
	"fmt"

	"github.com/lumenpay/settlement-backend/internal/consumers/worker"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

type paymentHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newPaymentHandler(writer Writer, logg *logger.Logger) Handler {
	return &paymentHandler{writer: writer, logg: logg}
}

func (h *paymentHandler) Handle(ctx context.Context, event worker.Event, payload any) error {
	recorded, ok := payload.(*payloads.PaymentRecordedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", event.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"payment_id": recorded.PaymentID.String(),
		"tx_hash":    recorded.TransactionHash,
	})

	row, err := buildBaseRow(event, recorded)
	if err != nil {
		h.logg.Error(logCtx, "failed to build payment row", err)
		return err
	}
	row.PaymentID = stringPtr(recorded.PaymentID.String())
	row.CheckoutID = uuidPtr(recorded.CheckoutID)
	row.SubscriptionID = uuidPtr(recorded.SubscriptionID)
	row.CustomerID = uuidPtr(recorded.CustomerID)
	row.Status = stringPtr(string(recorded.Status))
	row.AmountStroops = int64Ptr(recorded.Amount)
	row.AssetCode = stringPtr(recorded.AssetCode)
	row.TransactionHash = stringPtr(recorded.TransactionHash)

	if err := h.writer.InsertSettlement(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert payment row", err)
		return err
	}
	h.logg.Debug(logCtx, "payment row inserted")
	return nil
}
