package router

import (
	"context"
	"fmt"

	"github.com/lumenpay/settlement-backend/internal/consumers/worker"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

type subscriptionHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newSubscriptionHandler(writer Writer, logg *logger.Logger) Handler {
	return &subscriptionHandler{writer: writer, logg: logg}
}

func (h *subscriptionHandler) Handle(ctx context.Context, event worker.Event, payload any) error {
	changed, ok := payload.(*payloads.SubscriptionChangedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", event.EventType)
	}
	logCtx := h.logg.WithSubscriptionID(ctx, changed.SubscriptionID.String())

	row, err := buildBaseRow(event, changed)
	if err != nil {
		h.logg.Error(logCtx, "failed to build subscription row", err)
		return err
	}
	row.SubscriptionID = stringPtr(changed.SubscriptionID.String())
	row.CustomerID = uuidPtr(&changed.CustomerID)
	row.ProductID = uuidPtr(&changed.ProductID)
	row.Status = stringPtr(string(changed.Status))
	row.TransactionHash = stringPtr(changed.TransactionHash)
	row.PeriodEnd = timePtr(changed.CurrentPeriodEnd)

	if err := h.writer.InsertSettlement(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert subscription row", err)
		return err
	}
	h.logg.Debug(logCtx, "subscription row inserted")
	return nil
}
