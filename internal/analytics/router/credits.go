package router

import (
	"context"
	"fmt"

	"github.com/lumenpay/settlement-backend/internal/consumers/worker"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

type creditsHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newCreditsHandler(writer Writer, logg *logger.Logger) Handler {
	return &creditsHandler{writer: writer, logg: logg}
}

func (h *creditsHandler) Handle(ctx context.Context, event worker.Event, payload any) error {
	changed, ok := payload.(*payloads.CreditsChangedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", event.EventType)
	}
	logCtx := h.logg.WithField(ctx, "balance_id", changed.BalanceID.String())

	row, err := buildBaseRow(event, changed)
	if err != nil {
		h.logg.Error(logCtx, "failed to build credits row", err)
		return err
	}
	row.CustomerID = uuidPtr(&changed.CustomerID)
	row.ProductID = uuidPtr(&changed.ProductID)
	row.Status = stringPtr(string(changed.Type))
	row.CreditDelta = int64Ptr(creditDelta(changed))
	row.BalanceAfter = int64Ptr(changed.BalanceAfter)

	if err := h.writer.InsertSettlement(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert credits row", err)
		return err
	}
	h.logg.Debug(logCtx, "credits row inserted")
	return nil
}

// creditDelta is signed: consumption lowers the balance.
func creditDelta(event *payloads.CreditsChangedEvent) int64 {
	if event.Type == enums.CreditTransactionDeduct {
		return -event.Amount
	}
	return event.Amount
}
