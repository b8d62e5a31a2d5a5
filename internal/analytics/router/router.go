package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumenpay/settlement-backend/internal/analytics/types"
	"github.com/lumenpay/settlement-backend/internal/consumers/worker"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

// ConsumerName keys the idempotency markers of the analytics consumer.
const ConsumerName = "analytics"

// ErrUnsupportedEventType marks events without a row mapping. It matches
// worker.ErrSkip so the runtime acks them.
var ErrUnsupportedEventType = fmt.Errorf("unsupported analytics event type: %w", worker.ErrSkip)

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertSettlement(ctx context.Context, row types.SettlementEventRow) error
}

// Handler receives an event plus its decoded payload.
type Handler interface {
	Handle(ctx context.Context, event worker.Event, payload any) error
}

type handlerEntry struct {
	factory func() any
	handler Handler
}

// Router dispatches settlement events to the configured handler per event type.
type Router struct {
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

// NewRouter wires the default handlers and allows overrides for specific events.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	checkout := handlerEntry{
		factory: func() any { return &payloads.CheckoutSettledEvent{} },
		handler: newCheckoutHandler(writer, logg),
	}
	payment := handlerEntry{
		factory: func() any { return &payloads.PaymentRecordedEvent{} },
		handler: newPaymentHandler(writer, logg),
	}
	subscription := handlerEntry{
		factory: func() any { return &payloads.SubscriptionChangedEvent{} },
		handler: newSubscriptionHandler(writer, logg),
	}
	credits := handlerEntry{
		factory: func() any { return &payloads.CreditsChangedEvent{} },
		handler: newCreditsHandler(writer, logg),
	}

	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventCheckoutCompleted:        checkout,
		enums.EventCheckoutFailed:           checkout,
		enums.EventCheckoutExpired:          checkout,
		enums.EventPaymentConfirmed:         payment,
		enums.EventPaymentFailed:            payment,
		enums.EventSubscriptionCreated:      subscription,
		enums.EventSubscriptionRenewed:      subscription,
		enums.EventSubscriptionChargeFailed: subscription,
		enums.EventSubscriptionPaused:       subscription,
		enums.EventSubscriptionResumed:      subscription,
		enums.EventSubscriptionCanceled:     subscription,
		enums.EventCreditsConsumed:          credits,
		enums.EventCreditsGranted:           credits,
		enums.EventCreditsRefunded:          credits,
	}

	for event, custom := range overrides {
		entry, ok := entries[event]
		if !ok || custom == nil {
			continue
		}
		entry.handler = custom
		entries[event] = entry
	}

	return &Router{
		handlers: entries,
		logg:     logg,
	}, nil
}

// Handle dispatches the incoming event to the configured handler.
func (r *Router) Handle(ctx context.Context, event worker.Event) error {
	entry, ok := r.handlers[event.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, event.EventType)
	}
	payload := entry.factory()
	if len(event.Data) == 0 {
		return fmt.Errorf("empty payload for %s", event.EventType)
	}
	if err := json.Unmarshal(event.Data, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}

	return entry.handler.Handle(ctx, event, payload)
}
