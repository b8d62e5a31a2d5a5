package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// Descriptors lists every event the settlement core emits. All of them share
// the settlement topic; consumers filter on the event_type attribute.
func Descriptors(topic string) []EventDescriptor {
	checkout := func() interface{} { return &payloads.CheckoutSettledEvent{} }
	payment := func() interface{} { return &payloads.PaymentRecordedEvent{} }
	subscription := func() interface{} { return &payloads.SubscriptionChangedEvent{} }
	credits := func() interface{} { return &payloads.CreditsChangedEvent{} }

	return []EventDescriptor{
		{EventType: enums.EventCheckoutCompleted, AggregateType: enums.AggregateCheckout, Topic: topic, PayloadFactory: checkout},
		{EventType: enums.EventCheckoutFailed, AggregateType: enums.AggregateCheckout, Topic: topic, PayloadFactory: checkout},
		{EventType: enums.EventCheckoutExpired, AggregateType: enums.AggregateCheckout, Topic: topic, PayloadFactory: checkout},
		{EventType: enums.EventPaymentConfirmed, AggregateType: enums.AggregatePayment, Topic: topic, PayloadFactory: payment},
		{EventType: enums.EventPaymentFailed, AggregateType: enums.AggregatePayment, Topic: topic, PayloadFactory: payment},
		{EventType: enums.EventSubscriptionCreated, AggregateType: enums.AggregateSubscription, Topic: topic, PayloadFactory: subscription},
		{EventType: enums.EventSubscriptionRenewed, AggregateType: enums.AggregateSubscription, Topic: topic, PayloadFactory: subscription},
		{EventType: enums.EventSubscriptionChargeFailed, AggregateType: enums.AggregateSubscription, Topic: topic, PayloadFactory: subscription},
		{EventType: enums.EventSubscriptionPaused, AggregateType: enums.AggregateSubscription, Topic: topic, PayloadFactory: subscription},
		{EventType: enums.EventSubscriptionResumed, AggregateType: enums.AggregateSubscription, Topic: topic, PayloadFactory: subscription},
		{EventType: enums.EventSubscriptionCanceled, AggregateType: enums.AggregateSubscription, Topic: topic, PayloadFactory: subscription},
		{EventType: enums.EventCreditsConsumed, AggregateType: enums.AggregateCreditBalance, Topic: topic, PayloadFactory: credits},
		{EventType: enums.EventCreditsGranted, AggregateType: enums.AggregateCreditBalance, Topic: topic, PayloadFactory: credits},
		{EventType: enums.EventCreditsRefunded, AggregateType: enums.AggregateCreditBalance, Topic: topic, PayloadFactory: credits},
	}
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.SettlementTopic == "" {
		return nil, fmt.Errorf("settlement topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range Descriptors(cfg.SettlementTopic) {
		reg.register(desc)
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	if envelope.OrganizationID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("envelope missing organization for %s", event.EventType))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
