package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateCheckout      OutboxAggregateType = "checkout"
	AggregatePayment       OutboxAggregateType = "payment"
	AggregateSubscription  OutboxAggregateType = "subscription"
	AggregateCreditBalance OutboxAggregateType = "credit_balance"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateCheckout,
	AggregatePayment,
	AggregateSubscription,
	AggregateCreditBalance,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres. The values double as
// the event names merchants subscribe their webhooks to.
type OutboxEventType string

const (
	EventCheckoutCompleted        OutboxEventType = "checkout.completed"
	EventCheckoutFailed           OutboxEventType = "checkout.failed"
	EventCheckoutExpired          OutboxEventType = "checkout.expired"
	EventPaymentConfirmed         OutboxEventType = "payment.confirmed"
	EventPaymentFailed            OutboxEventType = "payment.failed"
	EventSubscriptionCreated      OutboxEventType = "subscription.created"
	EventSubscriptionRenewed      OutboxEventType = "subscription.renewed"
	EventSubscriptionChargeFailed OutboxEventType = "subscription.charge_failed"
	EventSubscriptionPaused       OutboxEventType = "subscription.paused"
	EventSubscriptionResumed      OutboxEventType = "subscription.resumed"
	EventSubscriptionCanceled     OutboxEventType = "subscription.canceled"
	EventCreditsConsumed          OutboxEventType = "credits.consumed"
	EventCreditsGranted           OutboxEventType = "credits.granted"
	EventCreditsRefunded          OutboxEventType = "credits.refunded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventCheckoutCompleted,
	EventCheckoutFailed,
	EventCheckoutExpired,
	EventPaymentConfirmed,
	EventPaymentFailed,
	EventSubscriptionCreated,
	EventSubscriptionRenewed,
	EventSubscriptionChargeFailed,
	EventSubscriptionPaused,
	EventSubscriptionResumed,
	EventSubscriptionCanceled,
	EventCreditsConsumed,
	EventCreditsGranted,
	EventCreditsRefunded,
}

// String implements fmt.Stringer.
func (e OutboxEventType) String() string {
	return string(e)
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
