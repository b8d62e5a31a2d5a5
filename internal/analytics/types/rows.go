package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// SettlementEventRow mirrors the settlement_events BigQuery schema. One row is
// written per delivered outbox event; columns not carried by the event type
// stay null.
type SettlementEventRow struct {
	EventID         string             `bigquery:"event_id"`
	EventType       string             `bigquery:"event_type"`
	OrganizationID  string             `bigquery:"organization_id"`
	Environment     string             `bigquery:"environment"`
	AggregateType   string             `bigquery:"aggregate_type"`
	AggregateID     string             `bigquery:"aggregate_id"`
	OccurredAt      time.Time          `bigquery:"occurred_at"`
	Source          *string            `bigquery:"source"`
	CheckoutID      *string            `bigquery:"checkout_id"`
	PaymentID       *string            `bigquery:"payment_id"`
	SubscriptionID  *string            `bigquery:"subscription_id"`
	CustomerID      *string            `bigquery:"customer_id"`
	ProductID       *string            `bigquery:"product_id"`
	Status          *string            `bigquery:"status"`
	AmountStroops   *int64             `bigquery:"amount_stroops"`
	AssetCode       *string            `bigquery:"asset_code"`
	TransactionHash *string            `bigquery:"transaction_hash"`
	PeriodEnd       *time.Time         `bigquery:"period_end"`
	CreditDelta     *int64             `bigquery:"credit_delta"`
	BalanceAfter    *int64             `bigquery:"balance_after"`
	Payload         cbigquery.NullJSON `bigquery:"payload"`
}
