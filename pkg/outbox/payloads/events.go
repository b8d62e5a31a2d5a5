package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/types"
)

// CheckoutSettledEvent is emitted once when a checkout leaves the open state.
// Subscription is set only for completed checkouts of subscription products and
// drives provisioning downstream.
type CheckoutSettledEvent struct {
	CheckoutID      uuid.UUID               `json:"checkout_id"`
	Status          enums.CheckoutStatus    `json:"status"`
	PaymentID       *uuid.UUID              `json:"payment_id,omitempty"`
	TransactionHash string                  `json:"transaction_hash,omitempty"`
	Amount          int64                   `json:"amount"`
	AssetCode       string                  `json:"asset_code"`
	ProductID       *uuid.UUID              `json:"product_id,omitempty"`
	CustomerID      *uuid.UUID              `json:"customer_id,omitempty"`
	Subscription    *types.SubscriptionData `json:"subscription,omitempty"`
	Source          string                  `json:"source"`
	SettledAt       time.Time               `json:"settled_at"`
}

// PaymentRecordedEvent mirrors a newly appended Payment row.
type PaymentRecordedEvent struct {
	PaymentID       uuid.UUID           `json:"payment_id"`
	CheckoutID      *uuid.UUID          `json:"checkout_id,omitempty"`
	SubscriptionID  *uuid.UUID          `json:"subscription_id,omitempty"`
	CustomerID      *uuid.UUID          `json:"customer_id,omitempty"`
	Amount          int64               `json:"amount"`
	AssetCode       string              `json:"asset_code"`
	TransactionHash string              `json:"transaction_hash"`
	Status          enums.PaymentStatus `json:"status"`
}

// SubscriptionChangedEvent covers lifecycle changes of a subscription.
type SubscriptionChangedEvent struct {
	SubscriptionID     uuid.UUID                `json:"subscription_id"`
	CustomerID         uuid.UUID                `json:"customer_id"`
	ProductID          uuid.UUID                `json:"product_id"`
	Status             enums.SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time                `json:"current_period_start"`
	CurrentPeriodEnd   time.Time                `json:"current_period_end"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	TransactionHash    string                   `json:"transaction_hash,omitempty"`
}

// CreditsChangedEvent is emitted for every credit journal entry.
type CreditsChangedEvent struct {
	BalanceID     uuid.UUID                   `json:"balance_id"`
	CustomerID    uuid.UUID                   `json:"customer_id"`
	ProductID     uuid.UUID                   `json:"product_id"`
	Type          enums.CreditTransactionType `json:"type"`
	Amount        int64                       `json:"amount"`
	BalanceBefore int64                       `json:"balance_before"`
	BalanceAfter  int64                       `json:"balance_after"`
}
