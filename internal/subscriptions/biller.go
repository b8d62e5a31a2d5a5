package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/customers"
	"github.com/lumenpay/settlement-backend/internal/payments"
	"github.com/lumenpay/settlement-backend/internal/products"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
	"github.com/lumenpay/settlement-backend/pkg/stellar"
)

const (
	sourceBilling = "billing"
	// contract charges settle in the native asset
	chargeAsset = "XLM"
)

// ChargeOutcome is the result of one billing attempt.
type ChargeOutcome string

const (
	ChargeRenewed  ChargeOutcome = "renewed"
	ChargeFailed   ChargeOutcome = "charge_failed"
	ChargeCanceled ChargeOutcome = "canceled"
	// ChargePending means a charge was sent and its outcome is not known yet.
	ChargePending ChargeOutcome = "pending"
)

const defaultPendingWindow = 10 * time.Minute

// BillerParams wires the recurring charge flow.
type BillerParams struct {
	Logger            *logger.Logger
	Subscriptions     Repository
	Customers         customers.Repository
	Products          products.Repository
	Payments          payments.Repository
	Contracts         ContractResolver
	Outbox            outboxEmitter
	TransactionRunner txRunner
	// CancelAtPeriodEnd cancels due subscriptions flagged for cancellation
	// instead of charging them.
	CancelAtPeriodEnd bool
	// PendingWindow is how long a sent charge may stay unknown to the network
	// before the contract state decides whether it landed. It must outlast the
	// transaction time bounds.
	PendingWindow time.Duration
}

// Biller charges due subscriptions through the contract and records the outcome.
type Biller struct {
	*lifecycle
	products          products.Repository
	payments          payments.Repository
	cancelAtPeriodEnd bool
	pendingWindow     time.Duration
}

func NewBiller(params BillerParams) (*Biller, error) {
	lc, err := newLifecycle(params.Logger, params.TransactionRunner, params.Subscriptions, params.Customers, params.Contracts, params.Outbox)
	if err != nil {
		return nil, err
	}
	if params.Products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	window := params.PendingWindow
	if window <= 0 {
		window = defaultPendingWindow
	}
	return &Biller{
		lifecycle:         lc,
		products:          params.Products,
		payments:          params.Payments,
		cancelAtPeriodEnd: params.CancelAtPeriodEnd,
		pendingWindow:     window,
	}, nil
}

// Charge bills one due subscription. Errors mean nothing was recorded and the
// subscription will be picked up again on the next run. A charge that was
// sent but not seen final is kept on the subscription and looked up by hash
// on the next run instead of being charged again.
func (b *Biller) Charge(ctx context.Context, sub models.Subscription) (ChargeOutcome, error) {
	ctx = b.logg.WithOrganization(ctx, sub.OrganizationID.String(), string(sub.Environment))
	ctx = b.logg.WithSubscriptionID(ctx, sub.ID.String())

	if sub.CancelAtPeriodEnd && b.cancelAtPeriodEnd && sub.PendingChargeTx == nil {
		if _, err := b.apply(ctx, &sub, cancelAction, sourceBilling); err != nil {
			return "", fmt.Errorf("cancel at period end: %w", err)
		}
		return ChargeCanceled, nil
	}

	wallet, err := b.walletFor(ctx, sub.CustomerID)
	if err != nil {
		return "", err
	}
	contract, err := b.contracts.Contract(sub.Environment)
	if err != nil {
		return "", fmt.Errorf("resolve contract: %w", err)
	}

	if sub.PendingChargeTx != nil {
		outcome, resolved, err := b.resolvePending(ctx, sub, contract, wallet)
		if err != nil || resolved {
			return outcome, err
		}
	}

	res, err := contract.Charge(ctx, wallet, sub.ProductID.String())
	if err != nil {
		if errors.Is(err, stellar.ErrPollTimeout) && res.Hash != "" {
			return b.markPending(b.logg.WithTxHash(ctx, res.Hash), sub, res.Hash)
		}
		b.logg.Error(ctx, "subscription charge call failed", err)
		return "", fmt.Errorf("charge subscription %s: %w", sub.ID, err)
	}
	return b.record(ctx, sub, res)
}

// record applies the final outcome of a charge transaction.
func (b *Biller) record(ctx context.Context, sub models.Subscription, res stellar.InvokeResult) (ChargeOutcome, error) {
	ctx = b.logg.WithTxHash(ctx, res.Hash)

	if !res.Successful {
		return ChargeFailed, b.recordFailure(ctx, sub, res.Hash, nil, "charge transaction failed")
	}
	event, err := stellar.FindSubPay(res.Events)
	if err != nil {
		b.logg.Error(ctx, "sub_pay event does not match schema; charge outcome not recorded", err)
		return "", fmt.Errorf("decode sub_pay for subscription %s: %w", sub.ID, err)
	}
	if event == nil {
		return ChargeFailed, b.recordFailure(ctx, sub, res.Hash, nil, "charge emitted no sub_pay event")
	}
	if !event.Success {
		return ChargeFailed, b.recordFailure(ctx, sub, res.Hash, event, "sub_pay reported failure")
	}
	return ChargeRenewed, b.renew(ctx, sub, res.Hash, *event)
}

func (b *Biller) markPending(ctx context.Context, sub models.Subscription, txHash string) (ChargeOutcome, error) {
	if err := b.subs.MarkChargePending(ctx, sub.ID, txHash, b.now().UTC()); err != nil {
		return "", fmt.Errorf("keep pending charge: %w", err)
	}
	b.logg.Warn(ctx, "subscription charge not final after polling; outcome checked next run")
	return ChargePending, nil
}

// resolvePending settles a charge left in flight by an earlier run. It
// reports resolved=false when the charge never landed and a new one may be
// sent.
func (b *Biller) resolvePending(ctx context.Context, sub models.Subscription, contract Contract, wallet string) (ChargeOutcome, bool, error) {
	hash := *sub.PendingChargeTx
	ctx = b.logg.WithTxHash(ctx, hash)

	res, err := contract.Transaction(ctx, hash)
	if err == nil {
		outcome, err := b.record(ctx, sub, res)
		return outcome, true, err
	}
	if !errors.Is(err, stellar.ErrTxNotFound) {
		return "", true, fmt.Errorf("look up pending charge %s: %w", hash, err)
	}
	if sub.PendingChargeAt != nil && b.now().Before(sub.PendingChargeAt.Add(b.pendingWindow)) {
		return ChargePending, true, nil
	}

	// The hash is unknown past the window: either it expired unsent or it
	// left the RPC history. The contract period tells which.
	state, err := contract.Get(ctx, wallet, sub.ProductID.String())
	if err != nil {
		return "", true, fmt.Errorf("read contract subscription: %w", err)
	}
	if state.PeriodEnd.After(sub.CurrentPeriodEnd) {
		amount := state.Amount
		if amount == 0 {
			if amount, err = b.price(ctx, sub); err != nil {
				return "", true, err
			}
		}
		b.logg.Info(ctx, "pending charge landed on chain; renewing from contract state")
		return ChargeRenewed, true, b.renew(ctx, sub, hash, stellar.SubPayEvent{Success: true, Amount: amount, PeriodEnd: state.PeriodEnd})
	}

	b.logg.Warn(ctx, "pending charge never landed; charging again")
	if err := b.subs.RecordChargeAttempt(ctx, sub.ID, b.now().UTC()); err != nil {
		return "", true, fmt.Errorf("clear pending charge: %w", err)
	}
	return "", false, nil
}

// renew advances the period to the end reported by the contract and appends
// the confirmed payment in one transaction.
func (b *Biller) renew(ctx context.Context, sub models.Subscription, txHash string, event stellar.SubPayEvent) error {
	var advanced bool
	err := b.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := b.now().UTC()
		subs := b.subs.WithTx(tx)
		ok, err := subs.UpdatePeriod(ctx, sub.ID, sub.CurrentPeriodEnd, sub.CurrentPeriodEnd, event.PeriodEnd)
		if err != nil {
			return fmt.Errorf("advance period: %w", err)
		}
		advanced = ok
		if err := subs.RecordChargeAttempt(ctx, sub.ID, now); err != nil {
			return fmt.Errorf("record charge attempt: %w", err)
		}

		payment, err := b.recordPayment(ctx, tx, sub, txHash, event.Amount, enums.PaymentStatusConfirmed)
		if err != nil {
			return err
		}
		events := []outbox.DomainEvent{paymentEvent(enums.EventPaymentConfirmed, sub, payment, now)}
		if ok {
			renewed := sub
			renewed.CurrentPeriodStart = sub.CurrentPeriodEnd
			renewed.CurrentPeriodEnd = event.PeriodEnd
			events = append([]outbox.DomainEvent{subscriptionEvent(enums.EventSubscriptionRenewed, renewed, txHash, sourceBilling, now)}, events...)
		}
		return b.outbox.EmitAll(ctx, tx, events...)
	})
	if err != nil {
		return err
	}
	if !advanced {
		b.logg.Warn(ctx, "subscription period already advanced; payment recorded without renewal")
		return nil
	}
	b.logg.Info(b.logg.WithField(ctx, "period_end", event.PeriodEnd), "subscription renewed")
	return nil
}

// recordFailure appends a failed payment and leaves the period untouched.
// The attempt is stamped so the subscription waits for the retry delay.
func (b *Biller) recordFailure(ctx context.Context, sub models.Subscription, txHash string, event *stellar.SubPayEvent, reason string) error {
	var amount int64
	if event != nil {
		amount = event.Amount
	}
	if amount == 0 {
		price, err := b.price(ctx, sub)
		if err != nil {
			return err
		}
		amount = price
	}

	err := b.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := b.now().UTC()
		if err := b.subs.WithTx(tx).RecordChargeAttempt(ctx, sub.ID, now); err != nil {
			return fmt.Errorf("record charge attempt: %w", err)
		}
		payment, err := b.recordPayment(ctx, tx, sub, txHash, amount, enums.PaymentStatusFailed)
		if err != nil {
			return err
		}
		return b.outbox.EmitAll(ctx, tx,
			subscriptionEvent(enums.EventSubscriptionChargeFailed, sub, txHash, sourceBilling, now),
			paymentEvent(enums.EventPaymentFailed, sub, payment, now),
		)
	})
	if err != nil {
		return err
	}
	b.logg.Warn(b.logg.WithField(ctx, "reason", reason), "subscription charge failed")
	return nil
}

// price is the product price, or zero when the product is gone.
func (b *Biller) price(ctx context.Context, sub models.Subscription) (int64, error) {
	product, err := b.products.FindByID(ctx, sub.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load product: %w", err)
	}
	return product.PriceAmount, nil
}

func (b *Biller) recordPayment(ctx context.Context, tx *gorm.DB, sub models.Subscription, txHash string, amount int64, status enums.PaymentStatus) (*models.Payment, error) {
	subID := sub.ID
	customerID := sub.CustomerID
	payment := &models.Payment{
		OrganizationID:  sub.OrganizationID,
		Environment:     sub.Environment,
		SubscriptionID:  &subID,
		CustomerID:      &customerID,
		Amount:          amount,
		AssetCode:       chargeAsset,
		TransactionHash: txHash,
		Status:          status,
	}
	if err := b.payments.WithTx(tx).Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	return payment, nil
}

func paymentEvent(eventType enums.OutboxEventType, sub models.Subscription, payment *models.Payment, now time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:      eventType,
		AggregateType:  enums.AggregatePayment,
		AggregateID:    payment.ID,
		OrganizationID: sub.OrganizationID,
		Environment:    sub.Environment,
		Actor:          &outbox.ActorRef{Source: sourceBilling},
		OccurredAt:     now,
		Data: payloads.PaymentRecordedEvent{
			PaymentID:       payment.ID,
			SubscriptionID:  payment.SubscriptionID,
			CustomerID:      payment.CustomerID,
			Amount:          payment.Amount,
			AssetCode:       payment.AssetCode,
			TransactionHash: payment.TransactionHash,
			Status:          payment.Status,
		},
	}
}
