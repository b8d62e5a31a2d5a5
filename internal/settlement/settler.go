package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/checkouts"
	"github.com/lumenpay/settlement-backend/internal/payments"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

// Source names the entry point that observed the ledger payment.
type Source string

const (
	SourceSweeper  Source = "sweeper"
	SourceCallback Source = "callback"
)

// Transition outcomes reported to metrics.
const (
	outcomeSettled = "settled"
	outcomeExpired = "expired"
	outcomeNoop    = "noop"
	outcomeError   = "error"
)

// Settlement describes a ledger payment found for an open checkout.
type Settlement struct {
	Checkout        models.Checkout
	TransactionHash string
	Amount          int64
	AssetCode       string
	Successful      bool
	Source          Source
}

// Result reports the checkout status after a settlement attempt. Settled is
// false when another writer had already moved the checkout out of open.
type Result struct {
	Status  enums.CheckoutStatus
	Settled bool
	Payment *models.Payment
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitAll(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

type transitionRecorder interface {
	IncTransition(source, outcome string)
}

// SettlerParams wires the settlement state machine.
type SettlerParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Checkouts checkouts.Repository
	Payments  payments.Repository
	Outbox    outboxEmitter
	Metrics   transitionRecorder
}

// Settler owns the open to terminal checkout transition. The sweeper and the
// verification callback both go through it, so whichever commits first wins
// and the other becomes a no-op.
type Settler struct {
	logg      *logger.Logger
	db        txRunner
	checkouts checkouts.Repository
	payments  payments.Repository
	outbox    outboxEmitter
	metrics   transitionRecorder
	now       func() time.Time
}

func NewSettler(params SettlerParams) (*Settler, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Checkouts == nil {
		return nil, fmt.Errorf("checkouts repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &Settler{
		logg:      params.Logger,
		db:        params.DB,
		checkouts: params.Checkouts,
		payments:  params.Payments,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		now:       time.Now,
	}, nil
}

// Settle moves the checkout to completed or failed, appends the Payment and
// queues the outbox events in one transaction.
func (s *Settler) Settle(ctx context.Context, in Settlement) (Result, error) {
	checkout := in.Checkout
	ctx = s.logg.WithCheckoutID(ctx, checkout.ID.String())
	ctx = s.logg.WithTxHash(ctx, in.TransactionHash)
	ctx = s.logg.WithField(ctx, "source", string(in.Source))

	target := enums.CheckoutStatusCompleted
	paymentStatus := enums.PaymentStatusConfirmed
	if !in.Successful {
		target = enums.CheckoutStatusFailed
		paymentStatus = enums.PaymentStatusFailed
	}
	assetCode := in.AssetCode
	if assetCode == "" {
		assetCode = checkout.AssetCode
	}

	var result Result
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		moved, err := s.checkouts.WithTx(tx).TransitionStatus(ctx, checkout.ID, enums.CheckoutStatusOpen, target, now)
		if err != nil {
			return fmt.Errorf("transition checkout: %w", err)
		}
		if !moved {
			return nil
		}

		checkoutID := checkout.ID
		payment := &models.Payment{
			OrganizationID:  checkout.OrganizationID,
			Environment:     checkout.Environment,
			CheckoutID:      &checkoutID,
			CustomerID:      checkout.CustomerID,
			Amount:          in.Amount,
			AssetCode:       assetCode,
			TransactionHash: in.TransactionHash,
			Status:          paymentStatus,
		}
		if err := s.payments.WithTx(tx).Create(ctx, payment); err != nil {
			return fmt.Errorf("record payment: %w", err)
		}

		if err := s.outbox.EmitAll(ctx, tx, settlementEvents(checkout, payment, target, in.Source, now)...); err != nil {
			return err
		}
		result = Result{Status: target, Settled: true, Payment: payment}
		return nil
	})
	if err != nil {
		s.record(in.Source, outcomeError)
		return Result{}, err
	}

	if !result.Settled {
		current, err := s.checkouts.FindByID(ctx, checkout.ID)
		if err != nil {
			return Result{}, fmt.Errorf("reload checkout: %w", err)
		}
		s.record(in.Source, outcomeNoop)
		s.logg.Info(ctx, "checkout already left open; settlement skipped")
		return Result{Status: current.Status}, nil
	}

	s.record(in.Source, outcomeSettled)
	s.logg.Info(s.logg.WithField(ctx, "status", string(result.Status)), "checkout settled")
	return result, nil
}

// Expire moves an open checkout past its deadline to expired.
func (s *Settler) Expire(ctx context.Context, checkout models.Checkout) (bool, error) {
	ctx = s.logg.WithCheckoutID(ctx, checkout.ID.String())
	var moved bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		ok, err := s.checkouts.WithTx(tx).TransitionStatus(ctx, checkout.ID, enums.CheckoutStatusOpen, enums.CheckoutStatusExpired, now)
		if err != nil {
			return fmt.Errorf("expire checkout: %w", err)
		}
		if !ok {
			return nil
		}
		moved = true
		return s.outbox.EmitAll(ctx, tx, outbox.DomainEvent{
			EventType:      enums.EventCheckoutExpired,
			AggregateType:  enums.AggregateCheckout,
			AggregateID:    checkout.ID,
			OrganizationID: checkout.OrganizationID,
			Environment:    checkout.Environment,
			Actor:          &outbox.ActorRef{Source: string(SourceSweeper)},
			OccurredAt:     now,
			Data: payloads.CheckoutSettledEvent{
				CheckoutID: checkout.ID,
				Status:     enums.CheckoutStatusExpired,
				Amount:     derefAmount(checkout.Amount),
				AssetCode:  checkout.AssetCode,
				ProductID:  checkout.ProductID,
				CustomerID: checkout.CustomerID,
				Source:     string(SourceSweeper),
				SettledAt:  now,
			},
		})
	})
	if err != nil {
		s.record(SourceSweeper, outcomeError)
		return false, err
	}
	if moved {
		s.record(SourceSweeper, outcomeExpired)
		s.logg.Info(ctx, "checkout expired")
	}
	return moved, nil
}

func settlementEvents(checkout models.Checkout, payment *models.Payment, status enums.CheckoutStatus, source Source, now time.Time) []outbox.DomainEvent {
	actor := &outbox.ActorRef{Source: string(source)}
	checkoutEvent := enums.EventCheckoutCompleted
	paymentEvent := enums.EventPaymentConfirmed
	if status == enums.CheckoutStatusFailed {
		checkoutEvent = enums.EventCheckoutFailed
		paymentEvent = enums.EventPaymentFailed
	}

	settled := payloads.CheckoutSettledEvent{
		CheckoutID:      checkout.ID,
		Status:          status,
		PaymentID:       &payment.ID,
		TransactionHash: payment.TransactionHash,
		Amount:          payment.Amount,
		AssetCode:       payment.AssetCode,
		ProductID:       checkout.ProductID,
		CustomerID:      checkout.CustomerID,
		Source:          string(source),
		SettledAt:       now,
	}
	if status == enums.CheckoutStatusCompleted {
		settled.Subscription = checkout.SubscriptionData
	}

	return []outbox.DomainEvent{
		{
			EventType:      checkoutEvent,
			AggregateType:  enums.AggregateCheckout,
			AggregateID:    checkout.ID,
			OrganizationID: checkout.OrganizationID,
			Environment:    checkout.Environment,
			Actor:          actor,
			OccurredAt:     now,
			Data:           settled,
		},
		{
			EventType:      paymentEvent,
			AggregateType:  enums.AggregatePayment,
			AggregateID:    payment.ID,
			OrganizationID: checkout.OrganizationID,
			Environment:    checkout.Environment,
			Actor:          actor,
			OccurredAt:     now,
			Data: payloads.PaymentRecordedEvent{
				PaymentID:       payment.ID,
				CheckoutID:      payment.CheckoutID,
				CustomerID:      payment.CustomerID,
				Amount:          payment.Amount,
				AssetCode:       payment.AssetCode,
				TransactionHash: payment.TransactionHash,
				Status:          payment.Status,
			},
		},
	}
}

func (s *Settler) record(source Source, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncTransition(string(source), outcome)
}

func derefAmount(amount *int64) int64 {
	if amount == nil {
		return 0
	}
	return *amount
}

// isNotFound reports whether err means the record does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
