package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/customers"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
	"github.com/lumenpay/settlement-backend/pkg/stellar"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitAll(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// action is a status change that must be applied on-chain before the mirror.
type action struct {
	method string
	from   []enums.SubscriptionStatus
	to     enums.SubscriptionStatus
	event  enums.OutboxEventType
	call   func(ctx context.Context, c Contract, customer, productID string) (stellar.InvokeResult, error)
}

var (
	pauseAction = action{
		method: stellar.MethodPause,
		from:   []enums.SubscriptionStatus{enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue},
		to:     enums.SubscriptionStatusPaused,
		event:  enums.EventSubscriptionPaused,
		call: func(ctx context.Context, c Contract, customer, productID string) (stellar.InvokeResult, error) {
			return c.Pause(ctx, customer, productID)
		},
	}
	resumeAction = action{
		method: stellar.MethodResume,
		from:   []enums.SubscriptionStatus{enums.SubscriptionStatusPaused},
		to:     enums.SubscriptionStatusActive,
		event:  enums.EventSubscriptionResumed,
		call: func(ctx context.Context, c Contract, customer, productID string) (stellar.InvokeResult, error) {
			return c.Resume(ctx, customer, productID)
		},
	}
	cancelAction = action{
		method: stellar.MethodCancel,
		from: []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusPastDue,
			enums.SubscriptionStatusPaused,
		},
		to:    enums.SubscriptionStatusCanceled,
		event: enums.EventSubscriptionCanceled,
		call: func(ctx context.Context, c Contract, customer, productID string) (stellar.InvokeResult, error) {
			return c.Cancel(ctx, customer, productID)
		},
	}
)

// lifecycle holds what both the API service and the biller need to drive the
// contract and keep the mirror in step with it.
type lifecycle struct {
	logg      *logger.Logger
	db        txRunner
	subs      Repository
	customers customers.Repository
	contracts ContractResolver
	outbox    outboxEmitter
	now       func() time.Time
}

// apply invokes the contract for act and, only once the call succeeded,
// moves the mirror and queues the lifecycle event.
func (l *lifecycle) apply(ctx context.Context, sub *models.Subscription, act action, source string) (*models.Subscription, error) {
	if sub.Status == act.to {
		return sub, nil
	}
	if !slices.Contains(act.from, sub.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("subscription is %s", sub.Status)).
			WithDetails(map[string]any{"status": sub.Status, "action": act.method})
	}

	wallet, err := l.walletFor(ctx, sub.CustomerID)
	if err != nil {
		return nil, err
	}
	contract, err := l.contracts.Contract(sub.Environment)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscription contract unavailable")
	}

	res, err := act.call(ctx, contract, wallet, sub.ProductID.String())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedger, err, fmt.Sprintf("contract %s failed", act.method))
	}
	if !res.Successful {
		return nil, pkgerrors.New(pkgerrors.CodeLedger, fmt.Sprintf("contract %s transaction failed", act.method)).
			WithDetails(map[string]any{"transaction_hash": res.Hash})
	}
	ctx = l.logg.WithTxHash(ctx, res.Hash)

	var moved bool
	err = l.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := l.now().UTC()
		ok, err := l.subs.WithTx(tx).UpdateStatus(ctx, sub.ID, act.from, act.to, now)
		if err != nil {
			return fmt.Errorf("update subscription status: %w", err)
		}
		if !ok {
			return nil
		}
		moved = true
		updated := *sub
		updated.Status = act.to
		return l.outbox.EmitAll(ctx, tx, subscriptionEvent(act.event, updated, res.Hash, source, now))
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		l.logg.Warn(ctx, "subscription status changed concurrently; mirror left as is")
	} else {
		l.logg.Info(l.logg.WithField(ctx, "status", string(act.to)), "subscription status updated")
	}
	return l.subs.FindByID(ctx, sub.ID)
}

func (l *lifecycle) walletFor(ctx context.Context, customerID uuid.UUID) (string, error) {
	customer, err := l.customers.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	return customerWallet(*customer)
}

func customerWallet(customer models.Customer) (string, error) {
	if customer.WalletAddress == nil || strings.TrimSpace(*customer.WalletAddress) == "" {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "customer has no wallet address").
			WithDetails(map[string]any{"customer_id": customer.ID})
	}
	return strings.TrimSpace(*customer.WalletAddress), nil
}

func subscriptionEvent(eventType enums.OutboxEventType, sub models.Subscription, txHash, source string, now time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:      eventType,
		AggregateType:  enums.AggregateSubscription,
		AggregateID:    sub.ID,
		OrganizationID: sub.OrganizationID,
		Environment:    sub.Environment,
		Actor:          &outbox.ActorRef{Source: source},
		OccurredAt:     now,
		Data: payloads.SubscriptionChangedEvent{
			SubscriptionID:     sub.ID,
			CustomerID:         sub.CustomerID,
			ProductID:          sub.ProductID,
			Status:             sub.Status,
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
			TransactionHash:    txHash,
		},
	}
}
