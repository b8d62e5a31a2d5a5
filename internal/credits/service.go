package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/db"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

// MaxSwapAttempts bounds the compare-and-swap loop of a single movement.
const MaxSwapAttempts = 5

const sourceCredits = "credits"

var errSwapLost = errors.New("credit balance changed concurrently")

// Service moves credits in and out of customer balances.
type Service interface {
	Consume(ctx context.Context, input Input) (*Result, error)
	Grant(ctx context.Context, input Input) (*Result, error)
	Refund(ctx context.Context, input Input) (*Result, error)
}

// Input identifies the balance and the amount to move.
type Input struct {
	OrganizationID uuid.UUID
	Environment    enums.Network
	CustomerID     uuid.UUID
	ProductID      uuid.UUID
	Amount         int64
	Reason         *string
}

// Result reports the committed movement.
type Result struct {
	BalanceID     uuid.UUID
	BalanceBefore int64
	BalanceAfter  int64
	TransactionID uuid.UUID
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitAll(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// ServiceParams groups dependencies for the credit service.
type ServiceParams struct {
	Logger            *logger.Logger
	Credits           Repository
	Outbox            outboxEmitter
	TransactionRunner txRunner
}

type service struct {
	logg    *logger.Logger
	credits Repository
	outbox  outboxEmitter
	db      txRunner
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		logg:    params.Logger,
		credits: params.Credits,
		outbox:  params.Outbox,
		db:      params.TransactionRunner,
		now:     time.Now,
	}, nil
}

// movement describes how one transaction type changes a balance.
type movement struct {
	kind      enums.CreditTransactionType
	event     enums.OutboxEventType
	debit     bool
	createNew bool
}

var (
	consumeMovement = movement{kind: enums.CreditTransactionDeduct, event: enums.EventCreditsConsumed, debit: true}
	grantMovement   = movement{kind: enums.CreditTransactionGrant, event: enums.EventCreditsGranted, createNew: true}
	refundMovement  = movement{kind: enums.CreditTransactionRefund, event: enums.EventCreditsRefunded}
)

// Consume deducts credits, failing with INSUFFICIENT_CREDITS when the balance
// is too low.
func (s *service) Consume(ctx context.Context, input Input) (*Result, error) {
	return s.move(ctx, input, consumeMovement)
}

// Grant adds credits, opening the balance on first use.
func (s *service) Grant(ctx context.Context, input Input) (*Result, error) {
	return s.move(ctx, input, grantMovement)
}

// Refund returns previously consumed credits to an existing balance.
func (s *service) Refund(ctx context.Context, input Input) (*Result, error) {
	return s.move(ctx, input, refundMovement)
}

func (s *service) move(ctx context.Context, input Input, mv movement) (*Result, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"customer_id": input.CustomerID.String(),
		"product_id":  input.ProductID.String(),
		"credit_type": string(mv.kind),
		"amount":      input.Amount,
	})

	for attempt := 1; attempt <= MaxSwapAttempts; attempt++ {
		balance, err := s.loadBalance(ctx, input, mv)
		if err != nil {
			return nil, err
		}

		before := balance.Balance
		after := before + input.Amount
		if mv.debit {
			if before < input.Amount {
				return nil, pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").
					WithDetails(map[string]any{"balance": before, "requested": input.Amount})
			}
			after = before - input.Amount
		}

		result, err := s.commit(ctx, input, mv, *balance, after)
		if errors.Is(err, errSwapLost) {
			s.logg.Debug(s.logg.WithField(ctx, "attempt", attempt), "credit balance swap lost; retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		s.logg.Info(s.logg.WithField(ctx, "balance_after", result.BalanceAfter), "credit balance updated")
		return result, nil
	}

	s.logg.Warn(ctx, "credit balance contention exhausted retries")
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "credit balance is busy, retry the request").
		WithDetails(map[string]any{"attempts": MaxSwapAttempts})
}

func (s *service) loadBalance(ctx context.Context, input Input, mv movement) (*models.CreditBalance, error) {
	balance, err := s.credits.FindBalance(ctx, input.CustomerID, input.ProductID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		switch {
		case mv.debit:
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").
				WithDetails(map[string]any{"balance": 0, "requested": input.Amount})
		case !mv.createNew:
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit balance not found")
		}
		return s.openBalance(ctx, input)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit balance")
	}
	if balance.OrganizationID != input.OrganizationID || balance.Environment != input.Environment {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit balance not found")
	}
	return balance, nil
}

// openBalance creates an empty balance; a concurrent creator wins and its
// row is used instead.
func (s *service) openBalance(ctx context.Context, input Input) (*models.CreditBalance, error) {
	balance := &models.CreditBalance{
		OrganizationID: input.OrganizationID,
		Environment:    input.Environment,
		CustomerID:     input.CustomerID,
		ProductID:      input.ProductID,
	}
	err := s.credits.CreateBalance(ctx, balance)
	if err == nil {
		return balance, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create credit balance")
	}
	existing, err := s.credits.FindBalance(ctx, input.CustomerID, input.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit balance")
	}
	return existing, nil
}

func (s *service) commit(ctx context.Context, input Input, mv movement, balance models.CreditBalance, after int64) (*Result, error) {
	now := s.now().UTC()
	swap := Swap{BalanceID: balance.ID, Expected: balance.Balance, Next: after, At: now}
	if mv.debit {
		swap.Consumed = input.Amount
	} else if mv.kind == enums.CreditTransactionGrant {
		swap.Granted = input.Amount
	} else {
		swap.Consumed = -input.Amount
	}

	txn := &models.CreditTransaction{
		BalanceID:     balance.ID,
		CustomerID:    balance.CustomerID,
		ProductID:     balance.ProductID,
		Type:          mv.kind,
		Amount:        input.Amount,
		BalanceBefore: balance.Balance,
		BalanceAfter:  after,
		Reason:        input.Reason,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.credits.WithTx(tx)
		swapped, err := repo.SwapBalance(ctx, swap)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update credit balance")
		}
		if !swapped {
			return errSwapLost
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record credit transaction")
		}
		return s.outbox.EmitAll(ctx, tx, outbox.DomainEvent{
			EventType:      mv.event,
			AggregateType:  enums.AggregateCreditBalance,
			AggregateID:    balance.ID,
			OrganizationID: balance.OrganizationID,
			Environment:    balance.Environment,
			Actor:          &outbox.ActorRef{Source: sourceCredits},
			OccurredAt:     now,
			Data: payloads.CreditsChangedEvent{
				BalanceID:     balance.ID,
				CustomerID:    balance.CustomerID,
				ProductID:     balance.ProductID,
				Type:          mv.kind,
				Amount:        input.Amount,
				BalanceBefore: balance.Balance,
				BalanceAfter:  after,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		BalanceID:     balance.ID,
		BalanceBefore: balance.Balance,
		BalanceAfter:  after,
		TransactionID: txn.ID,
	}, nil
}

func validateInput(input Input) error {
	details := map[string]string{}
	if input.OrganizationID == uuid.Nil {
		details["organizationId"] = "required"
	}
	if !input.Environment.IsValid() {
		details["environment"] = "must be testnet or mainnet"
	}
	if input.CustomerID == uuid.Nil {
		details["customerId"] = "required"
	}
	if input.ProductID == uuid.Nil {
		details["productId"] = "required"
	}
	if input.Amount <= 0 {
		details["amount"] = "must be positive"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid credit request").WithDetails(details)
	}
	return nil
}
