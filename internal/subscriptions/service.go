package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/customers"
	"github.com/lumenpay/settlement-backend/internal/products"
	"github.com/lumenpay/settlement-backend/pkg/db"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/stellar"
)

const (
	sourceProvisioning = "provisioning"
	sourceAPI          = "api"
)

// Service defines the subscription lifecycle surface exposed to internal callers.
type Service interface {
	Provision(ctx context.Context, input ProvisionInput) ([]models.Subscription, error)
	Pause(ctx context.Context, ref Ref) (*models.Subscription, error)
	Resume(ctx context.Context, ref Ref) (*models.Subscription, error)
	Cancel(ctx context.Context, ref Ref) (*models.Subscription, error)
}

// ProvisionInput creates one subscription per customer for a paid checkout.
type ProvisionInput struct {
	OrganizationID    uuid.UUID
	Environment       enums.Network
	CustomerIDs       []uuid.UUID
	ProductID         uuid.UUID
	CheckoutID        *uuid.UUID
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
}

// Ref scopes a subscription to the organization and network of the caller.
type Ref struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Environment    enums.Network
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Logger            *logger.Logger
	Subscriptions     Repository
	Customers         customers.Repository
	Products          products.Repository
	Contracts         ContractResolver
	Outbox            outboxEmitter
	TransactionRunner txRunner
}

type service struct {
	*lifecycle
	products products.Repository
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	lc, err := newLifecycle(params.Logger, params.TransactionRunner, params.Subscriptions, params.Customers, params.Contracts, params.Outbox)
	if err != nil {
		return nil, err
	}
	if params.Products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	return &service{lifecycle: lc, products: params.Products}, nil
}

func newLifecycle(logg *logger.Logger, runner txRunner, subs Repository, customerRepo customers.Repository, contracts ContractResolver, emitter outboxEmitter) (*lifecycle, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if subs == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if customerRepo == nil {
		return nil, fmt.Errorf("customers repository required")
	}
	if contracts == nil {
		return nil, fmt.Errorf("contract resolver required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &lifecycle{
		logg:      logg,
		db:        runner,
		subs:      subs,
		customers: customerRepo,
		contracts: contracts,
		outbox:    emitter,
		now:       time.Now,
	}, nil
}

// Provision creates the on-chain subscription and its mirror for every
// customer. Customers that already hold a subscription for the checkout, or a
// live one for the product, get the existing row back.
func (s *service) Provision(ctx context.Context, input ProvisionInput) ([]models.Subscription, error) {
	if err := validateProvision(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrganization(ctx, input.OrganizationID.String(), string(input.Environment))
	if input.CheckoutID != nil {
		ctx = s.logg.WithCheckoutID(ctx, input.CheckoutID.String())
	}

	product, err := s.products.FindByID(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if product.OrganizationID != input.OrganizationID || product.Environment != input.Environment {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if !product.IsSubscription() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not a subscription product")
	}

	rows, err := s.customers.FindByIDs(ctx, input.CustomerIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customers")
	}
	byID := make(map[uuid.UUID]models.Customer, len(rows))
	for _, c := range rows {
		if c.OrganizationID == input.OrganizationID && c.Environment == input.Environment {
			byID[c.ID] = c
		}
	}

	out := make([]models.Subscription, 0, len(input.CustomerIDs))
	for _, customerID := range input.CustomerIDs {
		customer, ok := byID[customerID]
		if !ok {
			return out, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found").
				WithDetails(map[string]any{"customer_id": customerID})
		}
		sub, err := s.provisionOne(ctx, input, *product, customer)
		if err != nil {
			return out, err
		}
		out = append(out, *sub)
	}
	return out, nil
}

func (s *service) provisionOne(ctx context.Context, input ProvisionInput, product models.Product, customer models.Customer) (*models.Subscription, error) {
	ctx = s.logg.WithField(ctx, "customer_id", customer.ID.String())

	existing, err := s.existing(ctx, input.CheckoutID, customer.ID, product.ID)
	if err != nil || existing != nil {
		return existing, err
	}

	wallet, err := customerWallet(customer)
	if err != nil {
		return nil, err
	}
	contract, err := s.contracts.Contract(input.Environment)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscription contract unavailable")
	}
	res, err := contract.CreateSubscription(ctx, stellar.SubscriptionTerms{
		Customer:    wallet,
		ProductID:   product.ID.String(),
		Amount:      product.PriceAmount,
		PeriodStart: input.PeriodStart,
		PeriodEnd:   input.PeriodEnd,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedger, err, "contract create_subscription failed")
	}
	if !res.Successful {
		return nil, pkgerrors.New(pkgerrors.CodeLedger, "contract create_subscription transaction failed").
			WithDetails(map[string]any{"transaction_hash": res.Hash})
	}
	ctx = s.logg.WithTxHash(ctx, res.Hash)

	sub := &models.Subscription{
		OrganizationID:     input.OrganizationID,
		Environment:        input.Environment,
		CustomerID:         customer.ID,
		ProductID:          product.ID,
		CheckoutID:         input.CheckoutID,
		Status:             enums.SubscriptionStatusActive,
		CurrentPeriodStart: input.PeriodStart.UTC(),
		CurrentPeriodEnd:   input.PeriodEnd.UTC(),
		CancelAtPeriodEnd:  input.CancelAtPeriodEnd,
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.subs.WithTx(tx).Create(ctx, sub); err != nil {
			return err
		}
		return s.outbox.EmitAll(ctx, tx, subscriptionEvent(enums.EventSubscriptionCreated, *sub, res.Hash, sourceProvisioning, s.now().UTC()))
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") && input.CheckoutID != nil {
			// a concurrent delivery of the same checkout won the insert
			return s.subs.FindByCheckoutCustomer(ctx, *input.CheckoutID, customer.ID)
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "subscription provisioned")
	return sub, nil
}

func (s *service) existing(ctx context.Context, checkoutID *uuid.UUID, customerID, productID uuid.UUID) (*models.Subscription, error) {
	if checkoutID != nil {
		sub, err := s.subs.FindByCheckoutCustomer(ctx, *checkoutID, customerID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find subscription by checkout: %w", err)
		}
	}
	sub, err := s.subs.FindLiveByCustomerProduct(ctx, customerID, productID)
	if err == nil {
		s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "customer already subscribed; returning existing subscription")
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find live subscription: %w", err)
	}
	return nil, nil
}

func (s *service) Pause(ctx context.Context, ref Ref) (*models.Subscription, error) {
	return s.change(ctx, ref, pauseAction)
}

func (s *service) Resume(ctx context.Context, ref Ref) (*models.Subscription, error) {
	return s.change(ctx, ref, resumeAction)
}

func (s *service) Cancel(ctx context.Context, ref Ref) (*models.Subscription, error) {
	return s.change(ctx, ref, cancelAction)
}

func (s *service) change(ctx context.Context, ref Ref, act action) (*models.Subscription, error) {
	ctx = s.logg.WithOrganization(ctx, ref.OrganizationID.String(), string(ref.Environment))
	ctx = s.logg.WithSubscriptionID(ctx, ref.ID.String())
	sub, err := s.subs.FindScoped(ctx, ref.ID, ref.OrganizationID, ref.Environment)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return s.apply(ctx, sub, act, sourceAPI)
}

func validateProvision(input ProvisionInput) error {
	details := map[string]string{}
	if input.OrganizationID == uuid.Nil {
		details["organizationId"] = "is required"
	}
	if !input.Environment.IsValid() {
		details["environment"] = "is invalid"
	}
	if len(input.CustomerIDs) == 0 {
		details["customerIds"] = "is required"
	}
	if input.ProductID == uuid.Nil {
		details["productId"] = "is required"
	}
	if input.PeriodStart.IsZero() || input.PeriodEnd.IsZero() {
		details["period"] = "is required"
	} else if !input.PeriodEnd.After(input.PeriodStart) {
		details["period"] = "end must be after start"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}
