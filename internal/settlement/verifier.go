package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/internal/checkouts"
	"github.com/lumenpay/settlement-backend/internal/products"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/stellar"
)

// Ledger is the Horizon surface used to reconcile checkouts.
type Ledger interface {
	SubmitSignedTransaction(ctx context.Context, envelopeXDR string) (string, error)
	RetrieveTransaction(ctx context.Context, hash string) (*stellar.Transaction, error)
	RetrievePaymentOperation(ctx context.Context, hash string) (*stellar.PaymentOperation, error)
	FindPayment(ctx context.Context, merchant, reference, cursor string) (*stellar.PaymentMatch, error)
}

// LedgerResolver returns the ledger of a network environment.
type LedgerResolver interface {
	Ledger(env enums.Network) (Ledger, error)
}

// NetworkLedgers resolves Horizon clients from the configured networks.
type NetworkLedgers struct {
	Networks *stellar.Networks
}

func (n NetworkLedgers) Ledger(env enums.Network) (Ledger, error) {
	net, err := n.Networks.For(env)
	if err != nil {
		return nil, err
	}
	return net.Horizon, nil
}

// VerifyRequest is a client report of a transaction paying a checkout.
type VerifyRequest struct {
	CheckoutID      uuid.UUID
	OrganizationID  uuid.UUID
	Environment     enums.Network
	TransactionHash string
	SignedXDR       string
}

// VerifyResult is returned to the caller once the checkout is reconciled.
type VerifyResult struct {
	CheckoutID      uuid.UUID            `json:"checkoutId"`
	Status          enums.CheckoutStatus `json:"status"`
	TransactionHash string               `json:"transactionHash"`
	Settled         bool                 `json:"settled"`
}

type VerifierParams struct {
	Logger    *logger.Logger
	Ledgers   LedgerResolver
	Checkouts checkouts.Repository
	Products  products.Repository
	Settler   *Settler
}

// Verifier handles synchronous payment reports for a single checkout.
type Verifier struct {
	logg      *logger.Logger
	ledgers   LedgerResolver
	checkouts checkouts.Repository
	pricing   *Pricing
	settler   *Settler
}

func NewVerifier(params VerifierParams) (*Verifier, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledgers == nil {
		return nil, fmt.Errorf("ledger resolver required")
	}
	if params.Checkouts == nil {
		return nil, fmt.Errorf("checkouts repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("settler required")
	}
	return &Verifier{
		logg:      params.Logger,
		ledgers:   params.Ledgers,
		checkouts: params.Checkouts,
		pricing:   NewPricing(params.Products),
		settler:   params.Settler,
	}, nil
}

// Verify submits the signed envelope when needed, checks the transaction
// against the checkout and settles it. A transaction that does not match the
// checkout is a validation error and leaves the checkout open.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.TransactionHash == "" && req.SignedXDR == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transactionHash or signedXdr is required")
	}
	ctx = v.logg.WithOrganization(ctx, req.OrganizationID.String(), string(req.Environment))
	ctx = v.logg.WithCheckoutID(ctx, req.CheckoutID.String())

	ledger, err := v.ledgers.Ledger(req.Environment)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger unavailable")
	}

	hash := req.TransactionHash
	if hash == "" {
		hash, err = ledger.SubmitSignedTransaction(ctx, req.SignedXDR)
		if err != nil {
			if errors.Is(err, stellar.ErrSubmissionRejected) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "transaction rejected by the network")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeLedger, err, "submit transaction")
		}
	}
	ctx = v.logg.WithTxHash(ctx, hash)

	checkout, err := v.checkouts.FindScoped(ctx, req.CheckoutID, req.OrganizationID, req.Environment)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load checkout")
	}
	if checkout.Status.IsTerminal() {
		return &VerifyResult{CheckoutID: checkout.ID, Status: checkout.Status, TransactionHash: hash}, nil
	}

	tx, err := ledger.RetrieveTransaction(ctx, hash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedger, err, "retrieve transaction")
	}
	op, err := ledger.RetrievePaymentOperation(ctx, hash)
	if err != nil {
		if errors.Is(err, stellar.ErrPaymentNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "transaction carries no payment operation")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedger, err, "retrieve payment operation")
	}

	mismatches, err := v.compare(ctx, *checkout, tx, op)
	if err != nil {
		return nil, err
	}
	if len(mismatches) > 0 {
		v.logg.Warn(v.logg.WithField(ctx, "mismatches", mismatches), "reported transaction does not match checkout")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction does not match checkout").WithDetails(mismatches)
	}

	result, err := v.settler.Settle(ctx, Settlement{
		Checkout:        *checkout,
		TransactionHash: hash,
		Amount:          op.Amount,
		AssetCode:       op.AssetCode,
		Successful:      tx.Successful && op.Successful,
		Source:          SourceCallback,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settle checkout")
	}
	return &VerifyResult{
		CheckoutID:      checkout.ID,
		Status:          result.Status,
		TransactionHash: hash,
		Settled:         result.Settled,
	}, nil
}

func (v *Verifier) compare(ctx context.Context, checkout models.Checkout, tx *stellar.Transaction, op *stellar.PaymentOperation) ([]Mismatch, error) {
	amount, assetCode, err := v.pricing.Expected(ctx, checkout)
	if err != nil {
		return nil, err
	}

	var out []Mismatch
	reference := checkout.ID.String()
	if !stellar.MemoMatches(tx.MemoType, tx.Memo, reference) {
		out = append(out, Mismatch{Field: "memo", Expected: reference, Actual: tx.Memo})
	}
	if op.To != checkout.MerchantPublicKey {
		out = append(out, Mismatch{Field: "destination", Expected: checkout.MerchantPublicKey, Actual: op.To})
	}
	return append(out, PriceMismatches(amount, assetCode, *op)...), nil
}
