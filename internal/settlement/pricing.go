package settlement

import (
	"context"

	"github.com/lumenpay/settlement-backend/internal/products"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
	"github.com/lumenpay/settlement-backend/pkg/stellar"
)

// Mismatch is a checkout field a ledger payment failed to match.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Pricing resolves what a checkout must be paid. Every settlement path checks
// a payment against it before the checkout is closed.
type Pricing struct {
	products products.Repository
}

func NewPricing(products products.Repository) *Pricing {
	return &Pricing{products: products}
}

// Expected returns the ad-hoc amount when present, otherwise the product price.
func (p *Pricing) Expected(ctx context.Context, checkout models.Checkout) (int64, string, error) {
	if checkout.Amount != nil {
		return *checkout.Amount, checkout.AssetCode, nil
	}
	if checkout.ProductID == nil {
		return 0, "", pkgerrors.New(pkgerrors.CodeStateConflict, "checkout has neither amount nor product")
	}
	product, err := p.products.FindByID(ctx, *checkout.ProductID)
	if err != nil {
		if isNotFound(err) {
			return 0, "", pkgerrors.New(pkgerrors.CodeStateConflict, "checkout product no longer exists")
		}
		return 0, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
	}
	return product.PriceAmount, product.AssetCode, nil
}

// PriceMismatches compares the amount and asset of op with the expected
// price. An empty assetCode accepts any asset.
func PriceMismatches(amount int64, assetCode string, op stellar.PaymentOperation) []Mismatch {
	var out []Mismatch
	if op.Amount != amount {
		out = append(out, Mismatch{Field: "amount", Expected: stellar.FormatStroops(amount), Actual: stellar.FormatStroops(op.Amount)})
	}
	if assetCode != "" && op.AssetCode != assetCode {
		out = append(out, Mismatch{Field: "asset", Expected: assetCode, Actual: op.AssetCode})
	}
	return out
}
