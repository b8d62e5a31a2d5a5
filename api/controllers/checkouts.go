package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/api/responses"
	"github.com/lumenpay/settlement-backend/api/validators"
	"github.com/lumenpay/settlement-backend/internal/settlement"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
	"github.com/lumenpay/settlement-backend/pkg/logger"
)

type checkoutVerifier interface {
	Verify(ctx context.Context, req settlement.VerifyRequest) (*settlement.VerifyResult, error)
}

type verifyCheckoutRequest struct {
	OrganizationID  string `json:"organizationId" validate:"required,uuid"`
	Environment     string `json:"environment" validate:"required,oneof=testnet mainnet"`
	TransactionHash string `json:"transactionHash,omitempty" validate:"omitempty,len=64,hexadecimal"`
	SignedXDR       string `json:"signedXdr,omitempty" validate:"required_without=TransactionHash"`
}

// VerifyCheckout reconciles a checkout against a transaction reported by a
// wallet or client. Settlement events go out through the outbox, so the
// response never waits on webhook delivery.
func VerifyCheckout(verifier checkoutVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if verifier == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout verifier unavailable"))
			return
		}

		checkoutID, err := uuid.Parse(chi.URLParam(r, "checkoutId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout id"))
			return
		}

		var payload verifyCheckoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := verifier.Verify(r.Context(), settlement.VerifyRequest{
			CheckoutID:      checkoutID,
			OrganizationID:  uuid.MustParse(payload.OrganizationID),
			Environment:     enums.Network(payload.Environment),
			TransactionHash: payload.TransactionHash,
			SignedXDR:       payload.SignedXDR,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
