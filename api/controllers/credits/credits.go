package credits

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/api/middleware"
	"github.com/lumenpay/settlement-backend/api/responses"
	"github.com/lumenpay/settlement-backend/api/validators"
	creditsvc "github.com/lumenpay/settlement-backend/internal/credits"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
	"github.com/lumenpay/settlement-backend/pkg/logger"
)

const maxReasonLength = 255

type consumeRequest struct {
	OrganizationID string  `json:"organizationId" validate:"required,uuid"`
	Environment    string  `json:"environment" validate:"required,oneof=testnet mainnet"`
	CustomerID     string  `json:"customerId" validate:"required,uuid"`
	ProductID      string  `json:"productId" validate:"required,uuid"`
	Amount         int64   `json:"amount" validate:"required,gt=0"`
	Reason         *string `json:"reason,omitempty"`
}

// movementRequest is the internal variant; scope comes from the service token.
type movementRequest struct {
	CustomerID string  `json:"customerId" validate:"required,uuid"`
	ProductID  string  `json:"productId" validate:"required,uuid"`
	Amount     int64   `json:"amount" validate:"required,gt=0"`
	Reason     *string `json:"reason,omitempty"`
}

type balanceResponse struct {
	BalanceID     uuid.UUID `json:"balanceId"`
	BalanceBefore int64     `json:"balanceBefore"`
	BalanceAfter  int64     `json:"balanceAfter"`
	TransactionID uuid.UUID `json:"transactionId"`
}

// Consume debits a customer's metered balance. The organization and
// environment in the body must be the ones the service token was minted for.
// An overdraw answers 422 with INSUFFICIENT_CREDITS.
func Consume(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		scope, ok := middleware.ScopeFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "service scope missing"))
			return
		}

		var payload consumeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orgID := uuid.MustParse(payload.OrganizationID)
		env := enums.Network(payload.Environment)
		if orgID != scope.OrganizationID || env != scope.Environment {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "organization or environment outside token scope"))
			return
		}

		result, err := svc.Consume(r.Context(), creditsvc.Input{
			OrganizationID: orgID,
			Environment:    env,
			CustomerID:     uuid.MustParse(payload.CustomerID),
			ProductID:      uuid.MustParse(payload.ProductID),
			Amount:         payload.Amount,
			Reason:         sanitizeReason(payload.Reason),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBalanceResponse(result))
	}
}

// Grant adds credits for the organization named by the service token.
func Grant(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return scopedMovement(svc, logg, func(s creditsvc.Service) func(context.Context, creditsvc.Input) (*creditsvc.Result, error) {
		return s.Grant
	})
}

// Refund returns previously consumed credits.
func Refund(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return scopedMovement(svc, logg, func(s creditsvc.Service) func(context.Context, creditsvc.Input) (*creditsvc.Result, error) {
		return s.Refund
	})
}

func scopedMovement(svc creditsvc.Service, logg *logger.Logger, pick func(creditsvc.Service) func(context.Context, creditsvc.Input) (*creditsvc.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		scope, ok := middleware.ScopeFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "service scope missing"))
			return
		}

		var payload movementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := pick(svc)(r.Context(), creditsvc.Input{
			OrganizationID: scope.OrganizationID,
			Environment:    scope.Environment,
			CustomerID:     uuid.MustParse(payload.CustomerID),
			ProductID:      uuid.MustParse(payload.ProductID),
			Amount:         payload.Amount,
			Reason:         sanitizeReason(payload.Reason),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBalanceResponse(result))
	}
}

func sanitizeReason(reason *string) *string {
	if reason == nil {
		return nil
	}
	cleaned := validators.SanitizeString(*reason, maxReasonLength)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func newBalanceResponse(result *creditsvc.Result) balanceResponse {
	if result == nil {
		return balanceResponse{}
	}
	return balanceResponse{
		BalanceID:     result.BalanceID,
		BalanceBefore: result.BalanceBefore,
		BalanceAfter:  result.BalanceAfter,
		TransactionID: result.TransactionID,
	}
}
