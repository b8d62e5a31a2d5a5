package subscriptions

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/api/middleware"
	"github.com/lumenpay/settlement-backend/api/responses"
	"github.com/lumenpay/settlement-backend/api/validators"
	subsvc "github.com/lumenpay/settlement-backend/internal/subscriptions"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
	"github.com/lumenpay/settlement-backend/pkg/logger"
)

type subscriptionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	CustomerID         uuid.UUID  `json:"customerId"`
	ProductID          uuid.UUID  `json:"productId"`
	CheckoutID         *uuid.UUID `json:"checkoutId,omitempty"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time  `json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd"`
	PausedAt           *time.Time `json:"pausedAt,omitempty"`
	CanceledAt         *time.Time `json:"canceledAt,omitempty"`
}

// Provision creates one subscription per customer for the token's
// organization and network. Replays return the rows created the first time.
func Provision(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		scope, ok := middleware.ScopeFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "service scope missing"))
			return
		}

		var payload subsvc.ProvisionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		subs, err := svc.Provision(r.Context(), subsvc.ProvisionInput{
			OrganizationID:    scope.OrganizationID,
			Environment:       scope.Environment,
			CustomerIDs:       payload.CustomerIDs,
			ProductID:         payload.ProductID,
			CheckoutID:        payload.CheckoutID,
			PeriodStart:       payload.Period.Start,
			PeriodEnd:         payload.Period.End,
			CancelAtPeriodEnd: payload.CancelAtPeriodEnd,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := make([]subscriptionResponse, 0, len(subs))
		for i := range subs {
			resp = append(resp, newSubscriptionResponse(&subs[i]))
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

func Pause(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(s subsvc.Service) func(context.Context, subsvc.Ref) (*models.Subscription, error) {
		return s.Pause
	})
}

func Resume(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(s subsvc.Service) func(context.Context, subsvc.Ref) (*models.Subscription, error) {
		return s.Resume
	})
}

func Cancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(s subsvc.Service) func(context.Context, subsvc.Ref) (*models.Subscription, error) {
		return s.Cancel
	})
}

// transition drives one contract call; the mirror row only changes after the
// call succeeds on-chain.
func transition(svc subsvc.Service, logg *logger.Logger, pick func(subsvc.Service) func(context.Context, subsvc.Ref) (*models.Subscription, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		scope, ok := middleware.ScopeFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "service scope missing"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "subscriptionId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription id"))
			return
		}

		sub, err := pick(svc)(r.Context(), subsvc.Ref{
			ID:             id,
			OrganizationID: scope.OrganizationID,
			Environment:    scope.Environment,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	if sub == nil {
		return subscriptionResponse{}
	}
	return subscriptionResponse{
		ID:                 sub.ID,
		CustomerID:         sub.CustomerID,
		ProductID:          sub.ProductID,
		CheckoutID:         sub.CheckoutID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		PausedAt:           sub.PausedAt,
		CanceledAt:         sub.CanceledAt,
	}
}
