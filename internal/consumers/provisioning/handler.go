package provisioning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/internal/consumers/worker"
	"github.com/lumenpay/settlement-backend/internal/subscriptions"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
)

// ConsumerName keys the idempotency markers of this consumer.
const ConsumerName = "provisioning"

type provisioner interface {
	Provision(ctx context.Context, organizationID uuid.UUID, env enums.Network, req subscriptions.ProvisionRequest) ([]uuid.UUID, error)
}

// Handler turns completed subscription checkouts into provisioning calls.
type Handler struct {
	client provisioner
	logg   *logger.Logger
}

func NewHandler(client provisioner, logg *logger.Logger) (*Handler, error) {
	if client == nil {
		return nil, fmt.Errorf("provisioning client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Handler{client: client, logg: logg}, nil
}

func (h *Handler) Handle(ctx context.Context, event worker.Event) error {
	if event.EventType != enums.EventCheckoutCompleted {
		return worker.ErrSkip
	}
	var settled payloads.CheckoutSettledEvent
	if err := json.Unmarshal(event.Data, &settled); err != nil {
		return fmt.Errorf("decode checkout payload: %w", err)
	}
	if settled.Subscription == nil {
		return worker.ErrSkip
	}
	ctx = h.logg.WithCheckoutID(ctx, settled.CheckoutID.String())
	if settled.ProductID == nil || settled.CustomerID == nil {
		h.logg.Warn(ctx, "subscription checkout has no product or customer; provisioning skipped")
		return nil
	}

	checkoutID := settled.CheckoutID
	ids, err := h.client.Provision(ctx, event.OrganizationID, event.Environment, subscriptions.ProvisionRequest{
		CustomerIDs: []uuid.UUID{*settled.CustomerID},
		ProductID:   *settled.ProductID,
		CheckoutID:  &checkoutID,
		Period: subscriptions.ProvisionPeriod{
			Start: settled.Subscription.PeriodStart,
			End:   settled.Subscription.PeriodEnd,
		},
		CancelAtPeriodEnd: settled.Subscription.CancelAtPeriodEnd,
	})
	if err != nil {
		return fmt.Errorf("provision subscription: %w", err)
	}
	h.logg.Info(h.logg.WithField(ctx, "subscription_ids", ids), "subscription provisioned for checkout")
	return nil
}
