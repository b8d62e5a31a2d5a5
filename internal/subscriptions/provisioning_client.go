package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/pkg/auth"
	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
)

const (
	ProvisionPath = "/internal/v1/subscriptions"

	provisioningSubject        = "settlement-worker"
	responseBodyReadLimit int64 = 1024
)

// ProvisionRequest is the body of the internal provisioning endpoint. The
// organization and network come from the service token.
type ProvisionRequest struct {
	CustomerIDs       []uuid.UUID     `json:"customerIds" validate:"required,min=1,dive,required"`
	ProductID         uuid.UUID       `json:"productId" validate:"required"`
	CheckoutID        *uuid.UUID      `json:"checkoutId,omitempty"`
	Period            ProvisionPeriod `json:"period" validate:"required"`
	CancelAtPeriodEnd bool            `json:"cancelAtPeriodEnd"`
}

type ProvisionPeriod struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtfield=Start"`
}

// ProvisioningClient calls the provisioning endpoint with a short-lived
// service token scoped to the checkout's organization and network.
type ProvisioningClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     config.ServiceTokenConfig
	now        func() time.Time
}

// ClientOption configures optional client behavior.
type ClientOption func(*ProvisioningClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *ProvisioningClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewProvisioningClient(cfg config.ProvisioningConfig, tokens config.ServiceTokenConfig, opts ...ClientOption) (*ProvisioningClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provisioning base url is required")
	}
	if tokens.Secret == "" {
		return nil, fmt.Errorf("service token secret is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &ProvisioningClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		tokens:     tokens,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Provision posts the request and returns the IDs of the subscriptions the
// endpoint created or already held.
func (c *ProvisioningClient) Provision(ctx context.Context, organizationID uuid.UUID, env enums.Network, req ProvisionRequest) ([]uuid.UUID, error) {
	token, err := auth.MintServiceToken(c.tokens, c.now(), auth.ServiceTokenPayload{
		OrganizationID: organizationID,
		Environment:    env,
		Subject:        provisioningSubject,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint service token")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal provisioning request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ProvisionPath, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build provisioning request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute provisioning request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "provisioning request failed")
	}

	var apiResp struct {
		Data []struct {
			ID uuid.UUID `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode provisioning response")
	}
	ids := make([]uuid.UUID, 0, len(apiResp.Data))
	for _, row := range apiResp.Data {
		ids = append(ids, row.ID)
	}
	return ids, nil
}
