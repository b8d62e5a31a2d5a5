package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lumenpay/settlement-backend/pkg/auth"
	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	pkgerrors "github.com/lumenpay/settlement-backend/pkg/errors"
)

var testTokens = config.ServiceTokenConfig{Secret: "s3cret", Issuer: "lumenpay", TTL: 30 * time.Second}

func TestProvisioningClientSendsSignedRequest(t *testing.T) {
	orgID := uuid.New()
	subID := uuid.New()
	var got ProvisionRequest
	var claims *auth.ServiceTokenClaims

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, ProvisionPath, r.URL.Path)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		parsed, err := auth.ParseServiceToken(testTokens, token)
		require.NoError(t, err)
		claims = parsed
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":[{"id":"` + subID.String() + `"}]}`))
	}))
	defer srv.Close()

	client, err := NewProvisioningClient(config.ProvisioningConfig{BaseURL: srv.URL + "/"}, testTokens)
	require.NoError(t, err)

	start := time.Now().UTC().Truncate(time.Second)
	checkoutID := uuid.New()
	req := ProvisionRequest{
		CustomerIDs: []uuid.UUID{uuid.New()},
		ProductID:   uuid.New(),
		CheckoutID:  &checkoutID,
		Period:      ProvisionPeriod{Start: start, End: start.AddDate(0, 1, 0)},
	}
	ids, err := client.Provision(context.Background(), orgID, enums.NetworkTestnet, req)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{subID}, ids)

	require.Equal(t, orgID, claims.OrganizationID)
	require.Equal(t, enums.NetworkTestnet, claims.Environment)
	require.Equal(t, provisioningSubject, claims.Subject)
	require.WithinDuration(t, time.Now().Add(30*time.Second), claims.ExpiresAt.Time, 5*time.Second)
	require.Equal(t, req.ProductID, got.ProductID)
	require.Equal(t, checkoutID, *got.CheckoutID)
	require.True(t, got.Period.End.Equal(req.Period.End))
}

func TestProvisioningClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "contract unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewProvisioningClient(config.ProvisioningConfig{BaseURL: srv.URL}, testTokens)
	require.NoError(t, err)

	start := time.Now().UTC()
	_, err = client.Provision(context.Background(), uuid.New(), enums.NetworkTestnet, ProvisionRequest{
		CustomerIDs: []uuid.UUID{uuid.New()},
		ProductID:   uuid.New(),
		Period:      ProvisionPeriod{Start: start, End: start.Add(time.Hour)},
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
	require.Contains(t, errors.Unwrap(err).Error(), "status 502")
}

func TestNewProvisioningClientRequiresConfig(t *testing.T) {
	_, err := NewProvisioningClient(config.ProvisioningConfig{}, testTokens)
	require.Error(t, err)
	_, err = NewProvisioningClient(config.ProvisioningConfig{BaseURL: "http://localhost"}, config.ServiceTokenConfig{})
	require.Error(t, err)
}
