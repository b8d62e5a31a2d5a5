package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/customers"
	"github.com/lumenpay/settlement-backend/internal/payments"
	"github.com/lumenpay/settlement-backend/internal/products"
	"github.com/lumenpay/settlement-backend/pkg/db"
	"github.com/lumenpay/settlement-backend/pkg/db/dbtest"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
	"github.com/lumenpay/settlement-backend/pkg/stellar"
)

type contractCall struct {
	method    string
	customer  string
	productID string
	terms     *stellar.SubscriptionTerms
}

type fakeContract struct {
	mu     sync.Mutex
	calls  []contractCall
	result stellar.InvokeResult
	err    error

	// answers for Transaction and Get
	lookup    stellar.InvokeResult
	lookupErr error
	state     stellar.SubscriptionState
	stateErr  error
}

func (f *fakeContract) record(call contractCall) (stellar.InvokeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.result, f.err
}

func (f *fakeContract) CreateSubscription(_ context.Context, terms stellar.SubscriptionTerms) (stellar.InvokeResult, error) {
	return f.record(contractCall{method: stellar.MethodCreateSubscription, customer: terms.Customer, productID: terms.ProductID, terms: &terms})
}

func (f *fakeContract) Pause(_ context.Context, customer, productID string) (stellar.InvokeResult, error) {
	return f.record(contractCall{method: stellar.MethodPause, customer: customer, productID: productID})
}

func (f *fakeContract) Resume(_ context.Context, customer, productID string) (stellar.InvokeResult, error) {
	return f.record(contractCall{method: stellar.MethodResume, customer: customer, productID: productID})
}

func (f *fakeContract) Cancel(_ context.Context, customer, productID string) (stellar.InvokeResult, error) {
	return f.record(contractCall{method: stellar.MethodCancel, customer: customer, productID: productID})
}

func (f *fakeContract) Charge(_ context.Context, customer, productID string) (stellar.InvokeResult, error) {
	return f.record(contractCall{method: stellar.MethodCharge, customer: customer, productID: productID})
}

func (f *fakeContract) Transaction(_ context.Context, hash string) (stellar.InvokeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, contractCall{method: "transaction", customer: hash})
	result := f.lookup
	result.Hash = hash
	return result, f.lookupErr
}

func (f *fakeContract) Get(_ context.Context, customer, productID string) (stellar.SubscriptionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, contractCall{method: stellar.MethodGetSubscription, customer: customer, productID: productID})
	return f.state, f.stateErr
}

func (f *fakeContract) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

type staticContracts struct {
	contract Contract
}

func (s staticContracts) Contract(enums.Network) (Contract, error) {
	if s.contract == nil {
		return nil, errors.New("no contract")
	}
	return s.contract, nil
}

type harness struct {
	conn     *gorm.DB
	service  Service
	biller   *Biller
	contract *fakeContract
	org      models.Organization
	product  models.Product
	customer models.Customer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "subscriptions-test"})
	contract := &fakeContract{result: stellar.InvokeResult{Hash: "abc123", Successful: true}}
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	svc, err := NewService(ServiceParams{
		Logger:            logg,
		Subscriptions:     NewRepository(conn),
		Customers:         customers.NewRepository(conn),
		Products:          products.NewRepository(conn),
		Contracts:         staticContracts{contract: contract},
		Outbox:            emitter,
		TransactionRunner: db.FromGorm(conn),
	})
	require.NoError(t, err)

	biller, err := NewBiller(BillerParams{
		Logger:            logg,
		Subscriptions:     NewRepository(conn),
		Customers:         customers.NewRepository(conn),
		Products:          products.NewRepository(conn),
		Payments:          payments.NewRepository(conn),
		Contracts:         staticContracts{contract: contract},
		Outbox:            emitter,
		TransactionRunner: db.FromGorm(conn),
		CancelAtPeriodEnd: true,
	})
	require.NoError(t, err)

	org := dbtest.Organization(t, conn)
	return &harness{
		conn:     conn,
		service:  svc,
		biller:   biller,
		contract: contract,
		org:      org,
		product:  dbtest.Product(t, conn, org.ID, enums.ProductTypeSubscription),
		customer: dbtest.Customer(t, conn, org.ID),
	}
}

func (h *harness) reload(t *testing.T, id any) models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, h.conn.Where("id = ?", id).First(&sub).Error)
	return sub
}

func (h *harness) eventTypes(t *testing.T) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.conn.Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func (h *harness) paymentsFor(t *testing.T, sub models.Subscription) []models.Payment {
	t.Helper()
	var rows []models.Payment
	require.NoError(t, h.conn.Where("subscription_id = ?", sub.ID).Find(&rows).Error)
	return rows
}

func decodeEventData(t *testing.T, row models.OutboxEvent, out any) {
	t.Helper()
	envelope, err := outbox.DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}
