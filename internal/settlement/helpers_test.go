package settlement

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/internal/checkouts"
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

type fakeLedger struct {
	mu         sync.Mutex
	tx         *stellar.Transaction
	op         *stellar.PaymentOperation
	txErr      error
	opErr      error
	submitHash string
	submitErr  error
	submitted  []string
	lookups    int
}

func (f *fakeLedger) SubmitSignedTransaction(_ context.Context, envelopeXDR string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, envelopeXDR)
	return f.submitHash, f.submitErr
}

func (f *fakeLedger) RetrieveTransaction(context.Context, string) (*stellar.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.tx, f.txErr
}

func (f *fakeLedger) RetrievePaymentOperation(context.Context, string) (*stellar.PaymentOperation, error) {
	return f.op, f.opErr
}

func (f *fakeLedger) FindPayment(context.Context, string, string, string) (*stellar.PaymentMatch, error) {
	return nil, nil
}

type staticLedgers struct {
	ledger Ledger
}

func (s staticLedgers) Ledger(enums.Network) (Ledger, error) {
	return s.ledger, nil
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingMetrics) IncTransition(source, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[source+"/"+outcome]++
}

func (c *countingMetrics) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[key]
}

type harness struct {
	conn     *gorm.DB
	settler  *Settler
	verifier *Verifier
	ledger   *fakeLedger
	metrics  *countingMetrics
	org      models.Organization
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "settlement-test"})
	checkoutRepo := checkouts.NewRepository(conn)
	metrics := &countingMetrics{}

	settler, err := NewSettler(SettlerParams{
		Logger:    logg,
		DB:        db.FromGorm(conn),
		Checkouts: checkoutRepo,
		Payments:  payments.NewRepository(conn),
		Outbox:    outbox.NewService(outbox.NewRepository(conn), logg),
		Metrics:   metrics,
	})
	require.NoError(t, err)

	ledger := &fakeLedger{}
	verifier, err := NewVerifier(VerifierParams{
		Logger:    logg,
		Ledgers:   staticLedgers{ledger: ledger},
		Checkouts: checkoutRepo,
		Products:  products.NewRepository(conn),
		Settler:   settler,
	})
	require.NoError(t, err)

	return &harness{
		conn:     conn,
		settler:  settler,
		verifier: verifier,
		ledger:   ledger,
		metrics:  metrics,
		org:      dbtest.Organization(t, conn),
	}
}

// payingTransaction points the fake ledger at a successful payment for checkout.
func (h *harness) payingTransaction(checkout models.Checkout, hash string, amount int64) {
	h.ledger.tx = &stellar.Transaction{Hash: hash, Successful: true, MemoType: "text", Memo: checkout.ID.String()}
	h.ledger.op = &stellar.PaymentOperation{
		TransactionHash: hash,
		Type:            "payment",
		To:              checkout.MerchantPublicKey,
		Amount:          amount,
		AssetCode:       "XLM",
		Successful:      true,
	}
}

func (h *harness) paymentsFor(t *testing.T, checkout models.Checkout) []models.Payment {
	t.Helper()
	var rows []models.Payment
	require.NoError(t, h.conn.Where("checkout_id = ?", checkout.ID).Find(&rows).Error)
	return rows
}

func (h *harness) outboxRows(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.conn.Order("created_at ASC").Find(&rows).Error)
	return rows
}

func (h *harness) reload(t *testing.T, checkout models.Checkout) models.Checkout {
	t.Helper()
	var stored models.Checkout
	require.NoError(t, h.conn.Where("id = ?", checkout.ID).First(&stored).Error)
	return stored
}

func decodeData(t *testing.T, row models.OutboxEvent, out any) {
	t.Helper()
	envelope, err := outbox.DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}
