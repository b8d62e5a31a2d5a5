package stellar

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
)

const (
	horizonPageLimit = 200
	nativeAssetCode  = "XLM"
)

// HorizonAPI is the subset of horizonclient.Client used for payment lookups.
type HorizonAPI interface {
	Payments(request horizonclient.OperationRequest) (operations.OperationsPage, error)
	TransactionDetail(txHash string) (hProtocol.Transaction, error)
	SubmitTransactionXDR(transactionXdr string) (hProtocol.Transaction, error)
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
}

// Transaction is the settlement-relevant view of a ledger transaction.
type Transaction struct {
	Hash       string
	Successful bool
	MemoType   string
	Memo       string
	Ledger     int32
	CreatedAt  time.Time
}

// PaymentOperation is a single payment found on the ledger.
type PaymentOperation struct {
	TransactionHash string
	Type            string
	From            string
	To              string
	Amount          int64
	AssetCode       string
	AssetIssuer     string
	PagingToken     string
	Successful      bool
}

// PaymentMatch is a payment whose transaction memo matched a checkout reference.
type PaymentMatch struct {
	PaymentOperation
	Memo      string
	CreatedAt time.Time
}

// HorizonClient wraps Horizon for submitting payments and searching them by cursor.
type HorizonClient struct {
	api      HorizonAPI
	maxPages int
}

// NewHorizonClient builds a Horizon wrapper for baseURL.
func NewHorizonClient(baseURL string, timeout time.Duration, maxPages int) *HorizonClient {
	api := &horizonclient.Client{
		HorizonURL: strings.TrimRight(baseURL, "/") + "/",
		HTTP:       &http.Client{Timeout: timeout},
	}
	return NewHorizonClientWithAPI(api, maxPages)
}

// NewHorizonClientWithAPI wraps an existing Horizon API implementation.
func NewHorizonClientWithAPI(api HorizonAPI, maxPages int) *HorizonClient {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &HorizonClient{api: api, maxPages: maxPages}
}

// SubmitSignedTransaction submits a signed envelope and returns its hash.
func (h *HorizonClient) SubmitSignedTransaction(ctx context.Context, envelopeXDR string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tx, err := h.api.SubmitTransactionXDR(envelopeXDR)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSubmissionRejected, describeHorizonError(err))
	}
	return tx.Hash, nil
}

// RetrieveTransaction loads a transaction by hash.
func (h *HorizonClient) RetrieveTransaction(ctx context.Context, hash string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := h.api.TransactionDetail(hash)
	if err != nil {
		return nil, fmt.Errorf("retrieve transaction %s: %s", hash, describeHorizonError(err))
	}
	return toTransaction(tx), nil
}

// RetrievePaymentOperation returns the first payment operation of a transaction.
func (h *HorizonClient) RetrievePaymentOperation(ctx context.Context, hash string) (*PaymentOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := h.api.Payments(horizonclient.OperationRequest{
		ForTransaction: hash,
		IncludeFailed:  true,
		Limit:          horizonPageLimit,
	})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("retrieve payments of %s: %s", hash, describeHorizonError(err))
	}
	for _, record := range page.Embedded.Records {
		if op, ok := paymentOf(record); ok {
			return &op, nil
		}
	}
	return nil, ErrPaymentNotFound
}

// SearchTruncatedError is returned by FindPayment when the page budget ran
// out before the newest payment was read. Cursor resumes the search.
type SearchTruncatedError struct {
	Cursor string
	Pages  int
}

func (e *SearchTruncatedError) Error() string {
	return fmt.Sprintf("%s after %d pages, resume at %s", ErrSearchTruncated, e.Pages, e.Cursor)
}

func (e *SearchTruncatedError) Unwrap() error { return ErrSearchTruncated }

// FindPayment searches payments received by merchant strictly after cursor, in
// ledger order, for one whose transaction memo matches reference. It returns
// nil when the whole history after cursor holds no such payment, and a
// *SearchTruncatedError when maxPages full pages were read without reaching
// the end.
func (h *HorizonClient) FindPayment(ctx context.Context, merchant, reference, cursor string) (*PaymentMatch, error) {
	for page := 0; page < h.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := h.api.Payments(horizonclient.OperationRequest{
			ForAccount:    merchant,
			Cursor:        cursor,
			Order:         horizonclient.OrderAsc,
			Limit:         horizonPageLimit,
			IncludeFailed: true,
			Join:          "transactions",
		})
		if err != nil {
			return nil, fmt.Errorf("list payments for %s: %s", merchant, describeHorizonError(err))
		}
		records := result.Embedded.Records
		for _, record := range records {
			op, ok := paymentOf(record)
			if !ok || op.To != merchant {
				continue
			}
			tx, err := h.transactionOf(record, op.TransactionHash)
			if err != nil {
				return nil, err
			}
			if !MemoMatches(tx.MemoType, tx.Memo, reference) {
				continue
			}
			return &PaymentMatch{PaymentOperation: op, Memo: tx.Memo, CreatedAt: tx.CreatedAt}, nil
		}
		if len(records) < horizonPageLimit {
			return nil, nil
		}
		cursor = records[len(records)-1].PagingToken()
	}
	return nil, &SearchTruncatedError{Cursor: cursor, Pages: h.maxPages}
}

// AccountSequence returns the account's current sequence number.
func (h *HorizonClient) AccountSequence(ctx context.Context, address string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	account, err := h.api.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		return 0, fmt.Errorf("load account %s: %s", address, describeHorizonError(err))
	}
	return account.GetSequenceNumber()
}

func (h *HorizonClient) transactionOf(record operations.Operation, hash string) (*Transaction, error) {
	if payment, ok := record.(operations.Payment); ok && payment.Transaction != nil {
		return toTransaction(*payment.Transaction), nil
	}
	if path, ok := record.(operations.PathPayment); ok && path.Transaction != nil {
		return toTransaction(*path.Transaction), nil
	}
	tx, err := h.api.TransactionDetail(hash)
	if err != nil {
		return nil, fmt.Errorf("retrieve transaction %s: %s", hash, describeHorizonError(err))
	}
	return toTransaction(tx), nil
}

func paymentOf(record operations.Operation) (PaymentOperation, bool) {
	var p operations.Payment
	switch op := record.(type) {
	case operations.Payment:
		p = op
	case operations.PathPayment:
		p = op.Payment
	default:
		return PaymentOperation{}, false
	}
	amount, err := ParseStroops(p.Amount)
	if err != nil {
		return PaymentOperation{}, false
	}
	code := p.Code
	if p.Asset.Type == "native" {
		code = nativeAssetCode
	}
	return PaymentOperation{
		TransactionHash: p.TransactionHash,
		Type:            p.Base.Type,
		From:            p.From,
		To:              p.To,
		Amount:          amount,
		AssetCode:       code,
		AssetIssuer:     p.Issuer,
		PagingToken:     p.PagingToken(),
		Successful:      p.TransactionSuccessful,
	}, true
}

func toTransaction(tx hProtocol.Transaction) *Transaction {
	return &Transaction{
		Hash:       tx.Hash,
		Successful: tx.Successful,
		MemoType:   tx.MemoType,
		Memo:       tx.Memo,
		Ledger:     tx.Ledger,
		CreatedAt:  tx.LedgerCloseTime,
	}
}

func describeHorizonError(err error) string {
	if herr := horizonclient.GetError(err); herr != nil {
		if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
			return fmt.Sprintf("%s (tx: %s, ops: %v)", herr.Problem.Title, codes.TransactionCode, codes.OperationCodes)
		}
		return herr.Problem.Title
	}
	return err.Error()
}
