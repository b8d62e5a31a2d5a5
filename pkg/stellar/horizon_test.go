package stellar

import (
	"context"
	"errors"
	"testing"

	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
)

const testMerchant = "GMERCHANT"

type fakeHorizon struct {
	pages     []operations.OperationsPage
	requests  []horizonclient.OperationRequest
	txs       map[string]hProtocol.Transaction
	submitted []string
	submitErr error
}

func (f *fakeHorizon) Payments(req horizonclient.OperationRequest) (operations.OperationsPage, error) {
	f.requests = append(f.requests, req)
	if len(f.pages) == 0 {
		return operations.OperationsPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeHorizon) TransactionDetail(hash string) (hProtocol.Transaction, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return hProtocol.Transaction{}, errors.New("not found")
	}
	return tx, nil
}

func (f *fakeHorizon) SubmitTransactionXDR(envelope string) (hProtocol.Transaction, error) {
	f.submitted = append(f.submitted, envelope)
	if f.submitErr != nil {
		return hProtocol.Transaction{}, f.submitErr
	}
	return hProtocol.Transaction{Hash: "submitted-hash"}, nil
}

func (f *fakeHorizon) AccountDetail(horizonclient.AccountRequest) (hProtocol.Account, error) {
	return hProtocol.Account{}, nil
}

func payment(token, hash, to, amount string, successful bool, tx *hProtocol.Transaction) operations.Payment {
	p := operations.Payment{
		Base: operations.Base{
			PT:                    token,
			Type:                  "payment",
			TransactionHash:       hash,
			TransactionSuccessful: successful,
			Transaction:           tx,
		},
		From:   "GPAYER",
		To:     to,
		Amount: amount,
	}
	p.Asset.Type = "native"
	return p
}

func pageOf(records ...operations.Operation) operations.OperationsPage {
	var page operations.OperationsPage
	page.Embedded.Records = records
	return page
}

func TestFindPaymentMatchesMemoAfterCursor(t *testing.T) {
	api := &fakeHorizon{
		pages: []operations.OperationsPage{pageOf(
			payment("1040", "other", testMerchant, "5", true, &hProtocol.Transaction{MemoType: "text", Memo: "someone-else"}),
			payment("1050", "match", testMerchant, "12.5", true, &hProtocol.Transaction{MemoType: "text", Memo: "C1"}),
		)},
	}
	client := NewHorizonClientWithAPI(api, 3)

	match, err := client.FindPayment(context.Background(), testMerchant, "C1", "1000")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if match == nil || match.TransactionHash != "match" || !match.Successful {
		t.Fatalf("unexpected match %+v", match)
	}
	if match.Amount != 125_000_000 || match.AssetCode != "XLM" || match.PagingToken != "1050" {
		t.Fatalf("unexpected payment fields %+v", match.PaymentOperation)
	}

	req := api.requests[0]
	if req.Cursor != "1000" || req.Order != horizonclient.OrderAsc || !req.IncludeFailed || req.ForAccount != testMerchant {
		t.Fatalf("search must start at the checkout cursor in ascending order, got %+v", req)
	}
}

func TestFindPaymentIgnoresOutgoingPayments(t *testing.T) {
	api := &fakeHorizon{
		pages: []operations.OperationsPage{pageOf(
			payment("1050", "refund", "GPAYER", "1", true, &hProtocol.Transaction{MemoType: "text", Memo: "C1"}),
		)},
	}
	client := NewHorizonClientWithAPI(api, 3)

	match, err := client.FindPayment(context.Background(), testMerchant, "C1", "1000")
	if err != nil || match != nil {
		t.Fatalf("expected no match, got %+v, %v", match, err)
	}
}

func TestFindPaymentReportsFailedTransactions(t *testing.T) {
	api := &fakeHorizon{
		pages: []operations.OperationsPage{pageOf(
			payment("1050", "failed", testMerchant, "1", false, nil),
		)},
		txs: map[string]hProtocol.Transaction{"failed": {Hash: "failed", MemoType: "text", Memo: "C1"}},
	}
	client := NewHorizonClientWithAPI(api, 3)

	match, err := client.FindPayment(context.Background(), testMerchant, "C1", "1000")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if match == nil || match.Successful {
		t.Fatalf("expected unsuccessful match, got %+v", match)
	}
}

func TestFindPaymentFollowsCursorAcrossPages(t *testing.T) {
	full := make([]operations.Operation, 0, horizonPageLimit)
	for i := 0; i < horizonPageLimit; i++ {
		full = append(full, payment("p1", "x", testMerchant, "1", true, &hProtocol.Transaction{MemoType: "text", Memo: "nope"}))
	}
	api := &fakeHorizon{
		pages: []operations.OperationsPage{
			pageOf(full...),
			pageOf(payment("p2", "match", testMerchant, "1", true, &hProtocol.Transaction{MemoType: "text", Memo: "C1"})),
		},
	}
	client := NewHorizonClientWithAPI(api, 3)

	match, err := client.FindPayment(context.Background(), testMerchant, "C1", "1000")
	if err != nil || match == nil {
		t.Fatalf("expected match on second page, got %+v, %v", match, err)
	}
	if len(api.requests) != 2 || api.requests[1].Cursor != "p1" {
		t.Fatalf("expected second request from last paging token, got %+v", api.requests)
	}
}

func TestFindPaymentReportsTruncatedSearch(t *testing.T) {
	full := make([]operations.Operation, 0, horizonPageLimit)
	for i := 0; i < horizonPageLimit; i++ {
		full = append(full, payment("p1", "x", testMerchant, "1", true, &hProtocol.Transaction{MemoType: "text", Memo: "nope"}))
	}
	api := &fakeHorizon{pages: []operations.OperationsPage{pageOf(full...)}}
	client := NewHorizonClientWithAPI(api, 1)

	match, err := client.FindPayment(context.Background(), testMerchant, "C1", "1000")
	if match != nil {
		t.Fatalf("expected no match, got %+v", match)
	}
	if !errors.Is(err, ErrSearchTruncated) {
		t.Fatalf("a full last page must not read as no payment, got %v", err)
	}
	var truncated *SearchTruncatedError
	if !errors.As(err, &truncated) || truncated.Cursor != "p1" || truncated.Pages != 1 {
		t.Fatalf("expected resume cursor p1, got %+v", truncated)
	}
}

func TestRetrievePaymentOperationNotFound(t *testing.T) {
	client := NewHorizonClientWithAPI(&fakeHorizon{}, 1)

	_, err := client.RetrievePaymentOperation(context.Background(), "abc")
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestSubmitSignedTransaction(t *testing.T) {
	api := &fakeHorizon{}
	client := NewHorizonClientWithAPI(api, 1)

	hash, err := client.SubmitSignedTransaction(context.Background(), "AAAA")
	if err != nil || hash != "submitted-hash" {
		t.Fatalf("unexpected submit result %q, %v", hash, err)
	}

	api.submitErr = errors.New("tx_bad_seq")
	if _, err := client.SubmitSignedTransaction(context.Background(), "AAAA"); !errors.Is(err, ErrSubmissionRejected) {
		t.Fatalf("expected ErrSubmissionRejected, got %v", err)
	}
}
