package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lumenpay/settlement-backend/internal/settlement"
	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/stellar"
)

// maxPriceMismatches bounds how many memo-matching payments with the wrong
// amount or asset one sweep steps over for a single checkout.
const maxPriceMismatches = 10

type sweepCheckouts interface {
	ListOpen(ctx context.Context, limit int) ([]models.Checkout, error)
	AdvanceSearchCursor(ctx context.Context, id uuid.UUID, cursor string) (bool, error)
}

type checkoutPricer interface {
	Expected(ctx context.Context, checkout models.Checkout) (int64, string, error)
}

type checkoutSettler interface {
	Settle(ctx context.Context, in settlement.Settlement) (settlement.Result, error)
	Expire(ctx context.Context, checkout models.Checkout) (bool, error)
}

// CheckoutSweepJobParams configure the periodic reconciliation of open checkouts.
type CheckoutSweepJobParams struct {
	Logger        *logger.Logger
	Checkouts     sweepCheckouts
	Ledgers       settlement.LedgerResolver
	Pricing       checkoutPricer
	Settler       checkoutSettler
	Config        config.SweeperConfig
	ExpireOnSweep bool
}

// NewCheckoutSweepJob looks up a ledger payment for every open checkout and
// settles the ones paid in full. Open checkouts past their deadline with no
// such payment are expired when ExpireOnSweep is set.
func NewCheckoutSweepJob(params CheckoutSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checkouts == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if params.Ledgers == nil {
		return nil, fmt.Errorf("ledger resolver required")
	}
	if params.Pricing == nil {
		return nil, fmt.Errorf("pricing required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("settler required")
	}
	concurrency := params.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &checkoutSweepJob{
		logg:          params.Logger,
		checkouts:     params.Checkouts,
		ledgers:       params.Ledgers,
		pricing:       params.Pricing,
		settler:       params.Settler,
		batchLimit:    params.Config.BatchLimit,
		concurrency:   concurrency,
		expireOnSweep: params.ExpireOnSweep,
		now:           time.Now,
	}, nil
}

type checkoutSweepJob struct {
	logg          *logger.Logger
	checkouts     sweepCheckouts
	ledgers       settlement.LedgerResolver
	pricing       checkoutPricer
	settler       checkoutSettler
	batchLimit    int
	concurrency   int
	expireOnSweep bool
	now           func() time.Time
}

type sweepTally struct {
	mu      sync.Mutex
	settled int
	expired int
	pending int
	errs    error
}

func (t *sweepTally) add(outcome string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.errs = multierr.Append(t.errs, err)
		return
	}
	switch outcome {
	case "settled":
		t.settled++
	case "expired":
		t.expired++
	default:
		t.pending++
	}
}

func (j *checkoutSweepJob) Name() string { return "checkout-sweep" }

func (j *checkoutSweepJob) Run(ctx context.Context) error {
	open, err := j.checkouts.ListOpen(ctx, j.batchLimit)
	if err != nil {
		return fmt.Errorf("list open checkouts: %w", err)
	}

	tally := &sweepTally{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, checkout := range open {
		g.Go(func() error {
			outcome, err := j.sweepOne(gctx, checkout)
			if err != nil {
				err = fmt.Errorf("checkout %s: %w", checkout.ID, err)
			}
			tally.add(outcome, err)
			return nil
		})
	}
	_ = g.Wait()

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"open":    len(open),
		"settled": tally.settled,
		"expired": tally.expired,
		"pending": tally.pending,
		"failed":  len(multierr.Errors(tally.errs)),
	})
	j.logg.Info(logCtx, "checkout sweep complete")
	return tally.errs
}

func (j *checkoutSweepJob) sweepOne(ctx context.Context, checkout models.Checkout) (string, error) {
	ctx = j.logg.WithCheckoutID(ctx, checkout.ID.String())
	ledger, err := j.ledgers.Ledger(checkout.Environment)
	if err != nil {
		return "", err
	}
	amount, assetCode, err := j.pricing.Expected(ctx, checkout)
	if err != nil {
		return "", fmt.Errorf("price checkout: %w", err)
	}

	start := searchCursor(checkout)
	cursor := start
	for mismatched := 0; mismatched < maxPriceMismatches; mismatched++ {
		match, err := ledger.FindPayment(ctx, checkout.MerchantPublicKey, checkout.ID.String(), cursor)
		var truncated *stellar.SearchTruncatedError
		if errors.As(err, &truncated) {
			// Unread history may hold the payment; never expire here.
			j.logg.Warn(j.logg.WithField(ctx, "search_cursor", truncated.Cursor), "ledger search truncated; checkout left open")
			j.rememberCursor(ctx, checkout, start, truncated.Cursor)
			return "pending", nil
		}
		if err != nil {
			j.logg.Error(ctx, "ledger payment lookup failed", err)
			return "", fmt.Errorf("find payment: %w", err)
		}
		if match == nil {
			j.rememberCursor(ctx, checkout, start, cursor)
			return j.expireIfDue(ctx, checkout)
		}

		mismatches := settlement.PriceMismatches(amount, assetCode, match.PaymentOperation)
		if len(mismatches) == 0 {
			return j.settle(ctx, checkout, match)
		}
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"tx_hash":    match.TransactionHash,
			"mismatches": mismatches,
		}), "ledger payment does not match checkout price; checkout left open")
		if match.PagingToken == "" || match.PagingToken == cursor {
			break
		}
		cursor = match.PagingToken
	}
	j.rememberCursor(ctx, checkout, start, cursor)
	return "pending", nil
}

func (j *checkoutSweepJob) settle(ctx context.Context, checkout models.Checkout, match *stellar.PaymentMatch) (string, error) {
	result, err := j.settler.Settle(ctx, settlement.Settlement{
		Checkout:        checkout,
		TransactionHash: match.TransactionHash,
		Amount:          match.Amount,
		AssetCode:       match.AssetCode,
		Successful:      match.Successful,
		Source:          settlement.SourceSweeper,
	})
	if err != nil {
		return "", err
	}
	if !result.Settled {
		return "pending", nil
	}
	return "settled", nil
}

func (j *checkoutSweepJob) expireIfDue(ctx context.Context, checkout models.Checkout) (string, error) {
	if !j.expireOnSweep || checkout.ExpiresAt.IsZero() || !j.now().After(checkout.ExpiresAt) {
		return "pending", nil
	}
	moved, err := j.settler.Expire(ctx, checkout)
	if err != nil {
		return "", err
	}
	if moved {
		return "expired", nil
	}
	return "pending", nil
}

// rememberCursor stores where the next sweep resumes. On failure the next
// sweep searches again from the older cursor.
func (j *checkoutSweepJob) rememberCursor(ctx context.Context, checkout models.Checkout, start, cursor string) {
	if cursor == "" || cursor == start {
		return
	}
	if _, err := j.checkouts.AdvanceSearchCursor(ctx, checkout.ID, cursor); err != nil {
		j.logg.Warn(j.logg.WithField(ctx, "error", err.Error()), "search cursor not saved")
	}
}

func searchCursor(checkout models.Checkout) string {
	if checkout.SearchCursor != nil && *checkout.SearchCursor != "" {
		return *checkout.SearchCursor
	}
	return checkout.InitialPagingToken
}
