package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lumenpay/settlement-backend/internal/subscriptions"
	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/logger"
)

type dueSubscriptionLister interface {
	ListDue(ctx context.Context, now time.Time, retryAfter time.Duration, limit int) ([]models.Subscription, error)
}

type subscriptionCharger interface {
	Charge(ctx context.Context, sub models.Subscription) (subscriptions.ChargeOutcome, error)
}

// SubscriptionBillingJobParams configure the recurring on-chain charge run.
type SubscriptionBillingJobParams struct {
	Logger        *logger.Logger
	Subscriptions dueSubscriptionLister
	Biller        subscriptionCharger
	Config        config.BillingConfig
}

// NewSubscriptionBillingJob charges every active subscription whose period
// has ended.
func NewSubscriptionBillingJob(params SubscriptionBillingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Biller == nil {
		return nil, fmt.Errorf("biller required")
	}
	concurrency := params.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &subscriptionBillingJob{
		logg:        params.Logger,
		subs:        params.Subscriptions,
		biller:      params.Biller,
		batchLimit:  params.Config.BatchLimit,
		retryAfter:  params.Config.RetryAfter,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

type subscriptionBillingJob struct {
	logg        *logger.Logger
	subs        dueSubscriptionLister
	biller      subscriptionCharger
	batchLimit  int
	retryAfter  time.Duration
	concurrency int
	now         func() time.Time
}

func (j *subscriptionBillingJob) Name() string { return "subscription-billing" }

func (j *subscriptionBillingJob) Run(ctx context.Context) error {
	due, err := j.subs.ListDue(ctx, j.now().UTC(), j.retryAfter, j.batchLimit)
	if err != nil {
		return fmt.Errorf("list due subscriptions: %w", err)
	}

	var (
		mu       sync.Mutex
		outcomes = map[subscriptions.ChargeOutcome]int{}
		errs     error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, sub := range due {
		g.Go(func() error {
			outcome, err := j.biller.Charge(gctx, sub)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
				return nil
			}
			outcomes[outcome]++
			return nil
		})
	}
	_ = g.Wait()

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":      len(due),
		"renewed":  outcomes[subscriptions.ChargeRenewed],
		"declined": outcomes[subscriptions.ChargeFailed],
		"pending":  outcomes[subscriptions.ChargePending],
		"canceled": outcomes[subscriptions.ChargeCanceled],
		"errors":   len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "subscription billing run complete")
	return errs
}
