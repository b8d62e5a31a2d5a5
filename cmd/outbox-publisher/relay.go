package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
	"github.com/lumenpay/settlement-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// delivery is what one pass did with a single outbox row.
type delivery int

const (
	deliveryPublished delivery = iota
	deliveryRetry
	deliveryDeadLettered
	deliveryHeld
)

type passSummary struct {
	published    int
	retried      int
	deadLettered int
	held         int
}

func (p *passSummary) count(d delivery) {
	switch d {
	case deliveryPublished:
		p.published++
	case deliveryRetry:
		p.retried++
	case deliveryDeadLettered:
		p.deadLettered++
	case deliveryHeld:
		p.held++
	}
}

// progressed reports whether any row left the queue for good.
func (p passSummary) progressed() bool {
	return p.published+p.deadLettered > 0
}

func (p passSummary) fields() map[string]any {
	return map[string]any{
		"published":     p.published,
		"retried":       p.retried,
		"dead_lettered": p.deadLettered,
		"held":          p.held,
	}
}

type aggregateRef struct {
	kind enums.OutboxAggregateType
	id   uuid.UUID
}

type RelayParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         eventResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
}

// Relay moves settlement events from the outbox table onto the settlement
// topic. Events of one checkout, payment, subscription or credit balance go out
// in the order they were written: once a row fails to publish, later rows of
// the same aggregate wait for the next pass.
type Relay struct {
	logg             *logger.Logger
	db               dbClient
	pubsub           pubSubClient
	repo             outboxRepository
	resolver         eventResolver
	dlq              dlqRepository
	publisherFactory publisherFactory
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPubPublisher(params.PubSub.Publisher(topic))
		}
	}

	cfg := params.Config.Outbox
	return &Relay{
		logg:             params.Logger,
		db:               params.DB,
		pubsub:           params.PubSub,
		repo:             params.Repository,
		resolver:         params.Registry,
		dlq:              params.DLQRepository,
		publisherFactory: factory,
		batchSize:        positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:      positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval:     time.Duration(positiveOr(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

// Run drains the outbox until ctx is canceled. A pass that moved rows is
// followed immediately by another; an idle or failing pass sleeps first.
func (r *Relay) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.ping(ctx); err != nil {
		return err
	}

	backoff := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		progressed, err := r.drain(ctx)
		wait := r.pollInterval
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay pass failed", err)
			backoff = nextBackoff(backoff, r.pollInterval, maxBackoff)
			wait = backoff
		case progressed:
			backoff = r.pollInterval
			continue
		default:
			backoff = r.pollInterval
		}

		if err := r.sleep(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

func (r *Relay) ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		r.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.pubsub.Ping(ctx); err != nil {
		r.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}
	return nil
}

// drain runs one locked pass over the oldest unpublished rows.
func (r *Relay) drain(ctx context.Context) (bool, error) {
	var summary passSummary
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}

		stalled := make(map[aggregateRef]struct{})
		for _, event := range events {
			ref := aggregateRef{kind: event.AggregateType, id: event.AggregateID}
			if _, ok := stalled[ref]; ok {
				summary.count(deliveryHeld)
				continue
			}
			outcome, err := r.deliver(ctx, tx, event)
			if err != nil {
				return err
			}
			if outcome == deliveryRetry {
				stalled[ref] = struct{}{}
			}
			summary.count(outcome)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if summary != (passSummary{}) {
		r.logg.Info(r.logg.WithFields(ctx, summary.fields()), "outbox relay pass finished")
	}
	return summary.progressed(), nil
}

func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (delivery, error) {
	ctx = r.eventContext(ctx, event)

	resolved, err := r.resolver.Resolve(event)
	if err != nil {
		return deliveryDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonUndecodable, err)
	}
	envelope := resolved.Envelope
	topic := resolved.Descriptor.Topic
	ctx = r.logg.WithOrganization(ctx, envelope.OrganizationID.String(), string(envelope.Environment))
	ctx = r.logg.WithField(ctx, "topic", topic)

	pub := r.publisherFactory(topic)
	if pub == nil {
		return deliveryDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonUnroutable, fmt.Errorf("no publisher for topic %s", topic))
	}

	err = publish(ctx, pub, settlementMessage(event, envelope))
	if err == nil {
		if err := r.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return deliveryPublished, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(ctx, "settlement event published")
		return deliveryPublished, nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return deliveryDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}

	attempt := event.AttemptCount + 1
	if attempt >= r.maxAttempts {
		return deliveryDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("gave up after %d attempts: %w", attempt, err))
	}

	ctx = r.logg.WithFields(ctx, map[string]any{"attempt_count": attempt, "error": err.Error()})
	r.logg.Warn(ctx, "settlement event publish failed, will retry")
	if err := r.repo.MarkFailedTx(tx, event.ID, err); err != nil {
		return deliveryRetry, fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return deliveryRetry, nil
}

// eventContext tags log lines with the id field used elsewhere for the aggregate.
func (r *Relay) eventContext(ctx context.Context, event models.OutboxEvent) context.Context {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    string(event.EventType),
		"attempt_count": event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	ctx = r.logg.WithFields(ctx, fields)

	id := event.AggregateID.String()
	switch event.AggregateType {
	case enums.AggregateCheckout:
		return r.logg.WithCheckoutID(ctx, id)
	case enums.AggregateSubscription:
		return r.logg.WithSubscriptionID(ctx, id)
	case enums.AggregatePayment:
		return r.logg.WithField(ctx, "payment_id", id)
	case enums.AggregateCreditBalance:
		return r.logg.WithField(ctx, "credit_balance_id", id)
	}
	return r.logg.WithFields(ctx, map[string]any{
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   id,
	})
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	ctx = r.logg.WithFields(ctx, map[string]any{"dlq_reason": string(reason), "error": cause.Error()})
	r.logg.Warn(ctx, "settlement event dead-lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.repo.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

// settlementMessage carries routing and tenant scope as attributes so
// subscribers can filter without decoding the envelope.
func settlementMessage(event models.OutboxEvent, envelope outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if envelope.OrganizationID != uuid.Nil {
		attrs["organization_id"] = envelope.OrganizationID.String()
	}
	if envelope.Environment != "" {
		attrs["environment"] = string(envelope.Environment)
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

func publish(ctx context.Context, pub publisher, msg *gcppubsub.Message) error {
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(errors.New("publisher returned no result"))
	}
	_, err := result.Get(publishCtx)
	return err
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < limit {
		return next
	}
	return limit
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

func newGCPPubPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
