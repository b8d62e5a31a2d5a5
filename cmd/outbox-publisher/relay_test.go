package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
	"github.com/lumenpay/settlement-backend/pkg/outbox/payloads"
	"github.com/lumenpay/settlement-backend/pkg/outbox/registry"
)

func TestRelayDrainContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			checkoutEvent(t, uuid.New(), enums.EventCheckoutCompleted),
			checkoutEvent(t, uuid.New(), enums.EventCheckoutCompleted),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	relay := newTestRelay(t, repo, pub, checkoutResolver(), &fakeDLQRepo{}, nil)

	progressed, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if !progressed {
		t.Fatalf("expected drain to report progress")
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("unexpected failed rows %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("unexpected published rows %v", repo.published)
	}
}

func TestRelayHoldsLaterEventsOfStalledAggregate(t *testing.T) {
	stalled := uuid.New()
	other := uuid.New()
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			checkoutEvent(t, stalled, enums.EventCheckoutCompleted),
			checkoutEvent(t, stalled, enums.EventCheckoutExpired),
			checkoutEvent(t, other, enums.EventCheckoutCompleted),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("deadline exceeded")},
			fakePublishResult{},
		},
	}
	relay := newTestRelay(t, repo, pub, checkoutResolver(), &fakeDLQRepo{}, nil)

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if len(pub.sent) != 2 {
		t.Fatalf("expected two publish calls, got %d", len(pub.sent))
	}
	if got := pub.sent[1].Attributes["aggregate_id"]; got != other.String() {
		t.Fatalf("second publish went to %s, want the unrelated checkout", got)
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("unexpected failed rows %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[2].ID {
		t.Fatalf("unexpected published rows %v", repo.published)
	}
}

func TestRelayDrainWithOnlyRetriesReportsNoProgress(t *testing.T) {
	checkoutID := uuid.New()
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			checkoutEvent(t, checkoutID, enums.EventCheckoutCompleted),
			checkoutEvent(t, checkoutID, enums.EventCheckoutExpired),
		},
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("unavailable")}}}
	relay := newTestRelay(t, repo, pub, checkoutResolver(), &fakeDLQRepo{}, nil)

	progressed, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if progressed {
		t.Fatalf("a pass that only retried should not report progress")
	}
}

func TestSettlementMessageCarriesScopeAttributes(t *testing.T) {
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	orgID := uuid.New()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentConfirmed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "confirmed"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "settlement-topic",
			AggregateType: enums.AggregatePayment,
		},
		Envelope: outbox.PayloadEnvelope{
			OrganizationID: orgID,
			Environment:    enums.NetworkMainnet,
		},
		Payload: &payloads.PaymentRecordedEvent{},
	}
	relay := newTestRelay(t, repo, pub, &fakeResolver{resolved: resolved}, &fakeDLQRepo{}, nil)

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if len(repo.published) != 1 || len(pub.sent) != 1 {
		t.Fatalf("expected one published message, got %d", len(pub.sent))
	}
	attrs := pub.sent[0].Attributes
	if attrs["event_type"] != string(enums.EventPaymentConfirmed) || attrs["aggregate_type"] != string(enums.AggregatePayment) {
		t.Fatalf("unexpected routing attributes %v", attrs)
	}
	if attrs["organization_id"] != orgID.String() || attrs["environment"] != "mainnet" {
		t.Fatalf("unexpected scope attributes %v", attrs)
	}
	if attrs["event_id"] != event.ID.String() {
		t.Fatalf("unexpected event id %s", attrs["event_id"])
	}
}

func TestRelayDeadLettersUndecodableEvent(t *testing.T) {
	event := checkoutEvent(t, uuid.New(), enums.EventCheckoutCompleted)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolver := &fakeResolver{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	relay := newTestRelay(t, repo, &fakePublisher{}, resolver, dlqRepo, nil)

	progressed, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if !progressed {
		t.Fatalf("expected drain to report progress")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonUndecodable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row to be marked terminal")
	}
}

func TestRelayDeadLettersUnroutableEvent(t *testing.T) {
	event := checkoutEvent(t, uuid.New(), enums.EventCheckoutCompleted)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	relay := newTestRelay(t, repo, nil, checkoutResolver(), dlqRepo, nil)

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if len(dlqRepo.entries) != 1 || dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonUnroutable {
		t.Fatalf("expected unroutable dlq entry, got %v", dlqRepo.entries)
	}
	if len(repo.published) != 0 || len(repo.failed) != 0 {
		t.Fatalf("unroutable row must not be published or retried")
	}
}

func TestRelayDeadLettersNonRetryablePublishError(t *testing.T) {
	event := checkoutEvent(t, uuid.New(), enums.EventCheckoutCompleted)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: registry.NewNonRetryableError(errors.New("message too large"))},
		},
	}
	dlqRepo := &fakeDLQRepo{}
	relay := newTestRelay(t, repo, pub, checkoutResolver(), dlqRepo, nil)

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if len(dlqRepo.entries) != 1 || dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non_retryable dlq entry, got %v", dlqRepo.entries)
	}
}

func TestRelayDeadLettersOnMaxAttempts(t *testing.T) {
	event := checkoutEvent(t, uuid.New(), enums.EventCheckoutCompleted)
	event.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	dlqRepo := &fakeDLQRepo{}
	relay := newTestRelay(t, repo, pub, checkoutResolver(), dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	progressed, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if !progressed {
		t.Fatalf("expected drain to report progress")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("a dead-lettered row must not also be marked for retry")
	}
}

func TestNewRelayAppliesOutboxDefaults(t *testing.T) {
	relay := newTestRelay(t, &fakeRepo{}, &fakePublisher{}, checkoutResolver(), &fakeDLQRepo{}, &config.OutboxConfig{})
	if relay.batchSize != defaultBatchSize || relay.maxAttempts != defaultMaxAttempts {
		t.Fatalf("unexpected defaults batch=%d attempts=%d", relay.batchSize, relay.maxAttempts)
	}
	if relay.pollInterval != defaultPollMs*time.Millisecond {
		t.Fatalf("unexpected poll interval %s", relay.pollInterval)
	}
}

func TestNextBackoffCapsAtLimit(t *testing.T) {
	if got := nextBackoff(0, time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("unexpected first backoff %s", got)
	}
	if got := nextBackoff(8*time.Second, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("backoff not capped: %s", got)
	}
}

func newTestRelay(t *testing.T, repo outboxRepository, pub publisher, resolver eventResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Relay {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	relay, err := NewRelay(RelayParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		PublisherFactory: func(_ string) publisher { return pub },
		DLQRepository:    dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct relay: %v", err)
	}
	return relay
}

func checkoutEvent(tb testing.TB, checkoutID uuid.UUID, eventType enums.OutboxEventType) models.OutboxEvent {
	tb.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateCheckout,
		AggregateID:   checkoutID,
		Payload:       mustEnvelopePayload(tb, string(eventType)),
	}
}

func checkoutResolver() *fakeResolver {
	return &fakeResolver{resolved: &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "settlement-topic",
			AggregateType: enums.AggregateCheckout,
		},
		Envelope: outbox.PayloadEnvelope{
			OrganizationID: uuid.New(),
			Environment:    enums.NetworkTestnet,
		},
		Payload: &payloads.CheckoutSettledEvent{},
	}}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeResolver struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeResolver) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
