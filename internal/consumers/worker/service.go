package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
)

// ErrSkip tells the runtime the event is not meant for this consumer.
var ErrSkip = errors.New("event not handled by consumer")

// Event is a settlement event decoded from a Pub/Sub message.
type Event struct {
	EventID        uuid.UUID
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	AggregateID    string
	OrganizationID uuid.UUID
	Environment    enums.Network
	OccurredAt     time.Time
	Actor          *outbox.ActorRef
	Data           json.RawMessage
}

// Handler processes one decoded event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Params configures one consumer. AckOnError acknowledges messages even when
// the handler fails, which makes delivery at most once.
type Params struct {
	Name         string
	Subscription receiver
	Handler      Handler
	Idempotency  idempotencyChecker
	Logger       *logger.Logger
	AckOnError   bool
}

// Service consumes settlement events from Pub/Sub while honoring Redis idempotency.
type Service struct {
	name         string
	subscription receiver
	handler      Handler
	manager      idempotencyChecker
	logg         *logger.Logger
	ackOnError   bool
}

func NewService(params Params) (*Service, error) {
	if strings.TrimSpace(params.Name) == "" {
		return nil, errors.New("consumer name is required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("%s subscription is required", params.Name)
	}
	if params.Handler == nil {
		return nil, fmt.Errorf("%s handler is required", params.Name)
	}
	if params.Idempotency == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		name:         strings.TrimSpace(params.Name),
		subscription: params.Subscription,
		handler:      params.Handler,
		manager:      params.Idempotency,
		logg:         params.Logger,
		ackOnError:   params.AckOnError,
	}, nil
}

// Name identifies the consumer in logs and idempotency keys.
func (s *Service) Name() string {
	return s.name
}

type processResult struct {
	nack bool
}

// Run consumes messages until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{
		"consumer":   s.name,
		"message_id": msg.ID,
	}
	logCtx := s.logg.WithFields(ctx, fields)

	event, err := decodeMessage(msg)
	if err != nil {
		fields["error"] = err.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "invalid settlement envelope")
		return processResult{}
	}
	fields["event_id"] = event.EventID.String()
	fields["event_type"] = event.EventType
	fields["aggregate_type"] = event.AggregateType
	fields["aggregate_id"] = event.AggregateID
	logCtx = s.logg.WithFields(ctx, fields)
	logCtx = s.logg.WithOrganization(logCtx, event.OrganizationID.String(), string(event.Environment))

	already, err := s.manager.CheckAndMarkProcessed(logCtx, s.name, event.EventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		s.logg.Info(logCtx, "event already processed")
		return processResult{}
	}

	if err := s.handler.Handle(logCtx, *event); err != nil {
		if errors.Is(err, ErrSkip) {
			s.logg.Debug(logCtx, "event skipped")
			return processResult{}
		}
		s.logg.Error(logCtx, "handler error", err)
		if s.ackOnError {
			return processResult{}
		}
		_ = s.manager.Delete(logCtx, s.name, event.EventID)
		return processResult{nack: true}
	}

	s.logg.Info(logCtx, "settlement event handled")
	return processResult{}
}

func decodeMessage(msg *gcppubsub.Message) (*Event, error) {
	stored, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventTypeStr := strings.TrimSpace(msg.Attributes["event_type"])
	if eventTypeStr == "" {
		eventTypeStr = string(stored.EventType)
	}
	eventType, err := enums.ParseOutboxEventType(eventTypeStr)
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}

	aggregateType, err := enums.ParseOutboxAggregateType(strings.TrimSpace(msg.Attributes["aggregate_type"]))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}

	aggregateID := strings.TrimSpace(msg.Attributes["aggregate_id"])
	if aggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created := strings.TrimSpace(msg.Attributes["created_at"]); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}

	rawID := strings.TrimSpace(stored.EventID)
	if rawID == "" {
		rawID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	if rawID == "" {
		return nil, errors.New("event_id missing")
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("event_id: %w", err)
	}

	return &Event{
		EventID:        eventID,
		EventType:      eventType,
		AggregateType:  aggregateType,
		AggregateID:    aggregateID,
		OrganizationID: stored.OrganizationID,
		Environment:    stored.Environment,
		OccurredAt:     occurredAt.UTC(),
		Actor:          stored.Actor,
		Data:           stored.Data,
	}, nil
}
