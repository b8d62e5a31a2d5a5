package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/pkg/enums"
)

// ActorRef identifies which part of the system produced the event.
type ActorRef struct {
	Source    string     `json:"source"`
	ServiceID string     `json:"serviceId,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
	ActorID   *uuid.UUID `json:"actorId,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// published verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version        int                   `json:"version"`
	EventID        string                `json:"eventId"`
	EventType      enums.OutboxEventType `json:"eventType"`
	OrganizationID uuid.UUID             `json:"organizationId"`
	Environment    enums.Network         `json:"environment"`
	OccurredAt     time.Time             `json:"occurredAt"`
	Actor          *ActorRef             `json:"actor,omitempty"`
	Data           json.RawMessage       `json:"data"`
}

// DecodeEnvelope parses a published message body.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, err
	}
	return envelope, nil
}
