package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/db/dbtest"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
)

func checkoutCompleted(orgID uuid.UUID) DomainEvent {
	return DomainEvent{
		EventType:      enums.EventCheckoutCompleted,
		AggregateType:  enums.AggregateCheckout,
		AggregateID:    uuid.New(),
		OrganizationID: orgID,
		Environment:    enums.NetworkTestnet,
		Actor:          &ActorRef{Source: "sweeper"},
		Data:           map[string]string{"status": "completed"},
	}
}

func TestEmitStoresEnvelopeInCallerTransaction(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)
	orgID := uuid.New()
	event := checkoutCompleted(orgID)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, event)
	}))

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, event.AggregateID, rows[0].AggregateID)
	require.Equal(t, enums.AggregateCheckout, rows[0].AggregateType)

	envelope, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	require.Equal(t, rows[0].ID.String(), envelope.EventID)
	require.Equal(t, 1, envelope.Version)
	require.Equal(t, orgID, envelope.OrganizationID)
	require.Equal(t, enums.NetworkTestnet, envelope.Environment)
	require.Equal(t, "sweeper", envelope.Actor.Source)
	require.False(t, envelope.OccurredAt.IsZero())
	require.JSONEq(t, `{"status":"completed"}`, string(envelope.Data))
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)
	boom := errors.New("transition failed")

	err := db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.EmitAll(context.Background(), tx, checkoutCompleted(uuid.New()), checkoutCompleted(uuid.New())))
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEmitValidatesEvent(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	require.Error(t, svc.Emit(context.Background(), nil, checkoutCompleted(uuid.New())))

	unknown := checkoutCompleted(uuid.New())
	unknown.EventType = "order.created"
	require.Error(t, svc.Emit(context.Background(), db, unknown))

	require.Error(t, svc.Emit(context.Background(), db, checkoutCompleted(uuid.Nil)))
}

func TestRepositoryFailureAndRetention(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	old := time.Now().UTC().Add(-48 * time.Hour)
	published := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentConfirmed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		CreatedAt:     old,
		PublishedAt:   &old,
	}
	pending := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentConfirmed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
	}
	require.NoError(t, repo.Insert(db, published))
	require.NoError(t, repo.Insert(db, pending))

	require.NoError(t, repo.MarkFailedTx(db, pending.ID, errors.New("pubsub unavailable")))
	var stored models.OutboxEvent
	require.NoError(t, db.First(&stored, "id = ?", pending.ID).Error)
	require.Equal(t, 1, stored.AttemptCount)
	require.Equal(t, "pubsub unavailable", *stored.LastError)

	deleted, err := repo.DeletePublishedBefore(db, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, pending.ID, remaining[0].ID)
}
