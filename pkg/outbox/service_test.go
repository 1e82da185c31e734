package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/testdb"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

type orderPaid struct {
	OrderID uuid.UUID `json:"order_id"`
}

func TestEmitWritesEnvelopeInTransaction(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	orderID := uuid.New()
	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{Source: enums.SourceWebhook},
			Data:          orderPaid{OrderID: orderID},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)

	envelope, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, rows[0].ID.String(), envelope.EventID)
	assert.Equal(t, "order_paid", envelope.EventType)
	assert.Equal(t, 1, envelope.Version)
	assert.JSONEq(t, `{"order_id":"`+orderID.String()+`"}`, string(envelope.Data))
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	boom := errors.New("state change failed")
	err = conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"status": "EXPIRED"},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := repo.CountForAggregate(nil, enums.EventPaymentFailed, uuid.Nil)
	require.NoError(t, err)
	assert.Zero(t, count)
	var total int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&total).Error)
	assert.Zero(t, total)
}

func TestEmitValidatesEvent(t *testing.T) {
	conn := testdb.Open(t)
	svc, err := NewService(NewRepository(conn), nil)
	require.NoError(t, err)

	err = svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderPaid})
	require.Error(t, err)

	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
		})
	})
	require.Error(t, err)

	_, err = NewService(nil, nil)
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	dlq := NewDLQRepository(conn)

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
	}
	require.NoError(t, repo.Insert(conn, event))

	require.NoError(t, repo.MarkFailedTx(conn, event.ID, errors.New("publish timeout")))
	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "publish timeout", *stored.LastError)

	require.NoError(t, repo.MarkTerminalTx(conn, event.ID, errors.New("bad payload"), 10))
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, 10, stored.AttemptCount)

	msg := "bad payload"
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
		AttemptCount:  10,
	}))
	found, err := dlq.FindByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, found.ErrorReason)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.MarkPublishedTx(conn, event.ID))
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	assert.NotNil(t, stored.PublishedAt)
	assert.Nil(t, stored.LastError)
}
