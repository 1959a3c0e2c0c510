package outbox_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/pkg/outbox"
)

type recordingPublisher struct {
	err  error
	sent []messaging.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, env messaging.Envelope) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, env)
	return nil
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

var columns = []string{"id", "routing_key", "correlation_id", "source_service", "payload", "occurred_at", "status", "attempts", "last_error", "created_at", "published_at"}

func TestAdd_IgnoresDuplicateCorrelationID(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	env, err := messaging.NewEnvelope(messaging.OrderCreated, "order.created:1", "order-service", map[string]string{"orderId": "1"})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "outbox_messages"`) + `.*ON CONFLICT \("correlation_id"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = gormDB.Transaction(func(tx *gorm.DB) error { return outbox.Add(tx, env) })
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdd_RejectsInvalidEnvelope(t *testing.T) {
	gormDB, _ := setupMockDB(t)
	err := outbox.Add(gormDB, messaging.Envelope{RoutingKey: messaging.OrderCreated})
	assert.ErrorIs(t, err, messaging.ErrMissingCorrelationID)
}

func TestFlush_PublishesAndMarksRows(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	pub := &recordingPublisher{}
	relay := outbox.NewRelay(gormDB, pub, zap.NewNop())

	now := time.Now()
	rows := sqlmock.NewRows(columns).
		AddRow(uuid.NewString(), messaging.OrderCreated, "order.created:1", "order-service", []byte(`{"orderId":"1"}`), now, outbox.StatusPending, 0, "", now, nil).
		AddRow(uuid.NewString(), messaging.OrderCancelled, "order.cancelled:2", "order-service", []byte(`{"orderId":"2"}`), now, outbox.StatusPending, 0, "", now, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "outbox_messages" WHERE status = .+ FOR UPDATE SKIP LOCKED`).WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "outbox_messages" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "outbox_messages" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.sent, 2)
	assert.Equal(t, "order.created:1", pub.sent[0].CorrelationID)
	assert.JSONEq(t, `{"orderId":"2"}`, string(pub.sent[1].Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlush_FailureKeepsRowPending(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	relay := outbox.NewRelay(gormDB, pub, zap.NewNop(), outbox.WithMaxAttempts(3))

	now := time.Now()
	rows := sqlmock.NewRows(columns).
		AddRow(uuid.NewString(), messaging.OrderCreated, "order.created:1", "order-service", []byte(`{}`), now, outbox.StatusPending, 0, "", now, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "outbox_messages"`).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE "outbox_messages" SET "attempts"=\$1,"last_error"=\$2 WHERE id = \$3`).
		WithArgs(1, "broker down", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlush_MarksFailedAfterMaxAttempts(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	relay := outbox.NewRelay(gormDB, pub, zap.NewNop(), outbox.WithMaxAttempts(3))

	now := time.Now()
	rows := sqlmock.NewRows(columns).
		AddRow(uuid.NewString(), messaging.OrderCreated, "order.created:1", "order-service", []byte(`{}`), now, outbox.StatusPending, 2, "broker down", now, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "outbox_messages"`).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE "outbox_messages" SET "attempts"=\$1,"last_error"=\$2,"status"=\$3 WHERE id = \$4`).
		WithArgs(3, "broker down", outbox.StatusFailed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetry_ResetsFailedRows(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	relay := outbox.NewRelay(gormDB, &recordingPublisher{}, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "outbox_messages" SET`)).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	n, err := relay.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
