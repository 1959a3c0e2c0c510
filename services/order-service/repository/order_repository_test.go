package repositories_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/order-service/models"
	repositories "github.com/yashrajoria/marketplace/services/order-service/repository"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func fact(t *testing.T, rk, cid string) messaging.Envelope {
	t.Helper()
	env, err := messaging.NewEnvelope(rk, cid, "order-service", map[string]string{"orderId": "x"})
	require.NoError(t, err)
	return env
}

func TestUpdateStatus_AppliesAndRecordsFact(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`) + `.*WHERE id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "outbox_messages"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	fields := models.StampTransition(models.StatusShipped, time.Now())
	applied, err := repo.UpdateStatus(context.Background(), id, models.StatusProcessing, fields,
		fact(t, messaging.OrderStatusChanged, "order.status.changed:"+id.String()+":Shipped"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_LostRaceWritesNoFact(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	applied, err := repo.UpdateStatus(context.Background(), uuid.New(), models.StatusProcessing,
		models.StampTransition(models.StatusCancelled, time.Now()),
		fact(t, messaging.OrderCancelled, "order.cancelled:1"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlagManualRefund_OnlyOnce(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "orders" SET .*WHERE id = \$\d+ AND manual_refund_required = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	applied, err := repo.FlagManualRefund(context.Background(), uuid.New(), uuid.New(),
		fact(t, messaging.OrderManualRefundRequired, "order.manual_refund.required:1"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindStale(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)
	cutoff := time.Now().Add(-15 * time.Minute)
	id := uuid.NewString()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`)).
		WithArgs(models.StatusPendingPayment, cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "total_amount"}).AddRow(id, "PendingPayment", 5136))

	orders, err := repo.FindStale(context.Background(), models.StatusPendingPayment, cutoff, 100)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, id, orders[0].ID.String())
	assert.Equal(t, models.StatusPendingPayment, orders[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
