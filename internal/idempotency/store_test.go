package idempotency

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return gdb, mock
}

func storeColumns() []string {
	return []string{
		"id", "tenant_id", "endpoint", "idem_key", "payload_hash",
		"response_body", "http_status", "state", "created_at", "expires_at",
	}
}

func TestGormStore_TryInsert_New(t *testing.T) {
	gdb, mock := newMockDB(t)
	store := NewStore(gdb, time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "idempotency_keys"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	rec, inserted, err := store.TryInsert(context.Background(), testKey(), "hash-1")

	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, StateProcessing, rec.State)
	assert.Equal(t, "hash-1", rec.PayloadHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_TryInsert_ConflictActive(t *testing.T) {
	gdb, mock := newMockDB(t)
	store := NewStore(gdb, time.Hour)

	// ON CONFLICT DO NOTHING: ни одной вставленной строки
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "idempotency_keys"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "idempotency_keys"`)).
		WillReturnRows(sqlmock.NewRows(storeColumns()).AddRow(
			int64(7), "tenant-a", "POST:/api/v1/payments", "b2c7e6d0-1111-4222-8333-444455556666",
			"hash-other", []byte(`{"isSuccess":true}`), 201, StateCompleted,
			time.Now(), time.Now().Add(time.Hour),
		))

	rec, inserted, err := store.TryInsert(context.Background(), testKey(), "hash-1")

	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, "hash-other", rec.PayloadHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_TryInsert_ConflictExpired(t *testing.T) {
	gdb, mock := newMockDB(t)
	store := NewStore(gdb, time.Hour)

	// Первая вставка: конфликт
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "idempotency_keys"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	// Существующая запись просрочена
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "idempotency_keys"`)).
		WillReturnRows(sqlmock.NewRows(storeColumns()).AddRow(
			int64(7), "tenant-a", "POST:/api/v1/payments", "b2c7e6d0-1111-4222-8333-444455556666",
			"hash-old", nil, 0, StateProcessing,
			time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour),
		))

	// Удаление просроченной и повторная вставка
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "idempotency_keys"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "idempotency_keys"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))

	rec, inserted, err := store.TryInsert(context.Background(), testKey(), "hash-1")

	require.NoError(t, err)
	assert.True(t, inserted, "просроченная запись не должна блокировать новый захват")
	assert.Equal(t, StateProcessing, rec.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_Complete(t *testing.T) {
	gdb, mock := newMockDB(t)
	store := NewStore(gdb, time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "idempotency_keys" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Complete(context.Background(), testKey(), []byte(`{"isSuccess":true}`), 201)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_Release(t *testing.T) {
	gdb, mock := newMockDB(t)
	store := NewStore(gdb, time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "idempotency_keys"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Release(context.Background(), testKey())

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_PurgeExpired(t *testing.T) {
	gdb, mock := newMockDB(t)
	store := NewStore(gdb, time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "idempotency_keys"`)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := store.PurgeExpired(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}
