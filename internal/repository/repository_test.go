package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/fluxpay/internal/domain"
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

func testOrder(t *testing.T) *domain.Order {
	t.Helper()

	price, err := domain.NewMoney(decimal.NewFromInt(5000), "KRW")
	require.NoError(t, err)

	order, err := domain.NewOrder("tenant-a", "user-1", "KRW", []domain.OrderLineItem{
		{ProductID: "prod-1", ProductName: "Товар", Quantity: 2, UnitPrice: price},
	}, map[string]string{"channel": "web"})
	require.NoError(t, err)

	return order
}

// =============================================================================
// Конвертация моделей
// =============================================================================

func TestOrderModel_RoundTrip(t *testing.T) {
	order := testOrder(t)

	restored, err := OrderModelFromDomain(order).ToDomain()

	require.NoError(t, err)
	assert.Equal(t, order.ID, restored.ID)
	assert.Equal(t, order.TenantID, restored.TenantID)
	assert.Equal(t, order.Status, restored.Status)
	assert.True(t, order.TotalAmount.Equal(restored.TotalAmount))
	assert.Equal(t, order.Metadata, restored.Metadata)
	require.Len(t, restored.Items, 1)
	assert.Equal(t, order.Items[0].ProductID, restored.Items[0].ProductID)
	assert.True(t, order.Items[0].TotalPrice.Equal(restored.Items[0].TotalPrice))
}

func TestOrderModel_ToDomain_CorruptedTotal(t *testing.T) {
	order := testOrder(t)
	model := OrderModelFromDomain(order)
	model.TotalAmount = decimal.NewFromInt(1) // сумма не сходится с позициями

	_, err := model.ToDomain()

	assert.ErrorIs(t, err, domain.ErrCorruptedState)
}

func TestPaymentModel_RoundTrip(t *testing.T) {
	amount, err := domain.NewMoney(decimal.NewFromInt(10000), "KRW")
	require.NoError(t, err)
	payment, err := domain.NewPayment("tenant-a", "order-1", "CARD", amount)
	require.NoError(t, err)

	restored, convErr := PaymentModelFromDomain(payment).ToDomain()

	require.NoError(t, convErr)
	assert.Equal(t, payment.ID, restored.ID)
	assert.Equal(t, payment.Status, restored.Status)
	assert.True(t, payment.Amount.Equal(restored.Amount))
}

func TestPaymentModel_ToDomain_ApprovedWithoutPGKeys(t *testing.T) {
	amount, err := domain.NewMoney(decimal.NewFromInt(10000), "KRW")
	require.NoError(t, err)
	payment, err := domain.NewPayment("tenant-a", "order-1", "CARD", amount)
	require.NoError(t, err)

	model := PaymentModelFromDomain(payment)
	model.Status = string(domain.PaymentStatusApproved) // без реквизитов шлюза

	_, convErr := model.ToDomain()

	assert.ErrorIs(t, convErr, domain.ErrCorruptedState)
}

// =============================================================================
// Оптимистичная блокировка
// =============================================================================

func TestOrderRepository_Update_Success(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewOrderRepository()
	order := testOrder(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), gdb, order)

	require.NoError(t, err)
	assert.Equal(t, int64(2), order.Version, "версия увеличивается после записи")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Update_VersionConflict(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewOrderRepository()
	order := testOrder(t)

	// Версия не совпала, но строка существует
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "orders"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	err := repo.Update(context.Background(), gdb, order)

	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, int64(1), order.Version, "версия не меняется при конфликте")
}

func TestOrderRepository_Update_NotFound(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewOrderRepository()
	order := testOrder(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "orders"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	err := repo.Update(context.Background(), gdb, order)

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestPaymentRepository_Update_VersionConflict(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewPaymentRepository()

	amount, err := domain.NewMoney(decimal.NewFromInt(10000), "KRW")
	require.NoError(t, err)
	payment, err := domain.NewPayment("tenant-a", "order-1", "CARD", amount)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "payments" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "payments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	updateErr := repo.Update(context.Background(), gdb, payment)

	assert.ErrorIs(t, updateErr, domain.ErrVersionConflict)
}

func TestPaymentRepository_Update_DuplicatePGPaymentKey(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewPaymentRepository()

	amount, err := domain.NewMoney(decimal.NewFromInt(10000), "KRW")
	require.NoError(t, err)
	payment, err := domain.NewPayment("tenant-a", "order-1", "CARD", amount)
	require.NoError(t, err)

	// Нарушение uniq_payments_tenant_pg_key: ключ шлюза уже
	// привязан к другому платежу того же арендатора
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "payments" SET`)).
		WillReturnError(gorm.ErrDuplicatedKey)

	updateErr := repo.Update(context.Background(), gdb, payment)

	assert.ErrorIs(t, updateErr, domain.ErrDuplicatePGPaymentKey)
}

// =============================================================================
// Чтение
// =============================================================================

func TestPaymentRepository_FindByID_NotFound(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewPaymentRepository()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "payments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), gdb, "pay_missing")

	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestRefundRepository_Update_NotFound(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewRefundRepository()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "refunds" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	refund := &domain.Refund{ID: "ref_0011223344556677", Status: domain.RefundStatusProcessing, UpdatedAt: time.Now()}
	err := repo.Update(context.Background(), gdb, refund)

	assert.ErrorIs(t, err, domain.ErrRefundNotFound)
}
