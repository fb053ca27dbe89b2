package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/event"
	"example.com/fluxpay/internal/pg"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/pkg/config"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/tenant"
)

// =============================================================================
// Тестовые дублёры
// =============================================================================

// stubTxManager выполняет fn без реальной транзакции.
type stubTxManager struct{}

func (stubTxManager) Do(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (stubTxManager) DoAs(_ context.Context, _ string, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// recordingOutbox собирает опубликованные события.
type recordingOutbox struct {
	events []event.DomainEvent
}

func (o *recordingOutbox) Publish(_ context.Context, _ *gorm.DB, evt event.DomainEvent) error {
	o.events = append(o.events, evt)
	return nil
}

func (o *recordingOutbox) types() []string {
	types := make([]string, len(o.events))
	for i, evt := range o.events {
		types[i] = evt.EventType()
	}
	return types
}

// fakeOrderRepo хранит заказы в памяти, копируя агрегаты как БД.
type fakeOrderRepo struct {
	orders map[string]*domain.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]*domain.Order)}
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderLineItem(nil), o.Items...)
	return &c
}

func (r *fakeOrderRepo) Create(_ context.Context, _ *gorm.DB, order *domain.Order) error {
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *fakeOrderRepo) FindByID(_ context.Context, _ *gorm.DB, id string) (*domain.Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *fakeOrderRepo) Update(_ context.Context, _ *gorm.DB, order *domain.Order) error {
	stored, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return domain.ErrVersionConflict
	}
	order.Version++
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *fakeOrderRepo) List(_ context.Context, _ *gorm.DB, _, _ int) ([]*domain.Order, error) {
	orders := make([]*domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		orders = append(orders, cloneOrder(order))
	}
	return orders, nil
}

// fakePaymentRepo хранит платежи в памяти.
type fakePaymentRepo struct {
	payments map[string]*domain.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[string]*domain.Payment)}
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	return &c
}

func (r *fakePaymentRepo) Create(_ context.Context, _ *gorm.DB, payment *domain.Payment) error {
	r.payments[payment.ID] = clonePayment(payment)
	return nil
}

func (r *fakePaymentRepo) FindByID(_ context.Context, _ *gorm.DB, id string) (*domain.Payment, error) {
	payment, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return clonePayment(payment), nil
}

func (r *fakePaymentRepo) FindByOrderID(_ context.Context, _ *gorm.DB, orderID string) (*domain.Payment, error) {
	for _, payment := range r.payments {
		if payment.OrderID == orderID {
			return clonePayment(payment), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *fakePaymentRepo) Update(_ context.Context, _ *gorm.DB, payment *domain.Payment) error {
	stored, ok := r.payments[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if stored.Version != payment.Version {
		return domain.ErrVersionConflict
	}
	payment.Version++
	r.payments[payment.ID] = clonePayment(payment)
	return nil
}

// fakeRefundRepo хранит возвраты в памяти.
type fakeRefundRepo struct {
	refunds map[string]*domain.Refund
}

func newFakeRefundRepo() *fakeRefundRepo {
	return &fakeRefundRepo{refunds: make(map[string]*domain.Refund)}
}

func (r *fakeRefundRepo) Create(_ context.Context, _ *gorm.DB, refund *domain.Refund) error {
	c := *refund
	r.refunds[refund.ID] = &c
	return nil
}

func (r *fakeRefundRepo) FindByID(_ context.Context, _ *gorm.DB, id string) (*domain.Refund, error) {
	refund, ok := r.refunds[id]
	if !ok {
		return nil, domain.ErrRefundNotFound
	}
	c := *refund
	return &c, nil
}

func (r *fakeRefundRepo) Update(_ context.Context, _ *gorm.DB, refund *domain.Refund) error {
	if _, ok := r.refunds[refund.ID]; !ok {
		return domain.ErrRefundNotFound
	}
	c := *refund
	r.refunds[refund.ID] = &c
	return nil
}

// fakeGateway возвращает заранее заданные ответы шлюза.
type fakeGateway struct {
	approveResult *pg.Result
	confirmResult *pg.Result
	cancelResult  *pg.Result

	approveCalls int
	confirmCalls int
	cancelCalls  int
}

func approvedGateway() *fakeGateway {
	return &fakeGateway{
		approveResult: &pg.Result{Success: true, TransactionID: "txn_1", PaymentKey: "pk_1"},
		confirmResult: &pg.Result{Success: true, TransactionID: "txn_1"},
		cancelResult:  &pg.Result{Success: true, TransactionID: "txn_refund_1"},
	}
}

func (g *fakeGateway) RequestApproval(_ context.Context, _ pg.ApprovalRequest) (*pg.Result, error) {
	g.approveCalls++
	return g.approveResult, nil
}

func (g *fakeGateway) ConfirmPayment(_ context.Context, _ pg.ConfirmRequest) (*pg.Result, error) {
	g.confirmCalls++
	return g.confirmResult, nil
}

func (g *fakeGateway) CancelPayment(_ context.Context, _ pg.CancelRequest) (*pg.Result, error) {
	g.cancelCalls++
	return g.cancelResult, nil
}

// memSagaRepo — персистентность саг в памяти.
type memSagaRepo struct {
	instances    map[string]*saga.Instance
	steps        map[string][]*saga.StepRecord
	correlations map[string]struct{}
}

func newMemSagaRepo() *memSagaRepo {
	return &memSagaRepo{
		instances:    make(map[string]*saga.Instance),
		steps:        make(map[string][]*saga.StepRecord),
		correlations: make(map[string]struct{}),
	}
}

func (r *memSagaRepo) CreateInstance(_ context.Context, instance *saga.Instance, stepNames []string) error {
	key := instance.TenantID + "|" + instance.CorrelationID
	if _, ok := r.correlations[key]; ok {
		return saga.ErrDuplicateCorrelation
	}
	r.correlations[key] = struct{}{}

	c := *instance
	r.instances[instance.ID] = &c
	for i, name := range stepNames {
		r.steps[instance.ID] = append(r.steps[instance.ID], &saga.StepRecord{
			SagaID:    instance.ID,
			Name:      name,
			StepOrder: i,
			Status:    saga.StepPending,
		})
	}
	return nil
}

func (r *memSagaRepo) SaveInstance(_ context.Context, instance *saga.Instance) error {
	if _, ok := r.instances[instance.ID]; !ok {
		return saga.ErrInstanceNotFound
	}
	c := *instance
	r.instances[instance.ID] = &c
	return nil
}

func (r *memSagaRepo) UpdateStep(_ context.Context, sagaID, name string, status saga.StepStatus, stepErr string) error {
	for _, rec := range r.steps[sagaID] {
		if rec.Name == name {
			rec.Status = status
			rec.Error = stepErr
			return nil
		}
	}
	return saga.ErrInstanceNotFound
}

func (r *memSagaRepo) LoadSteps(_ context.Context, sagaID string) ([]*saga.StepRecord, error) {
	return r.steps[sagaID], nil
}

func (r *memSagaRepo) FindNonTerminal(_ context.Context) ([]*saga.Instance, error) {
	var out []*saga.Instance
	for _, instance := range r.instances {
		if !instance.Status.IsTerminal() {
			c := *instance
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memSagaRepo) DeleteTerminalBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// =============================================================================
// Сборка тестового окружения
// =============================================================================

type fixture struct {
	ctx      context.Context
	orders   *fakeOrderRepo
	payments *fakePaymentRepo
	refunds  *fakeRefundRepo
	outbox   *recordingOutbox
	gateway  *fakeGateway
	sagaRepo *memSagaRepo

	orderSvc   *OrderService
	paymentSvc *PaymentService
	refundSvc  *RefundService
}

func newFixture(t *testing.T, gateway *fakeGateway) *fixture {
	t.Helper()

	f := &fixture{
		ctx:      tenant.WithID(context.Background(), "tenant-a"),
		orders:   newFakeOrderRepo(),
		payments: newFakePaymentRepo(),
		refunds:  newFakeRefundRepo(),
		outbox:   &recordingOutbox{},
		gateway:  gateway,
		sagaRepo: newMemSagaRepo(),
	}

	orch := saga.NewOrchestrator(f.sagaRepo, config.SagaConfig{
		Enabled:                true,
		Timeout:                5 * time.Second,
		StepTimeout:            2 * time.Second,
		CompensationMaxRetries: 2,
		CompensationRetryDelay: time.Millisecond,
		CleanupRetentionDays:   30,
	})

	txm := stubTxManager{}
	f.orderSvc = NewOrderService(txm, f.orders, f.outbox)
	f.paymentSvc = NewPaymentService(txm, f.orders, f.payments, f.gateway, f.outbox, orch)
	f.refundSvc = NewRefundService(txm, f.payments, f.refunds, f.gateway, f.outbox)

	def, err := NewPaymentSagaDefinition(f.orderSvc, f.paymentSvc)
	require.NoError(t, err)
	orch.Register(def)

	return f
}

func testPaymentInput() PaymentInput {
	return PaymentInput{
		UserID:   "user-1",
		Currency: "KRW",
		Method:   "CARD",
		Items: []OrderItemInput{
			{ProductID: "prod-1", ProductName: "Товар", Quantity: 2, UnitPrice: decimal.NewFromInt(5000)},
		},
	}
}

// seedConfirmedPayment создаёт подтверждённый платёж для тестов возвратов.
func seedConfirmedPayment(t *testing.T, f *fixture) *domain.Payment {
	t.Helper()

	amount, err := domain.NewMoney(decimal.NewFromInt(10000), "KRW")
	require.NoError(t, err)
	payment, err := domain.NewPayment("tenant-a", "order-1", "CARD", amount)
	require.NoError(t, err)
	require.NoError(t, payment.StartProcessing())
	require.NoError(t, payment.Approve("txn_1", "pk_1"))
	require.NoError(t, payment.Confirm())
	require.NoError(t, f.payments.Create(f.ctx, nil, payment))

	return payment
}

// =============================================================================
// Заказы
// =============================================================================

func TestOrderService_CreateOrder(t *testing.T) {
	f := newFixture(t, approvedGateway())

	order, err := f.orderSvc.CreateOrder(f.ctx, CreateOrderInput{
		UserID:   "user-1",
		Currency: "KRW",
		Items: []OrderItemInput{
			{ProductID: "prod-1", ProductName: "Товар", Quantity: 2, UnitPrice: decimal.NewFromInt(5000)},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "10000", order.TotalAmount.Amount.String())
	assert.Equal(t, []string{"order.created"}, f.outbox.types())

	stored, err := f.orders.FindByID(f.ctx, nil, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
}

func TestOrderService_CreateOrder_NoTenant(t *testing.T) {
	f := newFixture(t, approvedGateway())

	_, err := f.orderSvc.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		Currency: "KRW",
		Items: []OrderItemInput{
			{ProductID: "prod-1", ProductName: "Товар", Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
		},
	})

	assert.ErrorIs(t, err, tenant.ErrMissing)
}

func TestOrderService_CancelOrder_Idempotent(t *testing.T) {
	f := newFixture(t, approvedGateway())
	order, err := f.orderSvc.CreateOrder(f.ctx, CreateOrderInput{
		UserID:   "user-1",
		Currency: "KRW",
		Items: []OrderItemInput{
			{ProductID: "prod-1", ProductName: "Товар", Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
		},
	})
	require.NoError(t, err)

	first, err := f.orderSvc.CancelOrder(f.ctx, order.ID, "тест")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, first.Status)

	second, err := f.orderSvc.CancelOrder(f.ctx, order.ID, "тест")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, second.Status)

	// Повторная отмена не публикует второе событие
	assert.Equal(t, []string{"order.created", "order.cancelled"}, f.outbox.types())
}

// =============================================================================
// Сага платежа
// =============================================================================

func TestPaymentService_ProcessPayment_Success(t *testing.T) {
	f := newFixture(t, approvedGateway())

	result, err := f.paymentSvc.ProcessPayment(f.ctx, testPaymentInput())

	require.NoError(t, err)
	require.NotEmpty(t, result.OrderID)
	require.NotEmpty(t, result.PaymentID)

	order, err := f.orders.FindByID(f.ctx, nil, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)

	payment, err := f.payments.FindByID(f.ctx, nil, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, payment.Status)
	require.NotNil(t, payment.PGPaymentKey)
	assert.Equal(t, "pk_1", *payment.PGPaymentKey)

	assert.Equal(t, []string{
		"order.created",
		"payment.approved",
		"payment.confirmed",
		"order.paid",
	}, f.outbox.types())

	instance := f.onlySagaInstance(t)
	assert.Equal(t, saga.StatusCompleted, instance.Status)
}

func TestPaymentService_ProcessPayment_InsufficientBalance(t *testing.T) {
	gateway := approvedGateway()
	gateway.approveResult = &pg.Result{
		Success:      false,
		ErrorCode:    "INSUFFICIENT_BALANCE",
		ErrorMessage: "недостаточно средств на счёте",
	}
	f := newFixture(t, gateway)

	_, err := f.paymentSvc.ProcessPayment(f.ctx, testPaymentInput())

	require.Error(t, err)
	var execErr *saga.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, StepProcessPayment, execErr.FailedStep)
	assert.False(t, execErr.CompensationFailed)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Заказ отменён компенсацией, платёж провален
	orders, err := f.orders.List(f.ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusCancelled, orders[0].Status)

	for _, payment := range f.payments.payments {
		assert.Equal(t, domain.PaymentStatusFailed, payment.Status)
	}

	assert.Equal(t, []string{
		"order.created",
		"payment.failed",
		"order.cancelled",
	}, f.outbox.types())

	instance := f.onlySagaInstance(t)
	assert.Equal(t, saga.StatusCompensated, instance.Status)
}

func TestPaymentService_ProcessPayment_ConfirmFails(t *testing.T) {
	gateway := approvedGateway()
	gateway.confirmResult = &pg.Result{
		Success:      false,
		ErrorCode:    pg.CodeClientError,
		ErrorMessage: "шлюз недоступен",
	}
	f := newFixture(t, gateway)

	_, err := f.paymentSvc.ProcessPayment(f.ctx, testPaymentInput())

	require.Error(t, err)
	var execErr *saga.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, StepConfirmPayment, execErr.FailedStep)
	assert.ErrorIs(t, err, ErrPGUnavailable)

	// Компенсация откатывает и платёж, и заказ
	orders, listErr := f.orders.List(f.ctx, nil, 10, 0)
	require.NoError(t, listErr)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusCancelled, orders[0].Status)

	for _, payment := range f.payments.payments {
		assert.Equal(t, domain.PaymentStatusFailed, payment.Status)
	}

	instance := f.onlySagaInstance(t)
	assert.Equal(t, saga.StatusCompensated, instance.Status)
}

func TestPaymentService_ProcessPayment_DuplicateCorrelation(t *testing.T) {
	f := newFixture(t, approvedGateway())
	ctx := logger.WithCorrelationID(f.ctx, "corr-1")

	_, err := f.paymentSvc.ProcessPayment(ctx, testPaymentInput())
	require.NoError(t, err)

	_, err = f.paymentSvc.ProcessPayment(ctx, testPaymentInput())
	assert.ErrorIs(t, err, saga.ErrDuplicateCorrelation)
}

// =============================================================================
// Возвраты
// =============================================================================

func TestRefundService_CreateRefund_Full(t *testing.T) {
	f := newFixture(t, approvedGateway())
	payment := seedConfirmedPayment(t, f)

	refund, err := f.refundSvc.CreateRefund(f.ctx, CreateRefundInput{
		PaymentID: payment.ID,
		Amount:    decimal.NewFromInt(10000),
		Reason:    "передумал",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, refund.Status)
	require.NotNil(t, refund.PGRefundID)
	assert.Equal(t, "txn_refund_1", *refund.PGRefundID)

	// Полный возврат переводит платёж в REFUNDED
	stored, err := f.payments.FindByID(f.ctx, nil, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, stored.Status)

	assert.Equal(t, []string{"refund.requested", "refund.completed"}, f.outbox.types())
}

func TestRefundService_CreateRefund_Partial(t *testing.T) {
	f := newFixture(t, approvedGateway())
	payment := seedConfirmedPayment(t, f)

	refund, err := f.refundSvc.CreateRefund(f.ctx, CreateRefundInput{
		PaymentID: payment.ID,
		Amount:    decimal.NewFromInt(3000),
		Reason:    "частичный возврат",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, refund.Status)

	// Частичный возврат не меняет статус платежа
	stored, err := f.payments.FindByID(f.ctx, nil, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, stored.Status)
}

func TestRefundService_CreateRefund_GatewayDeclined(t *testing.T) {
	gateway := approvedGateway()
	gateway.cancelResult = &pg.Result{
		Success:      false,
		ErrorCode:    "REFUND_WINDOW_EXPIRED",
		ErrorMessage: "срок возврата истёк",
	}
	f := newFixture(t, gateway)
	payment := seedConfirmedPayment(t, f)

	_, err := f.refundSvc.CreateRefund(f.ctx, CreateRefundInput{
		PaymentID: payment.ID,
		Amount:    decimal.NewFromInt(10000),
	})

	assert.ErrorIs(t, err, ErrPaymentDeclined)

	// Возврат зафиксирован как неудачный, платёж не изменился
	require.Len(t, f.refunds.refunds, 1)
	for _, refund := range f.refunds.refunds {
		assert.Equal(t, domain.RefundStatusFailed, refund.Status)
	}
	stored, findErr := f.payments.FindByID(f.ctx, nil, payment.ID)
	require.NoError(t, findErr)
	assert.Equal(t, domain.PaymentStatusConfirmed, stored.Status)

	assert.Equal(t, []string{"refund.requested", "refund.failed"}, f.outbox.types())
}

func TestRefundService_CreateRefund_PaymentNotConfirmed(t *testing.T) {
	f := newFixture(t, approvedGateway())

	amount, err := domain.NewMoney(decimal.NewFromInt(10000), "KRW")
	require.NoError(t, err)
	payment, err := domain.NewPayment("tenant-a", "order-1", "CARD", amount)
	require.NoError(t, err)
	require.NoError(t, f.payments.Create(f.ctx, nil, payment))

	_, err = f.refundSvc.CreateRefund(f.ctx, CreateRefundInput{
		PaymentID: payment.ID,
		Amount:    decimal.NewFromInt(10000),
	})

	assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)
	assert.Empty(t, f.refunds.refunds)
}

func TestRefundService_CreateRefund_ExceedsPayment(t *testing.T) {
	f := newFixture(t, approvedGateway())
	payment := seedConfirmedPayment(t, f)

	_, err := f.refundSvc.CreateRefund(f.ctx, CreateRefundInput{
		PaymentID: payment.ID,
		Amount:    decimal.NewFromInt(20000),
	})

	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

// onlySagaInstance возвращает единственный экземпляр саги из хранилища.
func (f *fixture) onlySagaInstance(t *testing.T) *saga.Instance {
	t.Helper()
	require.Len(t, f.sagaRepo.instances, 1)
	for _, instance := range f.sagaRepo.instances {
		return instance
	}
	return nil
}
