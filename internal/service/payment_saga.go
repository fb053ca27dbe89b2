package service

import (
	"context"

	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/pkg/logger"
)

// SagaTypePayment — тип саги платежа.
const SagaTypePayment = "PAYMENT_SAGA"

// Имена шагов саги платежа.
const (
	StepCreateOrder    = "CREATE_ORDER"
	StepProcessPayment = "PROCESS_PAYMENT"
	StepConfirmPayment = "CONFIRM_PAYMENT"
)

// cancelReasonSaga — причина отмены заказа при компенсации саги.
const cancelReasonSaga = "компенсация саги платежа"

// NewPaymentSagaDefinition объявляет сагу платежа:
// создание заказа, авторизация платежа, подтверждение платежа.
func NewPaymentSagaDefinition(orders *OrderService, payments *PaymentService) (*saga.Definition, error) {
	return saga.NewDefinition(SagaTypePayment,
		&createOrderStep{orders: orders},
		&processPaymentStep{payments: payments},
		&confirmPaymentStep{payments: payments},
	)
}

// =============================================================================
// Шаг 1: создание заказа
// =============================================================================

type createOrderStep struct {
	orders *OrderService
}

func (s *createOrderStep) Name() string { return StepCreateOrder }

// Execute создаёт заказ по входным данным саги и кладёт orderId в контекст.
func (s *createOrderStep) Execute(ctx context.Context, sc *saga.Context) error {
	input, err := contextValue[PaymentInput](sc, "input")
	if err != nil {
		return err
	}

	order, err := s.orders.CreateOrder(ctx, CreateOrderInput{
		UserID:   input.UserID,
		Currency: input.Currency,
		Items:    input.Items,
		Metadata: input.Metadata,
	})
	if err != nil {
		return err
	}

	sc.Set("orderId", order.ID)
	return nil
}

// Compensate отменяет созданный заказ. Отмена идемпотентна.
func (s *createOrderStep) Compensate(ctx context.Context, sc *saga.Context) error {
	orderID := sc.GetString("orderId")
	if orderID == "" {
		return nil
	}
	_, err := s.orders.CancelOrder(ctx, orderID, cancelReasonSaga)
	return err
}

// =============================================================================
// Шаг 2: авторизация платежа
// =============================================================================

type processPaymentStep struct {
	payments *PaymentService
}

func (s *processPaymentStep) Name() string { return StepProcessPayment }

// Execute создаёт платёж и авторизует его в шлюзе,
// кладёт paymentId в контекст.
func (s *processPaymentStep) Execute(ctx context.Context, sc *saga.Context) error {
	input, err := contextValue[PaymentInput](sc, "input")
	if err != nil {
		return err
	}
	orderID := sc.GetString("orderId")

	payment, err := s.payments.processApproval(ctx, orderID, input.Method)
	if err != nil {
		return err
	}

	sc.Set("paymentId", payment.ID)
	return nil
}

// Compensate помечает платёж как неудачный. Операция идемпотентна.
func (s *processPaymentStep) Compensate(ctx context.Context, sc *saga.Context) error {
	paymentID := sc.GetString("paymentId")
	if paymentID == "" {
		return nil
	}
	return s.payments.failPaymentByID(ctx, paymentID, cancelReasonSaga)
}

// =============================================================================
// Шаг 3: подтверждение платежа
// =============================================================================

type confirmPaymentStep struct {
	payments *PaymentService
}

func (s *confirmPaymentStep) Name() string { return StepConfirmPayment }

// Execute подтверждает авторизованный платёж в шлюзе
// и переводит заказ в PAID.
func (s *confirmPaymentStep) Execute(ctx context.Context, sc *saga.Context) error {
	return s.payments.confirmPayment(ctx, sc.GetString("paymentId"))
}

// Compensate не делает ничего: провал последнего шага откатывается
// компенсациями предыдущих, отдельного отката подтверждения нет.
func (s *confirmPaymentStep) Compensate(ctx context.Context, sc *saga.Context) error {
	logger.Ctx(ctx).Debug().
		Str("payment_id", sc.GetString("paymentId")).
		Msg("Компенсация подтверждения платежа не требуется")
	return nil
}
