package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/event"
	"example.com/fluxpay/internal/pg"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/tenant"
)

// PaymentInput — параметры платежа: заказ создаётся и оплачивается
// одной сагой.
type PaymentInput struct {
	UserID   string            `json:"userId"`
	Currency string            `json:"currency"`
	Method   string            `json:"method"`
	Items    []OrderItemInput  `json:"items"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PaymentResult — итог успешной саги платежа.
type PaymentResult struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

// PaymentService — операции над платежами и запуск саги платежа.
type PaymentService struct {
	txm      repository.TxManager
	orders   repository.OrderRepository
	payments repository.PaymentRepository
	gateway  pg.Gateway
	outbox   OutboxWriter
	orch     *saga.Orchestrator
}

// NewPaymentService создаёт сервис платежей.
func NewPaymentService(
	txm repository.TxManager,
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	gateway pg.Gateway,
	outbox OutboxWriter,
	orch *saga.Orchestrator,
) *PaymentService {
	return &PaymentService{
		txm:      txm,
		orders:   orders,
		payments: payments,
		gateway:  gateway,
		outbox:   outbox,
		orch:     orch,
	}
}

// ProcessPayment выполняет сагу платежа: создание заказа, авторизация
// и подтверждение в шлюзе. Блокируется до завершения саги.
func (s *PaymentService) ProcessPayment(ctx context.Context, input PaymentInput) (*PaymentResult, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	// Ключ идемпотентности запроса служит correlation_id саги:
	// повтор запроса не запустит вторую сагу
	correlationID := logger.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	sc := saga.NewContext(tenantID, correlationID)
	sc.Set("input", input)

	if err := s.orch.Execute(ctx, SagaTypePayment, sc); err != nil {
		return nil, err
	}

	return &PaymentResult{
		OrderID:   sc.GetString("orderId"),
		PaymentID: sc.GetString("paymentId"),
		Status:    string(domain.PaymentStatusConfirmed),
	}, nil
}

// GetPayment возвращает платёж текущего арендатора.
func (s *PaymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.txm.Do(ctx, func(tx *gorm.DB) error {
		var err error
		payment, err = s.payments.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// processApproval создаёт платёж по заказу и авторизует его в шлюзе.
// Обращение к шлюзу выполняется вне транзакции БД.
func (s *PaymentService) processApproval(ctx context.Context, orderID, method string) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.txm.Do(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.FindByID(ctx, tx, orderID)
		if err != nil {
			return err
		}

		payment, err = domain.NewPayment(order.TenantID, order.ID, method, order.TotalAmount)
		if err != nil {
			return err
		}
		if err := payment.StartProcessing(); err != nil {
			return err
		}
		return s.payments.Create(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	result, err := s.gateway.RequestApproval(ctx, pg.ApprovalRequest{
		OrderID:  payment.OrderID,
		Amount:   payment.Amount.Amount.String(),
		Currency: payment.Amount.Currency,
		Method:   method,
	})
	if err != nil {
		return nil, err
	}

	if !result.Success {
		if failErr := s.failPayment(ctx, payment, result.ErrorMessage); failErr != nil {
			logger.Ctx(ctx).Error().Err(failErr).
				Str("payment_id", payment.ID).
				Msg("Ошибка фиксации отказа платежа")
		}
		return nil, gatewayError(result)
	}

	err = s.txm.Do(ctx, func(tx *gorm.DB) error {
		if err := payment.Approve(result.TransactionID, result.PaymentKey); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, tx, payment); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, event.NewPaymentApproved(payment))
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("payment_id", payment.ID).
		Str("order_id", payment.OrderID).
		Msg("Платёж авторизован шлюзом")

	return payment, nil
}

// confirmPayment подтверждает авторизованный платёж в шлюзе
// и переводит заказ в PAID.
func (s *PaymentService) confirmPayment(ctx context.Context, paymentID string) error {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.PGPaymentKey == nil {
		return domain.ErrCorruptedState
	}

	result, err := s.gateway.ConfirmPayment(ctx, pg.ConfirmRequest{
		PaymentKey: *payment.PGPaymentKey,
		OrderID:    payment.OrderID,
		Amount:     payment.Amount.Amount.String(),
		Currency:   payment.Amount.Currency,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return gatewayError(result)
	}

	err = s.txm.Do(ctx, func(tx *gorm.DB) error {
		if err := payment.Confirm(); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, tx, payment); err != nil {
			return err
		}

		if err := s.outbox.Publish(ctx, tx, event.PaymentConfirmed{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			Amount:      event.MoneyPayload{Amount: payment.Amount.Amount.String(), Currency: payment.Amount.Currency},
			ConfirmedAt: *payment.ConfirmedAt,
		}); err != nil {
			return err
		}

		order, err := s.orders.FindByID(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if err := order.MarkPaid(); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, event.OrderPaid{
			OrderID:   order.ID,
			PaymentID: payment.ID,
			PaidAt:    *order.PaidAt,
		})
	})
	if err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("payment_id", payment.ID).
		Str("order_id", payment.OrderID).
		Msg("Платёж подтверждён")

	return nil
}

// failPaymentByID помечает платёж как неудачный. Операция идемпотентна:
// уже проваленный платёж не трогается. Вызывается компенсацией саги.
func (s *PaymentService) failPaymentByID(ctx context.Context, paymentID, reason string) error {
	var payment *domain.Payment
	err := s.txm.Do(ctx, func(tx *gorm.DB) error {
		var err error
		payment, err = s.payments.FindByID(ctx, tx, paymentID)
		return err
	})
	if err != nil {
		return err
	}

	if payment.Status == domain.PaymentStatusFailed {
		return nil
	}
	return s.failPayment(ctx, payment, reason)
}

// failPayment переводит платёж в FAILED и публикует PaymentFailed.
func (s *PaymentService) failPayment(ctx context.Context, payment *domain.Payment, reason string) error {
	return s.txm.Do(ctx, func(tx *gorm.DB) error {
		if err := payment.Fail(reason); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, tx, payment); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, event.PaymentFailed{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			Reason:    reason,
		})
	})
}

// gatewayError переводит отказ шлюза в ошибку сервисного слоя.
func gatewayError(result *pg.Result) error {
	switch result.ErrorCode {
	case pg.CodeClientError:
		return fmt.Errorf("%w: %s", ErrPGUnavailable, result.ErrorMessage)
	case "INSUFFICIENT_BALANCE":
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, result.ErrorMessage)
	default:
		return fmt.Errorf("%w: %s (%s)", ErrPaymentDeclined, result.ErrorMessage, result.ErrorCode)
	}
}
