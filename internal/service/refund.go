package service

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/event"
	"example.com/fluxpay/internal/pg"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/pkg/logger"
)

// CreateRefundInput — параметры создания возврата.
type CreateRefundInput struct {
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
}

// RefundService — операции над возвратами.
type RefundService struct {
	txm      repository.TxManager
	payments repository.PaymentRepository
	refunds  repository.RefundRepository
	gateway  pg.Gateway
	outbox   OutboxWriter
}

// NewRefundService создаёт сервис возвратов.
func NewRefundService(
	txm repository.TxManager,
	payments repository.PaymentRepository,
	refunds repository.RefundRepository,
	gateway pg.Gateway,
	outbox OutboxWriter,
) *RefundService {
	return &RefundService{
		txm:      txm,
		payments: payments,
		refunds:  refunds,
		gateway:  gateway,
		outbox:   outbox,
	}
}

// CreateRefund создаёт возврат по подтверждённому платежу и проводит его
// через шлюз. Обращение к шлюзу выполняется вне транзакции БД.
func (s *RefundService) CreateRefund(ctx context.Context, input CreateRefundInput) (*domain.Refund, error) {
	var (
		refund  *domain.Refund
		payment *domain.Payment
	)
	err := s.txm.Do(ctx, func(tx *gorm.DB) error {
		var err error
		payment, err = s.payments.FindByID(ctx, tx, input.PaymentID)
		if err != nil {
			return err
		}

		amount, err := domain.NewMoney(input.Amount, payment.Amount.Currency)
		if err != nil {
			return err
		}

		refund, err = domain.NewRefund(payment, amount, input.Reason)
		if err != nil {
			return err
		}
		if err := s.refunds.Create(ctx, tx, refund); err != nil {
			return err
		}
		if err := s.outbox.Publish(ctx, tx, event.NewRefundRequested(refund)); err != nil {
			return err
		}

		if err := refund.StartProcessing(); err != nil {
			return err
		}
		return s.refunds.Update(ctx, tx, refund)
	})
	if err != nil {
		return nil, err
	}

	if payment.PGPaymentKey == nil {
		return nil, domain.ErrCorruptedState
	}

	result, err := s.gateway.CancelPayment(ctx, pg.CancelRequest{
		PaymentKey: *payment.PGPaymentKey,
		Amount:     refund.Amount.Amount.String(),
		Currency:   refund.Amount.Currency,
		Reason:     input.Reason,
	})
	if err != nil {
		return nil, err
	}

	if !result.Success {
		if failErr := s.failRefund(ctx, refund, result.ErrorMessage); failErr != nil {
			logger.Ctx(ctx).Error().Err(failErr).
				Str("refund_id", refund.ID).
				Msg("Ошибка фиксации отказа возврата")
		}
		return nil, gatewayError(result)
	}

	fullRefund := refund.Amount.Equal(payment.Amount)
	err = s.txm.Do(ctx, func(tx *gorm.DB) error {
		if err := refund.Complete(result.TransactionID); err != nil {
			return err
		}
		if err := s.refunds.Update(ctx, tx, refund); err != nil {
			return err
		}

		if err := s.outbox.Publish(ctx, tx, event.RefundCompleted{
			RefundID:   refund.ID,
			PaymentID:  refund.PaymentID,
			Amount:     event.MoneyPayload{Amount: refund.Amount.Amount.String(), Currency: refund.Amount.Currency},
			PGRefundID: result.TransactionID,
		}); err != nil {
			return err
		}

		// Полный возврат переводит платёж в REFUNDED
		if !fullRefund {
			return nil
		}
		if err := payment.MarkRefunded(); err != nil {
			return err
		}
		return s.payments.Update(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("refund_id", refund.ID).
		Str("payment_id", refund.PaymentID).
		Bool("full", fullRefund).
		Msg("Возврат выполнен")

	return refund, nil
}

// GetRefund возвращает возврат текущего арендатора.
func (s *RefundService) GetRefund(ctx context.Context, id string) (*domain.Refund, error) {
	var refund *domain.Refund
	err := s.txm.Do(ctx, func(tx *gorm.DB) error {
		var err error
		refund, err = s.refunds.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

// failRefund переводит возврат в FAILED и публикует RefundFailed.
func (s *RefundService) failRefund(ctx context.Context, refund *domain.Refund, errMsg string) error {
	return s.txm.Do(ctx, func(tx *gorm.DB) error {
		if err := refund.Fail(errMsg); err != nil {
			return err
		}
		if err := s.refunds.Update(ctx, tx, refund); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, event.RefundFailed{
			RefundID:  refund.ID,
			PaymentID: refund.PaymentID,
			Error:     errMsg,
		})
	})
}
