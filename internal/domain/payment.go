package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus — статус платежа.
type PaymentStatus string

const (
	// PaymentStatusReady — платёж создан, обработка не начата.
	PaymentStatusReady PaymentStatus = "READY"

	// PaymentStatusProcessing — платёж передан в платёжный шлюз.
	PaymentStatusProcessing PaymentStatus = "PROCESSING"

	// PaymentStatusApproved — шлюз одобрил платёж, ожидается подтверждение.
	PaymentStatusApproved PaymentStatus = "APPROVED"

	// PaymentStatusConfirmed — платёж подтверждён, средства списаны.
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"

	// PaymentStatusFailed — платёж отклонён или отменён компенсацией.
	PaymentStatusFailed PaymentStatus = "FAILED"

	// PaymentStatusRefunded — по платежу выполнен возврат.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// allowedPaymentTransitions — таблица допустимых переходов статуса платежа.
// FAILED достижим из READY, PROCESSING и APPROVED; REFUNDED — только из CONFIRMED.
var allowedPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusReady:      {PaymentStatusProcessing, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusApproved, PaymentStatusFailed},
	PaymentStatusApproved:   {PaymentStatusConfirmed, PaymentStatusFailed},
	PaymentStatusConfirmed:  {PaymentStatusRefunded},
	PaymentStatusFailed:     {},
	PaymentStatusRefunded:   {},
}

// CanTransitionTo проверяет допустимость перехода из текущего статуса.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, allowed := range allowedPaymentTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для терминальных статусов.
func (s PaymentStatus) IsTerminal() bool {
	return len(allowedPaymentTransitions[s]) == 0
}

// Payment — платёж по заказу (1:1).
type Payment struct {
	ID              string        // Уникальный идентификатор платежа (UUID)
	TenantID        string        // Арендатор, которому принадлежит платёж
	OrderID         string        // Заказ, который оплачивается
	Amount          Money         // Сумма платежа (строго положительная)
	Status          PaymentStatus // Текущий статус платежа
	Method          string        // Способ оплаты (CARD, TRANSFER и т.д.)
	PGTransactionID *string       // Идентификатор транзакции в платёжном шлюзе
	PGPaymentKey    *string       // Ключ платежа в шлюзе (уникален в рамках арендатора)
	FailureReason   *string       // Причина отказа
	Version         int64         // Версия для оптимистичной блокировки
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ApprovedAt      *time.Time
	ConfirmedAt     *time.Time
}

// NewPayment создаёт платёж в статусе READY.
func NewPayment(tenantID, orderID, method string, amount Money) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := time.Now()
	return &Payment{
		ID:        "pay_" + uuid.NewString(),
		TenantID:  tenantID,
		OrderID:   orderID,
		Amount:    amount,
		Status:    PaymentStatusReady,
		Method:    method,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// transitionTo переводит платёж в target, проверяя таблицу переходов.
func (p *Payment) transitionTo(target PaymentStatus) error {
	if !p.Status.CanTransitionTo(target) {
		return NewInvalidStateError("PAYMENT", string(p.Status), string(target))
	}
	p.Status = target
	p.UpdatedAt = time.Now()
	return nil
}

// StartProcessing переводит платёж в PROCESSING перед обращением к шлюзу.
func (p *Payment) StartProcessing() error {
	return p.transitionTo(PaymentStatusProcessing)
}

// Approve фиксирует одобрение платежа шлюзом.
func (p *Payment) Approve(pgTransactionID, pgPaymentKey string) error {
	if err := p.transitionTo(PaymentStatusApproved); err != nil {
		return err
	}
	now := time.Now()
	p.PGTransactionID = &pgTransactionID
	p.PGPaymentKey = &pgPaymentKey
	p.ApprovedAt = &now
	return nil
}

// Confirm подтверждает платёж после успешного confirm в шлюзе.
func (p *Payment) Confirm() error {
	if err := p.transitionTo(PaymentStatusConfirmed); err != nil {
		return err
	}
	now := time.Now()
	p.ConfirmedAt = &now
	return nil
}

// Fail помечает платёж как неудачный с указанием причины.
// Также вызывается компенсацией саги.
func (p *Payment) Fail(reason string) error {
	if err := p.transitionTo(PaymentStatusFailed); err != nil {
		return err
	}
	p.FailureReason = &reason
	return nil
}

// MarkRefunded помечает платёж как возвращённый.
func (p *Payment) MarkRefunded() error {
	return p.transitionTo(PaymentStatusRefunded)
}

// ValidateRestored проверяет структурные инварианты платежа из хранилища.
func (p *Payment) ValidateRestored() error {
	if !p.Amount.IsPositive() {
		return ErrCorruptedState
	}

	// APPROVED и дальше требуют реквизитов шлюза.
	switch p.Status {
	case PaymentStatusApproved, PaymentStatusConfirmed, PaymentStatusRefunded:
		if p.PGPaymentKey == nil || p.PGTransactionID == nil {
			return ErrCorruptedState
		}
	}
	if (p.Status == PaymentStatusConfirmed || p.Status == PaymentStatusRefunded) && p.ConfirmedAt == nil {
		return ErrCorruptedState
	}

	return nil
}
