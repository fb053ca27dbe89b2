package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// RefundStatus — статус возврата.
type RefundStatus string

const (
	// RefundStatusRequested — возврат создан, обработка не начата.
	RefundStatusRequested RefundStatus = "REQUESTED"

	// RefundStatusProcessing — возврат передан в платёжный шлюз.
	RefundStatusProcessing RefundStatus = "PROCESSING"

	// RefundStatusCompleted — возврат выполнен.
	RefundStatusCompleted RefundStatus = "COMPLETED"

	// RefundStatusFailed — возврат отклонён шлюзом.
	RefundStatusFailed RefundStatus = "FAILED"
)

// allowedRefundTransitions — таблица допустимых переходов статуса возврата.
var allowedRefundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusRequested:  {RefundStatusProcessing},
	RefundStatusProcessing: {RefundStatusCompleted, RefundStatusFailed},
	RefundStatusCompleted:  {},
	RefundStatusFailed:     {},
}

// CanTransitionTo проверяет допустимость перехода из текущего статуса.
func (s RefundStatus) CanTransitionTo(target RefundStatus) bool {
	for _, allowed := range allowedRefundTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для терминальных статусов.
func (s RefundStatus) IsTerminal() bool {
	return len(allowedRefundTransitions[s]) == 0
}

// Refund — возврат средств по подтверждённому платежу.
type Refund struct {
	ID          string       // Идентификатор вида ref_<16 hex символов>
	TenantID    string       // Арендатор, которому принадлежит возврат
	PaymentID   string       // Платёж, по которому выполняется возврат
	Amount      Money        // Сумма возврата (строго положительная)
	Reason      string       // Причина возврата
	Status      RefundStatus // Текущий статус возврата
	PGRefundID  *string      // Идентификатор возврата в платёжном шлюзе
	Error       *string      // Ошибка шлюза при отказе
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// NewRefundID генерирует идентификатор возврата вида ref_<16hex>.
func NewRefundID() string {
	buf := make([]byte, 8)
	// crypto/rand.Read на поддерживаемых платформах не возвращает ошибку
	_, _ = rand.Read(buf)
	return "ref_" + hex.EncodeToString(buf)
}

// NewRefund создаёт возврат по платежу.
// Возврат возможен только по платежу в статусе CONFIRMED.
func NewRefund(payment *Payment, amount Money, reason string) (*Refund, error) {
	if payment.Status != PaymentStatusConfirmed {
		return nil, ErrRefundNotAllowed
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.Currency != payment.Amount.Currency {
		return nil, ErrCurrencyMismatch
	}
	if amount.Amount.GreaterThan(payment.Amount.Amount) {
		return nil, ErrInvalidAmount
	}

	now := time.Now()
	return &Refund{
		ID:        NewRefundID(),
		TenantID:  payment.TenantID,
		PaymentID: payment.ID,
		Amount:    amount,
		Reason:    reason,
		Status:    RefundStatusRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// transitionTo переводит возврат в target, проверяя таблицу переходов.
func (r *Refund) transitionTo(target RefundStatus) error {
	if !r.Status.CanTransitionTo(target) {
		return NewInvalidStateError("REFUND", string(r.Status), string(target))
	}
	r.Status = target
	r.UpdatedAt = time.Now()
	return nil
}

// StartProcessing переводит возврат в PROCESSING перед обращением к шлюзу.
func (r *Refund) StartProcessing() error {
	return r.transitionTo(RefundStatusProcessing)
}

// Complete фиксирует успешный возврат.
func (r *Refund) Complete(pgRefundID string) error {
	if err := r.transitionTo(RefundStatusCompleted); err != nil {
		return err
	}
	now := time.Now()
	r.PGRefundID = &pgRefundID
	r.CompletedAt = &now
	return nil
}

// Fail помечает возврат как неудачный с ошибкой шлюза.
func (r *Refund) Fail(errMsg string) error {
	if err := r.transitionTo(RefundStatusFailed); err != nil {
		return err
	}
	r.Error = &errMsg
	return nil
}
