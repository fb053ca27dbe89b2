package event

import (
	"time"

	"example.com/fluxpay/internal/domain"
)

// Типы агрегатов. Используются для имени топика и строки outbox.
const (
	AggregateOrder   = "ORDER"
	AggregatePayment = "PAYMENT"
	AggregateRefund  = "REFUND"
)

// DomainEvent — доменное событие, публикуемое через outbox.
type DomainEvent interface {
	// EventType возвращает тип события, например "order.created".
	EventType() string

	// AggregateType возвращает тип агрегата (ORDER, PAYMENT, REFUND).
	AggregateType() string

	// AggregateID возвращает идентификатор агрегата для ключа партиционирования.
	AggregateID() string
}

// MoneyPayload — денежная сумма в теле события.
// Сумма передаётся строкой, чтобы не терять точность в JSON.
type MoneyPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func moneyPayload(m domain.Money) MoneyPayload {
	return MoneyPayload{
		Amount:   m.Amount.String(),
		Currency: m.Currency,
	}
}

// =============================================================================
// События заказа
// =============================================================================

// OrderCreated публикуется при создании заказа.
type OrderCreated struct {
	OrderID     string       `json:"orderId"`
	UserID      string       `json:"userId"`
	TotalAmount MoneyPayload `json:"totalAmount"`
	ItemCount   int          `json:"itemCount"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// NewOrderCreated создаёт событие из агрегата.
func NewOrderCreated(o *domain.Order) OrderCreated {
	return OrderCreated{
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: moneyPayload(o.TotalAmount),
		ItemCount:   len(o.Items),
		CreatedAt:   o.CreatedAt,
	}
}

func (OrderCreated) EventType() string     { return "order.created" }
func (OrderCreated) AggregateType() string { return AggregateOrder }
func (e OrderCreated) AggregateID() string { return e.OrderID }

// OrderPaid публикуется при переходе заказа в PAID.
type OrderPaid struct {
	OrderID   string    `json:"orderId"`
	PaymentID string    `json:"paymentId"`
	PaidAt    time.Time `json:"paidAt"`
}

func (OrderPaid) EventType() string     { return "order.paid" }
func (OrderPaid) AggregateType() string { return AggregateOrder }
func (e OrderPaid) AggregateID() string { return e.OrderID }

// OrderCompleted публикуется при переходе заказа в COMPLETED.
type OrderCompleted struct {
	OrderID     string    `json:"orderId"`
	CompletedAt time.Time `json:"completedAt"`
}

func (OrderCompleted) EventType() string     { return "order.completed" }
func (OrderCompleted) AggregateType() string { return AggregateOrder }
func (e OrderCompleted) AggregateID() string { return e.OrderID }

// OrderCancelled публикуется при отмене заказа,
// в том числе компенсацией саги платежа.
type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

func (OrderCancelled) EventType() string     { return "order.cancelled" }
func (OrderCancelled) AggregateType() string { return AggregateOrder }
func (e OrderCancelled) AggregateID() string { return e.OrderID }

// OrderFailed публикуется при переходе заказа в FAILED.
type OrderFailed struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (OrderFailed) EventType() string     { return "order.failed" }
func (OrderFailed) AggregateType() string { return AggregateOrder }
func (e OrderFailed) AggregateID() string { return e.OrderID }

// =============================================================================
// События платежа
// =============================================================================

// PaymentApproved публикуется при одобрении платежа шлюзом.
type PaymentApproved struct {
	PaymentID       string       `json:"paymentId"`
	OrderID         string       `json:"orderId"`
	Amount          MoneyPayload `json:"amount"`
	PGTransactionID string       `json:"pgTransactionId"`
}

// NewPaymentApproved создаёт событие из агрегата.
func NewPaymentApproved(p *domain.Payment) PaymentApproved {
	evt := PaymentApproved{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    moneyPayload(p.Amount),
	}
	if p.PGTransactionID != nil {
		evt.PGTransactionID = *p.PGTransactionID
	}
	return evt
}

func (PaymentApproved) EventType() string     { return "payment.approved" }
func (PaymentApproved) AggregateType() string { return AggregatePayment }
func (e PaymentApproved) AggregateID() string { return e.PaymentID }

// PaymentConfirmed публикуется при подтверждении платежа.
type PaymentConfirmed struct {
	PaymentID   string       `json:"paymentId"`
	OrderID     string       `json:"orderId"`
	Amount      MoneyPayload `json:"amount"`
	ConfirmedAt time.Time    `json:"confirmedAt"`
}

func (PaymentConfirmed) EventType() string     { return "payment.confirmed" }
func (PaymentConfirmed) AggregateType() string { return AggregatePayment }
func (e PaymentConfirmed) AggregateID() string { return e.PaymentID }

// PaymentFailed публикуется при отказе платежа.
type PaymentFailed struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Reason    string `json:"reason"`
}

func (PaymentFailed) EventType() string     { return "payment.failed" }
func (PaymentFailed) AggregateType() string { return AggregatePayment }
func (e PaymentFailed) AggregateID() string { return e.PaymentID }

// =============================================================================
// События возврата
// =============================================================================

// RefundRequested публикуется при создании возврата.
// Ключ партиционирования — платёж: события возврата и платежа упорядочены вместе.
type RefundRequested struct {
	RefundID  string       `json:"refundId"`
	PaymentID string       `json:"paymentId"`
	Amount    MoneyPayload `json:"amount"`
	Reason    string       `json:"reason,omitempty"`
}

// NewRefundRequested создаёт событие из агрегата.
func NewRefundRequested(r *domain.Refund) RefundRequested {
	return RefundRequested{
		RefundID:  r.ID,
		PaymentID: r.PaymentID,
		Amount:    moneyPayload(r.Amount),
		Reason:    r.Reason,
	}
}

func (RefundRequested) EventType() string     { return "refund.requested" }
func (RefundRequested) AggregateType() string { return AggregateRefund }
func (e RefundRequested) AggregateID() string { return e.PaymentID }

// RefundCompleted публикуется при успешном возврате.
type RefundCompleted struct {
	RefundID   string       `json:"refundId"`
	PaymentID  string       `json:"paymentId"`
	Amount     MoneyPayload `json:"amount"`
	PGRefundID string       `json:"pgRefundId"`
}

func (RefundCompleted) EventType() string     { return "refund.completed" }
func (RefundCompleted) AggregateType() string { return AggregateRefund }
func (e RefundCompleted) AggregateID() string { return e.PaymentID }

// RefundFailed публикуется при отказе возврата.
type RefundFailed struct {
	RefundID  string `json:"refundId"`
	PaymentID string `json:"paymentId"`
	Error     string `json:"error"`
}

func (RefundFailed) EventType() string     { return "refund.failed" }
func (RefundFailed) AggregateType() string { return AggregateRefund }
func (e RefundFailed) AggregateID() string { return e.PaymentID }
