package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus — статус заказа в системе.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, ожидает оплаты.
	OrderStatusPending OrderStatus = "PENDING"

	// OrderStatusPaid — заказ оплачен, платёж подтверждён.
	OrderStatusPaid OrderStatus = "PAID"

	// OrderStatusCompleted — заказ полностью выполнен.
	OrderStatusCompleted OrderStatus = "COMPLETED"

	// OrderStatusCancelled — заказ отменён пользователем или компенсацией саги.
	OrderStatusCancelled OrderStatus = "CANCELLED"

	// OrderStatusFailed — заказ не выполнен из-за ошибки.
	OrderStatusFailed OrderStatus = "FAILED"
)

// allowedOrderTransitions — таблица допустимых переходов статуса заказа.
// Терминальные статусы (COMPLETED, CANCELLED, FAILED) не имеют исходящих рёбер.
var allowedOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusPaid:      {OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
	OrderStatusFailed:    {},
}

// CanTransitionTo проверяет допустимость перехода из текущего статуса.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range allowedOrderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для терминальных статусов.
func (s OrderStatus) IsTerminal() bool {
	return len(allowedOrderTransitions[s]) == 0
}

// Order — заказ. Доменная сущность без зависимостей от инфраструктуры.
type Order struct {
	ID            string            // Уникальный идентификатор заказа (UUID)
	TenantID      string            // Арендатор, которому принадлежит заказ
	UserID        string            // ID пользователя, создавшего заказ
	Items         []OrderLineItem   // Позиции заказа (минимум одна)
	Currency      string            // Валюта заказа (все позиции в одной валюте)
	TotalAmount   Money             // Общая сумма заказа (выводится из позиций)
	Status        OrderStatus       // Текущий статус заказа
	FailureReason *string           // Причина ошибки (nil если заказ успешен)
	Metadata      map[string]string // Произвольные атрибуты клиента
	Version       int64             // Версия для оптимистичной блокировки
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PaidAt        *time.Time // Заполняется при переходе в PAID
	CompletedAt   *time.Time // Заполняется при переходе в COMPLETED
}

// NewOrder создаёт заказ в статусе PENDING.
// Проверяет позиции, рассчитывает их стоимость и общую сумму.
func NewOrder(tenantID, userID, currency string, items []OrderLineItem, metadata map[string]string) (*Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUserID
	}
	if len(items) == 0 {
		return nil, ErrEmptyOrderItems
	}

	total, err := NewMoney(decimalZero, currency)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &Order{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		Currency:  currency,
		Status:    OrderStatusPending,
		Metadata:  metadata,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for i := range items {
		item := items[i]
		if err := item.validate(currency); err != nil {
			return nil, err
		}

		item.ID = uuid.NewString()
		item.OrderID = order.ID
		item.TotalPrice, err = item.UnitPrice.MulInt(int64(item.Quantity))
		if err != nil {
			return nil, err
		}

		total, err = total.Add(item.TotalPrice)
		if err != nil {
			return nil, err
		}

		order.Items = append(order.Items, item)
	}

	order.TotalAmount = total
	return order, nil
}

// transitionTo переводит заказ в target, проверяя таблицу переходов.
func (o *Order) transitionTo(target OrderStatus) error {
	if !o.Status.CanTransitionTo(target) {
		return NewInvalidStateError("ORDER", string(o.Status), string(target))
	}
	o.Status = target
	o.UpdatedAt = time.Now()
	return nil
}

// MarkPaid переводит заказ в PAID и фиксирует время оплаты.
func (o *Order) MarkPaid() error {
	if err := o.transitionTo(OrderStatusPaid); err != nil {
		return err
	}
	now := time.Now()
	o.PaidAt = &now
	return nil
}

// Complete переводит заказ в COMPLETED и фиксирует время завершения.
func (o *Order) Complete() error {
	if err := o.transitionTo(OrderStatusCompleted); err != nil {
		return err
	}
	now := time.Now()
	o.CompletedAt = &now
	return nil
}

// Cancel отменяет заказ.
// Вызывается пользователем или компенсацией саги платежа.
func (o *Order) Cancel() error {
	return o.transitionTo(OrderStatusCancelled)
}

// Fail помечает заказ как неудачный с указанием причины.
func (o *Order) Fail(reason string) error {
	if err := o.transitionTo(OrderStatusFailed); err != nil {
		return err
	}
	o.FailureReason = &reason
	return nil
}

// ValidateRestored проверяет структурные инварианты заказа,
// восстановленного из хранилища. Несогласованные данные — громкая ошибка,
// а не тихое продолжение работы.
func (o *Order) ValidateRestored() error {
	if len(o.Items) == 0 {
		return ErrCorruptedState
	}

	total, err := NewMoney(decimalZero, o.Currency)
	if err != nil {
		return ErrCorruptedState
	}
	for i := range o.Items {
		if o.Items[i].Quantity <= 0 {
			return ErrCorruptedState
		}
		total, err = total.Add(o.Items[i].TotalPrice)
		if err != nil {
			return ErrCorruptedState
		}
	}
	if !total.Equal(o.TotalAmount) {
		return ErrCorruptedState
	}

	// PAID и COMPLETED требуют paidAt; COMPLETED — ещё и completedAt.
	if (o.Status == OrderStatusPaid || o.Status == OrderStatusCompleted) && o.PaidAt == nil {
		return ErrCorruptedState
	}
	if o.Status == OrderStatusCompleted && o.CompletedAt == nil {
		return ErrCorruptedState
	}

	return nil
}

// OrderLineItem — позиция заказа.
type OrderLineItem struct {
	ID          string // Уникальный идентификатор позиции (UUID)
	OrderID     string // ID заказа, к которому относится позиция
	ProductID   string // ID товара
	ProductName string // Название товара (денормализовано для истории)
	Quantity    int32  // Количество единиц товара
	UnitPrice   Money  // Цена за единицу товара
	TotalPrice  Money  // Стоимость позиции (цена * количество)
}

// validate проверяет корректность позиции и совпадение валюты с заказом.
func (li *OrderLineItem) validate(currency string) error {
	if strings.TrimSpace(li.ProductID) == "" {
		return ErrInvalidProductID
	}
	if li.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !li.UnitPrice.IsPositive() {
		return ErrInvalidAmount
	}
	if li.UnitPrice.Currency != currency {
		return ErrCurrencyMismatch
	}
	return nil
}
