// Package domain содержит бизнес-сущности и доменные ошибки платёжного движка.
package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки.
// Используются для передачи бизнес-ошибок между слоями приложения.
var (
	// ErrOrderNotFound возвращается, когда заказ не найден в базе данных.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrPaymentNotFound возвращается, когда платёж не найден в базе данных.
	ErrPaymentNotFound = errors.New("платёж не найден")

	// ErrRefundNotFound возвращается, когда возврат не найден в базе данных.
	ErrRefundNotFound = errors.New("возврат не найден")

	// ErrEmptyOrderItems возвращается при попытке создать заказ без позиций.
	ErrEmptyOrderItems = errors.New("заказ должен содержать хотя бы одну позицию")

	// ErrInvalidUserID возвращается при пустом идентификаторе пользователя.
	ErrInvalidUserID = errors.New("некорректный идентификатор пользователя")

	// ErrInvalidProductID возвращается при пустом идентификаторе товара.
	ErrInvalidProductID = errors.New("некорректный идентификатор товара")

	// ErrInvalidQuantity возвращается, когда количество товара меньше или равно нулю.
	ErrInvalidQuantity = errors.New("количество должно быть больше нуля")

	// ErrInvalidAmount возвращается, когда денежная сумма не положительна там,
	// где требуется положительная (платёж, возврат).
	ErrInvalidAmount = errors.New("сумма должна быть больше нуля")

	// ErrNegativeAmount возвращается, когда результат денежной операции отрицателен.
	ErrNegativeAmount = errors.New("денежная сумма не может быть отрицательной")

	// ErrCurrencyMismatch возвращается при арифметике над разными валютами.
	ErrCurrencyMismatch = errors.New("операции над разными валютами запрещены")

	// ErrInvalidCurrency возвращается при пустом или неизвестном коде валюты.
	ErrInvalidCurrency = errors.New("некорректный код валюты")

	// ErrRefundNotAllowed возвращается при попытке возврата по неподтверждённому платежу.
	ErrRefundNotAllowed = errors.New("возврат возможен только по платежу в статусе CONFIRMED")

	// ErrCorruptedState возвращается при восстановлении агрегата из хранилища,
	// когда сохранённые данные нарушают структурные инварианты.
	ErrCorruptedState = errors.New("сохранённое состояние агрегата нарушает инварианты")

	// ErrVersionConflict возвращается при конфликте оптимистичной блокировки:
	// агрегат был изменён другой транзакцией между чтением и записью.
	ErrVersionConflict = errors.New("конфликт версий агрегата")

	// ErrDuplicatePGPaymentKey возвращается, когда ключ платёжного шлюза
	// уже привязан к другому платежу того же арендатора.
	ErrDuplicatePGPaymentKey = errors.New("ключ платёжного шлюза уже используется другим платежом")
)

// InvalidStateError — типизированная ошибка недопустимого перехода состояния.
// Несёт исходное и целевое состояния для маппинга в стабильный код ошибки API.
type InvalidStateError struct {
	Entity string // ORDER, PAYMENT или REFUND
	From   string
	To     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("недопустимый переход состояния %s: %s -> %s", e.Entity, e.From, e.To)
}

// NewInvalidStateError создаёт ошибку недопустимого перехода.
func NewInvalidStateError(entity, from, to string) *InvalidStateError {
	return &InvalidStateError{Entity: entity, From: from, To: to}
}
