// Package service содержит бизнес-операции над агрегатами.
// Каждая мутация выполняется в тенантной транзакции и в той же
// транзакции добавляет события в outbox: запись агрегата и события
// коммитятся атомарно.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"example.com/fluxpay/internal/event"
	"example.com/fluxpay/internal/saga"
)

// Ошибки сервисного слоя.
var (
	// ErrInsufficientBalance — шлюз отклонил платёж из-за нехватки средств.
	ErrInsufficientBalance = errors.New("недостаточно средств")

	// ErrPGUnavailable — транспортный сбой или не-200 ответ платёжного шлюза.
	ErrPGUnavailable = errors.New("платёжный шлюз недоступен")

	// ErrPaymentDeclined — шлюз отклонил операцию по бизнес-причине.
	ErrPaymentDeclined = errors.New("операция отклонена платёжным шлюзом")
)

// OutboxWriter добавляет событие в outbox в текущей транзакции.
// Интерфейс для тестируемости; реализуется outbox.Writer.
type OutboxWriter interface {
	Publish(ctx context.Context, tx *gorm.DB, evt event.DomainEvent) error
}

// contextValue извлекает типизированное значение из контекста саги.
// После восстановления из blob значения приходят как map[string]any,
// поэтому декодируем через JSON.
func contextValue[T any](sc *saga.Context, key string) (T, error) {
	var out T

	raw, ok := sc.Get(key)
	if !ok {
		return out, fmt.Errorf("в контексте саги отсутствует %q", key)
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return out, fmt.Errorf("повреждённое значение %q в контексте саги: %w", key, err)
	}
	if err := json.Unmarshal(buf, &out); err != nil {
		return out, fmt.Errorf("повреждённое значение %q в контексте саги: %w", key, err)
	}
	return out, nil
}
