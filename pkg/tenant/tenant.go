// Package tenant предоставляет перенос идентификатора арендатора через context.
// Каждая точка входа (HTTP запрос, фоновый воркер) обязана установить
// идентификатор арендатора до первого обращения к хранилищу.
package tenant

import (
	"context"
	"errors"
	"strings"
)

// HeaderTenantID - HTTP заголовок с идентификатором арендатора.
const HeaderTenantID = "X-Tenant-Id"

// ErrMissing возвращается, когда идентификатор арендатора отсутствует в контексте.
var ErrMissing = errors.New("идентификатор арендатора отсутствует в контексте")

type ctxKey struct{}

// WithID добавляет идентификатор арендатора в контекст.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// IDFromContext извлекает идентификатор арендатора из контекста.
// Возвращает пустую строку, если он не установлен.
func IDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// RequireID извлекает идентификатор арендатора или возвращает ErrMissing.
// Используется во всех операциях, которым запрещено работать без арендатора.
func RequireID(ctx context.Context) (string, error) {
	id := IDFromContext(ctx)
	if id == "" {
		return "", ErrMissing
	}
	return id, nil
}

// Valid проверяет, что идентификатор арендатора пригоден для использования:
// непустой после обрезки пробелов и без управляющих символов.
func Valid(tenantID string) bool {
	trimmed := strings.TrimSpace(tenantID)
	if trimmed == "" || trimmed != tenantID {
		return false
	}
	for _, r := range tenantID {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
