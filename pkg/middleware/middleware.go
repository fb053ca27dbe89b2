// Package middleware предоставляет Gin middleware: идентификаторы
// запроса, тенантный контекст, логирование и обработку паник.
package middleware

import (
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/fluxpay/internal/api"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/tenant"
)

// Заголовки запроса.
const (
	// HeaderRequestID — идентификатор запроса. Генерируется, если не передан.
	HeaderRequestID = "X-Request-Id"

	// HeaderTenantID — идентификатор арендатора. Обязателен для /api.
	HeaderTenantID = "X-Tenant-Id"
)

// RequestID извлекает X-Request-Id или генерирует новый UUID
// и кладёт его в контекст запроса и заголовок ответа.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Request = c.Request.WithContext(
			logger.WithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderRequestID, requestID)

		c.Next()
	}
}

// Tenant извлекает X-Tenant-Id и кладёт его в контекст запроса.
// Запрос без валидного арендатора отклоняется с кодом TENANT_MISSING.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(HeaderTenantID)
		if !tenant.Valid(tenantID) {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				api.Error(api.CodeTenantMissing, "требуется заголовок "+HeaderTenantID))
			return
		}

		c.Request = c.Request.WithContext(
			tenant.WithID(c.Request.Context(), tenantID))

		c.Next()
	}
}

// Logging логирует каждый запрос: метод, путь, статус, длительность.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log := logger.FromContext(c.Request.Context())
		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP запрос обработан")
	}
}

// Recovery перехватывает панику в обработчике, логирует stack trace
// и возвращает клиенту 500 без деталей.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Ctx(c.Request.Context()).Error().
			Interface("panic", recovered).
			Str("path", c.Request.URL.Path).
			Str("stack", string(debug.Stack())).
			Msg("Перехвачена паника в HTTP handler")

		c.AbortWithStatusJSON(http.StatusInternalServerError,
			api.Error(api.CodeInternal, "внутренняя ошибка сервера"))
	})
}
