package idempotency

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/fluxpay/internal/api"
	"example.com/fluxpay/pkg/config"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
	"example.com/fluxpay/pkg/tenant"
)

// HeaderIdempotencyKey — обязательный заголовок мутирующих запросов.
const HeaderIdempotencyKey = "X-Idempotency-Key"

// captureWriter перехватывает тело ответа для сохранения в шлюзе.
type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware оборачивает мутирующие запросы (POST/PUT) шлюзом
// идемпотентности. Повторный запрос с тем же ключом и телом получает
// закэшированный ответ байт-в-байт, не доходя до обработчика.
func Middleware(gate *Gate, cfg config.IdempotencyConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut {
			c.Next()
			return
		}

		tenantID, err := tenant.RequireID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				api.Error(api.CodeTenantMissing, "заголовок X-Tenant-Id обязателен"))
			return
		}

		rawKey := c.GetHeader(HeaderIdempotencyKey)
		if rawKey == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				api.Error(api.CodeIdempotencyKeyMissing, "заголовок X-Idempotency-Key обязателен"))
			return
		}
		if _, err := uuid.Parse(rawKey); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				api.Error(api.CodeIdempotencyKeyInvalid, "ключ идемпотентности должен быть UUID"))
			return
		}

		rawBody, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				api.Error(api.CodeInvalidRequest, "не удалось прочитать тело запроса"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		key := Key{
			TenantID: tenantID,
			Endpoint: c.Request.Method + ":" + c.Request.URL.Path,
			Key:      rawKey,
		}
		payloadHash := BodyHash(rawBody)

		// Ключ идемпотентности служит correlation_id сквозь всю обработку
		ctx := logger.WithCorrelationID(c.Request.Context(), rawKey)
		c.Request = c.Request.WithContext(ctx)

		res, err := gate.Acquire(ctx, key, payloadHash)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("endpoint", key.Endpoint).
				Msg("Ошибка захвата блокировки идемпотентности")
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				api.Error(api.CodeInternal, "внутренняя ошибка сервера"))
			return
		}

		switch res.Outcome {
		case OutcomeHit:
			metrics.IdempotencyHitsTotal.WithLabelValues(key.Endpoint).Inc()
			logger.Ctx(ctx).Info().
				Str("endpoint", key.Endpoint).
				Int("status", res.Status).
				Msg("Повторный запрос: ответ воспроизведён из шлюза идемпотентности")
			c.Data(res.Status, "application/json; charset=utf-8", res.Body)
			c.Abort()
			return
		case OutcomeConflict:
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity,
				api.Error(api.CodeIdempotencyConflict, "тот же ключ идемпотентности с другим телом запроса"))
			return
		case OutcomeProcessing:
			c.AbortWithStatusJSON(http.StatusConflict,
				api.Error(api.CodeIdempotencyProcessing, "первый запрос ещё обрабатывается, повторите позже"))
			return
		}

		// ACQUIRED: выполняем обработчик, перехватывая тело ответа
		writer := &captureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer

		c.Next()

		status := writer.Status()
		if status < http.StatusBadRequest && len(c.Errors) == 0 {
			if err := gate.Complete(ctx, key, payloadHash, writer.body.Bytes(), status); err != nil {
				logger.Ctx(ctx).Error().Err(err).
					Str("endpoint", key.Endpoint).
					Msg("Ошибка сохранения ответа в шлюзе идемпотентности")
			}
			return
		}

		// Обработчик завершился ошибкой: снимаем блокировку,
		// чтобы повтор с тем же ключом смог выполниться
		if err := gate.Release(ctx, key); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("endpoint", key.Endpoint).
				Msg("Ошибка снятия блокировки идемпотентности")
		}
	}
}
