package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fluxpay/internal/api"
	"example.com/fluxpay/pkg/tenant"
)

const testIdemKey = "b2c7e6d0-1111-4222-8333-444455556666"

// injectTenant кладёт тенанта в контекст запроса (вместо полного
// tenant middleware).
func injectTenant(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id != "" {
			c.Request = c.Request.WithContext(tenant.WithID(c.Request.Context(), id))
		}
		c.Next()
	}
}

func newTestRouter(t *testing.T, gate *Gate, handlerCalls *atomic.Int64, handlerStatus int) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(injectTenant("tenant-a"))
	router.Use(Middleware(gate, testIdempotencyConfig()))
	router.POST("/api/v1/payments", func(c *gin.Context) {
		handlerCalls.Add(1)
		if handlerStatus >= http.StatusBadRequest {
			c.JSON(handlerStatus, api.Error(api.CodeInternal, "внутренняя ошибка сервера"))
			return
		}
		c.JSON(handlerStatus, api.Success(gin.H{"paymentId": "pay_1"}))
	})
	return router
}

func doRequest(router *gin.Engine, key string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SecondRequestReplaysResponse(t *testing.T) {
	cache, _ := newTestCache(t)
	gate := NewGate(cache, newMemStore())
	var calls atomic.Int64
	router := newTestRouter(t, gate, &calls, http.StatusCreated)

	first := doRequest(router, testIdemKey, `{"amount":10000,"currency":"KRW"}`)
	second := doRequest(router, testIdemKey, `{"amount":10000,"currency":"KRW"}`)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes(), "повторный ответ должен совпадать байт-в-байт")
	assert.Equal(t, int64(1), calls.Load(), "обработчик должен выполниться ровно один раз")
}

func TestMiddleware_PayloadMismatch(t *testing.T) {
	cache, _ := newTestCache(t)
	gate := NewGate(cache, newMemStore())
	var calls atomic.Int64
	router := newTestRouter(t, gate, &calls, http.StatusCreated)

	first := doRequest(router, testIdemKey, `{"amount":10000,"currency":"KRW"}`)
	second := doRequest(router, testIdemKey, `{"amount":99999,"currency":"KRW"}`)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, second.Code)
	assert.Contains(t, second.Body.String(), api.CodeIdempotencyConflict)
	assert.Equal(t, int64(1), calls.Load())
}

func TestMiddleware_ProcessingReturns409(t *testing.T) {
	cache, _ := newTestCache(t)
	gate := NewGate(cache, newMemStore())
	var calls atomic.Int64
	router := newTestRouter(t, gate, &calls, http.StatusCreated)

	body := `{"amount":10000,"currency":"KRW"}`
	key := Key{
		TenantID: "tenant-a",
		Endpoint: "POST:/api/v1/payments",
		Key:      testIdemKey,
	}
	// Первый запрос «в полёте»: блокировка захвачена, но не завершена
	_, err := gate.Acquire(context.Background(), key, BodyHash([]byte(body)))
	require.NoError(t, err)

	rec := doRequest(router, testIdemKey, body)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), api.CodeIdempotencyProcessing)
	assert.Equal(t, int64(0), calls.Load())
}

func TestMiddleware_MissingKey(t *testing.T) {
	cache, _ := newTestCache(t)
	gate := NewGate(cache, newMemStore())
	var calls atomic.Int64
	router := newTestRouter(t, gate, &calls, http.StatusCreated)

	rec := doRequest(router, "", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), api.CodeIdempotencyKeyMissing)
	assert.Equal(t, int64(0), calls.Load())
}

func TestMiddleware_InvalidKey(t *testing.T) {
	cache, _ := newTestCache(t)
	gate := NewGate(cache, newMemStore())
	var calls atomic.Int64
	router := newTestRouter(t, gate, &calls, http.StatusCreated)

	rec := doRequest(router, "not-a-uuid", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), api.CodeIdempotencyKeyInvalid)
	assert.Equal(t, int64(0), calls.Load())
}

func TestMiddleware_MissingTenant(t *testing.T) {
	cache, _ := newTestCache(t)
	gate := NewGate(cache, newMemStore())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware(gate, testIdempotencyConfig()))
	router.POST("/api/v1/payments", func(c *gin.Context) {
		c.JSON(http.StatusCreated, api.Success(nil))
	})

	rec := doRequest(router, testIdemKey, `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), api.CodeTenantMissing)
}

func TestMiddleware_HandlerFailureReleasesLock(t *testing.T) {
	cache, _ := newTestCache(t)
	store := newMemStore()
	gate := NewGate(cache, store)

	var calls atomic.Int64
	failing := newTestRouter(t, gate, &calls, http.StatusInternalServerError)
	succeeding := newTestRouter(t, gate, &calls, http.StatusCreated)

	body := `{"amount":10000,"currency":"KRW"}`

	first := doRequest(failing, testIdemKey, body)
	assert.Equal(t, http.StatusInternalServerError, first.Code)

	// Блокировка снята: повтор с тем же ключом выполняется заново
	retry := doRequest(succeeding, testIdemKey, body)
	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.Equal(t, int64(2), calls.Load())
}

func TestMiddleware_CacheDownFallsBackToStore(t *testing.T) {
	cache, mr := newTestCache(t)
	gate := NewGate(cache, newMemStore())
	var calls atomic.Int64
	router := newTestRouter(t, gate, &calls, http.StatusCreated)

	mr.Close()

	first := doRequest(router, testIdemKey, `{"amount":10000,"currency":"KRW"}`)
	second := doRequest(router, testIdemKey, `{"amount":10000,"currency":"KRW"}`)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, int64(1), calls.Load())
}

func TestMiddleware_GetRequestBypassesGate(t *testing.T) {
	cache, _ := newTestCache(t)
	gate := NewGate(cache, newMemStore())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(injectTenant("tenant-a"))
	router.Use(Middleware(gate, testIdempotencyConfig()))
	var calls atomic.Int64
	router.GET("/api/v1/orders/o1", func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusOK, api.Success(gin.H{"orderId": "o1"}))
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/o1", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, int64(2), calls.Load(), "GET запросы не проходят через шлюз идемпотентности")
}
