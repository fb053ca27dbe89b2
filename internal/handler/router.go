package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/fluxpay/internal/idempotency"
	"example.com/fluxpay/pkg/config"
	"example.com/fluxpay/pkg/metrics"
	"example.com/fluxpay/pkg/middleware"
)

// Router собирает HTTP маршруты платёжного движка.
type Router struct {
	orders   *OrderHandler
	payments *PaymentHandler
	refunds  *RefundHandler

	gate *idempotency.Gate
	cfg  *config.Config
}

// NewRouter создаёт сборщик маршрутов.
func NewRouter(
	orders *OrderHandler,
	payments *PaymentHandler,
	refunds *RefundHandler,
	gate *idempotency.Gate,
	cfg *config.Config,
) *Router {
	return &Router{
		orders:   orders,
		payments: payments,
		refunds:  refunds,
		gate:     gate,
		cfg:      cfg,
	}
}

// Setup настраивает gin.Engine: middleware цепочку и маршруты API.
func (r *Router) Setup() *gin.Engine {
	if r.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logging(),
		metrics.GinMetricsMiddleware(r.cfg.App.Name),
		otelgin.Middleware(r.cfg.App.Name),
	)

	// Health endpoints не требуют арендатора
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})

	v1 := engine.Group("/api/v1")
	v1.Use(
		middleware.Tenant(),
		idempotency.Middleware(r.gate, r.cfg.Idempotency),
	)

	v1.POST("/orders", r.orders.Create)
	v1.GET("/orders", r.orders.List)
	v1.GET("/orders/:id", r.orders.Get)
	v1.PUT("/orders/:id/cancel", r.orders.Cancel)

	v1.POST("/payments", r.payments.Create)
	v1.GET("/payments/:id", r.payments.Get)

	v1.POST("/refunds", r.refunds.Create)
	v1.GET("/refunds/:id", r.refunds.Get)

	return engine
}
