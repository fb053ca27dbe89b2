package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/api"
	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/service"
)

// paymentDTO — платёж в ответе API.
type paymentDTO struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"orderId"`
	Status          string     `json:"status"`
	Method          string     `json:"method"`
	Amount          moneyDTO   `json:"amount"`
	PGTransactionID *string    `json:"pgTransactionId,omitempty"`
	FailureReason   *string    `json:"failureReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmedAt,omitempty"`
}

func newPaymentDTO(payment *domain.Payment) paymentDTO {
	return paymentDTO{
		ID:              payment.ID,
		OrderID:         payment.OrderID,
		Status:          string(payment.Status),
		Method:          payment.Method,
		Amount:          newMoneyDTO(payment.Amount),
		PGTransactionID: payment.PGTransactionID,
		FailureReason:   payment.FailureReason,
		CreatedAt:       payment.CreatedAt,
		ApprovedAt:      payment.ApprovedAt,
		ConfirmedAt:     payment.ConfirmedAt,
	}
}

// PaymentHandler обрабатывает запросы /api/v1/payments.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler создаёт обработчик платежей.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Create обрабатывает POST /api/v1/payments: запускает сагу платежа
// и блокируется до её завершения.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req service.PaymentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest,
			api.Error(api.CodeInvalidRequest, "некорректное тело запроса"))
		return
	}

	result, err := h.payments.ProcessPayment(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, api.Success(result))
}

// Get обрабатывает GET /api/v1/payments/:id.
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.payments.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.Success(newPaymentDTO(payment)))
}
