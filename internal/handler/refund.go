package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/api"
	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/service"
)

// refundDTO — возврат в ответе API.
type refundDTO struct {
	ID          string     `json:"id"`
	PaymentID   string     `json:"paymentId"`
	Status      string     `json:"status"`
	Amount      moneyDTO   `json:"amount"`
	Reason      string     `json:"reason,omitempty"`
	PGRefundID  *string    `json:"pgRefundId,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func newRefundDTO(refund *domain.Refund) refundDTO {
	return refundDTO{
		ID:          refund.ID,
		PaymentID:   refund.PaymentID,
		Status:      string(refund.Status),
		Amount:      newMoneyDTO(refund.Amount),
		Reason:      refund.Reason,
		PGRefundID:  refund.PGRefundID,
		Error:       refund.Error,
		CreatedAt:   refund.CreatedAt,
		CompletedAt: refund.CompletedAt,
	}
}

// RefundHandler обрабатывает запросы /api/v1/refunds.
type RefundHandler struct {
	refunds *service.RefundService
}

// NewRefundHandler создаёт обработчик возвратов.
func NewRefundHandler(refunds *service.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

// Create обрабатывает POST /api/v1/refunds.
func (h *RefundHandler) Create(c *gin.Context) {
	var req service.CreateRefundInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest,
			api.Error(api.CodeInvalidRequest, "некорректное тело запроса"))
		return
	}

	refund, err := h.refunds.CreateRefund(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, api.Success(newRefundDTO(refund)))
}

// Get обрабатывает GET /api/v1/refunds/:id.
func (h *RefundHandler) Get(c *gin.Context) {
	refund, err := h.refunds.GetRefund(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.Success(newRefundDTO(refund)))
}
