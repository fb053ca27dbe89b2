// Package handler содержит HTTP обработчики API платёжного движка.
// Обработчики тонкие: разбор запроса, вызов сервиса, конверт ответа.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/api"
	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/service"
)

// moneyDTO — денежная сумма в ответе API. Сумма строкой для точности.
type moneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func newMoneyDTO(m domain.Money) moneyDTO {
	return moneyDTO{Amount: m.Amount.String(), Currency: m.Currency}
}

// orderItemDTO — позиция заказа в ответе API.
type orderItemDTO struct {
	ProductID   string   `json:"productId"`
	ProductName string   `json:"productName"`
	Quantity    int32    `json:"quantity"`
	UnitPrice   moneyDTO `json:"unitPrice"`
	TotalPrice  moneyDTO `json:"totalPrice"`
}

// orderDTO — заказ в ответе API.
type orderDTO struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Status      string            `json:"status"`
	Currency    string            `json:"currency"`
	TotalAmount moneyDTO          `json:"totalAmount"`
	Items       []orderItemDTO    `json:"items"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	PaidAt      *time.Time        `json:"paidAt,omitempty"`
}

func newOrderDTO(order *domain.Order) orderDTO {
	items := make([]orderItemDTO, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   newMoneyDTO(item.UnitPrice),
			TotalPrice:  newMoneyDTO(item.TotalPrice),
		}
	}
	return orderDTO{
		ID:          order.ID,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		TotalAmount: newMoneyDTO(order.TotalAmount),
		Items:       items,
		Metadata:    order.Metadata,
		CreatedAt:   order.CreatedAt,
		PaidAt:      order.PaidAt,
	}
}

// cancelOrderRequest — тело запроса отмены заказа.
type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandler обрабатывает запросы /api/v1/orders.
type OrderHandler struct {
	orders *service.OrderService
}

// NewOrderHandler создаёт обработчик заказов.
func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Create обрабатывает POST /api/v1/orders.
func (h *OrderHandler) Create(c *gin.Context) {
	var req service.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest,
			api.Error(api.CodeInvalidRequest, "некорректное тело запроса"))
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, api.Success(newOrderDTO(order)))
}

// Get обрабатывает GET /api/v1/orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.Success(newOrderDTO(order)))
}

// List обрабатывает GET /api/v1/orders.
func (h *OrderHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, err := h.orders.ListOrders(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	dtos := make([]orderDTO, len(orders))
	for i, order := range orders {
		dtos[i] = newOrderDTO(order)
	}
	c.JSON(http.StatusOK, api.Success(dtos))
}

// Cancel обрабатывает PUT /api/v1/orders/:id/cancel.
// Повторная отмена уже отменённого заказа успешна.
func (h *OrderHandler) Cancel(c *gin.Context) {
	var req cancelOrderRequest
	// Тело опционально
	_ = c.ShouldBindJSON(&req)

	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.Success(newOrderDTO(order)))
}
