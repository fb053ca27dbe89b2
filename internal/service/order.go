package service

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/event"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/tenant"
)

// OrderItemInput — позиция создаваемого заказа.
type OrderItemInput struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// CreateOrderInput — параметры создания заказа.
type CreateOrderInput struct {
	UserID   string            `json:"userId"`
	Currency string            `json:"currency"`
	Items    []OrderItemInput  `json:"items"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OrderService — операции над заказами.
type OrderService struct {
	txm    repository.TxManager
	orders repository.OrderRepository
	outbox OutboxWriter
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(txm repository.TxManager, orders repository.OrderRepository, outbox OutboxWriter) *OrderService {
	return &OrderService{
		txm:    txm,
		orders: orders,
		outbox: outbox,
	}
}

// CreateOrder создаёт заказ и атомарно публикует OrderCreated через outbox.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OrderLineItem, len(input.Items))
	for i, in := range input.Items {
		price, err := domain.NewMoney(in.UnitPrice, input.Currency)
		if err != nil {
			return nil, err
		}
		items[i] = domain.OrderLineItem{
			ProductID:   in.ProductID,
			ProductName: in.ProductName,
			Quantity:    in.Quantity,
			UnitPrice:   price,
		}
	}

	order, err := domain.NewOrder(tenantID, input.UserID, input.Currency, items, input.Metadata)
	if err != nil {
		return nil, err
	}

	err = s.txm.Do(ctx, func(tx *gorm.DB) error {
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, event.NewOrderCreated(order))
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("user_id", order.UserID).
		Str("total", order.TotalAmount.String()).
		Msg("Заказ создан")

	return order, nil
}

// GetOrder возвращает заказ текущего арендатора.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order *domain.Order
	err := s.txm.Do(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.orders.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders возвращает заказы текущего арендатора.
func (s *OrderService) ListOrders(ctx context.Context, limit, offset int) ([]*domain.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var orders []*domain.Order
	err := s.txm.Do(ctx, func(tx *gorm.DB) error {
		var err error
		orders, err = s.orders.List(ctx, tx, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelOrder отменяет заказ. Операция идемпотентна: повторная отмена
// уже отменённого заказа успешна и не публикует новое событие.
func (s *OrderService) CancelOrder(ctx context.Context, id, reason string) (*domain.Order, error) {
	var order *domain.Order
	err := s.txm.Do(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.orders.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}

		if order.Status == domain.OrderStatusCancelled {
			return nil
		}

		if err := order.Cancel(); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, event.OrderCancelled{OrderID: order.ID, Reason: reason})
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("reason", reason).
		Msg("Заказ отменён")

	return order, nil
}
