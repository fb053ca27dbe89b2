package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
)

// OrderRepository определяет методы работы с заказами.
// Все методы принимают tx открытой тенантной транзакции.
type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *domain.Order) error
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Order, error)

	// Update сохраняет изменяемые поля с оптимистичной блокировкой:
	// конкурирующая запись получает ErrVersionConflict.
	Update(ctx context.Context, tx *gorm.DB, order *domain.Order) error

	List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*domain.Order, error)
}

type orderRepository struct{}

// NewOrderRepository создаёт репозиторий заказов.
func NewOrderRepository() OrderRepository {
	return &orderRepository{}
}

// Create сохраняет заказ вместе с позициями.
func (r *orderRepository) Create(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	if err := tx.WithContext(ctx).Create(OrderModelFromDomain(order)).Error; err != nil {
		return fmt.Errorf("ошибка создания заказа: %w", err)
	}
	return nil
}

// FindByID загружает заказ с позициями и проверяет инварианты.
func (r *orderRepository) FindByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Order, error) {
	var model OrderModel
	err := tx.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения заказа: %w", err)
	}
	return model.ToDomain()
}

// Update сохраняет изменяемые поля с проверкой версии.
func (r *orderRepository) Update(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	result := tx.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]any{
			"status":         string(order.Status),
			"failure_reason": order.FailureReason,
			"paid_at":        order.PaidAt,
			"completed_at":   order.CompletedAt,
			"version":        order.Version + 1,
			"updated_at":     order.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка обновления заказа: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := tx.WithContext(ctx).Model(&OrderModel{}).
			Where("id = ?", order.ID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("ошибка проверки заказа: %w", err)
		}
		if count == 0 {
			return domain.ErrOrderNotFound
		}
		return domain.ErrVersionConflict
	}

	order.Version++
	return nil
}

// List возвращает заказы текущего арендатора (новые первыми).
func (r *orderRepository) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*domain.Order, error) {
	var models []OrderModel
	err := tx.WithContext(ctx).
		Preload("Items").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка заказов: %w", err)
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		order, err := models[i].ToDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
