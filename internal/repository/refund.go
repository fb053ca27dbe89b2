package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
)

// RefundRepository определяет методы работы с возвратами.
type RefundRepository interface {
	Create(ctx context.Context, tx *gorm.DB, refund *domain.Refund) error
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Refund, error)
	Update(ctx context.Context, tx *gorm.DB, refund *domain.Refund) error
}

type refundRepository struct{}

// NewRefundRepository создаёт репозиторий возвратов.
func NewRefundRepository() RefundRepository {
	return &refundRepository{}
}

// Create сохраняет возврат.
func (r *refundRepository) Create(ctx context.Context, tx *gorm.DB, refund *domain.Refund) error {
	if err := tx.WithContext(ctx).Create(RefundModelFromDomain(refund)).Error; err != nil {
		return fmt.Errorf("ошибка создания возврата: %w", err)
	}
	return nil
}

// FindByID загружает возврат.
func (r *refundRepository) FindByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Refund, error) {
	var model RefundModel
	err := tx.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRefundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения возврата: %w", err)
	}
	return model.ToDomain(), nil
}

// Update сохраняет изменяемые поля возврата.
func (r *refundRepository) Update(ctx context.Context, tx *gorm.DB, refund *domain.Refund) error {
	result := tx.WithContext(ctx).Model(&RefundModel{}).
		Where("id = ?", refund.ID).
		Updates(map[string]any{
			"status":       string(refund.Status),
			"pg_refund_id": refund.PGRefundID,
			"error":        refund.Error,
			"completed_at": refund.CompletedAt,
			"updated_at":   refund.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка обновления возврата: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrRefundNotFound
	}
	return nil
}
