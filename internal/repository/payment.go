package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
)

// PaymentRepository определяет методы работы с платежами.
type PaymentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Payment, error)
	FindByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*domain.Payment, error)

	// Update сохраняет изменяемые поля с оптимистичной блокировкой.
	Update(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error
}

type paymentRepository struct{}

// NewPaymentRepository создаёт репозиторий платежей.
func NewPaymentRepository() PaymentRepository {
	return &paymentRepository{}
}

// Create сохраняет платёж.
func (r *paymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	if err := tx.WithContext(ctx).Create(PaymentModelFromDomain(payment)).Error; err != nil {
		return fmt.Errorf("ошибка создания платежа: %w", err)
	}
	return nil
}

// FindByID загружает платёж и проверяет инварианты.
func (r *paymentRepository) FindByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Payment, error) {
	var model PaymentModel
	err := tx.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения платежа: %w", err)
	}
	return model.ToDomain()
}

// FindByOrderID загружает платёж по заказу (1:1).
func (r *paymentRepository) FindByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*domain.Payment, error) {
	var model PaymentModel
	err := tx.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения платежа: %w", err)
	}
	return model.ToDomain()
}

// Update сохраняет изменяемые поля с проверкой версии.
func (r *paymentRepository) Update(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	result := tx.WithContext(ctx).Model(&PaymentModel{}).
		Where("id = ? AND version = ?", payment.ID, payment.Version).
		Updates(map[string]any{
			"status":            string(payment.Status),
			"pg_transaction_id": payment.PGTransactionID,
			"pg_payment_key":    payment.PGPaymentKey,
			"failure_reason":    payment.FailureReason,
			"approved_at":       payment.ApprovedAt,
			"confirmed_at":      payment.ConfirmedAt,
			"version":           payment.Version + 1,
			"updated_at":        payment.UpdatedAt,
		})
	if result.Error != nil {
		// Частичный уникальный индекс (tenant_id, pg_payment_key):
		// ключ шлюза нельзя привязать ко второму платежу арендатора.
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicatePGPaymentKey
		}
		return fmt.Errorf("ошибка обновления платежа: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := tx.WithContext(ctx).Model(&PaymentModel{}).
			Where("id = ?", payment.ID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("ошибка проверки платежа: %w", err)
		}
		if count == 0 {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrVersionConflict
	}

	payment.Version++
	return nil
}
