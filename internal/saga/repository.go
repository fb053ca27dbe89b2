package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrInstanceNotFound — экземпляр саги не найден.
var ErrInstanceNotFound = errors.New("экземпляр саги не найден")

// Repository определяет методы работы с таблицами saga_instances и saga_steps.
// Интерфейс для тестируемости (Dependency Inversion).
type Repository interface {
	// CreateInstance создаёт экземпляр саги и все его шаги в статусе
	// PENDING одной транзакцией. Возвращает ErrDuplicateCorrelation,
	// если сага с таким (tenant_id, correlation_id) уже существует.
	CreateInstance(ctx context.Context, instance *Instance, stepNames []string) error

	// SaveInstance сохраняет изменяемые поля экземпляра.
	SaveInstance(ctx context.Context, instance *Instance) error

	// UpdateStep обновляет статус шага.
	UpdateStep(ctx context.Context, sagaID, name string, status StepStatus, stepErr string) error

	// LoadSteps возвращает шаги саги в порядке выполнения.
	LoadSteps(ctx context.Context, sagaID string) ([]*StepRecord, error)

	// FindNonTerminal возвращает саги в нетерминальных статусах.
	FindNonTerminal(ctx context.Context) ([]*Instance, error)

	// DeleteTerminalBefore удаляет завершённые саги старше указанного
	// времени вместе с их шагами. Возвращает количество удалённых саг.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// repository — GORM реализация Repository.
type repository struct {
	db *gorm.DB
}

// NewRepository создаёт репозиторий саг.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// CreateInstance создаёт экземпляр саги и шаги одной транзакцией.
func (r *repository) CreateInstance(ctx context.Context, instance *Instance, stepNames []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(InstanceModelFromDomain(instance)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateCorrelation
			}
			return fmt.Errorf("ошибка создания экземпляра саги: %w", err)
		}

		steps := make([]StepModel, len(stepNames))
		for i, name := range stepNames {
			steps[i] = StepModel{
				SagaID:    instance.ID,
				StepOrder: i,
				Name:      name,
				Status:    string(StepPending),
			}
		}
		if err := tx.Create(&steps).Error; err != nil {
			return fmt.Errorf("ошибка создания шагов саги: %w", err)
		}
		return nil
	})
}

// SaveInstance сохраняет изменяемые поля экземпляра.
func (r *repository) SaveInstance(ctx context.Context, instance *Instance) error {
	result := r.db.WithContext(ctx).Model(&InstanceModel{}).
		Where("saga_id = ?", instance.ID).
		Updates(map[string]any{
			"status":         string(instance.Status),
			"current_step":   instance.CurrentStep,
			"failed_step":    instance.FailedStep,
			"failure_reason": instance.FailureReason,
			"context_blob":   instance.ContextBlob,
			"completed_at":   instance.CompletedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка сохранения экземпляра саги: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// UpdateStep обновляет статус шага с отметкой времени.
func (r *repository) UpdateStep(ctx context.Context, sagaID, name string, status StepStatus, stepErr string) error {
	now := time.Now()
	updates := map[string]any{
		"status": string(status),
		"error":  stepErr,
	}
	switch status {
	case StepCompleted, StepFailed, StepCompensated:
		updates["ended_at"] = now
	default:
		updates["started_at"] = now
	}

	result := r.db.WithContext(ctx).Model(&StepModel{}).
		Where("saga_id = ? AND name = ?", sagaID, name).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("ошибка обновления шага саги: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// LoadSteps возвращает шаги саги в порядке выполнения.
func (r *repository) LoadSteps(ctx context.Context, sagaID string) ([]*StepRecord, error) {
	var models []StepModel
	err := r.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		Order("step_order ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения шагов саги: %w", err)
	}

	steps := make([]*StepRecord, len(models))
	for i := range models {
		steps[i] = models[i].ToDomain()
	}
	return steps, nil
}

// FindNonTerminal возвращает саги в нетерминальных статусах.
func (r *repository) FindNonTerminal(ctx context.Context) ([]*Instance, error) {
	var models []InstanceModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(StatusStarted),
			string(StatusProcessing),
			string(StatusCompensating),
		}).
		Order("started_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска незавершённых саг: %w", err)
	}

	instances := make([]*Instance, len(models))
	for i := range models {
		instances[i] = models[i].ToDomain()
	}
	return instances, nil
}

// DeleteTerminalBefore удаляет завершённые саги старше указанного времени.
func (r *repository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&InstanceModel{}).
			Where("status IN ? AND completed_at < ?", []string{
				string(StatusCompleted),
				string(StatusCompensated),
				string(StatusFailed),
			}, before).
			Limit(1000).
			Pluck("saga_id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("saga_id IN ?", ids).Delete(&StepModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("saga_id IN ?", ids).Delete(&InstanceModel{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки завершённых саг: %w", err)
	}
	return deleted, nil
}
