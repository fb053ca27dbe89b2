package outbox

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
)

// ErrEventNotFound — строка outbox не найдена.
var ErrEventNotFound = errors.New("строка outbox не найдена")

// Repository определяет методы работы с таблицей outbox_events.
// Интерфейс для тестируемости (Dependency Inversion).
type Repository interface {
	// ClaimPending атомарно захватывает до limit строк PENDING,
	// переводя их в PROCESSING. Два конкурирующих publisher'а
	// никогда не захватят одну строку.
	ClaimPending(ctx context.Context, limit int) ([]*Event, error)

	// MarkPublished помечает строку как доставленную в брокер.
	MarkPublished(ctx context.Context, id int64) error

	// ScheduleRetry возвращает строку в PENDING с retry_count+1.
	ScheduleRetry(ctx context.Context, id int64, cause error) error

	// MarkFailed помечает строку как FAILED (dead letter).
	MarkFailed(ctx context.Context, id int64, cause error) error

	// DeletePublishedBefore удаляет опубликованные строки старше указанного времени.
	// Возвращает количество удалённых строк.
	DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error)

	// CountPending возвращает количество строк в статусе PENDING.
	CountPending(ctx context.Context) (int64, error)
}

// repository — GORM реализация Repository.
type repository struct {
	db *gorm.DB
}

// NewRepository создаёт репозиторий outbox.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// claimQuery захватывает PENDING строки в порядке создания.
// FOR UPDATE SKIP LOCKED пропускает строки, уже захваченные
// конкурирующим publisher'ом, вместо ожидания их блокировки.
const claimQuery = `
UPDATE outbox_events
SET status = 'PROCESSING'
WHERE id IN (
    SELECT id FROM outbox_events
    WHERE status = 'PENDING'
    ORDER BY created_at ASC, id ASC
    LIMIT ?
    FOR UPDATE SKIP LOCKED
)
RETURNING *`

// ClaimPending атомарно захватывает до limit строк PENDING.
func (r *repository) ClaimPending(ctx context.Context, limit int) ([]*Event, error) {
	var models []Model

	if err := r.db.WithContext(ctx).Raw(claimQuery, limit).Scan(&models).Error; err != nil {
		return nil, err
	}

	// RETURNING не гарантирует порядок строк: восстанавливаем
	// порядок коммита, иначе события одного агрегата уйдут в брокер
	// не в той последовательности, в которой были записаны.
	sort.Slice(models, func(i, j int) bool {
		if models[i].CreatedAt.Equal(models[j].CreatedAt) {
			return models[i].ID < models[j].ID
		}
		return models[i].CreatedAt.Before(models[j].CreatedAt)
	})

	events := make([]*Event, len(models))
	for i := range models {
		events[i] = models[i].ToDomain()
	}
	return events, nil
}

// MarkPublished помечает строку как доставленную в брокер.
func (r *repository) MarkPublished(ctx context.Context, id int64) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":       string(StatusPublished),
			"published_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// ScheduleRetry возвращает строку в PENDING и увеличивает retry_count.
// Счётчик растёт только когда повтор действительно запланирован.
func (r *repository) ScheduleRetry(ctx context.Context, id int64, cause error) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":        string(StatusPending),
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": cause.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MarkFailed помечает строку как FAILED (dead letter) с текстом ошибки.
func (r *repository) MarkFailed(ctx context.Context, id int64, cause error) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":        string(StatusFailed),
			"error_message": cause.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// DeletePublishedBefore удаляет опубликованные строки старше указанного времени.
// Удаляет пачками по 1000 для предотвращения длинных блокировок;
// DELETE ... LIMIT в PostgreSQL выражается подзапросом.
func (r *repository) DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error) {
	batch := r.db.Model(&Model{}).
		Select("id").
		Where("status = ? AND published_at < ?", StatusPublished, before).
		Limit(1000)
	result := r.db.WithContext(ctx).
		Where("id IN (?)", batch).
		Delete(&Model{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CountPending возвращает количество строк в статусе PENDING.
func (r *repository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Model{}).
		Where("status = ?", StatusPending).
		Count(&count).Error
	return count, err
}
