package outbox

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fluxpay/internal/event"
	"example.com/fluxpay/pkg/kafka"
	"example.com/fluxpay/pkg/logger"
)

// ProcessedModel — GORM модель таблицы processed_events.
// Потребители дедуплицируют входящие события по event_id:
// доставка at-least-once, обработка — exactly-once.
type ProcessedModel struct {
	EventID     string    `gorm:"column:event_id;type:varchar(36);primaryKey"`
	ProcessedAt time.Time `gorm:"column:processed_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ProcessedModel) TableName() string {
	return "processed_events"
}

// ProcessedRepository отслеживает обработанные события на стороне потребителя.
type ProcessedRepository interface {
	// TryMarkProcessed пытается зафиксировать событие как обработанное.
	// Возвращает false, если событие уже было обработано ранее.
	TryMarkProcessed(ctx context.Context, eventID string) (bool, error)

	// DeleteProcessedBefore удаляет отметки старше указанного времени.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type processedRepository struct {
	db *gorm.DB
}

// NewProcessedRepository создаёт репозиторий processed_events.
func NewProcessedRepository(db *gorm.DB) ProcessedRepository {
	return &processedRepository{db: db}
}

// TryMarkProcessed выполняет INSERT ... ON CONFLICT DO NOTHING.
// Нулевое количество затронутых строк означает дубликат.
func (r *processedRepository) TryMarkProcessed(ctx context.Context, eventID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ProcessedModel{EventID: eventID})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeleteProcessedBefore удаляет отметки старше указанного времени.
// Удаление пачками: DELETE ... LIMIT в PostgreSQL выражается подзапросом.
func (r *processedRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	batch := r.db.Model(&ProcessedModel{}).
		Select("event_id").
		Where("processed_at < ?", before).
		Limit(1000)
	result := r.db.WithContext(ctx).
		Where("event_id IN (?)", batch).
		Delete(&ProcessedModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Deduplicated оборачивает обработчик Kafka дедупликацией по event_id
// конверта CloudEvents. Повторно доставленные события пропускаются.
func Deduplicated(repo ProcessedRepository, handler kafka.MessageHandler) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		ce, err := event.UnmarshalCloudEvent(msg.Value)
		if err != nil {
			return err
		}

		fresh, err := repo.TryMarkProcessed(ctx, ce.ID)
		if err != nil {
			return err
		}
		if !fresh {
			logger.Ctx(ctx).Debug().
				Str("event_id", ce.ID).
				Str("type", ce.Type).
				Msg("Повторная доставка события пропущена")
			return nil
		}

		return handler(ctx, msg)
	}
}
