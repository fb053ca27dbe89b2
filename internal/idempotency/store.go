package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fluxpay/pkg/logger"
)

// Store — надёжный слой шлюза идемпотентности.
// Переживает рестарт кэша: финальная запись в хранилище имеет
// приоритет над содержимым Redis.
type Store interface {
	// TryInsert пытается вставить запись processing для ключа.
	// При конфликте возвращает существующую запись и inserted=false.
	// Просроченная запись удаляется, после чего вставка повторяется один раз.
	TryInsert(ctx context.Context, key Key, payloadHash string) (rec *Record, inserted bool, err error)

	// Complete сохраняет готовый ответ и переводит запись в completed.
	Complete(ctx context.Context, key Key, body []byte, status int) error

	// Release удаляет запись, снимая блокировку.
	Release(ctx context.Context, key Key) error
}

// Model — GORM модель таблицы idempotency_keys.
type Model struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID     string    `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:uniq_idempotency_key,priority:1"`
	Endpoint     string    `gorm:"column:endpoint;type:varchar(255);not null;uniqueIndex:uniq_idempotency_key,priority:2"`
	IdemKey      string    `gorm:"column:idem_key;type:varchar(36);not null;uniqueIndex:uniq_idempotency_key,priority:3"`
	PayloadHash  string    `gorm:"column:payload_hash;type:char(64);not null"`
	ResponseBody []byte    `gorm:"column:response_body;type:bytea"`
	HTTPStatus   int       `gorm:"column:http_status"`
	State        string    `gorm:"column:state;type:varchar(16);not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index"`
}

// TableName возвращает имя таблицы в БД.
func (Model) TableName() string {
	return "idempotency_keys"
}

// ToRecord конвертирует модель в Record.
func (m *Model) ToRecord() *Record {
	return &Record{
		TenantID:     m.TenantID,
		Endpoint:     m.Endpoint,
		Key:          m.IdemKey,
		PayloadHash:  m.PayloadHash,
		ResponseBody: m.ResponseBody,
		HTTPStatus:   m.HTTPStatus,
		State:        m.State,
		CreatedAt:    m.CreatedAt,
		ExpiresAt:    m.ExpiresAt,
	}
}

// GormStore — PostgreSQL реализация Store.
type GormStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewStore создаёт надёжное хранилище записей идемпотентности.
func NewStore(db *gorm.DB, ttl time.Duration) *GormStore {
	return &GormStore{db: db, ttl: ttl}
}

// TryInsert выполняет INSERT ... ON CONFLICT DO NOTHING.
func (s *GormStore) TryInsert(ctx context.Context, key Key, payloadHash string) (*Record, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		now := time.Now()
		model := &Model{
			TenantID:    key.TenantID,
			Endpoint:    key.Endpoint,
			IdemKey:     key.Key,
			PayloadHash: payloadHash,
			State:       StateProcessing,
			ExpiresAt:   now.Add(s.ttl),
		}

		result := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "endpoint"}, {Name: "idem_key"}},
				DoNothing: true,
			}).
			Create(model)
		if result.Error != nil {
			return nil, false, fmt.Errorf("ошибка вставки записи идемпотентности: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return model.ToRecord(), true, nil
		}

		// Конфликт: читаем существующую запись
		var existing Model
		err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND endpoint = ? AND idem_key = ?", key.TenantID, key.Endpoint, key.Key).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Запись исчезла между вставкой и чтением (Release конкурента)
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("ошибка чтения записи идемпотентности: %w", err)
		}

		if existing.ExpiresAt.After(now) {
			return existing.ToRecord(), false, nil
		}

		// Просроченная запись: удаляем и повторяем вставку
		if err := s.db.WithContext(ctx).
			Where("id = ? AND expires_at <= ?", existing.ID, now).
			Delete(&Model{}).Error; err != nil {
			return nil, false, fmt.Errorf("ошибка удаления просроченной записи: %w", err)
		}
	}

	return nil, false, errors.New("не удалось вставить запись идемпотентности")
}

// Complete сохраняет готовый ответ и переводит запись в completed.
func (s *GormStore) Complete(ctx context.Context, key Key, body []byte, status int) error {
	result := s.db.WithContext(ctx).Model(&Model{}).
		Where("tenant_id = ? AND endpoint = ? AND idem_key = ?", key.TenantID, key.Endpoint, key.Key).
		Updates(map[string]any{
			"state":         StateCompleted,
			"response_body": body,
			"http_status":   status,
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка сохранения ответа: %w", result.Error)
	}
	return nil
}

// Release удаляет запись, снимая блокировку.
func (s *GormStore) Release(ctx context.Context, key Key) error {
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND endpoint = ? AND idem_key = ?", key.TenantID, key.Endpoint, key.Key).
		Delete(&Model{}).Error
	if err != nil {
		return fmt.Errorf("ошибка удаления записи идемпотентности: %w", err)
	}
	return nil
}

// PurgeExpired удаляет просроченные записи пачками по 1000.
// Возвращает количество удалённых.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	batch := s.db.Model(&Model{}).
		Select("id").
		Where("expires_at < ?", time.Now()).
		Limit(1000)
	result := s.db.WithContext(ctx).
		Where("id IN (?)", batch).
		Delete(&Model{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// RunPurge периодически удаляет просроченные записи.
// Блокирует выполнение до отмены контекста.
func (s *GormStore) RunPurge(ctx context.Context, interval time.Duration) {
	log := logger.FromContext(ctx)
	log.Info().Dur("interval", interval).Msg("Запуск очистки записей идемпотентности")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка очистки записей идемпотентности")
			return
		case <-ticker.C:
			deleted, err := s.PurgeExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Ошибка очистки просроченных записей")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Удалены просроченные записи идемпотентности")
			}
		}
	}
}
