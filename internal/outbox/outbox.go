// Package outbox реализует Transactional Outbox для гарантированной доставки
// доменных событий в Kafka. Запись события выполняется в одной транзакции
// с изменением агрегата; отдельный Publisher забирает PENDING строки
// с блокировкой FOR UPDATE SKIP LOCKED и публикует их в брокер.
package outbox

import "time"

// Status — статус строки outbox.
type Status string

const (
	// StatusPending — событие ожидает публикации.
	StatusPending Status = "PENDING"

	// StatusProcessing — строка захвачена одним из publisher'ов.
	StatusProcessing Status = "PROCESSING"

	// StatusPublished — событие доставлено в брокер.
	StatusPublished Status = "PUBLISHED"

	// StatusFailed — попытки публикации исчерпаны (dead letter).
	StatusFailed Status = "FAILED"
)

// Event — строка таблицы outbox_events.
type Event struct {
	ID            int64      // Монотонный идентификатор строки
	EventID       string     // Глобально уникальный идентификатор события (= id конверта CloudEvents)
	TenantID      string     // Арендатор, которому принадлежит событие
	AggregateType string     // Тип агрегата (ORDER / PAYMENT / REFUND)
	AggregateID   string     // ID агрегата для ключа партиционирования
	EventType     string     // Тип события (order.created и т.д.)
	Payload       []byte     // CloudEvent JSON
	Status        Status     // Текущий статус строки
	RetryCount    int        // Количество неудачных попыток публикации
	ErrorMessage  *string    // Последняя ошибка публикации
	CreatedAt     time.Time  // Время создания (порядок публикации)
	PublishedAt   *time.Time // Время доставки в брокер
}

// Model — GORM модель для таблицы outbox_events.
type Model struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;type:varchar(36);not null;uniqueIndex:idx_outbox_event_id"`
	TenantID      string     `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_outbox_tenant"`
	AggregateType string     `gorm:"column:aggregate_type;type:varchar(32);not null"`
	AggregateID   string     `gorm:"column:aggregate_id;type:varchar(64);not null"`
	EventType     string     `gorm:"column:event_type;type:varchar(100);not null"`
	Payload       []byte     `gorm:"column:payload;type:jsonb;not null"`
	Status        string     `gorm:"column:status;type:varchar(16);not null;default:PENDING;index:idx_outbox_status_created,priority:1"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime;index:idx_outbox_status_created,priority:2"`
	PublishedAt   *time.Time `gorm:"column:published_at"`
}

// TableName возвращает имя таблицы в БД.
func (Model) TableName() string {
	return "outbox_events"
}

// ToDomain конвертирует GORM модель в доменную сущность.
func (m *Model) ToDomain() *Event {
	return &Event{
		ID:            m.ID,
		EventID:       m.EventID,
		TenantID:      m.TenantID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       m.Payload,
		Status:        Status(m.Status),
		RetryCount:    m.RetryCount,
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     m.CreatedAt,
		PublishedAt:   m.PublishedAt,
	}
}

// ModelFromDomain конвертирует доменную сущность в GORM модель.
func ModelFromDomain(e *Event) *Model {
	return &Model{
		ID:            e.ID,
		EventID:       e.EventID,
		TenantID:      e.TenantID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       e.Payload,
		Status:        string(e.Status),
		RetryCount:    e.RetryCount,
		ErrorMessage:  e.ErrorMessage,
		CreatedAt:     e.CreatedAt,
		PublishedAt:   e.PublishedAt,
	}
}
