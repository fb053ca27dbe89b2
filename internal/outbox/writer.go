package outbox

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"example.com/fluxpay/internal/event"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/tenant"
)

// Writer добавляет строку outbox в текущую транзакцию вызывающего кода.
// Никогда не обращается к брокеру: запись агрегата и события коммитятся атомарно.
type Writer struct{}

// NewWriter создаёт Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Publish сериализует доменное событие в конверт CloudEvents и добавляет
// строку outbox в транзакцию tx. Арендатор берётся из контекста,
// correlation_id — из контекста запроса (ключ идемпотентности или saga).
func (w *Writer) Publish(ctx context.Context, tx *gorm.DB, evt event.DomainEvent) error {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return err
	}

	ce, err := event.NewCloudEvent(evt, tenantID, logger.CorrelationIDFromContext(ctx))
	if err != nil {
		return err
	}

	payload, err := ce.Marshal()
	if err != nil {
		return err
	}

	model := &Model{
		EventID:       ce.ID,
		TenantID:      tenantID,
		AggregateType: evt.AggregateType(),
		AggregateID:   evt.AggregateID(),
		EventType:     evt.EventType(),
		Payload:       payload,
		Status:        string(StatusPending),
	}

	if err := tx.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("ошибка записи события в outbox: %w", err)
	}

	logger.Ctx(ctx).Debug().
		Str("event_id", ce.ID).
		Str("event_type", evt.EventType()).
		Str("aggregate_id", evt.AggregateID()).
		Msg("Событие добавлено в outbox")

	return nil
}
