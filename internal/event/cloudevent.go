// Package event содержит схему доменных событий платёжного движка.
// События сериализуются в конверт CloudEvents 1.0 и публикуются в Kafka
// через transactional outbox.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// SpecVersion - версия спецификации CloudEvents.
	SpecVersion = "1.0"

	// Source - источник всех событий движка.
	Source = "fluxpay-engine"

	// TypePrefix - префикс типа события: com.fluxpay.<eventType>.
	TypePrefix = "com.fluxpay."

	// DataContentType - тип содержимого поля data.
	DataContentType = "application/json"
)

// CloudEvent — конверт CloudEvents 1.0 в JSON представлении.
// tenantid и correlationid — extension-атрибуты движка.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	DataContentType string          `json:"datacontenttype"`
	Time            time.Time       `json:"time"`
	TenantID        string          `json:"tenantid"`
	CorrelationID   string          `json:"correlationid,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// NewCloudEvent оборачивает доменное событие в конверт CloudEvents.
// Идентификатор конверта генерируется и совпадает с event_id строки outbox.
func NewCloudEvent(evt DomainEvent, tenantID, correlationID string) (*CloudEvent, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", evt.EventType(), err)
	}

	return &CloudEvent{
		SpecVersion:     SpecVersion,
		ID:              uuid.NewString(),
		Source:          Source,
		Type:            TypePrefix + evt.EventType(),
		DataContentType: DataContentType,
		Time:            time.Now().UTC(),
		TenantID:        tenantID,
		CorrelationID:   correlationID,
		Data:            data,
	}, nil
}

// Marshal сериализует конверт в JSON.
func (e *CloudEvent) Marshal() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации CloudEvent %s: %w", e.ID, err)
	}
	return payload, nil
}

// UnmarshalCloudEvent разбирает конверт из JSON и проверяет версию спецификации.
func UnmarshalCloudEvent(payload []byte) (*CloudEvent, error) {
	var e CloudEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("ошибка разбора CloudEvent: %w", err)
	}
	if e.SpecVersion != SpecVersion {
		return nil, fmt.Errorf("неподдерживаемая версия CloudEvents: %q", e.SpecVersion)
	}
	return &e, nil
}
