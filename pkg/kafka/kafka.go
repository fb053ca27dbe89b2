// Package kafka предоставляет обёртки над kafka-go для публикации доменных событий.
// Включает Producer и Consumer с поддержкой headers, трассировки и graceful shutdown.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fluxpay/pkg/logger"
)

// TopicDLQ - Dead Letter Queue для необработанных сообщений.
const TopicDLQ = "fluxpay.dlq.events"

// TopicForAggregate возвращает топик доменных событий агрегата.
// Формат: fluxpay.<aggregateType в нижнем регистре>.events.
func TopicForAggregate(aggregateType string) string {
	return fmt.Sprintf("fluxpay.%s.events", strings.ToLower(aggregateType))
}

// PartitionKey возвращает ключ партиционирования <tenantId>:<aggregateId>.
// События одного агрегата попадают в одну партицию и сохраняют порядок.
func PartitionKey(tenantID, aggregateID string) []byte {
	return []byte(tenantID + ":" + aggregateID)
}

// Ключи для headers сообщений Kafka.
const (
	// HeaderRequestID - идентификатор запроса для сквозной трассировки.
	HeaderRequestID = "request_id"

	// HeaderCorrelationID - идентификатор корреляции бизнес-транзакции.
	HeaderCorrelationID = "correlation_id"

	// HeaderTenantID - идентификатор арендатора, которому принадлежит событие.
	HeaderTenantID = "tenant_id"

	// HeaderTimestamp - временная метка создания сообщения.
	HeaderTimestamp = "timestamp"
)

// Config содержит настройки для подключения к Kafka.
type Config struct {
	// Brokers - список адресов брокеров Kafka.
	Brokers []string

	// ConsumerGroup - имя consumer group для Consumer.
	ConsumerGroup string
}

// Message представляет сообщение Kafka с метаданными.
type Message struct {
	// Key - ключ сообщения для партиционирования.
	Key []byte

	// Value - тело сообщения (payload).
	Value []byte

	// Topic - топик сообщения.
	Topic string

	// Partition - номер партиции.
	Partition int

	// Offset - смещение сообщения в партиции.
	Offset int64

	// Headers - заголовки сообщения (request_id, correlation_id и т.д.).
	Headers map[string]string

	// Time - временная метка сообщения.
	Time time.Time
}

// fromKafkaMessage конвертирует kafka.Message в Message.
func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// RequestIDFromContext извлекает request_id из context.
// Делегирует в pkg/logger для единообразной работы с контекстом.
func RequestIDFromContext(ctx context.Context) string {
	return logger.RequestIDFromContext(ctx)
}

// CorrelationIDFromContext извлекает correlation_id из context.
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}

// ContextWithRequestID добавляет request_id в context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return logger.WithRequestID(ctx, requestID)
}

// ContextWithCorrelationID добавляет correlation_id в context.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return logger.WithCorrelationID(ctx, correlationID)
}
