package outbox

import (
	"context"
	"time"

	"example.com/fluxpay/pkg/config"
	"example.com/fluxpay/pkg/kafka"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// KafkaProducer — интерфейс для отправки сообщений в Kafka.
// Позволяет замокать kafka.Producer в unit-тестах (Dependency Inversion).
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// gaugeInterval — интервал обновления метрики pending строк.
const gaugeInterval = 30 * time.Second

// Publisher читает захваченные строки outbox и публикует их в Kafka.
// Гарантия доставки — at-least-once: потребители дедуплицируют по event_id.
// Несколько экземпляров Publisher безопасно работают над одной таблицей
// благодаря захвату строк через FOR UPDATE SKIP LOCKED.
type Publisher struct {
	repo     Repository
	producer KafkaProducer
	cfg      config.OutboxConfig
}

// NewPublisher создаёт Publisher.
func NewPublisher(repo Repository, producer KafkaProducer, cfg config.OutboxConfig) *Publisher {
	return &Publisher{
		repo:     repo,
		producer: producer,
		cfg:      cfg,
	}
}

// Run запускает Publisher. Блокирует выполнение до отмены контекста.
func (p *Publisher) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", p.cfg.PollingInterval).
		Int("batch_size", p.cfg.BatchSize).
		Int("max_retries", p.cfg.MaxRetries).
		Msg("Запуск Outbox Publisher")

	ticker := time.NewTicker(p.cfg.PollingInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	gaugeTicker := time.NewTicker(gaugeInterval)
	defer gaugeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Publisher")
			return
		case <-ticker.C:
			p.processBatch(ctx)
		case <-cleanupTicker.C:
			if p.cfg.CleanupEnabled {
				p.cleanupPublished(ctx)
			}
		case <-gaugeTicker.C:
			p.updatePendingGauge(ctx)
		}
	}
}

// processBatch захватывает и публикует пачку PENDING строк.
// Ошибка одной строки не прерывает обработку остальных.
func (p *Publisher) processBatch(ctx context.Context) {
	log := logger.FromContext(ctx)

	events, err := p.repo.ClaimPending(ctx, p.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка захвата строк outbox")
		return
	}

	if len(events) == 0 {
		return
	}

	log.Debug().Int("count", len(events)).Msg("Публикация строк outbox")

	for _, evt := range events {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.publishOne(ctx, evt)
	}
}

// publishOne публикует одну строку и обновляет её статус.
// При ошибке строка возвращается в PENDING, пока не исчерпаны попытки,
// после чего помечается FAILED (dead letter).
func (p *Publisher) publishOne(ctx context.Context, evt *Event) {
	log := logger.FromContext(ctx)

	msg := &kafka.Message{
		Topic: kafka.TopicForAggregate(evt.AggregateType),
		Key:   kafka.PartitionKey(evt.TenantID, evt.AggregateID),
		Value: evt.Payload,
		Headers: map[string]string{
			kafka.HeaderTenantID: evt.TenantID,
		},
	}

	if err := p.producer.SendMessage(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Int64("outbox_id", evt.ID).
			Str("event_id", evt.EventID).
			Str("topic", msg.Topic).
			Int("retry_count", evt.RetryCount).
			Msg("Ошибка публикации события")

		if evt.RetryCount < p.cfg.MaxRetries {
			if retryErr := p.repo.ScheduleRetry(ctx, evt.ID, err); retryErr != nil {
				log.Error().Err(retryErr).Int64("outbox_id", evt.ID).Msg("Ошибка планирования повтора")
			}
			return
		}

		log.Warn().
			Int64("outbox_id", evt.ID).
			Str("event_id", evt.EventID).
			Int("retry_count", evt.RetryCount).
			Msg("Dead letter: исчерпаны попытки публикации")

		if failErr := p.repo.MarkFailed(ctx, evt.ID, err); failErr != nil {
			log.Error().Err(failErr).Int64("outbox_id", evt.ID).Msg("Ошибка пометки dead letter")
		}
		metrics.OutboxFailedTotal.WithLabelValues(evt.AggregateType).Inc()
		return
	}

	if err := p.repo.MarkPublished(ctx, evt.ID); err != nil {
		// Событие уже в брокере; строка останется PROCESSING и будет
		// разобрана оператором. Потребители дедуплицируют по event_id.
		log.Error().Err(err).Int64("outbox_id", evt.ID).Msg("Ошибка пометки строки как опубликованной")
		return
	}

	metrics.OutboxPublishedTotal.WithLabelValues(evt.AggregateType).Inc()

	log.Debug().
		Int64("outbox_id", evt.ID).
		Str("event_id", evt.EventID).
		Str("topic", msg.Topic).
		Str("event_type", evt.EventType).
		Msg("Событие опубликовано")
}

// cleanupPublished удаляет опубликованные строки старше окна хранения.
func (p *Publisher) cleanupPublished(ctx context.Context) {
	log := logger.FromContext(ctx)

	before := time.Now().Add(-p.cfg.Retention())
	deleted, err := p.repo.DeletePublishedBefore(ctx, before)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Очистка опубликованных строк outbox")
	}
}

// updatePendingGauge обновляет метрику количества PENDING строк.
func (p *Publisher) updatePendingGauge(ctx context.Context) {
	count, err := p.repo.CountPending(ctx)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Ошибка подсчёта pending строк outbox")
		return
	}
	metrics.OutboxPendingGauge.Set(float64(count))
}

// ProcessSingle публикует одну строку outbox (для тестирования).
func (p *Publisher) ProcessSingle(ctx context.Context, evt *Event) error {
	msg := &kafka.Message{
		Topic: kafka.TopicForAggregate(evt.AggregateType),
		Key:   kafka.PartitionKey(evt.TenantID, evt.AggregateID),
		Value: evt.Payload,
		Headers: map[string]string{
			kafka.HeaderTenantID: evt.TenantID,
		},
	}

	if err := p.producer.SendMessage(ctx, msg); err != nil {
		if evt.RetryCount < p.cfg.MaxRetries {
			_ = p.repo.ScheduleRetry(ctx, evt.ID, err)
		} else {
			_ = p.repo.MarkFailed(ctx, evt.ID, err)
		}
		return err
	}

	return p.repo.MarkPublished(ctx, evt.ID)
}
