package saga

import (
	"context"
	"time"

	"example.com/fluxpay/pkg/config"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// cleanupInterval — интервал очистки завершённых саг.
const cleanupInterval = 24 * time.Hour

// Recovery восстанавливает незавершённые саги при старте процесса.
// Саги в STARTED/PROCESSING идемпотентно продолжают выполнение
// с первого незавершённого шага; саги в COMPENSATING перезапускают
// компенсацию.
type Recovery struct {
	repo Repository
	orch *Orchestrator
	cfg  config.SagaConfig
}

// NewRecovery создаёт восстановление саг.
func NewRecovery(repo Repository, orch *Orchestrator, cfg config.SagaConfig) *Recovery {
	return &Recovery{repo: repo, orch: orch, cfg: cfg}
}

// Run находит и возобновляет незавершённые саги. Вызывается один раз
// при старте процесса, до открытия HTTP порта не обязателен.
func (r *Recovery) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	instances, err := r.repo.FindNonTerminal(ctx)
	if err != nil {
		return err
	}

	counts := make(map[[2]string]int)
	for _, instance := range instances {
		counts[[2]string{instance.Type, string(instance.Status)}]++
	}
	for key, count := range counts {
		metrics.SagaRecoveredGauge.WithLabelValues(key[0], key[1]).Set(float64(count))
	}

	if len(instances) == 0 {
		log.Info().Msg("Незавершённых саг при старте не найдено")
		return nil
	}

	log.Info().Int("count", len(instances)).Msg("Восстановление незавершённых саг")

	for _, instance := range instances {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := r.orch.Resume(ctx, instance); err != nil {
			// *ExecutionError здесь ожидаем: сага корректно
			// докомпенсировалась после рестарта
			log.Warn().
				Err(err).
				Str("saga_id", instance.ID).
				Str("saga_type", instance.Type).
				Msg("Восстановленная сага завершилась с ошибкой")
		}
	}

	return nil
}

// RunCleanup периодически удаляет завершённые саги старше окна хранения.
// Блокирует выполнение до отмены контекста.
func (r *Recovery) RunCleanup(ctx context.Context) {
	log := logger.FromContext(ctx)
	retention := time.Duration(r.cfg.CleanupRetentionDays) * 24 * time.Hour
	log.Info().Dur("retention", retention).Msg("Запуск очистки завершённых саг")

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка очистки завершённых саг")
			return
		case <-ticker.C:
			deleted, err := r.repo.DeleteTerminalBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Error().Err(err).Msg("Ошибка очистки завершённых саг")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Удалены завершённые саги")
			}
		}
	}
}
