package idempotency

import (
	"context"

	"example.com/fluxpay/pkg/logger"
)

// Gate — двухслойный шлюз идемпотентности: Redis как первичный слой,
// PostgreSQL как надёжный резервный. При недоступности Redis шлюз
// работает напрямую через хранилище; финальная запись хранилища имеет
// приоритет над кэшем (кэш мог быть перезапущен).
type Gate struct {
	cache *Cache
	store Store
}

// NewGate создаёт шлюз идемпотентности.
func NewGate(cache *Cache, store Store) *Gate {
	return &Gate{cache: cache, store: store}
}

// Acquire атомарно захватывает блокировку для ключа.
func (g *Gate) Acquire(ctx context.Context, key Key, payloadHash string) (*Result, error) {
	res, err := g.cache.Acquire(ctx, key, payloadHash)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("idempotency_key", key.Key).
			Msg("Кэш идемпотентности недоступен, переход на надёжное хранилище")
		return g.acquireDurable(ctx, key, payloadHash)
	}

	if res.Outcome != OutcomeAcquired {
		return res, nil
	}

	// Кэш дал ACQUIRED: фиксируем блокировку в надёжном хранилище
	rec, inserted, err := g.store.TryInsert(ctx, key, payloadHash)
	if err != nil {
		// Снимаем кэш-блокировку, иначе ключ зависнет в processing
		if relErr := g.cache.Release(ctx, key); relErr != nil {
			logger.Ctx(ctx).Warn().Err(relErr).Msg("Ошибка отката кэш-блокировки")
		}
		return nil, err
	}
	if inserted {
		return &Result{Outcome: OutcomeAcquired}, nil
	}

	// Хранилище знает больше кэша (например, после рестарта Redis):
	// его запись имеет приоритет
	durable := classify(rec, payloadHash)
	switch durable.Outcome {
	case OutcomeHit:
		// Восстанавливаем запись в кэше для последующих запросов
		if err := g.cache.Complete(ctx, key, payloadHash, durable.Body, durable.Status); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка восстановления записи в кэше")
		}
	case OutcomeConflict:
		// Кэш содержит наш хэш, хранилище — другой; убираем ложную запись
		if err := g.cache.Release(ctx, key); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка отката кэш-блокировки")
		}
	}
	return durable, nil
}

// acquireDurable захватывает блокировку только через надёжное хранилище.
func (g *Gate) acquireDurable(ctx context.Context, key Key, payloadHash string) (*Result, error) {
	rec, inserted, err := g.store.TryInsert(ctx, key, payloadHash)
	if err != nil {
		return nil, err
	}
	if inserted {
		return &Result{Outcome: OutcomeAcquired}, nil
	}
	return classify(rec, payloadHash), nil
}

// classify определяет исход по существующей записи хранилища.
func classify(rec *Record, payloadHash string) *Result {
	if rec.PayloadHash != payloadHash {
		return &Result{Outcome: OutcomeConflict}
	}
	if rec.State == StateProcessing {
		return &Result{Outcome: OutcomeProcessing}
	}
	return &Result{Outcome: OutcomeHit, Body: rec.ResponseBody, Status: rec.HTTPStatus}
}

// Complete сохраняет готовый ответ в оба слоя.
// Ошибка кэша не фатальна: хранилище остаётся источником истины.
func (g *Gate) Complete(ctx context.Context, key Key, payloadHash string, body []byte, status int) error {
	if err := g.store.Complete(ctx, key, body, status); err != nil {
		return err
	}
	if err := g.cache.Complete(ctx, key, payloadHash, body, status); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка сохранения ответа в кэш")
	}
	return nil
}

// Release снимает блокировку в обоих слоях после неуспешного обработчика.
func (g *Gate) Release(ctx context.Context, key Key) error {
	if err := g.cache.Release(ctx, key); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка снятия кэш-блокировки")
	}
	return g.store.Release(ctx, key)
}
