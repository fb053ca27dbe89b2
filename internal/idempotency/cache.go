package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/fluxpay/pkg/config"
)

// acquireScript атомарно исполняет протокол захвата блокировки на стороне
// Redis. Между проверкой и вставкой не может вклиниться конкурирующий
// запрос: скрипт выполняется как единое целое.
//
// Возврат: {'ACQUIRED'} | {'CONFLICT'} | {'PROCESSING'} | {'HIT', status, body}.
var acquireScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    redis.call('HSET', KEYS[1], 'hash', ARGV[1], 'state', 'processing')
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
    return {'ACQUIRED'}
end

if redis.call('HGET', KEYS[1], 'hash') ~= ARGV[1] then
    return {'CONFLICT'}
end

if redis.call('HGET', KEYS[1], 'state') == 'processing' then
    return {'PROCESSING'}
end

return {'HIT', redis.call('HGET', KEYS[1], 'status'), redis.call('HGET', KEYS[1], 'body')}
`)

// Cache — первичный слой шлюза идемпотентности поверх Redis.
// Недоступность Redis не фатальна: Gate переключается на надёжное хранилище.
type Cache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewCache создаёт Redis слой шлюза идемпотентности.
func NewCache(client *redis.Client, cfg config.IdempotencyConfig) *Cache {
	return &Cache{
		client:  client,
		prefix:  cfg.RedisKeyPrefix,
		ttl:     cfg.TTL,
		timeout: cfg.RedisTimeout,
	}
}

// redisKey собирает ключ Redis из тройки (tenant, endpoint, key).
func (c *Cache) redisKey(key Key) string {
	return c.prefix + key.TenantID + ":" + key.Endpoint + ":" + key.Key
}

// Acquire атомарно пытается захватить блокировку для ключа.
func (c *Cache) Acquire(ctx context.Context, key Key, payloadHash string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := acquireScript.Run(ctx, c.client,
		[]string{c.redisKey(key)},
		payloadHash, c.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения скрипта захвата: %w", err)
	}

	vals, ok := reply.([]interface{})
	if !ok || len(vals) == 0 {
		return nil, fmt.Errorf("неожиданный ответ скрипта захвата: %v", reply)
	}

	outcome, _ := vals[0].(string)
	switch Outcome(outcome) {
	case OutcomeAcquired, OutcomeConflict, OutcomeProcessing:
		return &Result{Outcome: Outcome(outcome)}, nil
	case OutcomeHit:
		if len(vals) < 3 {
			return nil, fmt.Errorf("неполный ответ HIT: %v", reply)
		}
		statusStr, _ := vals[1].(string)
		body, _ := vals[2].(string)
		status, err := strconv.Atoi(statusStr)
		if err != nil {
			return nil, fmt.Errorf("повреждённый статус в кэше: %w", err)
		}
		return &Result{Outcome: OutcomeHit, Body: []byte(body), Status: status}, nil
	default:
		return nil, fmt.Errorf("неизвестный исход захвата: %q", outcome)
	}
}

// Complete сохраняет готовый ответ: следующий запрос с тем же ключом
// и телом получит HIT вместо PROCESSING.
func (c *Cache) Complete(ctx context.Context, key Key, payloadHash string, body []byte, status int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.redisKey(key),
		"hash", payloadHash,
		"state", StateCompleted,
		"status", strconv.Itoa(status),
		"body", string(body),
	)
	pipe.PExpire(ctx, c.redisKey(key), c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка сохранения ответа в кэш: %w", err)
	}
	return nil
}

// Release снимает блокировку после неуспешного обработчика:
// повторный запрос с тем же ключом сможет выполниться заново.
func (c *Cache) Release(ctx context.Context, key Key) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("ошибка снятия блокировки: %w", err)
	}
	return nil
}
