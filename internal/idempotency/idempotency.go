// Package idempotency реализует двухслойный шлюз идемпотентности:
// Redis как быстрый первичный слой и PostgreSQL как надёжный резервный.
//
// Ключ записи — тройка (tenant, endpoint, key). Повторный запрос с тем же
// телом получает закэшированный ответ байт-в-байт; запрос с тем же ключом,
// но другим телом отклоняется как конфликт.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Состояния записи идемпотентности.
const (
	StateProcessing = "processing"
	StateCompleted  = "completed"
)

// Outcome — результат попытки захвата блокировки идемпотентности.
type Outcome string

const (
	// OutcomeAcquired — блокировка захвачена, обработчик выполняется.
	OutcomeAcquired Outcome = "ACQUIRED"

	// OutcomeHit — запрос уже обработан, ответ воспроизводится из кэша.
	OutcomeHit Outcome = "HIT"

	// OutcomeConflict — тот же ключ, но другое тело запроса.
	OutcomeConflict Outcome = "CONFLICT"

	// OutcomeProcessing — первый запрос ещё обрабатывается.
	OutcomeProcessing Outcome = "PROCESSING"
)

// Key идентифицирует запись идемпотентности.
// Любое отличие tenant/endpoint/key — отдельная запись.
type Key struct {
	TenantID string
	Endpoint string // "<METHOD>:<path>"
	Key      string // значение заголовка X-Idempotency-Key (UUID)
}

// Record — запись идемпотентности в надёжном хранилище.
type Record struct {
	TenantID     string
	Endpoint     string
	Key          string
	PayloadHash  string
	ResponseBody []byte
	HTTPStatus   int
	State        string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Result — исход захвата блокировки. Для OutcomeHit содержит
// сохранённое тело и HTTP статус ответа.
type Result struct {
	Outcome Outcome
	Body    []byte
	Status  int
}

// BodyHash возвращает SHA-256 хэш сырых байт тела запроса в hex.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
