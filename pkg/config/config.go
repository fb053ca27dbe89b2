// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию приложения.
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Jaeger      JaegerConfig
	Metrics     MetricsConfig
	Idempotency IdempotencyConfig
	Outbox      OutboxConfig
	Saga        SagaConfig
	PG          PGConfig
	Tenants     TenantsConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"fluxpay-engine"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig содержит настройки HTTP сервера.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Addr возвращает адрес для HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PostgresConfig содержит настройки подключения к PostgreSQL.
type PostgresConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"fluxpay"`
	Password        string        `env:"POSTGRES_PASSWORD" envDefault:"fluxpay"`
	Database        string        `env:"POSTGRES_DATABASE" envDefault:"fluxpay"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к PostgreSQL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"fluxpay-engine"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"` // OTLP gRPC порт
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"` // Включить metrics endpoint
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`    // Порт для /metrics
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// IdempotencyConfig содержит настройки шлюза идемпотентности.
type IdempotencyConfig struct {
	Enabled        bool          `env:"FLUXPAY_IDEMPOTENCY_ENABLED" envDefault:"true"`
	TTL            time.Duration `env:"FLUXPAY_IDEMPOTENCY_TTL" envDefault:"24h"`
	RedisKeyPrefix string        `env:"FLUXPAY_IDEMPOTENCY_REDIS_KEY_PREFIX" envDefault:"fluxpay:idem:"`
	RedisTimeout   time.Duration `env:"FLUXPAY_IDEMPOTENCY_REDIS_TIMEOUT" envDefault:"500ms"`
	PurgeInterval  time.Duration `env:"FLUXPAY_IDEMPOTENCY_PURGE_INTERVAL" envDefault:"1h"`
}

// OutboxConfig содержит настройки transactional outbox и его publisher.
type OutboxConfig struct {
	Enabled          bool          `env:"FLUXPAY_OUTBOX_ENABLED" envDefault:"true"`
	BatchSize        int           `env:"FLUXPAY_OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxRetries       int           `env:"FLUXPAY_OUTBOX_MAX_RETRIES" envDefault:"3"`
	PollingInterval  time.Duration `env:"FLUXPAY_OUTBOX_POLLING_INTERVAL" envDefault:"100ms"`
	CleanupEnabled   bool          `env:"FLUXPAY_OUTBOX_CLEANUP_ENABLED" envDefault:"true"`
	CleanupInterval  time.Duration `env:"FLUXPAY_OUTBOX_CLEANUP_INTERVAL" envDefault:"24h"`
	RetentionDays    int           `env:"FLUXPAY_OUTBOX_CLEANUP_RETENTION_DAYS" envDefault:"7"`
	ProcessedEvtDays int           `env:"FLUXPAY_OUTBOX_PROCESSED_RETENTION_DAYS" envDefault:"7"`
}

// Retention возвращает окно хранения опубликованных событий.
func (c OutboxConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SagaConfig содержит настройки оркестратора саг.
type SagaConfig struct {
	Enabled                bool          `env:"FLUXPAY_SAGA_ENABLED" envDefault:"true"`
	Timeout                time.Duration `env:"FLUXPAY_SAGA_TIMEOUT" envDefault:"30s"`
	StepTimeout            time.Duration `env:"FLUXPAY_SAGA_STEP_TIMEOUT" envDefault:"10s"`
	CompensationMaxRetries int           `env:"FLUXPAY_SAGA_COMPENSATION_MAX_RETRIES" envDefault:"3"`
	CompensationRetryDelay time.Duration `env:"FLUXPAY_SAGA_COMPENSATION_RETRY_DELAY" envDefault:"1s"`
	CleanupRetentionDays   int           `env:"FLUXPAY_SAGA_CLEANUP_RETENTION_DAYS" envDefault:"30"`
}

// TenantConfig содержит индивидуальные настройки арендатора.
type TenantConfig struct {
	RateLimit           int
	CreditEnabled       bool
	SubscriptionEnabled bool
	WebhookURL          string
}

// TenantsConfig — пер-арендаторные настройки из переменных вида
// FLUXPAY_TENANTS_CONFIGS_<ID>_RATE_LIMIT, _CREDIT_ENABLED,
// _SUBSCRIPTION_ENABLED, _WEBHOOK_URL. Идентификатор арендатора
// приводится к нижнему регистру, подчёркивания — к дефисам
// (TENANT_A -> tenant-a).
type TenantsConfig struct {
	Configs map[string]TenantConfig
}

// For возвращает настройки арендатора, если они заданы.
func (c TenantsConfig) For(tenantID string) (TenantConfig, bool) {
	cfg, ok := c.Configs[tenantID]
	return cfg, ok
}

const tenantEnvPrefix = "FLUXPAY_TENANTS_CONFIGS_"

// parseTenants собирает пер-арендаторные настройки из окружения.
func parseTenants(environ []string) (TenantsConfig, error) {
	tc := TenantsConfig{Configs: map[string]TenantConfig{}}

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, tenantEnvPrefix) {
			continue
		}
		rest := strings.TrimPrefix(name, tenantEnvPrefix)

		var suffix string
		for _, s := range []string{"_RATE_LIMIT", "_CREDIT_ENABLED", "_SUBSCRIPTION_ENABLED", "_WEBHOOK_URL"} {
			if strings.HasSuffix(rest, s) {
				suffix = s
				break
			}
		}
		if suffix == "" || len(rest) == len(suffix) {
			return tc, fmt.Errorf("неизвестная настройка арендатора: %s", name)
		}

		id := strings.ReplaceAll(strings.ToLower(strings.TrimSuffix(rest, suffix)), "_", "-")
		cfg := tc.Configs[id]

		var err error
		switch suffix {
		case "_RATE_LIMIT":
			cfg.RateLimit, err = strconv.Atoi(value)
		case "_CREDIT_ENABLED":
			cfg.CreditEnabled, err = strconv.ParseBool(value)
		case "_SUBSCRIPTION_ENABLED":
			cfg.SubscriptionEnabled, err = strconv.ParseBool(value)
		case "_WEBHOOK_URL":
			cfg.WebhookURL = value
		}
		if err != nil {
			return tc, fmt.Errorf("некорректное значение %s: %w", name, err)
		}

		tc.Configs[id] = cfg
	}

	return tc, nil
}

// PGConfig содержит настройки HTTP клиента внешнего платёжного шлюза (PG).
type PGConfig struct {
	BaseURL string        `env:"PG_BASE_URL" envDefault:"http://localhost:8090"`
	Timeout time.Duration `env:"PG_TIMEOUT" envDefault:"10s"`
	APIKey  string        `env:"PG_API_KEY" envDefault:""`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	// Ошибку отсутствующего .env файла игнорируем
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	tenants, err := parseTenants(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	cfg.Tenants = tenants

	return cfg, nil
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	tenants, err := parseTenants(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	cfg.Tenants = tenants

	return cfg, nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
