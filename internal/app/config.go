package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы кошелька.
const (
	WalletDriverNone = "none"
	WalletDriverMock = "mock"
	WalletDriverHTTP = "http"
)

// Драйверы отправки сообщений.
const (
	SenderDriverNone    = "none"
	SenderDriverMock    = "mock"
	SenderDriverGateway = "gateway"
	SenderDriverKafka   = "kafka"
)

const envPrefix = "CREDITS"

// Config описывает настройки запуска сервиса. Списки хранятся строками через запятую,
// чтобы конфигурацию можно было сравнивать.
type Config struct {
	GRPCAddr    string `mapstructure:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	HTTPAddr    string `mapstructure:"http_addr"`

	StorageDriver       string `mapstructure:"storage_driver"`
	PostgresDSN         string `mapstructure:"postgres_dsn"`
	PostgresAutoMigrate bool   `mapstructure:"postgres_auto_migrate"`

	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	OutboxMaxAttempts  int           `mapstructure:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `mapstructure:"outbox_retry_delay"`
	OutboxMaxPending   int           `mapstructure:"outbox_max_pending"`

	DeliveryCleanupInterval  time.Duration `mapstructure:"delivery_cleanup_interval"`
	DeliveryCleanupBatchSize int           `mapstructure:"delivery_cleanup_batch_size"`
	DeliveryTTL                 time.Duration `mapstructure:"delivery_ttl"`
	WebhookSecret               string        `mapstructure:"webhook_secret"`
	AdminJWTSecret              string        `mapstructure:"admin_jwt_secret"`

	KafkaBrokers            string `mapstructure:"kafka_brokers"`
	KafkaGroupID            string `mapstructure:"kafka_group_id"`
	KafkaStorefrontTopic    string `mapstructure:"kafka_storefront_topic"`
	KafkaCreditsTopic       string `mapstructure:"kafka_credits_topic"`
	KafkaNotificationsTopic string `mapstructure:"kafka_notifications_topic"`
	KafkaDLQTopic           string `mapstructure:"kafka_dlq_topic"`
	KafkaMaxRetries         int    `mapstructure:"kafka_max_retries"`

	WalletDriver          string        `mapstructure:"wallet_driver"`
	WalletURL             string        `mapstructure:"wallet_url"`
	WalletConsumerKey     string        `mapstructure:"wallet_consumer_key"`
	WalletConsumerSecret  string        `mapstructure:"wallet_consumer_secret"`
	WalletTimeout         time.Duration `mapstructure:"wallet_timeout"`
	WalletBreakerFailures int           `mapstructure:"wallet_breaker_failures"`
	WalletBreakerReset    time.Duration `mapstructure:"wallet_breaker_reset"`

	SenderDriver  string        `mapstructure:"sender_driver"`
	SenderURL     string        `mapstructure:"sender_url"`
	SenderSecret  string        `mapstructure:"sender_secret"`
	SenderTimeout time.Duration `mapstructure:"sender_timeout"`

	NotifyStyle       string `mapstructure:"notify_style"`
	AdminUserID       int64  `mapstructure:"admin_user_id"`
	PhoneField        string `mapstructure:"phone_field"`
	PhoneFallbackKeys string `mapstructure:"phone_fallback_keys"`
	PhoneCountryCode  string `mapstructure:"phone_country_code"`

	CoordinatorRetryDelay time.Duration `mapstructure:"coordinator_retry_delay"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig возвращает базовые настройки: память, без Kafka, кошелёк и мессенджер не подключены.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		HTTPAddr:    ":8080",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,
		OutboxMaxPending:   1000,

		DeliveryCleanupInterval:  time.Minute,
		DeliveryCleanupBatchSize: 500,
		DeliveryTTL:                 24 * time.Hour,

		KafkaGroupID:            "credits-service",
		KafkaStorefrontTopic:    "storefront.events",
		KafkaCreditsTopic:       "credits.events",
		KafkaNotificationsTopic: "credits.notifications",
		KafkaDLQTopic:           "credits.dlq",
		KafkaMaxRetries:         3,

		WalletDriver:          WalletDriverNone,
		WalletTimeout:         10 * time.Second,
		WalletBreakerFailures: 5,
		WalletBreakerReset:    30 * time.Second,

		SenderDriver:  SenderDriverNone,
		SenderTimeout: 10 * time.Second,

		NotifyStyle:       "plain",
		PhoneField:        "phone_number",
		PhoneFallbackKeys: "billing_phone,phone",
		PhoneCountryCode:  "55",

		CoordinatorRetryDelay: 10 * time.Millisecond,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig читает настройки из переменных окружения CREDITS_* и необязательного
// файла credits.yaml в текущем каталоге или ./config. Недопустимые значения
// заменяются значениями по умолчанию и возвращаются как предупреждения.
func LoadConfig() (Config, []string, error) {
	return loadConfig(viper.New())
}

func loadConfig(v *viper.Viper) (Config, []string, error) {
	v.SetConfigName("credits")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.applyFallbacks(DefaultConfig()), nil
}

// setDefaults регистрирует каждый ключ, иначе AutomaticEnv не увидит его при Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("storage_driver", d.StorageDriver)
	v.SetDefault("postgres_dsn", d.PostgresDSN)
	v.SetDefault("postgres_auto_migrate", d.PostgresAutoMigrate)
	v.SetDefault("outbox_poll_interval", d.OutboxPollInterval)
	v.SetDefault("outbox_batch_size", d.OutboxBatchSize)
	v.SetDefault("outbox_max_attempts", d.OutboxMaxAttempts)
	v.SetDefault("outbox_retry_delay", d.OutboxRetryDelay)
	v.SetDefault("outbox_max_pending", d.OutboxMaxPending)
	v.SetDefault("delivery_cleanup_interval", d.DeliveryCleanupInterval)
	v.SetDefault("delivery_cleanup_batch_size", d.DeliveryCleanupBatchSize)
	v.SetDefault("delivery_ttl", d.DeliveryTTL)
	v.SetDefault("webhook_secret", d.WebhookSecret)
	v.SetDefault("admin_jwt_secret", d.AdminJWTSecret)
	v.SetDefault("kafka_brokers", d.KafkaBrokers)
	v.SetDefault("kafka_group_id", d.KafkaGroupID)
	v.SetDefault("kafka_storefront_topic", d.KafkaStorefrontTopic)
	v.SetDefault("kafka_credits_topic", d.KafkaCreditsTopic)
	v.SetDefault("kafka_notifications_topic", d.KafkaNotificationsTopic)
	v.SetDefault("kafka_dlq_topic", d.KafkaDLQTopic)
	v.SetDefault("kafka_max_retries", d.KafkaMaxRetries)
	v.SetDefault("wallet_driver", d.WalletDriver)
	v.SetDefault("wallet_url", d.WalletURL)
	v.SetDefault("wallet_consumer_key", d.WalletConsumerKey)
	v.SetDefault("wallet_consumer_secret", d.WalletConsumerSecret)
	v.SetDefault("wallet_timeout", d.WalletTimeout)
	v.SetDefault("wallet_breaker_failures", d.WalletBreakerFailures)
	v.SetDefault("wallet_breaker_reset", d.WalletBreakerReset)
	v.SetDefault("sender_driver", d.SenderDriver)
	v.SetDefault("sender_url", d.SenderURL)
	v.SetDefault("sender_secret", d.SenderSecret)
	v.SetDefault("sender_timeout", d.SenderTimeout)
	v.SetDefault("notify_style", d.NotifyStyle)
	v.SetDefault("admin_user_id", d.AdminUserID)
	v.SetDefault("phone_field", d.PhoneField)
	v.SetDefault("phone_fallback_keys", d.PhoneFallbackKeys)
	v.SetDefault("phone_country_code", d.PhoneCountryCode)
	v.SetDefault("coordinator_retry_delay", d.CoordinatorRetryDelay)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.WalletDriver = strings.ToLower(strings.TrimSpace(c.WalletDriver))
	c.SenderDriver = strings.ToLower(strings.TrimSpace(c.SenderDriver))
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.KafkaBrokers = strings.TrimSpace(c.KafkaBrokers)
	c.AdminJWTSecret = strings.TrimSpace(c.AdminJWTSecret)
}

// Validate проверяет настройки, без которых сервис не запускается.
func (c Config) Validate() error {
	if c.HTTPAddr != "" && strings.TrimSpace(c.AdminJWTSecret) == "" {
		return fmt.Errorf("http api requires %s_ADMIN_JWT_SECRET for admin routes", envPrefix)
	}
	return nil
}

// applyFallbacks возвращает к умолчаниям значения, с которыми воркеры не работают.
func (c *Config) applyFallbacks(d Config) []string {
	var warnings []string
	fallbackDuration := func(key string, value *time.Duration, def time.Duration, allowZero bool) {
		if *value < 0 || (*value == 0 && !allowZero) {
			warnings = append(warnings, fmt.Sprintf("%s_%s=%s is invalid, using %s", envPrefix, strings.ToUpper(key), *value, def))
			*value = def
		}
	}
	fallbackInt := func(key string, value *int, def int, allowZero bool) {
		if *value < 0 || (*value == 0 && !allowZero) {
			warnings = append(warnings, fmt.Sprintf("%s_%s=%d is invalid, using %d", envPrefix, strings.ToUpper(key), *value, def))
			*value = def
		}
	}

	fallbackDuration("outbox_poll_interval", &c.OutboxPollInterval, d.OutboxPollInterval, false)
	fallbackInt("outbox_batch_size", &c.OutboxBatchSize, d.OutboxBatchSize, false)
	fallbackInt("outbox_max_attempts", &c.OutboxMaxAttempts, d.OutboxMaxAttempts, false)
	fallbackDuration("outbox_retry_delay", &c.OutboxRetryDelay, d.OutboxRetryDelay, true)
	// 0 отключает проверку очереди outbox
	fallbackInt("outbox_max_pending", &c.OutboxMaxPending, d.OutboxMaxPending, true)
	fallbackDuration("delivery_cleanup_interval", &c.DeliveryCleanupInterval, d.DeliveryCleanupInterval, false)
	fallbackInt("delivery_cleanup_batch_size", &c.DeliveryCleanupBatchSize, d.DeliveryCleanupBatchSize, false)
	fallbackDuration("delivery_ttl", &c.DeliveryTTL, d.DeliveryTTL, false)
	fallbackInt("kafka_max_retries", &c.KafkaMaxRetries, d.KafkaMaxRetries, true)
	// 0 отключает предохранитель кошелька
	fallbackInt("wallet_breaker_failures", &c.WalletBreakerFailures, d.WalletBreakerFailures, true)
	fallbackDuration("wallet_breaker_reset", &c.WalletBreakerReset, d.WalletBreakerReset, false)
	fallbackDuration("coordinator_retry_delay", &c.CoordinatorRetryDelay, d.CoordinatorRetryDelay, true)
	return warnings
}

// BrokerList разбирает список брокеров; пустые элементы отбрасываются.
func (c Config) BrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// FallbackKeys возвращает метаполя телефона в порядке проверки.
func (c Config) FallbackKeys() []string {
	return splitList(c.PhoneFallbackKeys)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
