package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	BusDriverMemory = "memory"
	BusDriverKafka  = "kafka"
)

// ConfigPathEnv — путь к необязательному YAML-файлу; переменные окружения перекрывают его значения.
const ConfigPathEnv = "ORDERING_CONFIG"

// Config описывает настройки запуска ordering-service.
type Config struct {
	GRPCAddr string `yaml:"grpc_addr" env:"ORDERING_GRPC_ADDR" env-default:":50051"`
	HTTPAddr string `yaml:"http_addr" env:"ORDERING_HTTP_ADDR" env-default:":9090"`

	StorageDriver       string `yaml:"storage_driver" env:"ORDERING_STORAGE_DRIVER" env-default:"memory"`
	PostgresDSN         string `yaml:"postgres_dsn" env:"ORDERING_POSTGRES_DSN"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate" env:"ORDERING_POSTGRES_AUTO_MIGRATE" env-default:"true"`
	RedisAddr           string `yaml:"redis_addr" env:"ORDERING_REDIS_ADDR"`

	BusDriver           string        `yaml:"bus_driver" env:"ORDERING_BUS_DRIVER" env-default:"memory"`
	KafkaBrokers        []string      `yaml:"kafka_brokers" env:"KAFKA_BROKERS" env-separator:","`
	KafkaGroup          string        `yaml:"kafka_group" env:"ORDERING_KAFKA_GROUP" env-default:"ordering"`
	MaxDeliveries       int           `yaml:"max_deliveries" env:"ORDERING_MAX_DELIVERIES" env-default:"5"`
	ConsumerConcurrency int           `yaml:"consumer_concurrency" env:"ORDERING_CONSUMER_CONCURRENCY" env-default:"16"`
	PublishMaxAttempts  int           `yaml:"publish_max_attempts" env:"ORDERING_PUBLISH_MAX_ATTEMPTS" env-default:"3"`
	PublishInitialDelay time.Duration `yaml:"publish_initial_delay" env:"ORDERING_PUBLISH_INITIAL_DELAY" env-default:"100ms"`

	GracePeriod        time.Duration `yaml:"grace_period" env:"ORDERING_GRACE_PERIOD" env-default:"1m"`
	GraceCheckInterval time.Duration `yaml:"grace_check_interval" env:"ORDERING_GRACE_CHECK_INTERVAL" env-default:"10s"`

	IdempotencyTTL               time.Duration `yaml:"idempotency_ttl" env:"ORDERING_IDEMPOTENCY_TTL" env-default:"168h"`
	IdempotencyLease             time.Duration `yaml:"idempotency_lease" env:"ORDERING_IDEMPOTENCY_LEASE" env-default:"5m"`
	IdempotencyCleanupInterval   time.Duration `yaml:"idempotency_cleanup_interval" env:"ORDERING_IDEMPOTENCY_CLEANUP_INTERVAL" env-default:"15m"`
	IdempotencyCleanupBatchSize  int           `yaml:"idempotency_cleanup_batch_size" env:"ORDERING_IDEMPOTENCY_CLEANUP_BATCH_SIZE" env-default:"500"`
	IdempotencyCleanupMaxBatches int           `yaml:"idempotency_cleanup_max_batches" env:"ORDERING_IDEMPOTENCY_CLEANUP_MAX_BATCHES" env-default:"20"`

	// SimulateParticipants запускает в процессе склад, оплату и доставку.
	SimulateParticipants bool     `yaml:"simulate_participants" env:"ORDERING_SIMULATE_PARTICIPANTS" env-default:"true"`
	ShippingAutoDeliver  bool     `yaml:"shipping_auto_deliver" env:"ORDERING_SHIPPING_AUTO_DELIVER" env-default:"true"`
	CatalogStock         []string `yaml:"catalog_stock" env:"ORDERING_CATALOG_STOCK" env-separator:"," env-default:"1:100,2:100,3:100"`
	PaymentDeclineAbove  int64    `yaml:"payment_decline_above_minor" env:"ORDERING_PAYMENT_DECLINE_ABOVE_MINOR" env-default:"0"`

	LogLevel     string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat    string `yaml:"log_format" env:"LOG_FORMAT" env-default:"text"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ORDERING_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

// DefaultConfig возвращает значения, совпадающие с env-default.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                     ":50051",
		HTTPAddr:                     ":9090",
		StorageDriver:                StorageDriverMemory,
		PostgresAutoMigrate:          true,
		BusDriver:                    BusDriverMemory,
		KafkaGroup:                   "ordering",
		MaxDeliveries:                5,
		ConsumerConcurrency:          16,
		PublishMaxAttempts:           3,
		PublishInitialDelay:          100 * time.Millisecond,
		GracePeriod:                  time.Minute,
		GraceCheckInterval:           10 * time.Second,
		IdempotencyTTL:               7 * 24 * time.Hour,
		IdempotencyLease:             5 * time.Minute,
		IdempotencyCleanupInterval:   15 * time.Minute,
		IdempotencyCleanupBatchSize:  500,
		IdempotencyCleanupMaxBatches: 20,
		SimulateParticipants:         true,
		ShippingAutoDeliver:          true,
		CatalogStock:                 []string{"1:100", "2:100", "3:100"},
		LogLevel:                     "info",
		LogFormat:                    "text",
		ShutdownTimeout:              5 * time.Second,
	}
}

// LoadConfig читает YAML из ORDERING_CONFIG (если задан) и переменные окружения.
func LoadConfig() (Config, error) {
	var cfg Config
	var err error
	if path := os.Getenv(ConfigPathEnv); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.BusDriver = strings.ToLower(strings.TrimSpace(cfg.BusDriver))
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("ORDERING_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}

	switch c.BusDriver {
	case BusDriverMemory:
	case BusDriverKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka bus"))
		}
		if c.KafkaGroup == "" {
			errs = append(errs, errors.New("ORDERING_KAFKA_GROUP is required for kafka bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown bus driver %q", c.BusDriver))
	}

	if c.GracePeriod < 0 {
		errs = append(errs, errors.New("grace period must not be negative"))
	}
	if c.GraceCheckInterval <= 0 {
		errs = append(errs, errors.New("grace check interval must be positive"))
	}
	if c.IdempotencyLease < 0 {
		errs = append(errs, errors.New("idempotency lease must not be negative"))
	}
	if c.MaxDeliveries <= 0 {
		errs = append(errs, errors.New("max deliveries must be positive"))
	}
	if _, err := c.StockLevels(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StockLevels разбирает CatalogStock вида "productID:units".
func (c Config) StockLevels() (map[int64]int32, error) {
	levels := make(map[int64]int32, len(c.CatalogStock))
	for _, raw := range c.CatalogStock {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, units, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("invalid catalog stock entry %q", raw)
		}
		productID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil || productID <= 0 {
			return nil, fmt.Errorf("invalid product id in catalog stock entry %q", raw)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(units), 10, 32)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid units in catalog stock entry %q", raw)
		}
		levels[productID] = int32(n)
	}
	return levels, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
