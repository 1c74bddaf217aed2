package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	// Store is "postgres" or "memory".
	Store string `yaml:"store"`
	// SeedPath is a YAML catalog and customer fixture loaded into the memory store.
	SeedPath string `yaml:"seed_path"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	SessionPrefix string        `yaml:"session_prefix"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

type LedgerConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type NotifyConfig struct {
	// Broker is "rabbitmq", "kafka" or "none".
	Broker       string        `yaml:"broker"`
	HookTimeout  time.Duration `yaml:"hook_timeout"`
	RabbitURL    string        `yaml:"rabbitmq_url"`
	Exchange     string        `yaml:"exchange"`
	KafkaBrokers string        `yaml:"kafka_brokers"`
	KafkaTopic   string        `yaml:"kafka_topic"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

type Config struct {
	App       AppConfig       `yaml:"app"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func defaults() Config {
	return Config{
		App: AppConfig{
			Name:     "order-service",
			Port:     "8080",
			Env:      "development",
			LogLevel: "info",
			Store:    "postgres",
		},
		Postgres: PostgresConfig{
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MigrationsPath:  "migrations",
		},
		Redis: RedisConfig{
			SessionPrefix: "session:",
			CacheTTL:      5 * time.Minute,
		},
		Ledger: LedgerConfig{Timeout: 5 * time.Second},
		Notify: NotifyConfig{
			Broker:      "none",
			HookTimeout: 5 * time.Second,
			Exchange:    "orders",
			KafkaTopic:  "order-events",
		},
		Telemetry: TelemetryConfig{SampleRatio: 1},
	}
}

// NewConfig loads .env (if present), then CONFIG_PATH YAML (if set), then
// environment variables, each layer overriding the previous one.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Load(os.Getenv("CONFIG_PATH"))
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	switch c.App.Store {
	case "postgres":
		if c.Postgres.Host == "" {
			problems = append(problems, "DB_HOST is required")
		}
		if c.Postgres.Port == "" {
			problems = append(problems, "DB_PORT is required")
		}
		if c.Postgres.User == "" {
			problems = append(problems, "DB_USER is required")
		}
		if c.Postgres.DBName == "" {
			problems = append(problems, "DB_NAME is required")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE %q", c.App.Store))
	}

	switch c.Notify.Broker {
	case "none":
	case "rabbitmq":
		if c.Notify.RabbitURL == "" {
			problems = append(problems, "RABBITMQ_URL is required for the rabbitmq broker")
		}
	case "kafka":
		if c.Notify.KafkaBrokers == "" {
			problems = append(problems, "KAFKA_BROKERS is required for the kafka broker")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown NOTIFY_BROKER %q", c.Notify.Broker))
	}

	if c.Ledger.Timeout <= 0 {
		problems = append(problems, "LEDGER_TIMEOUT must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	str("APP_NAME", &cfg.App.Name)
	str("APP_PORT", &cfg.App.Port)
	str("APP_ENV", &cfg.App.Env)
	str("LOG_LEVEL", &cfg.App.LogLevel)
	str("STORE", &cfg.App.Store)
	str("SEED_PATH", &cfg.App.SeedPath)

	str("DB_HOST", &cfg.Postgres.Host)
	str("DB_PORT", &cfg.Postgres.Port)
	str("DB_USER", &cfg.Postgres.User)
	str("DB_PASSWORD", &cfg.Postgres.Password)
	str("DB_NAME", &cfg.Postgres.DBName)
	str("DB_SSLMODE", &cfg.Postgres.SSLMode)
	str("DB_MIGRATIONS_PATH", &cfg.Postgres.MigrationsPath)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("REDIS_SESSION_PREFIX", &cfg.Redis.SessionPrefix)

	str("NOTIFY_BROKER", &cfg.Notify.Broker)
	str("RABBITMQ_URL", &cfg.Notify.RabbitURL)
	str("RABBITMQ_EXCHANGE", &cfg.Notify.Exchange)
	str("KAFKA_BROKERS", &cfg.Notify.KafkaBrokers)
	str("KAFKA_TOPIC", &cfg.Notify.KafkaTopic)

	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DB_MAX_CONN_LIFETIME", &cfg.Postgres.MaxConnLifetime},
		{"REDIS_CACHE_TTL", &cfg.Redis.CacheTTL},
		{"LEDGER_TIMEOUT", &cfg.Ledger.Timeout},
		{"NOTIFY_HOOK_TIMEOUT", &cfg.Notify.HookTimeout},
	}
	for _, d := range durations {
		v, ok := os.LookupEnv(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v, ok := os.LookupEnv("DB_MAX_CONNS"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
		}
		cfg.Postgres.MaxConns = int32(n)
	}
	if v, ok := os.LookupEnv("DB_MIN_CONNS"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
		}
		cfg.Postgres.MinConns = int32(n)
	}
	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}
	if v, ok := os.LookupEnv("OTEL_SAMPLE_RATIO"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SAMPLE_RATIO: %w", err)
		}
		cfg.Telemetry.SampleRatio = f
	}

	return nil
}
