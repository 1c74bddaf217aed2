package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/config"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAMLThenEnvOverrides(t *testing.T) {
	path := writeYAML(t, `
app:
  port: "9090"
postgres:
  host: db.internal
  port: "5432"
  user: orders
  password: secret
  dbname: feed
  max_conn_lifetime: 10m
ledger:
  timeout: 3s
notify:
  broker: kafka
  kafka_brokers: kafka-1:9092,kafka-2:9092
`)
	t.Setenv("DB_HOST", "db.override")
	t.Setenv("LEDGER_TIMEOUT", "750ms")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "db.override", cfg.Postgres.Host)
	assert.Equal(t, "feed", cfg.Postgres.DBName)
	assert.Equal(t, 10*time.Minute, cfg.Postgres.MaxConnLifetime)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.Timeout)
	assert.Equal(t, "kafka", cfg.Notify.Broker)
	assert.Equal(t, "order-events", cfg.Notify.KafkaTopic, "default must survive a partial file")
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
}

func TestLoad_SeedPathFromEnv(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("SEED_PATH", "configs/seed.yaml")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "configs/seed.yaml", cfg.App.SeedPath)
}

func TestLoad_MemoryStoreNeedsNoDatabase(t *testing.T) {
	t.Setenv("STORE", "memory")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.App.Store)
	assert.Equal(t, 5*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, "none", cfg.Notify.Broker)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing_db_host",
			env:  map[string]string{"STORE": "postgres", "DB_PORT": "5432", "DB_USER": "u", "DB_NAME": "n"},
			want: "DB_HOST is required",
		},
		{
			name: "unknown_broker",
			env:  map[string]string{"STORE": "memory", "NOTIFY_BROKER": "sqs"},
			want: `unknown NOTIFY_BROKER "sqs"`,
		},
		{
			name: "rabbitmq_without_url",
			env:  map[string]string{"STORE": "memory", "NOTIFY_BROKER": "rabbitmq"},
			want: "RABBITMQ_URL is required",
		},
		{
			name: "bad_duration",
			env:  map[string]string{"STORE": "memory", "LEDGER_TIMEOUT": "soon"},
			want: "invalid LEDGER_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
