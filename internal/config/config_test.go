package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func loadFrom(t *testing.T, vars map[string]string) (Config, error) {
	t.Helper()
	return load(env.Options{Environment: vars})
}

func TestLoad_LocalDefaults(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, EnvLocal, cfg.AppEnv)
	assert.Equal(t, "127.0.0.1:8090", cfg.HTTPAddr)
	assert.Equal(t, "127.0.0.1:50060", cfg.GRPCHealthAddr)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.OrderAPIURL)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "iap.purchase.unrecorded", cfg.Kafka.EscalationTopic)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.ResumeInterval)
	assert.Equal(t, 50, cfg.ResumeBatchSize)
	assert.Equal(t, 5.0, cfg.ResumeRateLimit)
	assert.Equal(t, 10*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, 1.0, cfg.OTelSamplingRatio)
}

func TestLoad_DockerDefaults(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{"APP_ENV": "docker"})
	require.NoError(t, err)

	assert.Equal(t, EnvDocker, cfg.AppEnv)
	assert.Equal(t, "0.0.0.0:8090", cfg.HTTPAddr)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "mongodb://mongo:27017", cfg.MongoURI)
	assert.Equal(t, "http://order:8080", cfg.OrderAPIURL)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "otel-collector:4317", cfg.OTelEndpoint)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{
		"STORE_BACKEND":          "postgres",
		"IAP_POSTGRES_DSN":       "postgres://u:p@db:5432/iap",
		"RESUME_INTERVAL":        "1m",
		"RESUME_BATCH_SIZE":      "10",
		"KAFKA_BROKERS":          "k1:9092,k2:9092",
		"KAFKA_ESCALATION_TOPIC": "support.iap",
		"ESCALATION_ENABLED":     "true",
		"ORDER_SESSION_ID":       "sid-1",
	})
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.Equal(t, "postgres://u:p@db:5432/iap", cfg.PostgresDSN)
	assert.Equal(t, time.Minute, cfg.ResumeInterval)
	assert.Equal(t, 10, cfg.ResumeBatchSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "support.iap", cfg.Kafka.EscalationTopic)
	assert.True(t, cfg.EscalationEnabled)
	assert.Equal(t, "sid-1", cfg.OrderSessionID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{"app env", map[string]string{"APP_ENV": "prod"}, "invalid APP_ENV"},
		{"store backend", map[string]string{"STORE_BACKEND": "sqlite"}, "invalid STORE_BACKEND"},
		{"batch size", map[string]string{"RESUME_BATCH_SIZE": "0"}, "RESUME_BATCH_SIZE must be positive"},
		{"negative rate limit", map[string]string{"RESUME_RATE_LIMIT": "-1"}, "RESUME_RATE_LIMIT must not be negative"},
		{"shutdown timeout", map[string]string{"SHUTDOWN_TIMEOUT": "0s"}, "SHUTDOWN_TIMEOUT must be positive"},
		{"log level", map[string]string{"LOG_LEVEL": "trace"}, "invalid log level"},
		{"duration", map[string]string{"RESUME_INTERVAL": "soon"}, "parse env"},
		{"sampling ratio", map[string]string{"OTEL_ENABLED": "true", "OTEL_SAMPLING_RATIO": "2"}, "OTEL_SAMPLING_RATIO"},
		{"order url", map[string]string{"ORDER_API_URL": "not a url"}, "invalid ORDER_API_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFrom(t, tt.vars)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://iap_user:xxxxx@db:5432/iap", maskDSN("postgres://iap_user:secret@db:5432/iap"))
	assert.Equal(t, "mongodb://mongo:27017", maskDSN("mongodb://mongo:27017"))
	assert.Equal(t, "mongodb://reader@mongo:27017", maskDSN("mongodb://reader@mongo:27017"))
}

func TestConfig_Log_MasksPassword(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{"IAP_POSTGRES_DSN": "postgres://u:secret@db:5432/iap"})
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	cfg.Log(zap.New(core))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ContextMap()["IAP_POSTGRES_DSN"], "secret")
}
