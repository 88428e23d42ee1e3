package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/foresight/internal/models"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfigIsValid(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, "badger", config.Storage.Type)
	assert.False(t, config.Orchestrator.StrictMode)
	assert.Equal(t, 3, config.Jobs.MaxRetries)
	assert.InDelta(t, 1.0, config.Ensemble.PriceWeight+config.Ensemble.MarketWeight+config.Ensemble.NewsWeight, 0.0001)
}

func TestLoadFromFilesLaterFileWins(t *testing.T) {
	dir := t.TempDir()
	base := writeConfig(t, dir, "base.toml", `
[orchestrator]
strict_mode = true
min_domains = 2

[queue.concurrency]
price = 2
market = 3
`)
	override := writeConfig(t, dir, "override.toml", `
[orchestrator]
strict_mode = false

[ensemble]
agreement_threshold = 70.0
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.False(t, config.Orchestrator.StrictMode)
	assert.Equal(t, 2, config.Orchestrator.MinDomains)
	assert.Equal(t, 2, config.Queue.Concurrency.For(models.DomainPrice))
	assert.Equal(t, 3, config.Queue.Concurrency.For(models.DomainMarket))
	assert.Equal(t, 4, config.Queue.Concurrency.For(models.DomainNews))
	assert.Equal(t, 1, config.Queue.Concurrency.For(models.DomainEnsemble))
	assert.Equal(t, 70.0, config.Ensemble.AgreementThreshold)
}

func TestLoadFromFilesEnvOverride(t *testing.T) {
	t.Setenv("FORESIGHT_STRICT_MODE", "true")
	t.Setenv("FORESIGHT_LOG_LEVEL", "DEBUG")
	t.Setenv("FORESIGHT_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.True(t, config.Orchestrator.StrictMode)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.True(t, config.Alerts.Kafka.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, config.Alerts.Kafka.Brokers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage.Type = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres" }},
		{"exec runner without command", func(c *Config) { c.Forecast.Runner = "exec" }},
		{"zero weights", func(c *Config) {
			c.Ensemble.PriceWeight, c.Ensemble.MarketWeight, c.Ensemble.NewsWeight = 0, 0, 0
		}},
		{"agreement threshold above 100", func(c *Config) { c.Ensemble.AgreementThreshold = 120 }},
		{"schedule too frequent", func(c *Config) { c.Scheduler.PurgeRaw = "*/10 * * * * *" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "llama" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("0 */30 * * * *"))
	assert.NoError(t, ValidateSchedule("0 6 * * 1-5"))
	assert.Error(t, ValidateSchedule("* * * * *"))
	assert.Error(t, ValidateSchedule("not a cron"))
}

func TestFreshnessSLA(t *testing.T) {
	f := FreshnessConfig{Price: "6h", Market: "bogus"}
	assert.Equal(t, 6*time.Hour, f.SLA(models.DomainPrice))
	assert.Equal(t, 24*time.Hour, f.SLA(models.DomainMarket))
	assert.Equal(t, 24*time.Hour, f.SLA(models.DomainEnsemble))
}
