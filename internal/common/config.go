package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/foresight/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Logging      LoggingConfig      `toml:"logging"`
	Storage      StorageConfig      `toml:"storage"`
	Queue        QueueConfig        `toml:"queue"`
	Jobs         JobsConfig         `toml:"jobs"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Ensemble     EnsembleConfig     `toml:"ensemble"`
	Freshness    FreshnessConfig    `toml:"freshness"`
	LLM          LLMConfig          `toml:"llm"`
	Claude       ClaudeConfig       `toml:"claude"`
	Gemini       GeminiConfig       `toml:"gemini"`
	Forecast     ForecastConfig     `toml:"forecast"`
	Workers      WorkersConfig      `toml:"workers"`
	Alerts       AlertsConfig       `toml:"alerts"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Metrics      MetricsConfig      `toml:"metrics"`
	Tracing      TracingConfig      `toml:"tracing"`
	Profiles     ProfilesConfig     `toml:"profiles"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Format     string   `toml:"format"` // "json" or "text"
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
	Dir        string   `toml:"dir"` // defaults to logs/ beside the binary
}

type StorageConfig struct {
	Type         string         `toml:"type" validate:"oneof=badger postgres"`
	Badger       BadgerConfig   `toml:"badger"`
	Postgres     PostgresConfig `toml:"postgres"`
	RawRetention string         `toml:"raw_retention"` // e.g. "720h" - raw records older than this are purged
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path (also holds the job queues)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// PostgresConfig configures the relational store
type PostgresConfig struct {
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
}

type QueueConfig struct {
	PollInterval      string           `toml:"poll_interval"`      // e.g., "1s"
	VisibilityTimeout string           `toml:"visibility_timeout"` // e.g., "15m" - redelivery after a crashed worker
	MaxReceive        int              `toml:"max_receive"`        // Max deliveries of one message
	Concurrency       QueueConcurrency `toml:"concurrency"`
}

// QueueConcurrency holds per-queue worker goroutine counts.
// The ensemble queue always runs with one goroutine.
type QueueConcurrency struct {
	Price  int `toml:"price" validate:"min=0"`
	Market int `toml:"market" validate:"min=0"`
	News   int `toml:"news" validate:"min=0"`
}

// For returns the configured concurrency for a queue.
func (q QueueConcurrency) For(domain models.Domain) int {
	switch domain {
	case models.DomainPrice:
		return q.Price
	case models.DomainMarket:
		return q.Market
	case models.DomainNews:
		return q.News
	}
	return 1
}

// JobsConfig controls the per-job budget and retry policy
type JobsConfig struct {
	Timeout         string `toml:"timeout"` // Wall-clock budget per job
	MaxRetries      int    `toml:"max_retries" validate:"min=0"`
	RetryBackoff    string `toml:"retry_backoff"`
	RetryBackoffMax string `toml:"retry_backoff_max"`
}

// OrchestratorConfig controls the fan-in policy
type OrchestratorConfig struct {
	StrictMode bool   `toml:"strict_mode"` // Ensemble requires all three domains
	MinDomains int    `toml:"min_domains" validate:"min=0,max=3"`
	StuckAfter string `toml:"stuck_after"` // Unresolved bundles older than this are replaced by stale refresh
}

// EnsembleConfig controls the combining step and deviation detection
type EnsembleConfig struct {
	PriceWeight        float64 `toml:"price_weight" validate:"gte=0"`
	MarketWeight       float64 `toml:"market_weight" validate:"gte=0"`
	NewsWeight         float64 `toml:"news_weight" validate:"gte=0"`
	TrendThreshold     float64 `toml:"trend_threshold" validate:"gte=0,lte=1"`
	MaxAdjustment      float64 `toml:"max_adjustment" validate:"gte=0,lte=1"`
	AgreementThreshold float64 `toml:"agreement_threshold" validate:"gte=0,lte=100"`
	ValueTolerance     float64 `toml:"value_tolerance" validate:"gte=0"`
	ConfidenceCollapse float64 `toml:"confidence_collapse" validate:"gte=0,lte=1"`
	Summarize          bool    `toml:"summarize"`
}

// FreshnessConfig holds the staleness SLA per domain
type FreshnessConfig struct {
	Price    string `toml:"price"`
	Market   string `toml:"market"`
	News     string `toml:"news"`
	Ensemble string `toml:"ensemble"`

	// TradingDaysOnly pushes price and market deadlines that land on a weekend to Monday
	TradingDaysOnly bool `toml:"trading_days_only"`
}

// SLA returns the freshness target for a domain.
func (f FreshnessConfig) SLA(domain models.Domain) time.Duration {
	var v string
	switch domain {
	case models.DomainPrice:
		v = f.Price
	case models.DomainMarket:
		v = f.Market
	case models.DomainNews:
		v = f.News
	case models.DomainEnsemble:
		v = f.Ensemble
	}
	return ParseDuration(v, 24*time.Hour)
}

// LLMConfig selects the model-execution collaborator
type LLMConfig struct {
	Provider      string  `toml:"provider" validate:"oneof=offline claude gemini"`
	Model         string  `toml:"model"` // Optional override; provider default otherwise
	Temperature   float64 `toml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens     int     `toml:"max_tokens" validate:"min=1"`
	Timeout       string  `toml:"timeout"`
	RatePerSecond float64 `toml:"rate_per_second" validate:"gte=0"`
	Burst         int     `toml:"burst" validate:"min=0"`
	MaxRetries    int     `toml:"max_retries" validate:"min=0"`
	FixturesDir   string  `toml:"fixtures_dir"` // Offline provider: canned responses per task
}

type ClaudeConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// ForecastConfig selects the numeric forecasting collaborator
type ForecastConfig struct {
	Runner       string   `toml:"runner" validate:"oneof=drift exec"`
	Command      []string `toml:"command"` // exec runner: argv, JSON on stdin, JSON on stdout
	HorizonDays  int      `toml:"horizon_days" validate:"min=1,max=365"`
	Timeout      string   `toml:"timeout"`
	BacktestDays int      `toml:"backtest_days" validate:"min=0"`
}

// WorkersConfig controls domain worker behaviour
type WorkersConfig struct {
	Summarize       bool    `toml:"summarize"` // Second collaborator call for a narrative summary
	HistoryDays     int     `toml:"history_days" validate:"min=1"`
	NewsHalfLife    string  `toml:"news_half_life"`
	MaxNewsItems    int     `toml:"max_news_items" validate:"min=1"`
	MinSignalLength int     `toml:"min_signal_length" validate:"min=0"`
	NewsMinScore    float64 `toml:"news_min_score" validate:"gte=0,lte=1"`
}

type AlertsConfig struct {
	Kafka    KafkaConfig    `toml:"kafka"`
	Telegram TelegramConfig `toml:"telegram"`
}

type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   int64  `toml:"chat_id"`
}

// SchedulerConfig uses 6-field cron expressions (with seconds)
type SchedulerConfig struct {
	Enabled      bool   `toml:"enabled"`
	PurgeRaw     string `toml:"purge_raw"`     // Raw retention purge schedule
	RefreshStale string `toml:"refresh_stale"` // Trigger bundles for profiles with stale domains
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"` // OTLP HTTP endpoint, e.g. "localhost:4318"
	ServiceName string `toml:"service_name"`
}

type ProfilesConfig struct {
	Dir string `toml:"dir"` // Directory of profile TOML files loaded at startup
}

// NewDefaultConfig returns the configuration used when no file overrides a value
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: "5m",
			},
			RawRetention: "720h", // 30 days
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			VisibilityTimeout: "15m",
			MaxReceive:        5,
			Concurrency: QueueConcurrency{
				Price:  4,
				Market: 4,
				News:   4,
			},
		},
		Jobs: JobsConfig{
			Timeout:         "10m",
			MaxRetries:      3,
			RetryBackoff:    "30s",
			RetryBackoffMax: "10m",
		},
		Orchestrator: OrchestratorConfig{
			StrictMode: false,
			MinDomains: 1,
			StuckAfter: "6h",
		},
		Ensemble: EnsembleConfig{
			PriceWeight:        0.5,
			MarketWeight:       0.25,
			NewsWeight:         0.25,
			TrendThreshold:     0.15,
			MaxAdjustment:      0.08,
			AgreementThreshold: 80,
			ValueTolerance:     0.05,
			ConfidenceCollapse: 0.3,
			Summarize:          true,
		},
		Freshness: FreshnessConfig{
			Price:           "24h",
			Market:          "24h",
			News:            "12h",
			Ensemble:        "24h",
			TradingDaysOnly: true,
		},
		LLM: LLMConfig{
			Provider:      "offline",
			Temperature:   0.2,
			MaxTokens:     2048,
			Timeout:       "2m",
			RatePerSecond: 1,
			Burst:         2,
			MaxRetries:    3,
		},
		Claude: ClaudeConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Forecast: ForecastConfig{
			Runner:       "drift",
			HorizonDays:  60,
			Timeout:      "5m",
			BacktestDays: 14,
		},
		Workers: WorkersConfig{
			Summarize:       true,
			HistoryDays:     365,
			NewsHalfLife:    "48h",
			MaxNewsItems:    20,
			MinSignalLength: 12,
		},
		Alerts: AlertsConfig{
			Kafka: KafkaConfig{
				Topic: "foresight.alerts",
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PurgeRaw:     "0 0 3 * * *",    // Daily at 03:00
			RefreshStale: "0 */30 * * * *", // Every 30 minutes
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "foresight",
		},
		Profiles: ProfilesConfig{
			Dir: "./profiles",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> .env/env
// Later files override earlier files. CLI overrides are applied by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FORESIGHT_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("FORESIGHT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FORESIGHT_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if level := os.Getenv("FORESIGHT_LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToLower(level)
	}
	if output := os.Getenv("FORESIGHT_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitList(output)
	}

	if storageType := os.Getenv("FORESIGHT_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if path := os.Getenv("FORESIGHT_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if dsn := os.Getenv("FORESIGHT_DATABASE_DSN"); dsn != "" {
		config.Storage.Postgres.DSN = dsn
	} else if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Storage.Postgres.DSN = dsn
	}

	if strict := os.Getenv("FORESIGHT_STRICT_MODE"); strict != "" {
		if b, err := strconv.ParseBool(strict); err == nil {
			config.Orchestrator.StrictMode = b
		}
	}
	if retries := os.Getenv("FORESIGHT_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			config.Jobs.MaxRetries = n
		}
	}

	if provider := os.Getenv("FORESIGHT_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = strings.ToLower(provider)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Claude.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}

	if runner := os.Getenv("FORESIGHT_FORECAST_RUNNER"); runner != "" {
		config.Forecast.Runner = runner
	}

	if brokers := os.Getenv("FORESIGHT_KAFKA_BROKERS"); brokers != "" {
		config.Alerts.Kafka.Brokers = splitList(brokers)
		config.Alerts.Kafka.Enabled = true
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		config.Alerts.Telegram.BotToken = token
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			config.Alerts.Telegram.ChatID = id
		}
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		config.Tracing.Endpoint = endpoint
		config.Tracing.Enabled = true
	}

	if dir := os.Getenv("FORESIGHT_PROFILES_DIR"); dir != "" {
		config.Profiles.Dir = dir
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks field constraints and cron expressions
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("invalid configuration: storage.postgres.dsn is required for postgres storage")
	}
	if c.Forecast.Runner == "exec" && len(c.Forecast.Command) == 0 {
		return fmt.Errorf("invalid configuration: forecast.command is required for the exec runner")
	}
	weights := c.Ensemble.PriceWeight + c.Ensemble.MarketWeight + c.Ensemble.NewsWeight
	if weights <= 0 {
		return fmt.Errorf("invalid configuration: ensemble weights must not all be zero")
	}

	if c.Scheduler.Enabled {
		for name, expr := range map[string]string{
			"scheduler.purge_raw":     c.Scheduler.PurgeRaw,
			"scheduler.refresh_stale": c.Scheduler.RefreshStale,
		} {
			if expr == "" {
				continue
			}
			if err := ValidateSchedule(expr); err != nil {
				return fmt.Errorf("invalid configuration: %s: %w", name, err)
			}
		}
	}

	return nil
}

// cronParser accepts optional seconds so both 5- and 6-field expressions validate
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule validates a cron expression and ensures a minimum 5-minute interval
func ValidateSchedule(schedule string) error {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	first := sched.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	second := sched.Next(first)
	if second.Sub(first) < 5*time.Minute {
		return fmt.Errorf("schedule must have minimum 5-minute interval, got %s", second.Sub(first))
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ParseDuration parses a Go duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
