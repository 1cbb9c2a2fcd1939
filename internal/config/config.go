package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Configuration holds all runtime configuration for the metering engine.
type Configuration struct {
	Deployment  DeploymentConfig  `mapstructure:"deployment"`
	API         APIConfig         `mapstructure:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Redis       RedisConfig       `mapstructure:"redis"`
	PlanLookup  PlanLookupConfig  `mapstructure:"plan_lookup"`
	Accumulator AccumulatorConfig `mapstructure:"accumulator"`
	Aggregator  AggregatorConfig  `mapstructure:"aggregator"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
}

type DeploymentConfig struct {
	Mode types.DeploymentMode `mapstructure:"mode" default:"server"`
}

type APIConfig struct {
	Address string `mapstructure:"address" default:":8080"`
}

type LoggingConfig struct {
	Level          types.LogLevel `mapstructure:"level" default:"info"`
	FluentdEnabled bool           `mapstructure:"fluentd_enabled"`
	FluentdHost    string         `mapstructure:"fluentd_host"`
	FluentdPort    int            `mapstructure:"fluentd_port"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host" default:"localhost"`
	Port     int    `mapstructure:"port" default:"5432"`
	User     string `mapstructure:"user" default:"meterline"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname" default:"meterline"`
	SSLMode  string `mapstructure:"sslmode" default:"disable"`
	MaxOpen  int    `mapstructure:"max_open" default:"20"`
	MaxIdle  int    `mapstructure:"max_idle" default:"5"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id" default:"meterline"`
	TLS           bool     `mapstructure:"tls"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`
}

// IngestionConfig controls the kafka usage-event consumer.
type IngestionConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Topic         string `mapstructure:"topic" default:"usage_events"`
	ConsumerGroup string `mapstructure:"consumer_group" default:"meterline-ingestion"`
	RateLimit     int64  `mapstructure:"rate_limit" default:"100"`
}

type CacheConfig struct {
	Type       string        `mapstructure:"type" default:"inmemory"`
	Expiration time.Duration `mapstructure:"expiration" default:"5m"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address" default:"localhost:6379"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PlanLookupConfig points at the metering/rating/pricing plan-mapping service.
type PlanLookupConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout" default:"10s"`
	MaxRetries int           `mapstructure:"max_retries" default:"3"`
}

// AccumulatorConfig tunes the accumulation engine. Retention depths control
// how many trailing periods each window level keeps.
type AccumulatorConfig struct {
	DayRetention    int `mapstructure:"day_retention" default:"6"`
	MonthRetention  int `mapstructure:"month_retention" default:"2"`
	MaxPutAttempts  int `mapstructure:"max_put_attempts" default:"5"`
	SecondRetention int `mapstructure:"second_retention" default:"1"`
	MinuteRetention int `mapstructure:"minute_retention" default:"1"`
	HourRetention   int `mapstructure:"hour_retention" default:"1"`
}

// AggregatorConfig tunes aggregation. Slack bounds how far past a month
// boundary a usage end time may fall and still book into the prior month.
type AggregatorConfig struct {
	Slack          time.Duration `mapstructure:"slack" default:"480h"`
	MaxPutAttempts int           `mapstructure:"max_put_attempts" default:"5"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment" default:"dev"`
	SampleRate  float64 `mapstructure:"sample_rate" default:"1.0"`
}

// NewConfig loads configuration from config files and environment variables.
// Environment variables use the METERLINE_ prefix with _ separators, e.g.
// METERLINE_POSTGRES_HOST.
func NewConfig() (*Configuration, error) {
	// Load .env if present, ignore when missing
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("METERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, ierr.WithError(err).
				WithHint("Failed to read configuration file").
				Mark(ierr.ErrSystem)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to unmarshal configuration").
			Mark(ierr.ErrSystem)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(types.ModeServer))
	v.SetDefault("api.address", ":8080")
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "meterline")
	v.SetDefault("postgres.dbname", "meterline")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open", 20)
	v.SetDefault("postgres.max_idle", 5)
	v.SetDefault("kafka.client_id", "meterline")
	v.SetDefault("ingestion.topic", "usage_events")
	v.SetDefault("ingestion.consumer_group", "meterline-ingestion")
	v.SetDefault("ingestion.rate_limit", 100)
	v.SetDefault("cache.type", "inmemory")
	v.SetDefault("cache.expiration", "5m")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("plan_lookup.timeout", "10s")
	v.SetDefault("plan_lookup.max_retries", 3)
	v.SetDefault("accumulator.day_retention", 6)
	v.SetDefault("accumulator.month_retention", 2)
	v.SetDefault("accumulator.second_retention", 1)
	v.SetDefault("accumulator.minute_retention", 1)
	v.SetDefault("accumulator.hour_retention", 1)
	v.SetDefault("accumulator.max_put_attempts", 5)
	v.SetDefault("aggregator.slack", "480h")
	v.SetDefault("aggregator.max_put_attempts", 5)
	v.SetDefault("sentry.environment", "dev")
	v.SetDefault("sentry.sample_rate", 1.0)
}

// GetDefaultConfig returns a configuration suitable for tests and scripts
// without requiring config files or environment variables.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		API:        APIConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Accumulator: AccumulatorConfig{
			DayRetention:    6,
			MonthRetention:  2,
			SecondRetention: 1,
			MinuteRetention: 1,
			HourRetention:   1,
			MaxPutAttempts:  5,
		},
		Aggregator: AggregatorConfig{
			Slack:          20 * 24 * time.Hour,
			MaxPutAttempts: 5,
		},
		Cache: CacheConfig{Type: "inmemory", Expiration: 5 * time.Minute},
	}
}

// DSN renders the postgres connection string.
func (c PostgresConfig) DSN() string {
	b := strings.Builder{}
	b.WriteString("host=" + c.Host)
	b.WriteString(" port=" + strconv.Itoa(c.Port))
	b.WriteString(" user=" + c.User)
	if c.Password != "" {
		b.WriteString(" password=" + c.Password)
	}
	b.WriteString(" dbname=" + c.DBName)
	b.WriteString(" sslmode=" + c.SSLMode)
	return b.String()
}
