package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	LogLevel  string
	LogFormat string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OtelEnabled          bool
	OtelExporterEndpoint string

	Settlement SettlementConfig
}

// SettlementConfig tunes the commission distribution and ledger paths.
type SettlementConfig struct {
	// MaxChainDepth bounds the agent-tree walk; anything deeper is treated
	// as a misconfigured hierarchy.
	MaxChainDepth int
	// LedgerTxTimeout bounds every balance-affecting transaction.
	LedgerTxTimeout time.Duration
	// RateCacheTTL bounds staleness of resolved commission rates.
	RateCacheTTL time.Duration
	// IntakeEnabled starts the provider settlement event consumer.
	IntakeEnabled bool
	// IntakeListKey is the redis list provider connectors push events to.
	IntakeListKey string
	// NotifyChannel is the redis pub/sub channel for distribution summaries.
	NotifyChannel string
	// ClaimTTL is the redis fast-path lock TTL for in-flight settlements.
	ClaimTTL time.Duration
}

// Load loads configuration from environment variables and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_SERVICE", "stakeroom")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "stakeroom")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE_MAX_OPEN_CONN", 25)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 300)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_ENDPOINT", "localhost:4317")

	v.SetDefault("SETTLEMENT_MAX_CHAIN_DEPTH", 16)
	v.SetDefault("SETTLEMENT_LEDGER_TX_TIMEOUT", "5s")
	v.SetDefault("SETTLEMENT_RATE_CACHE_TTL", "2m")
	v.SetDefault("SETTLEMENT_INTAKE_ENABLED", false)
	v.SetDefault("SETTLEMENT_INTAKE_LIST_KEY", "stakeroom:settlement:events")
	v.SetDefault("SETTLEMENT_NOTIFY_CHANNEL", "stakeroom:commission:settled")
	v.SetDefault("SETTLEMENT_CLAIM_TTL", "30s")

	return Config{
		AppName:     v.GetString("APP_SERVICE"),
		AppVersion:  v.GetString("APP_VERSION"),
		Environment: v.GetString("ENVIRONMENT"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		DBType:            v.GetString("DATABASE_TYPE"),
		DBHost:            v.GetString("DATABASE_HOST"),
		DBPort:            v.GetString("DATABASE_PORT"),
		DBName:            v.GetString("DATABASE_NAME"),
		DBUser:            v.GetString("DATABASE_USER"),
		DBPassword:        v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:         v.GetString("DATABASE_SSLMODE"),
		DBMaxIdleConn:     v.GetInt("DATABASE_MAX_IDLE_CONN"),
		DBMaxOpenConn:     v.GetInt("DATABASE_MAX_OPEN_CONN"),
		DBConnMaxLifetime: v.GetInt("DATABASE_CONN_MAX_LIFETIME"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		OtelEnabled:          v.GetBool("OTEL_ENABLED"),
		OtelExporterEndpoint: v.GetString("OTEL_EXPORTER_ENDPOINT"),

		Settlement: SettlementConfig{
			MaxChainDepth:   v.GetInt("SETTLEMENT_MAX_CHAIN_DEPTH"),
			LedgerTxTimeout: v.GetDuration("SETTLEMENT_LEDGER_TX_TIMEOUT"),
			RateCacheTTL:    v.GetDuration("SETTLEMENT_RATE_CACHE_TTL"),
			IntakeEnabled:   v.GetBool("SETTLEMENT_INTAKE_ENABLED"),
			IntakeListKey:   v.GetString("SETTLEMENT_INTAKE_LIST_KEY"),
			NotifyChannel:   v.GetString("SETTLEMENT_NOTIFY_CHANNEL"),
			ClaimTTL:        v.GetDuration("SETTLEMENT_CLAIM_TTL"),
		},
	}
}

func (c SettlementConfig) WithDefaults() SettlementConfig {
	out := c
	if out.MaxChainDepth <= 0 {
		out.MaxChainDepth = 16
	}
	if out.LedgerTxTimeout <= 0 {
		out.LedgerTxTimeout = 5 * time.Second
	}
	if out.RateCacheTTL <= 0 {
		out.RateCacheTTL = 2 * time.Minute
	}
	if out.ClaimTTL <= 0 {
		out.ClaimTTL = 30 * time.Second
	}
	if out.IntakeListKey == "" {
		out.IntakeListKey = "stakeroom:settlement:events"
	}
	if out.NotifyChannel == "" {
		out.NotifyChannel = "stakeroom:commission:settled"
	}
	return out
}
