package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration for the trading engine.
type Config struct {
	ExchangeConfig ExchangeConfig `json:"exchange"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	ArenaConfig    ArenaConfig    `json:"arena"`
	Agents         []AgentConfig  `json:"agents"`
}

// ExchangeConfig holds Aster futures API settings shared by all agents.
type ExchangeConfig struct {
	BaseURL        string        `json:"base_url" envconfig:"ASTER_BASE_URL" default:"https://fapi.asterdex.com"`
	StreamURL      string        `json:"stream_url" envconfig:"ASTER_STREAM_URL" default:"wss://fstream.asterdex.com"`
	RequestTimeout time.Duration `json:"request_timeout" envconfig:"ASTER_REQUEST_TIMEOUT" default:"30s"`
}

// AgentConfig identifies one trading agent and its exchange credentials.
// Exactly one authentication mode must be populated: api_key+api_secret for
// key auth, or wallet_address+private_key(+chain) for wallet auth.
type AgentConfig struct {
	Name          string   `json:"name"`
	APIKey        string   `json:"api_key"`
	APISecret     string   `json:"api_secret"`
	WalletAddress string   `json:"wallet_address"`
	SignerAddress string   `json:"signer_address"`
	PrivateKey    string   `json:"private_key"`
	Chain         string   `json:"chain"` // "ethereum" or "solana"
	TradingPairs  []string `json:"trading_pairs"`
}

// DatabaseConfig holds PostgreSQL connection settings for the decision store.
type DatabaseConfig struct {
	Host     string `json:"host" envconfig:"DB_HOST" default:"localhost"`
	Port     int    `json:"port" envconfig:"DB_PORT" default:"5432"`
	User     string `json:"user" envconfig:"DB_USER" default:"postgres"`
	Password string `json:"password" envconfig:"DB_PASSWORD"`
	Database string `json:"database" envconfig:"DB_NAME" default:"aster_trader"`
	SSLMode  string `json:"ssl_mode" envconfig:"DB_SSLMODE" default:"disable"`
}

// RedisConfig holds optional Redis settings for the snapshot warm store.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"REDIS_ENABLED" default:"false"`
	Address  string `json:"address" envconfig:"REDIS_ADDRESS" default:"localhost:6379"`
	Password string `json:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `json:"db" envconfig:"REDIS_DB" default:"0"`
	PoolSize int    `json:"pool_size" envconfig:"REDIS_POOL_SIZE" default:"10"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level   string `json:"level" envconfig:"LOG_LEVEL" default:"info"`
	Output  string `json:"output" envconfig:"LOG_OUTPUT" default:"stdout"` // stdout, stderr, or file path
	Console bool   `json:"console" envconfig:"LOG_CONSOLE" default:"false"`
}

// ArenaConfig controls the cross-agent aggregation service.
type ArenaConfig struct {
	TopTokens        []string      `json:"top_tokens"`
	SnapshotTTL      time.Duration `json:"snapshot_ttl" envconfig:"ARENA_SNAPSHOT_TTL" default:"300s"`
	ConfigViewTTL    time.Duration `json:"config_view_ttl" envconfig:"ARENA_CONFIG_VIEW_TTL" default:"60s"`
	PollInterval     time.Duration `json:"poll_interval" envconfig:"ARENA_POLL_INTERVAL" default:"60s"`
	RecentTradeLimit int           `json:"recent_trade_limit" envconfig:"ARENA_RECENT_TRADE_LIMIT" default:"50"`
}

// Load reads the JSON config file (if present) and applies environment
// variable overrides on top. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		path = "config.json"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process env overrides: %w", err)
	}

	if len(cfg.ArenaConfig.TopTokens) == 0 {
		cfg.ArenaConfig.TopTokens = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ASTERUSDT"}
	}

	return cfg, nil
}

// DSN builds a pgx connection string from the database config.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
