package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LedgerConfig       LedgerConfig       `json:"ledger"`
	FeedConfig         FeedConfig         `json:"feed"`
	MonitorConfig      MonitorConfig      `json:"monitor"`
	ServerConfig       ServerConfig       `json:"server"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	VaultConfig        VaultConfig        `json:"vault"`
	NotificationConfig NotificationConfig `json:"notification"`
}

// LedgerConfig holds the connection settings for the account ledger (Postgres).
// ServiceKey, when set, replaces the password embedded in URL; the platform
// rotates the engine's service-role credential independently of the DSN.
type LedgerConfig struct {
	URL        string `json:"url"`
	ServiceKey string `json:"service_key"`
	MaxConns   int    `json:"max_conns"`
	MinConns   int    `json:"min_conns"`
}

// FeedConfig holds the exchange book-ticker stream settings
type FeedConfig struct {
	URL string `json:"url"` // base stream URL, e.g. wss://stream.binance.com:9443
}

// MonitorConfig holds the risk loop settings
type MonitorConfig struct {
	IntervalMS      int      `json:"interval_ms"`      // tick period
	PriceStaleMS    int      `json:"price_stale_ms"`   // tick age beyond which a price is unusable
	FallbackSymbols []string `json:"fallback_symbols"` // symbols served from the price_cache table; empty = derive from instruments
}

// Interval returns the tick period as a duration
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalMS) * time.Millisecond
}

// StaleAfter returns the staleness threshold as a duration
func (m MonitorConfig) StaleAfter() time.Duration {
	return time.Duration(m.PriceStaleMS) * time.Millisecond
}

// ServerConfig holds the health/SSE HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins, comma separated
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
	ProductionMode  bool   `json:"production_mode"`
}

type LoggingConfig struct {
	Level  string `json:"level"`  // trace, debug, info, warn, error
	Format string `json:"format"` // json or console
}

// VaultConfig holds HashiCorp Vault configuration for ledger credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // path of the ledger credentials secret
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Validate checks that the settings the engine cannot run without are present.
// The ledger URL may arrive later from Vault, so it is only required when
// Vault is disabled.
func (c *Config) Validate() error {
	if !c.VaultConfig.Enabled && c.LedgerConfig.URL == "" {
		return fmt.Errorf("LEDGER_URL is required when vault is disabled")
	}
	if c.MonitorConfig.IntervalMS <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL_MS must be positive, got %d", c.MonitorConfig.IntervalMS)
	}
	if c.MonitorConfig.PriceStaleMS <= 0 {
		return fmt.Errorf("PRICE_STALE_MS must be positive, got %d", c.MonitorConfig.PriceStaleMS)
	}
	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.ServerConfig.Port)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// LEDGER_SERVICE_KEY is the only credential read here; when Vault is enabled
// both it and the ledger URL are replaced by the Vault secret at startup.
func applyEnvOverrides(cfg *Config) {
	// Ledger config
	cfg.LedgerConfig.URL = getEnvOrDefault("LEDGER_URL", cfg.LedgerConfig.URL)
	cfg.LedgerConfig.ServiceKey = getEnvOrDefault("LEDGER_SERVICE_KEY", cfg.LedgerConfig.ServiceKey)
	cfg.LedgerConfig.MaxConns = getEnvIntOrDefault("LEDGER_MAX_CONNS", defaultInt(cfg.LedgerConfig.MaxConns, 10))
	cfg.LedgerConfig.MinConns = getEnvIntOrDefault("LEDGER_MIN_CONNS", defaultInt(cfg.LedgerConfig.MinConns, 2))

	// Feed config
	cfg.FeedConfig.URL = getEnvOrDefault("FEED_URL", defaultStr(cfg.FeedConfig.URL, "wss://stream.binance.com:9443"))

	// Monitor config
	cfg.MonitorConfig.IntervalMS = getEnvIntOrDefault("MONITOR_INTERVAL_MS", defaultInt(cfg.MonitorConfig.IntervalMS, 1000))
	cfg.MonitorConfig.PriceStaleMS = getEnvIntOrDefault("PRICE_STALE_MS", defaultInt(cfg.MonitorConfig.PriceStaleMS, 30000))
	if v := os.Getenv("FALLBACK_SYMBOLS"); v != "" {
		cfg.MonitorConfig.FallbackSymbols = splitCSV(v)
	}

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("PORT", defaultInt(cfg.ServerConfig.Port, 3001))
	cfg.ServerConfig.Host = getEnvOrDefault("HOST", defaultStr(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultStr(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", boolStr(cfg.ServerConfig.ProductionMode)) == "true"

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Format = getEnvOrDefault("LOG_FORMAT", defaultStr(cfg.LoggingConfig.Format, "json"))

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultStr(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultStr(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultStr(cfg.VaultConfig.SecretPath, "prop-platform/ledger"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", boolStr(cfg.VaultConfig.TLSEnabled)) == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", boolStr(cfg.NotificationConfig.Enabled)) == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", boolStr(cfg.NotificationConfig.Telegram.Enabled)) == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", boolStr(cfg.NotificationConfig.Discord.Enabled)) == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func defaultStr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func defaultInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
