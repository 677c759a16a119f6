package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Telegram credentials (optional; notifications disabled when empty)
	TelegramBotToken string
	TelegramChatID   string

	// Infrastructure
	SQLitePath  string
	APIAddr     string
	MetricsAddr string
	LogLevel    string

	// Exchange
	Testnet        bool
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration

	// Screener
	CheckDelay      time.Duration // offset past the minute boundary for the close tick
	CooldownMinutes int
	ParseSpot       bool
	ParseFutures    bool
	TopSymbols      int // pairs per market, ranked by 24h quote volume
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		SQLitePath:  getEnv("SQLITE_PATH", "data/screener.db"),
		APIAddr:     getEnv("API_ADDR", ":8000"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		Testnet:        getEnvBool("TESTNET", false),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond,
		RetryAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryDelay:     time.Duration(getEnvInt("RETRY_DELAY_SECONDS", 2)) * time.Second,

		CheckDelay:      time.Duration(getEnvInt("CHECK_DELAY_SECONDS", 10)) * time.Second,
		CooldownMinutes: getEnvInt("COOLDOWN_MINUTES", 15),
		ParseSpot:       getEnvBool("PARSE_SPOT", true),
		ParseFutures:    getEnvBool("PARSE_FUTURES", true),
		TopSymbols:      getEnvInt("TOP_SYMBOLS", 200),
	}
}

// TelegramConfigured reports whether both Telegram credentials are present.
func (c *Config) TelegramConfigured() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
