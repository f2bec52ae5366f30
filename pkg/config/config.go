// Package config loads runtime settings from the environment (optionally
// via .env) and strategy parameters from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot.
type Config struct {
	Port string

	// Binance
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string

	// Trading target
	Asset          string
	CandleInterval string
	CandleLimit    int

	// Paper trading
	PaperTrading        bool
	PaperInitialBalance float64

	// Market data
	UseMockFeed       bool
	EnablePriceStream bool

	// Database
	DBPath string

	// Strategy parameters file
	ParamsFile string

	// Auth
	JWTSecret       string
	APIPasswordHash string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		BinanceTestnet:      getEnvBool("BINANCE_TESTNET", false),
		BinanceAPIKey:       os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:    os.Getenv("BINANCE_API_SECRET"),
		Asset:               getEnv("TRADING_ASSET", "BTCUSDT"),
		CandleInterval:      getEnv("CANDLE_INTERVAL", "1m"),
		CandleLimit:         getEnvInt("CANDLE_LIMIT", 100),
		PaperTrading:        getEnvBool("PAPER_TRADING", true),
		PaperInitialBalance: getEnvFloat("PAPER_INITIAL_BALANCE", 10000.0),
		UseMockFeed:         getEnvBool("USE_MOCK_FEED", true),
		EnablePriceStream:   getEnvBool("ENABLE_PRICE_STREAM", false),
		DBPath:              getEnv("DB_PATH", "./data/perpbot.db"),
		ParamsFile:          getEnv("PARAMS_FILE", "./params.yaml"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		APIPasswordHash:     os.Getenv("API_PASSWORD_HASH"),
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if !c.PaperTrading && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		return fmt.Errorf("config: live trading requires BINANCE_API_KEY and BINANCE_API_SECRET")
	}
	if c.Asset == "" {
		return fmt.Errorf("config: TRADING_ASSET must not be empty")
	}
	if c.CandleLimit <= 0 {
		return fmt.Errorf("config: CANDLE_LIMIT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
