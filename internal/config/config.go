package config

import (
	"os"
	"strings"
)

type Config struct {
	Port    string
	DBPath  string
	Workers int

	// Backfill pacing.
	BatchSize      int
	CollectPauseMS int

	BinanceAPIKey    string
	BinanceAPISecret string

	PolygonAPIKey  string
	PolygonTickers []string
}

func Load() Config {
	return Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "ohlcv.db"),
		Workers:          getEnvInt("WORKERS", 5),
		BatchSize:        getEnvInt("COLLECT_BATCH_SIZE", 500),
		CollectPauseMS:   getEnvInt("COLLECT_PAUSE_MS", 1000),
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret: getEnv("BINANCE_API_SECRET", ""),
		PolygonAPIKey:    getEnv("POLYGON_API_KEY", ""),
		PolygonTickers:   getEnvList("POLYGON_TICKERS", "AAPL,MSFT,TSLA"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func getEnvList(key, fallback string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
